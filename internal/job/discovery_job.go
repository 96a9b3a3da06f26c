package job

import (
	"context"
	"fmt"

	"github.com/xxxsen/legisrag/internal/discovery"
	"github.com/xxxsen/legisrag/internal/model"
)

type DiscoveryJob struct {
	svc *discovery.Service
}

func NewDiscoveryJob(svc *discovery.Service) *DiscoveryJob {
	return &DiscoveryJob{svc: svc}
}

func (j *DiscoveryJob) Name() string {
	return "discovery"
}

func (j *DiscoveryJob) Run(ctx context.Context) error {
	if j.svc == nil {
		return nil
	}
	run, err := j.svc.Run(ctx)
	if err != nil {
		return err
	}
	if run.Status == model.RunStatusFailed {
		return fmt.Errorf("discovery run %s failed: %s", run.ID, run.Error)
	}
	return nil
}
