package model

const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

const (
	RunKindIngest    = "ingest"
	RunKindDiscovery = "discovery"
)

type RunStep struct {
	Name          string `json:"name"`
	ScrapeID      string `json:"scrape_id,omitempty"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	ChunksCreated int    `json:"chunks_created"`
	ArchiveStatus string `json:"archive_status,omitempty"`
	Error         string `json:"error,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
}

// PipelineRun is the audit record of one batch execution.
type PipelineRun struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Subject    string    `json:"subject"`
	Status     string    `json:"status"`
	Steps      []RunStep `json:"steps"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
	StartedAt  int64     `json:"started_at"`
	FinishedAt int64     `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
	Ctime      int64     `json:"ctime"`
	Mtime      int64     `json:"mtime"`
}

func IsTerminalRunStatus(status string) bool {
	switch status {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// CanTransitionRunStatus enforces queued -> running -> terminal. A queued run
// may also be cancelled or failed before it starts.
func CanTransitionRunStatus(from, to string) bool {
	switch from {
	case RunStatusQueued:
		return to == RunStatusRunning || to == RunStatusCancelled || to == RunStatusFailed
	case RunStatusRunning:
		return IsTerminalRunStatus(to)
	}
	return false
}
