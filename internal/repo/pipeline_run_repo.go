package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/legisrag/internal/model"
	"github.com/xxxsen/legisrag/internal/pkg/dbutil"
	appErr "github.com/xxxsen/legisrag/internal/pkg/errors"
)

var runColumns = []string{
	"id", "kind", "subject", "status", "steps_json", "succeeded", "failed", "error",
	"started_at", "finished_at", "duration_ms", "ctime", "mtime",
}

type PipelineRunRepo struct {
	db *sql.DB
}

func NewPipelineRunRepo(db *sql.DB) *PipelineRunRepo {
	return &PipelineRunRepo{db: db}
}

func (r *PipelineRunRepo) Create(ctx context.Context, run *model.PipelineRun) error {
	stepsJSON, err := json.Marshal(nonNilSteps(run.Steps))
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO pipeline_runs (id, kind, subject, status, steps_json, succeeded, failed, error, started_at, finished_at, duration_ms, ctime, mtime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.Kind,
		run.Subject,
		run.Status,
		string(stepsJSON),
		run.Succeeded,
		run.Failed,
		run.Error,
		run.StartedAt,
		run.FinishedAt,
		run.DurationMs,
		run.Ctime,
		run.Mtime,
	)
	if dbutil.IsConflict(err) {
		return appErr.ErrConflict
	}
	return err
}

func (r *PipelineRunRepo) Get(ctx context.Context, id string) (*model.PipelineRun, error) {
	sqlStr, args, err := builder.BuildSelect("pipeline_runs", map[string]interface{}{"id": id}, runColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	run, err := scanRun(r.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

func (r *PipelineRunRepo) List(ctx context.Context, kind string, offset, limit int) ([]*model.PipelineRun, error) {
	where := map[string]interface{}{
		"_orderby": "ctime desc, id desc",
		"_limit":   []uint{uint(offset), uint(limit)},
	}
	if kind != "" {
		where["kind"] = kind
	}
	sqlStr, args, err := builder.BuildSelect("pipeline_runs", where, runColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// UpdateStatusIf moves the run from one status to another only when it is
// still in the expected status. Entering running stamps started_at.
func (r *PipelineRunRepo) UpdateStatusIf(ctx context.Context, id, fromStatus, toStatus string, at int64) (bool, error) {
	if !model.CanTransitionRunStatus(fromStatus, toStatus) {
		return false, appErr.ErrInvalidTransition
	}
	const query = `
		UPDATE pipeline_runs
		SET status = $1,
			mtime = $2,
			started_at = CASE WHEN $1 = 'running' THEN $2 ELSE started_at END
		WHERE id = $3 AND status = $4
	`
	res, err := r.db.ExecContext(ctx, query, toStatus, at, id, fromStatus)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SaveResult stores step records and counters without touching status.
func (r *PipelineRunRepo) SaveResult(ctx context.Context, run *model.PipelineRun) error {
	stepsJSON, err := json.Marshal(nonNilSteps(run.Steps))
	if err != nil {
		return err
	}
	const query = `
		UPDATE pipeline_runs
		SET steps_json = $1,
			succeeded = $2,
			failed = $3,
			error = $4,
			finished_at = $5,
			duration_ms = $6,
			mtime = $7
		WHERE id = $8
	`
	res, err := r.db.ExecContext(ctx, query,
		string(stepsJSON),
		run.Succeeded,
		run.Failed,
		run.Error,
		run.FinishedAt,
		run.DurationMs,
		run.Mtime,
		run.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func scanRun(row rowScanner) (*model.PipelineRun, error) {
	var run model.PipelineRun
	var stepsJSON string
	if err := row.Scan(
		&run.ID,
		&run.Kind,
		&run.Subject,
		&run.Status,
		&stepsJSON,
		&run.Succeeded,
		&run.Failed,
		&run.Error,
		&run.StartedAt,
		&run.FinishedAt,
		&run.DurationMs,
		&run.Ctime,
		&run.Mtime,
	); err != nil {
		return nil, err
	}
	if stepsJSON != "" {
		_ = json.Unmarshal([]byte(stepsJSON), &run.Steps)
	}
	return &run, nil
}

func nonNilSteps(steps []model.RunStep) []model.RunStep {
	if steps == nil {
		return []model.RunStep{}
	}
	return steps
}
