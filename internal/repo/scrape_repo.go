package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/legisrag/internal/model"
	"github.com/xxxsen/legisrag/internal/pkg/dbutil"
	appErr "github.com/xxxsen/legisrag/internal/pkg/errors"
)

var scrapeColumns = []string{
	"id", "source_id", "url", "content_hash", "content_type", "data", "blob_uri",
	"http_status", "error_message", "processed", "attempts", "metadata", "ctime", "mtime",
}

type ScrapeRepo struct {
	db *sql.DB
}

func NewScrapeRepo(db *sql.DB) *ScrapeRepo {
	return &ScrapeRepo{db: db}
}

func (r *ScrapeRepo) Create(ctx context.Context, s *model.RawScrape) error {
	meta := []byte("{}")
	if len(s.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(s.Metadata); err != nil {
			return fmt.Errorf("encode scrape metadata: %w", err)
		}
	}
	data := map[string]interface{}{
		"id":            s.ID,
		"source_id":     s.SourceID,
		"url":           s.URL,
		"content_hash":  s.ContentHash,
		"content_type":  s.ContentType,
		"data":          s.Data,
		"blob_uri":      s.BlobURI,
		"http_status":   s.HTTPStatus,
		"error_message": s.ErrorMessage,
		"processed":     s.Processed,
		"attempts":      s.Attempts,
		"metadata":      string(meta),
		"ctime":         s.Ctime,
		"mtime":         s.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("raw_scrapes", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *ScrapeRepo) Get(ctx context.Context, id string) (*model.RawScrape, error) {
	sqlStr, args, err := builder.BuildSelect("raw_scrapes", map[string]interface{}{"id": id}, scrapeColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	s, err := scanScrape(r.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// ListPending returns unprocessed scrapes, oldest first. Scrapes that failed
// maxAttempts times or more are left out when maxAttempts > 0.
func (r *ScrapeRepo) ListPending(ctx context.Context, limit, maxAttempts int) ([]*model.RawScrape, error) {
	where := map[string]interface{}{
		"processed": false,
		"_orderby":  "ctime asc, id asc",
		"_limit":    []uint{0, uint(limit)},
	}
	if maxAttempts > 0 {
		where["attempts <"] = maxAttempts
	}
	sqlStr, args, err := builder.BuildSelect("raw_scrapes", where, scrapeColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.RawScrape
	for rows.Next() {
		s, err := scanScrape(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *ScrapeRepo) ExistsBySourceHash(ctx context.Context, sourceID, contentHash string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM raw_scrapes WHERE source_id = $1 AND content_hash = $2)`
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, sourceID, contentHash).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (r *ScrapeRepo) MarkProcessed(ctx context.Context, id, blobURI string, mtime int64) error {
	const query = `
		UPDATE raw_scrapes
		SET processed = TRUE,
			error_message = '',
			blob_uri = CASE WHEN $1 <> '' THEN $1 ELSE blob_uri END,
			mtime = $2
		WHERE id = $3
	`
	return r.execOne(ctx, query, blobURI, mtime, id)
}

func (r *ScrapeRepo) MarkFailed(ctx context.Context, id, errMsg string, mtime int64) error {
	const query = `
		UPDATE raw_scrapes
		SET processed = FALSE,
			attempts = attempts + 1,
			error_message = $1,
			mtime = $2
		WHERE id = $3
	`
	return r.execOne(ctx, query, errMsg, mtime, id)
}

func (r *ScrapeRepo) Stats(ctx context.Context) (*model.ScrapeStats, error) {
	const query = `
		SELECT COUNT(1),
			COUNT(1) FILTER (WHERE processed),
			COUNT(1) FILTER (WHERE NOT processed),
			COUNT(1) FILTER (WHERE NOT processed AND attempts > 0)
		FROM raw_scrapes
	`
	st := &model.ScrapeStats{}
	if err := r.db.QueryRowContext(ctx, query).Scan(&st.Total, &st.Processed, &st.Unprocessed, &st.Failing); err != nil {
		return nil, err
	}
	return st, nil
}

func (r *ScrapeRepo) execOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
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

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanScrape(row rowScanner) (*model.RawScrape, error) {
	var (
		s    model.RawScrape
		meta []byte
	)
	if err := row.Scan(
		&s.ID,
		&s.SourceID,
		&s.URL,
		&s.ContentHash,
		&s.ContentType,
		&s.Data,
		&s.BlobURI,
		&s.HTTPStatus,
		&s.ErrorMessage,
		&s.Processed,
		&s.Attempts,
		&meta,
		&s.Ctime,
		&s.Mtime,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan scrape: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &s.Metadata); err != nil {
			return nil, fmt.Errorf("decode scrape metadata: %w", err)
		}
		if len(s.Metadata) == 0 {
			s.Metadata = nil
		}
	}
	return &s, nil
}
