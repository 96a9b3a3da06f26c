package dbutil

import (
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestFinalizeRewritesLimitAndPlaceholders(t *testing.T) {
	query, args := Finalize("SELECT id FROM raw_scrapes WHERE processed = ? LIMIT ?,?", []interface{}{false, 0, 10})
	require.Equal(t, "SELECT id FROM raw_scrapes WHERE processed = $1 LIMIT $2 OFFSET $3", query)
	require.Equal(t, []interface{}{false, 10, 0}, args)
}

func TestFinalizeWithoutLimit(t *testing.T) {
	query, args := Finalize("UPDATE pipeline_runs SET status = ? WHERE id = ?", []interface{}{"running", "r1"})
	require.Equal(t, "UPDATE pipeline_runs SET status = $1 WHERE id = $2", query)
	require.Len(t, args, 2)
}

func TestErrorClassification(t *testing.T) {
	require.True(t, IsConflict(&pq.Error{Code: "23505"}))
	require.False(t, IsConflict(errors.New("boom")))
	require.True(t, IsConnectionError(&pq.Error{Code: "08006"}))
	require.True(t, IsConnectionError(errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")))
	require.False(t, IsConnectionError(&pq.Error{Code: "23505"}))
	require.False(t, IsConnectionError(nil))
}
