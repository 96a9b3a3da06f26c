package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransitionRunStatus(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{RunStatusQueued, RunStatusRunning, true},
		{RunStatusQueued, RunStatusCancelled, true},
		{RunStatusQueued, RunStatusCompleted, false},
		{RunStatusRunning, RunStatusCompleted, true},
		{RunStatusRunning, RunStatusFailed, true},
		{RunStatusRunning, RunStatusCancelled, true},
		{RunStatusRunning, RunStatusQueued, false},
		{RunStatusRunning, RunStatusRunning, false},
		{RunStatusCompleted, RunStatusRunning, false},
		{RunStatusFailed, RunStatusQueued, false},
		{RunStatusCancelled, RunStatusCompleted, false},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			require.Equal(t, tt.want, CanTransitionRunStatus(tt.from, tt.to))
		})
	}
}
