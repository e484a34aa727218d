package worker

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/JanKoller/TicketHive/internal/pkg/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls atomic.Int64
}

func (s *countingSweeper) SweepExpiredTrials(ctx context.Context) (lifecycle.SweepResult, error) {
	s.calls.Add(1)
	return lifecycle.SweepResult{}, nil
}

type countingRefresher struct {
	calls atomic.Int64
}

func (r *countingRefresher) RefreshAllSummaries(ctx context.Context, period string) error {
	r.calls.Add(1)
	return nil
}

func TestManagerStartStopIsRestartSafe(t *testing.T) {
	m := NewManager(&countingSweeper{}, &countingRefresher{})

	assert.False(t, m.IsRunning())

	m.Start()
	assert.True(t, m.IsRunning())

	// Double start is a no-op.
	m.Start()
	assert.True(t, m.IsRunning())

	m.Stop()
	assert.False(t, m.IsRunning())

	// Double stop is a no-op.
	m.Stop()

	// The stop channel is recreated, so the manager restarts cleanly.
	m.Start()
	assert.True(t, m.IsRunning())
	m.Stop()
}

func TestManualTriggers(t *testing.T) {
	sweeper := &countingSweeper{}
	refresher := &countingRefresher{}
	m := NewManager(sweeper, refresher)

	require.NoError(t, m.RunTrialSweepOnce())
	require.NoError(t, m.RunSummaryRefreshOnce())

	assert.Equal(t, int64(1), sweeper.calls.Load())
	assert.Equal(t, int64(1), refresher.calls.Load())
}
