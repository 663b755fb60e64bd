package confirm

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewReport(t *testing.T) {
	c := Campaign{ID: "c1", Strategy: Batched, Queue: "q", Messages: 1000, Window: 100}
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("success", func(t *testing.T) {
		res := Result{
			Outcome:            Completed,
			Messages:           1000,
			Elapsed:            2 * time.Second,
			SequenceMismatches: 1,
		}

		r := NewReport(c, started, res, nil)

		assert.True(t, r.Succeeded())
		assert.Equal(t, "report::batched::c1", r.ID)
		assert.Equal(t, Completed, r.Outcome)
		assert.Equal(t, 100, r.Window)
		assert.InDelta(t, 500.0, r.Throughput, 0.001)
		assert.Equal(t, 1, r.SequenceMismatches)
		assert.Equal(t, started, r.StartedAt)
	})

	t.Run("failure", func(t *testing.T) {
		res := Result{Elapsed: time.Second, Messages: 1000, Outstanding: 100}
		err := NewFailure(c, fmt.Errorf("window: %w", ErrTimeout))

		r := NewReport(c, started, res, err)

		assert.False(t, r.Succeeded())
		assert.Equal(t, FailureTimeout, r.Failure)
		assert.Empty(t, r.Outcome)
		assert.Zero(t, r.Elapsed, "a failed campaign reports no elapsed time")
		assert.Zero(t, r.Throughput)
		assert.Contains(t, r.Detail, "timed out")
	})

	t.Run("unwrapped error", func(t *testing.T) {
		r := NewReport(c, started, Result{}, fmt.Errorf("%w: nope", ErrInvalidCampaign))

		assert.Equal(t, FailureInvalid, r.Failure)
	})
}

func TestStrategyStats_Add(t *testing.T) {
	s := StrategyStats{ID: StatsKey(EventDriven), Strategy: EventDriven}
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	s.Add(Report{Outcome: Completed, Elapsed: 3 * time.Second, StartedAt: t0})
	s.Add(Report{Outcome: CompletedWithNacks, Elapsed: time.Second, Nacked: 4, StartedAt: t0.Add(time.Minute)})
	s.Add(Report{Failure: FailureTimeout, StartedAt: t0.Add(30 * time.Second)})

	assert.Equal(t, "stats::eventdriven", s.ID)
	assert.Equal(t, 3, s.Runs)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 4, s.Nacked)
	assert.Equal(t, time.Second, s.Fastest)
	assert.Equal(t, t0.Add(time.Minute), s.LastRunAt)
}
