package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pubconfirm/internal/confirm"
	"pubconfirm/internal/validator"
)

// EventDrivenStrategy publishes without waiting for confirms and reconciles the broker's
// ack/nack events against its own ledger. The campaign completes when publishing has finished
// and the ledger is empty, or fails when the campaign deadline passes first.
//
// Nacked messages leave the ledger like acked ones: a campaign with nacks still drains and
// completes, with Outcome CompletedWithNacks.
type EventDrivenStrategy struct {
	logger *zap.Logger
}

func NewEventDriven(logger *zap.Logger) (*EventDrivenStrategy, error) {
	s := EventDrivenStrategy{logger: logger}

	if err := validator.Validate("event driven strategy", s.logger); err != nil {
		return nil, fmt.Errorf("failed to validate event driven strategy deps: %w", err)
	}

	return &s, nil
}

func (s *EventDrivenStrategy) Kind() confirm.StrategyKind {
	return confirm.EventDriven
}

func (s *EventDrivenStrategy) Run(ctx context.Context, ch confirm.Channel, c confirm.Campaign) (confirm.Result, error) {
	res := confirm.Result{CampaignID: c.ID, Strategy: confirm.EventDriven, Messages: c.Messages}
	if err := c.Validate(); err != nil {
		return res, err
	}

	logger := s.logger.With(zap.String("campaign", c.ID), zap.String("strategy", string(confirm.EventDriven)))

	// the channel must not keep its own copy of pending confirms, the tracker does that
	if err := ch.Confirm(false); err != nil {
		return res, fmt.Errorf("failed to enable confirm mode: %w", err)
	}

	t := newTracker(logger)
	ch.NotifyConfirm(t.handle)

	start := time.Now()
	base := ch.NextSequence()

	for i := 0; i < c.Messages; i++ {
		next := ch.NextSequence()
		if err := t.record(next); err != nil {
			t.fill(&res)
			return res, fmt.Errorf("failed to record message %d: %w", i, err)
		}

		seq, err := ch.Publish(ctx, c.Queue, confirm.Body(i))
		if err != nil {
			t.fill(&res)
			return res, fmt.Errorf("failed to publish message %d: %w", i, err)
		}
		if checkSequence(logger, base, i, seq) {
			res.SequenceMismatches++
		}
	}

	logger.Debug("campaign published, draining confirms", zap.Int("messages", c.Messages))
	t.finish()

	err := t.signal.Wait(ctx)
	if err != nil && !t.signal.Resolve(err) {
		// completion won the race against the deadline
		_, err = t.signal.Resolved()
	}

	t.fill(&res)
	if err != nil {
		logger.Warn("campaign did not drain", zap.Int("outstanding", res.Outstanding), zap.Error(err))
		return res, err
	}

	res.Elapsed = time.Since(start)
	res.Outcome = confirm.Completed
	if res.Nacked > 0 {
		res.Outcome = confirm.CompletedWithNacks
		logger.Warn("campaign completed with nacked messages", zap.Int("nacked", res.Nacked))
	}

	return res, nil
}

// tracker is the campaign state shared by the publishing goroutine and the broker's
// notification goroutine. The ledger and the finished flag are only touched under mu.
type tracker struct {
	logger *zap.Logger
	signal *confirm.Signal

	mu       sync.Mutex
	ledger   confirm.Ledger
	finished bool
	acked    int
	nacked   int
}

func newTracker(logger *zap.Logger) *tracker {
	return &tracker{
		logger: logger,
		signal: confirm.NewSignal(),
	}
}

func (t *tracker) record(seq confirm.SequenceNumber) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.ledger.Add(seq)
}

// handle applies one broker confirmation. Events arriving after the campaign resolved still
// retire ledger entries but no longer change the outcome.
func (t *tracker) handle(c confirm.Confirmation) {
	t.mu.Lock()
	removed := t.ledger.Apply(c)
	if c.Ack {
		t.acked += removed
	} else {
		t.nacked += removed
	}
	done := t.finished && t.ledger.IsEmpty()
	t.mu.Unlock()

	if !c.Ack {
		t.logger.Warn("message nacked",
			zap.Uint64("tag", uint64(c.Tag)),
			zap.Bool("multiple", c.Multiple),
			zap.Int("removed", removed),
		)
	}

	if done {
		t.signal.Resolve(nil)
	}
}

// finish marks publishing as done. The last confirm may already have arrived, so emptiness
// is checked here as well as in handle.
func (t *tracker) finish() {
	t.mu.Lock()
	t.finished = true
	done := t.ledger.IsEmpty()
	t.mu.Unlock()

	if done {
		t.signal.Resolve(nil)
	}
}

func (t *tracker) fill(res *confirm.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	res.Outstanding = t.ledger.Len()
	res.Acked = t.acked
	res.Nacked = t.nacked
}

// outstanding copies the ledger, for tests.
func (t *tracker) outstanding() []confirm.SequenceNumber {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.ledger.Snapshot()
}
