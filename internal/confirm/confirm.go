package confirm

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// SequenceNumber is the per-channel delivery tag assigned to every accepted publish.
// Numbering starts at 1 on a fresh channel and grows by exactly one per message.
type SequenceNumber uint64

// StrategyKind names one of the publish-confirmation strategies.
type StrategyKind string

const (
	// Bulk publishes the whole campaign and waits for every confirm once.
	Bulk StrategyKind = "bulk"
	// Batched publishes fixed-size windows and waits for each window's confirms.
	Batched StrategyKind = "batched"
	// EventDriven publishes everything and tracks confirms from the broker's event feed.
	EventDriven StrategyKind = "eventdriven"
)

// StrategyKinds lists every known strategy in the order a full run executes them.
var StrategyKinds = []StrategyKind{Bulk, Batched, EventDriven}

// ParseStrategyKind maps a configured name onto a StrategyKind.
func ParseStrategyKind(s string) (StrategyKind, error) {
	for _, k := range StrategyKinds {
		if string(k) == s {
			return k, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// Campaign is the unit of work handed to a Strategy: a number of messages published
// to one queue, optionally in windows, that must be confirmed before the deadline.
type Campaign struct {
	// ID correlates logs, spans and reports of one run.
	ID       string
	Strategy StrategyKind
	Queue    string
	Messages int
	// Window is the number of messages per confirm barrier. Only Batched uses it.
	Window   int
	// Deadline bounds the whole campaign. It must be positive so no wait is left unbounded.
	Deadline time.Duration
}

// Validate checks the campaign parameters that every strategy relies on.
func (c Campaign) Validate() error {
	switch {
	case c.Messages <= 0:
		return fmt.Errorf("%w: message count must be positive, got %d", ErrInvalidCampaign, c.Messages)
	case c.Queue == "":
		return fmt.Errorf("%w: queue is required", ErrInvalidCampaign)
	case c.Window < 0:
		return fmt.Errorf("%w: window must not be negative, got %d", ErrInvalidCampaign, c.Window)
	case c.Deadline <= 0:
		return fmt.Errorf("%w: deadline must be positive, got %s", ErrInvalidCampaign, c.Deadline)
	}

	return nil
}

// Outcome describes how a successful campaign ended.
type Outcome string

const (
	// Completed means every message was acked.
	Completed Outcome = "completed"
	// CompletedWithNacks means the ledger drained but some messages were rejected by the broker.
	// Only EventDriven finishes this way; the other strategies fail on the first nack.
	CompletedWithNacks Outcome = "completed_with_nacks"
)

// Result is what a campaign reports back.
type Result struct {
	CampaignID string
	Strategy   StrategyKind
	Outcome    Outcome
	Messages   int
	Elapsed    time.Duration
	// Acked and Nacked count confirmation events seen by EventDriven.
	Acked  int
	Nacked int
	// SequenceMismatches counts submissions whose sequence number differed from the expected one.
	SequenceMismatches int
	// Barriers counts the confirm waits Batched executed.
	Barriers int
	// Outstanding is the number of sequence numbers still unconfirmed when the strategy returned.
	Outstanding int
}

// Throughput returns confirmed messages per second.
func (r Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}

	return float64(r.Messages) / r.Elapsed.Seconds()
}

// Strategy drives one campaign on a channel until it is confirmed or has failed.
type Strategy interface {
	// Kind identifies the strategy.
	Kind() StrategyKind

	// Run publishes the campaign's messages on ch and reconciles their confirmations.
	// The ctx deadline is the campaign deadline.
	Run(ctx context.Context, ch Channel, c Campaign) (Result, error)
}

// Body returns the payload of the i-th message of a campaign.
func Body(i int) []byte {
	return []byte(strconv.Itoa(i))
}
