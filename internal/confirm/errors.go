package confirm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNackReceived means the broker rejected one or more messages.
	ErrNackReceived = errors.New("nack received")

	// ErrTimeout means a bounded wait ran past its deadline.
	ErrTimeout = errors.New("timed out")

	// ErrOutOfOrder means a sequence number was not greater than every number added before it.
	ErrOutOfOrder = errors.New("sequence number out of order")

	// ErrUnknownStrategy means a strategy name did not match any StrategyKind.
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrInvalidCampaign means the campaign parameters cannot be run.
	ErrInvalidCampaign = errors.New("invalid campaign")
)

// FailureKind classifies why a campaign failed.
type FailureKind string

const (
	FailureNack      FailureKind = "nack_received"
	FailureTimeout   FailureKind = "timeout"
	FailureTransport FailureKind = "transport"
	FailureInvalid   FailureKind = "invalid"
	// FailureCancelled means the caller gave up on the campaign, e.g. on SIGINT.
	FailureCancelled FailureKind = "cancelled"
)

// Failure is the single terminal error of a failed campaign.
type Failure struct {
	Kind       FailureKind
	Strategy   StrategyKind
	CampaignID string
	Err        error
}

// NewFailure wraps err into a Failure classified by Classify.
func NewFailure(c Campaign, err error) *Failure {
	return &Failure{
		Kind:       Classify(err),
		Strategy:   c.Strategy,
		CampaignID: c.ID,
		Err:        err,
	}
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s campaign %s failed (%s): %v", f.Strategy, f.CampaignID, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Classify maps an error returned by a strategy onto a FailureKind.
func Classify(err error) FailureKind {
	switch {
	case errors.Is(err, ErrNackReceived):
		return FailureNack
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, ErrInvalidCampaign), errors.Is(err, ErrUnknownStrategy):
		return FailureInvalid
	case errors.Is(err, context.Canceled):
		return FailureCancelled
	default:
		return FailureTransport
	}
}

// WaitError turns the error of a bounded wait into one that wraps ErrTimeout when the
// wait's deadline expired. Other errors are wrapped unchanged.
func WaitError(what string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w waiting for %s: %w", ErrTimeout, what, err)
	}

	return fmt.Errorf("failed waiting for %s: %w", what, err)
}
