// Package strategy implements the publish-confirmation strategies: Bulk waits once for the
// whole campaign, Batched waits after every window, EventDriven tracks confirmations from the
// broker's event feed in a ledger.
package strategy

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"pubconfirm/internal/confirm"
)

// Config is shared by the strategies that wait on the broker synchronously.
type Config struct {
	// ConfirmTimeout bounds every individual wait of Bulk and Batched.
	ConfirmTimeout time.Duration `env:"CONFIRM_TIMEOUT" envDefault:"5s"`
}

// New builds the strategy of the given kind.
func New(kind confirm.StrategyKind, config Config, logger *zap.Logger) (confirm.Strategy, error) {
	switch kind {
	case confirm.Bulk:
		return NewBulk(config, logger)
	case confirm.Batched:
		return NewBatched(config, logger)
	case confirm.EventDriven:
		return NewEventDriven(logger)
	default:
		return nil, fmt.Errorf("%w: %q", confirm.ErrUnknownStrategy, kind)
	}
}

// checkSequence warns when the i-th submission of a campaign that started at base did not
// receive base+i. A mismatch means a submission was lost or reordered; it is not fatal.
func checkSequence(logger *zap.Logger, base confirm.SequenceNumber, i int, got confirm.SequenceNumber) bool {
	want := base + confirm.SequenceNumber(i)
	if got == want {
		return false
	}

	logger.Warn("unexpected sequence number",
		zap.Int("message", i),
		zap.Uint64("expected", uint64(want)),
		zap.Uint64("got", uint64(got)),
	)

	return true
}
