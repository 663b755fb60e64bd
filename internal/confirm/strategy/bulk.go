package strategy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pubconfirm/internal/confirm"
	"pubconfirm/internal/validator"
)

// BulkStrategy publishes the whole campaign, then waits once for every confirm.
// Confirmation bookkeeping is left to the channel, which keeps all N messages pending at once.
type BulkStrategy struct {
	logger         *zap.Logger
	confirmTimeout time.Duration
}

func NewBulk(config Config, logger *zap.Logger) (*BulkStrategy, error) {
	s := BulkStrategy{
		logger:         logger,
		confirmTimeout: config.ConfirmTimeout,
	}

	if err := validator.Validate("bulk strategy", s.logger, s.confirmTimeout); err != nil {
		return nil, fmt.Errorf("failed to validate bulk strategy deps: %w", err)
	}

	return &s, nil
}

func (s *BulkStrategy) Kind() confirm.StrategyKind {
	return confirm.Bulk
}

func (s *BulkStrategy) Run(ctx context.Context, ch confirm.Channel, c confirm.Campaign) (confirm.Result, error) {
	res := confirm.Result{CampaignID: c.ID, Strategy: confirm.Bulk, Messages: c.Messages}
	if err := c.Validate(); err != nil {
		return res, err
	}

	logger := s.logger.With(zap.String("campaign", c.ID), zap.String("strategy", string(confirm.Bulk)))

	if err := ch.Confirm(true); err != nil {
		return res, fmt.Errorf("failed to enable confirm mode: %w", err)
	}

	start := time.Now()
	base := ch.NextSequence()

	for i := 0; i < c.Messages; i++ {
		seq, err := ch.Publish(ctx, c.Queue, confirm.Body(i))
		if err != nil {
			res.Outstanding = i
			return res, fmt.Errorf("failed to publish message %d: %w", i, err)
		}
		if checkSequence(logger, base, i, seq) {
			res.SequenceMismatches++
		}
	}

	logger.Debug("campaign published, waiting for confirms", zap.Int("messages", c.Messages))

	waitCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	if err := ch.WaitForConfirms(waitCtx); err != nil {
		res.Outstanding = c.Messages
		return res, confirm.WaitError("campaign confirms", err)
	}

	res.Elapsed = time.Since(start)
	res.Outcome = confirm.Completed

	return res, nil
}
