package strategy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pubconfirm/internal/confirm"
	"pubconfirm/internal/validator"
)

// BatchedStrategy publishes the campaign in windows and waits for each window to be confirmed
// before starting the next one, so at most one window is ever unconfirmed.
type BatchedStrategy struct {
	logger         *zap.Logger
	confirmTimeout time.Duration
}

func NewBatched(config Config, logger *zap.Logger) (*BatchedStrategy, error) {
	s := BatchedStrategy{
		logger:         logger,
		confirmTimeout: config.ConfirmTimeout,
	}

	if err := validator.Validate("batched strategy", s.logger, s.confirmTimeout); err != nil {
		return nil, fmt.Errorf("failed to validate batched strategy deps: %w", err)
	}

	return &s, nil
}

func (s *BatchedStrategy) Kind() confirm.StrategyKind {
	return confirm.Batched
}

func (s *BatchedStrategy) Run(ctx context.Context, ch confirm.Channel, c confirm.Campaign) (confirm.Result, error) {
	res := confirm.Result{CampaignID: c.ID, Strategy: confirm.Batched, Messages: c.Messages}
	if err := c.Validate(); err != nil {
		return res, err
	}
	if c.Window <= 0 {
		return res, fmt.Errorf("%w: batched campaigns need a positive window", confirm.ErrInvalidCampaign)
	}

	logger := s.logger.With(
		zap.String("campaign", c.ID),
		zap.String("strategy", string(confirm.Batched)),
		zap.Int("window", c.Window),
	)

	if err := ch.Confirm(true); err != nil {
		return res, fmt.Errorf("failed to enable confirm mode: %w", err)
	}

	start := time.Now()
	base := ch.NextSequence()

	for confirmed := 0; confirmed < c.Messages; {
		n := min(c.Window, c.Messages-confirmed)

		sent, mismatches, err := s.sendWindow(ctx, logger, ch, c.Queue, base, confirmed, n)
		res.SequenceMismatches += mismatches
		if err != nil {
			res.Outstanding = sent
			return res, err
		}

		if err := s.awaitWindow(ctx, ch); err != nil {
			res.Outstanding = n
			return res, err
		}

		res.Barriers++
		confirmed += n

		logger.Debug("window confirmed", zap.Int("confirmed", confirmed))
	}

	if res.SequenceMismatches > 0 {
		logger.Warn("campaign saw unexpected sequence numbers", zap.Int("mismatches", res.SequenceMismatches))
	}

	res.Elapsed = time.Since(start)
	res.Outcome = confirm.Completed

	return res, nil
}

// sendWindow publishes messages [from, from+n) one after the other, bounded by the confirm
// timeout. It returns how many of them the channel accepted and how many of those got an
// unexpected sequence number.
func (s *BatchedStrategy) sendWindow(
	ctx context.Context,
	logger *zap.Logger,
	ch confirm.Channel,
	queue string,
	base confirm.SequenceNumber,
	from, n int,
) (sent, mismatches int, err error) {
	sendCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	for i := from; i < from+n; i++ {
		if err := sendCtx.Err(); err != nil {
			return sent, mismatches, confirm.WaitError("window sends", err)
		}

		seq, err := ch.Publish(sendCtx, queue, confirm.Body(i))
		if err != nil {
			if cerr := sendCtx.Err(); cerr != nil {
				return sent, mismatches, confirm.WaitError("window sends", cerr)
			}
			return sent, mismatches, fmt.Errorf("failed to publish message %d: %w", i, err)
		}
		sent++

		if checkSequence(logger, base, i, seq) {
			mismatches++
		}
	}

	return sent, mismatches, nil
}

func (s *BatchedStrategy) awaitWindow(ctx context.Context, ch confirm.Channel) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	if err := ch.WaitForConfirms(waitCtx); err != nil {
		return confirm.WaitError("window confirms", err)
	}

	return nil
}
