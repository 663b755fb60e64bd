// Package coordinator runs publish-confirm campaigns: it gives every campaign its own channel
// and queue, applies the campaign deadline, hands the campaign to its strategy and records
// the outcome.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"pubconfirm/internal/confirm"
	"pubconfirm/internal/validator"
)

// Config describes the campaigns of one run.
type Config struct {
	Strategies []string      `env:"STRATEGIES" envDefault:"bulk,batched,eventdriven" envSeparator:","`
	Messages   int           `env:"MESSAGE_COUNT" envDefault:"50000"`
	BatchSize  int           `env:"BATCH_SIZE" envDefault:"100"`
	Deadline   time.Duration `env:"CAMPAIGN_DEADLINE" envDefault:"10s"`
}

// Requests turns the config into one request per configured strategy, in order.
func (c Config) Requests() ([]Request, error) {
	requests := make([]Request, 0, len(c.Strategies))
	for _, name := range c.Strategies {
		kind, err := confirm.ParseStrategyKind(name)
		if err != nil {
			return nil, err
		}

		req := Request{Strategy: kind, Messages: c.Messages, Deadline: c.Deadline}
		if kind == confirm.Batched {
			req.Window = c.BatchSize
		}
		requests = append(requests, req)
	}

	return requests, nil
}

// Request asks for one campaign.
type Request struct {
	Strategy confirm.StrategyKind
	Messages int
	// Window is only used by Batched.
	Window int
	// Deadline bounds the whole campaign and must be positive.
	Deadline time.Duration
}

type Coordinator struct {
	broker     confirm.Broker
	recorder   confirm.Recorder
	logger     *zap.Logger
	strategies map[confirm.StrategyKind]confirm.Strategy
}

func NewCoordinator(
	broker confirm.Broker,
	recorder confirm.Recorder,
	logger *zap.Logger,
	strategies ...confirm.Strategy,
) (*Coordinator, error) {
	c := Coordinator{
		broker:     broker,
		recorder:   recorder,
		logger:     logger,
		strategies: make(map[confirm.StrategyKind]confirm.Strategy, len(strategies)),
	}

	if err := validator.Validate("coordinator", c.broker, c.recorder, c.logger, strategies); err != nil {
		return nil, fmt.Errorf("failed to validate coordinator dependencies: %w", err)
	}

	for _, s := range strategies {
		if _, ok := c.strategies[s.Kind()]; ok {
			return nil, fmt.Errorf("strategy %s registered twice", s.Kind())
		}
		c.strategies[s.Kind()] = s
	}

	c.logger = logger.Named("coordinator")

	return &c, nil
}

// Run executes one campaign and records its report. A failed campaign returns a
// *confirm.Failure and a result without elapsed time, only the outstanding count.
func (c *Coordinator) Run(ctx context.Context, req Request) (confirm.Result, error) {
	campaign := confirm.Campaign{
		ID:       uuid.NewString(),
		Strategy: req.Strategy,
		Messages: req.Messages,
		Window:   req.Window,
		Deadline: req.Deadline,
	}
	logger := c.logger.With(zap.String("campaign", campaign.ID), zap.String("strategy", string(campaign.Strategy)))

	logger.Info("starting campaign", zap.Int("messages", campaign.Messages), zap.Duration("deadline", campaign.Deadline))

	startedAt := time.Now()
	res, err := c.run(ctx, logger, campaign)
	if err != nil {
		var f *confirm.Failure
		if !errors.As(err, &f) {
			f = confirm.NewFailure(campaign, err)
		}
		err = f
		res = confirm.Result{
			CampaignID:  campaign.ID,
			Strategy:    campaign.Strategy,
			Messages:    campaign.Messages,
			Outstanding: res.Outstanding,
		}
	}

	// the campaign deadline may already have passed; the report is still written
	if rerr := c.recorder.Record(context.WithoutCancel(ctx), confirm.NewReport(campaign, startedAt, res, err)); rerr != nil {
		logger.Error("failed to record campaign report", zap.Error(rerr))
	}

	return res, err
}

func (c *Coordinator) run(ctx context.Context, logger *zap.Logger, campaign confirm.Campaign) (confirm.Result, error) {
	strategy, ok := c.strategies[campaign.Strategy]
	if !ok {
		return confirm.Result{}, fmt.Errorf("%w: %q", confirm.ErrUnknownStrategy, campaign.Strategy)
	}

	if campaign.Deadline <= 0 {
		return confirm.Result{}, fmt.Errorf("%w: deadline must be positive, got %s", confirm.ErrInvalidCampaign, campaign.Deadline)
	}

	ctx, cancel := context.WithTimeout(ctx, campaign.Deadline)
	defer cancel()

	ch, err := c.broker.Channel(ctx)
	if err != nil {
		return confirm.Result{}, fmt.Errorf("failed to open channel: %w", err)
	}
	defer func() {
		if err := ch.Close(); err != nil {
			logger.Warn("failed to close channel", zap.Error(err))
		}
	}()

	queue, err := ch.DeclareQueue(ctx)
	if err != nil {
		return confirm.Result{}, fmt.Errorf("failed to declare queue: %w", err)
	}
	campaign.Queue = queue

	return strategy.Run(ctx, ch, campaign)
}

// RunAll runs the requests one after the other. A failed campaign does not stop the ones
// after it; a cancelled ctx does. Results line up with the campaigns that were run.
func (c *Coordinator) RunAll(ctx context.Context, requests []Request) ([]confirm.Result, error) {
	results := make([]confirm.Result, 0, len(requests))

	var errs error
	for _, req := range requests {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("run interrupted before %s: %w", req.Strategy, err))
			break
		}

		res, err := c.Run(ctx, req)
		results = append(results, res)
		errs = multierr.Append(errs, err)
	}

	return results, errs
}
