package strategy

import (
	"context"
	"time"

	"pubconfirm/internal/confirm"
	"pubconfirm/internal/confirm/metrics"
)

// MetricsStrategy wraps a confirm.Strategy with campaign metrics
type MetricsStrategy struct {
	strategy confirm.Strategy
	registry *metrics.Registry
}

func NewMetricsStrategy(strategy confirm.Strategy, registry *metrics.Registry) confirm.Strategy {
	return &MetricsStrategy{
		strategy: strategy,
		registry: registry,
	}
}

func (s *MetricsStrategy) Kind() confirm.StrategyKind {
	return s.strategy.Kind()
}

// Run implements confirm.Strategy.Run with metrics collection
func (s *MetricsStrategy) Run(ctx context.Context, ch confirm.Channel, c confirm.Campaign) (confirm.Result, error) {
	start := time.Now()

	res, err := s.strategy.Run(ctx, ch, c)
	duration := time.Since(start)

	stats := metrics.CampaignStats{
		Strategy:           string(s.strategy.Kind()),
		Status:             string(res.Outcome),
		Messages:           c.Messages,
		Duration:           duration,
		Throughput:         res.Throughput(),
		SequenceMismatches: res.SequenceMismatches,
		Barriers:           res.Barriers,
		Outstanding:        res.Outstanding,
	}
	if err != nil {
		stats.Status = string(confirm.Classify(err))
		stats.Failed = true
	}

	s.registry.RecordCampaign(stats)

	return res, err
}
