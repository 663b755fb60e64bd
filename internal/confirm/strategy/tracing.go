package strategy

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"pubconfirm/internal/confirm"
	"pubconfirm/internal/confirm/tracing"
)

// TracedStrategy wraps a confirm.Strategy with a span per campaign
// Layer order: TracedStrategy -> MetricsStrategy -> strategy
type TracedStrategy struct {
	strategy confirm.Strategy
	tracer   *tracing.Tracer
}

func NewTracedStrategy(strategy confirm.Strategy, tracer *tracing.Tracer) confirm.Strategy {
	return &TracedStrategy{
		strategy: strategy,
		tracer:   tracer,
	}
}

func (s *TracedStrategy) Kind() confirm.StrategyKind {
	return s.strategy.Kind()
}

// Run implements confirm.Strategy.Run with distributed tracing
func (s *TracedStrategy) Run(ctx context.Context, ch confirm.Channel, c confirm.Campaign) (confirm.Result, error) {
	ctx, span := s.tracer.StartSpan(ctx, "strategy."+string(s.strategy.Kind())+".run")
	defer span.End()

	span.SetAttributes(s.tracer.CampaignAttributes(c.ID, string(c.Strategy), c.Queue, c.Messages, c.Window)...)

	res, err := s.strategy.Run(ctx, ch, c)

	span.SetAttributes(
		attribute.Int("campaign.outstanding", res.Outstanding),
		attribute.Int("campaign.nacked", res.Nacked),
		attribute.Int("campaign.sequence_mismatches", res.SequenceMismatches),
	)

	if err != nil {
		s.tracer.RecordError(ctx, err)
		span.SetAttributes(attribute.String("campaign.failure", string(confirm.Classify(err))))
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(
			attribute.String("campaign.outcome", string(res.Outcome)),
			attribute.Float64("campaign.throughput", res.Throughput()),
		)
	}

	span.SetAttributes(s.tracer.ErrorAttributes(err)...)

	return res, err
}
