package broker

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pubconfirm/internal/confirm"
	"pubconfirm/internal/confirm/tracing"
)

// TracedBroker wraps a confirm.Broker so every channel it opens is traced
// Layer order: TracedBroker -> MetricsBroker -> broker
type TracedBroker struct {
	broker confirm.Broker
	tracer *tracing.Tracer
}

func NewTracedBroker(broker confirm.Broker, tracer *tracing.Tracer) confirm.Broker {
	return &TracedBroker{
		broker: broker,
		tracer: tracer,
	}
}

func (b *TracedBroker) Channel(ctx context.Context) (confirm.Channel, error) {
	ctx, span := b.tracer.StartSpan(ctx, "broker.open_channel")
	defer span.End()

	span.SetAttributes(b.tracer.BrokerAttributes("open_channel")...)

	ch, err := b.broker.Channel(ctx)
	end(ctx, b.tracer, span, err)
	if err != nil {
		return nil, err
	}

	return &TracedChannel{channel: ch, tracer: b.tracer}, nil
}

func (b *TracedBroker) Close() error {
	return b.broker.Close()
}

// TracedChannel wraps a confirm.Channel with distributed tracing
type TracedChannel struct {
	channel confirm.Channel
	tracer  *tracing.Tracer
}

func (c *TracedChannel) DeclareQueue(ctx context.Context) (string, error) {
	ctx, span := c.start(ctx, "declare_queue")
	defer span.End()

	name, err := c.channel.DeclareQueue(ctx)
	if err == nil {
		span.SetAttributes(attribute.String("messaging.destination.name", name))
	}
	end(ctx, c.tracer, span, err)

	return name, err
}

func (c *TracedChannel) Confirm(trackInternally bool) error {
	ctx, span := c.start(context.Background(), "confirm_select")
	defer span.End()

	span.SetAttributes(attribute.Bool("confirm.track_internally", trackInternally))

	err := c.channel.Confirm(trackInternally)
	end(ctx, c.tracer, span, err)

	return err
}

func (c *TracedChannel) NextSequence() confirm.SequenceNumber {
	return c.channel.NextSequence()
}

func (c *TracedChannel) Publish(ctx context.Context, queue string, body []byte) (confirm.SequenceNumber, error) {
	ctx, span := c.start(ctx, "publish")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.destination.name", queue),
		attribute.Int("messaging.message.body.size", len(body)),
	)

	seq, err := c.channel.Publish(ctx, queue, body)
	if err == nil {
		span.SetAttributes(attribute.Int64("confirm.sequence_number", int64(seq)))
	}
	end(ctx, c.tracer, span, err)

	return seq, err
}

func (c *TracedChannel) WaitForConfirms(ctx context.Context) error {
	ctx, span := c.start(ctx, "wait_for_confirms")
	defer span.End()

	err := c.channel.WaitForConfirms(ctx)
	end(ctx, c.tracer, span, err)

	return err
}

func (c *TracedChannel) NotifyConfirm(handler func(confirm.Confirmation)) {
	c.channel.NotifyConfirm(handler)
}

func (c *TracedChannel) Close() error {
	ctx, span := c.start(context.Background(), "close_channel")
	defer span.End()

	err := c.channel.Close()
	end(ctx, c.tracer, span, err)

	return err
}

func (c *TracedChannel) start(ctx context.Context, operation string) (context.Context, trace.Span) {
	ctx, span := c.tracer.StartSpan(ctx, "broker."+operation)
	span.SetAttributes(c.tracer.BrokerAttributes(operation)...)

	return ctx, span
}

func end(ctx context.Context, tracer *tracing.Tracer, span trace.Span, err error) {
	if err != nil {
		tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(tracer.ErrorAttributes(err)...)
}
