package broker

import (
	"context"
	"time"

	"pubconfirm/internal/confirm"
	"pubconfirm/internal/confirm/metrics"
)

// MetricsBroker wraps a confirm.Broker so every channel it opens records metrics
type MetricsBroker struct {
	broker   confirm.Broker
	registry *metrics.Registry
}

func NewMetricsBroker(broker confirm.Broker, registry *metrics.Registry) confirm.Broker {
	return &MetricsBroker{
		broker:   broker,
		registry: registry,
	}
}

func (b *MetricsBroker) Channel(ctx context.Context) (confirm.Channel, error) {
	start := time.Now()

	ch, err := b.broker.Channel(ctx)
	b.registry.RecordBrokerOperation("open_channel", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	b.registry.ChannelOpened()

	return &MetricsChannel{channel: ch, registry: b.registry}, nil
}

func (b *MetricsBroker) Close() error {
	return b.broker.Close()
}

// MetricsChannel wraps a confirm.Channel with metrics collection
type MetricsChannel struct {
	channel  confirm.Channel
	registry *metrics.Registry
}

func (c *MetricsChannel) DeclareQueue(ctx context.Context) (string, error) {
	start := time.Now()

	name, err := c.channel.DeclareQueue(ctx)
	c.registry.RecordBrokerOperation("declare_queue", time.Since(start), err)

	return name, err
}

func (c *MetricsChannel) Confirm(trackInternally bool) error {
	start := time.Now()

	err := c.channel.Confirm(trackInternally)
	c.registry.RecordBrokerOperation("confirm_select", time.Since(start), err)

	return err
}

func (c *MetricsChannel) NextSequence() confirm.SequenceNumber {
	return c.channel.NextSequence()
}

func (c *MetricsChannel) Publish(ctx context.Context, queue string, body []byte) (confirm.SequenceNumber, error) {
	start := time.Now()

	seq, err := c.channel.Publish(ctx, queue, body)
	c.registry.RecordBrokerOperation("publish", time.Since(start), err)

	return seq, err
}

func (c *MetricsChannel) WaitForConfirms(ctx context.Context) error {
	start := time.Now()

	err := c.channel.WaitForConfirms(ctx)
	c.registry.RecordBrokerOperation("wait_for_confirms", time.Since(start), err)

	return err
}

// NotifyConfirm counts every confirmation before handing it on.
func (c *MetricsChannel) NotifyConfirm(handler func(confirm.Confirmation)) {
	c.channel.NotifyConfirm(func(conf confirm.Confirmation) {
		c.registry.RecordConfirmation(conf.Ack, conf.Multiple)
		handler(conf)
	})
}

func (c *MetricsChannel) Close() error {
	start := time.Now()

	err := c.channel.Close()
	c.registry.RecordBrokerOperation("close_channel", time.Since(start), err)
	c.registry.ChannelClosed()

	return err
}
