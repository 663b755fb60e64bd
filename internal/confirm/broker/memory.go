package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pubconfirm/internal/confirm"
)

// ErrClosed is returned by operations on a closed broker or channel.
var ErrClosed = errors.New("broker channel closed")

// MemoryConfig controls how the in-memory broker confirms publishes.
type MemoryConfig struct {
	// ConfirmDelay is how long the broker sits on published messages before confirming them.
	ConfirmDelay time.Duration `env:"MEMORY_CONFIRM_DELAY" envDefault:"0s"`
	// CumulativeAcks merges runs of consecutive acks into one multiple ack.
	CumulativeAcks bool `env:"MEMORY_CUMULATIVE_ACKS" envDefault:"true"`
	// NackEvery rejects every n-th sequence number when positive.
	NackEvery int `env:"MEMORY_NACK_EVERY" envDefault:"0"`
	// Silent withholds every confirmation.
	Silent bool `env:"MEMORY_SILENT" envDefault:"false"`
	// Nack decides which sequence numbers are rejected. It takes precedence over NackEvery.
	Nack func(confirm.SequenceNumber) bool `env:"-"`
}

func (c MemoryConfig) nack(seq confirm.SequenceNumber) bool {
	if c.Nack != nil {
		return c.Nack(seq)
	}

	return c.NackEvery > 0 && uint64(seq)%uint64(c.NackEvery) == 0
}

// MemoryBroker is an in-process broker with publisher confirms. Messages are only counted per
// queue; nothing is delivered to consumers.
type MemoryBroker struct {
	config MemoryConfig

	mu       sync.Mutex
	queues   map[string]int
	channels map[*MemoryChannel]struct{}
	closed   bool
}

func NewMemoryBroker(config MemoryConfig) *MemoryBroker {
	return &MemoryBroker{
		config:   config,
		queues:   make(map[string]int),
		channels: make(map[*MemoryChannel]struct{}),
	}
}

// Channel implements confirm.Broker.Channel.
func (b *MemoryBroker) Channel(ctx context.Context) (confirm.Channel, error) {
	return b.OpenChannel(ctx)
}

// OpenChannel is Channel returning the concrete type, which exposes publish statistics.
func (b *MemoryBroker) OpenChannel(ctx context.Context) (*MemoryChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	ch := newMemoryChannel(b, b.config)
	b.channels[ch] = struct{}{}

	return ch, nil
}

// Close closes every open channel.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	channels := make([]*MemoryChannel, 0, len(b.channels))
	for ch := range b.channels {
		channels = append(channels, ch)
	}
	b.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}

	return nil
}

// Delivered returns how many messages were routed to queue.
func (b *MemoryBroker) Delivered(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.queues[queue]
}

func (b *MemoryBroker) declare() string {
	name := "amq.gen-" + uuid.NewString()

	b.mu.Lock()
	b.queues[name] = 0
	b.mu.Unlock()

	return name
}

// route counts a message for queue. Unknown queues drop the message, like the default
// exchange does for unroutable messages.
func (b *MemoryBroker) route(queue string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.queues[queue]; ok {
		b.queues[queue]++
	}
}

func (b *MemoryBroker) release(ch *MemoryChannel) {
	b.mu.Lock()
	delete(b.channels, ch)
	b.mu.Unlock()
}

// MemoryChannel is a channel of a MemoryBroker. Confirmations are produced on a separate
// goroutine, in sequence number order.
type MemoryChannel struct {
	broker *MemoryBroker
	config MemoryConfig

	wake chan struct{}
	done chan struct{}

	mu         sync.Mutex
	closed     bool
	confirming bool
	track      bool
	next       confirm.SequenceNumber
	pending    []confirm.SequenceNumber
	handlers   []func(confirm.Confirmation)
	// confirmedThrough is the highest tag confirmed so far; confirms are issued in order.
	confirmedThrough confirm.SequenceNumber
	nacked           []confirm.SequenceNumber
	changed          chan struct{}
	unconfirmed      int
	peak             int
	published        int
}

func newMemoryChannel(b *MemoryBroker, config MemoryConfig) *MemoryChannel {
	return &MemoryChannel{
		broker:  b,
		config:  config,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		next:    1,
		changed: make(chan struct{}),
	}
}

func (c *MemoryChannel) DeclareQueue(ctx context.Context) (string, error) {
	if err := c.usable(ctx); err != nil {
		return "", fmt.Errorf("failed to declare queue: %w", err)
	}

	return c.broker.declare(), nil
}

func (c *MemoryChannel) Confirm(trackInternally bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	c.track = trackInternally
	if !c.confirming {
		c.confirming = true
		go c.dispatch()
	}

	return nil
}

func (c *MemoryChannel) NextSequence() confirm.SequenceNumber {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.next
}

func (c *MemoryChannel) Publish(ctx context.Context, queue string, body []byte) (confirm.SequenceNumber, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("failed to publish: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}

	c.published++
	var seq confirm.SequenceNumber
	if c.confirming {
		seq = c.next
		c.next++
		c.pending = append(c.pending, seq)
		c.unconfirmed++
		c.peak = max(c.peak, c.unconfirmed)
	}
	c.mu.Unlock()

	c.broker.route(queue)

	select {
	case c.wake <- struct{}{}:
	default:
	}

	return seq, nil
}

func (c *MemoryChannel) WaitForConfirms(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case !c.confirming || !c.track:
		c.mu.Unlock()
		return errors.New("channel does not track confirms")
	}
	target := c.next - 1
	c.mu.Unlock()

	for {
		c.mu.Lock()
		if c.confirmedThrough >= target {
			nacked := c.takeNacked(target)
			c.mu.Unlock()

			if len(nacked) > 0 {
				return fmt.Errorf("%w: %d messages, first tag %d", confirm.ErrNackReceived, len(nacked), nacked[0])
			}
			return nil
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-c.done:
			return ErrClosed
		case <-ctx.Done():
			return confirm.WaitError("confirms", ctx.Err())
		}
	}
}

func (c *MemoryChannel) NotifyConfirm(handler func(confirm.Confirmation)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers = append(c.handlers, handler)
}

func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.broker.release(c)

	return nil
}

// Peak returns the largest number of simultaneously unconfirmed messages seen on the channel.
func (c *MemoryChannel) Peak() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.peak
}

// Published returns how many messages were published on the channel.
func (c *MemoryChannel) Published() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.published
}

// Unconfirmed returns how many published messages are still waiting for a confirm.
func (c *MemoryChannel) Unconfirmed() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.unconfirmed
}

func (c *MemoryChannel) usable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	return nil
}

// takeNacked removes and returns the nacked tags up to target. c.mu must be held.
func (c *MemoryChannel) takeNacked(target confirm.SequenceNumber) []confirm.SequenceNumber {
	var taken, kept []confirm.SequenceNumber
	for _, tag := range c.nacked {
		if tag <= target {
			taken = append(taken, tag)
		} else {
			kept = append(kept, tag)
		}
	}
	c.nacked = kept

	return taken
}

func (c *MemoryChannel) dispatch() {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		if c.config.ConfirmDelay > 0 {
			select {
			case <-c.done:
				return
			case <-time.After(c.config.ConfirmDelay):
			}
		}

		if c.config.Silent {
			continue
		}

		c.mu.Lock()
		batch := c.pending
		c.pending = nil
		c.mu.Unlock()

		for _, conf := range c.confirmationsFor(batch) {
			if !c.settle(conf.Confirmation, conf.count) {
				return
			}
		}
	}
}

type pendingConfirmation struct {
	confirm.Confirmation
	count int
}

// confirmationsFor turns a batch of published tags into the confirmations the broker sends.
func (c *MemoryChannel) confirmationsFor(batch []confirm.SequenceNumber) []pendingConfirmation {
	var out []pendingConfirmation
	var run []confirm.SequenceNumber

	flush := func() {
		if len(run) == 0 {
			return
		}
		if !c.config.CumulativeAcks {
			for _, tag := range run {
				out = append(out, pendingConfirmation{confirm.Confirmation{Tag: tag, Ack: true}, 1})
			}
		} else {
			last := run[len(run)-1]
			out = append(out, pendingConfirmation{confirm.Confirmation{Tag: last, Multiple: len(run) > 1, Ack: true}, len(run)})
		}
		run = run[:0]
	}

	for _, tag := range batch {
		if c.config.nack(tag) {
			flush()
			out = append(out, pendingConfirmation{confirm.Confirmation{Tag: tag}, 1})
			continue
		}
		run = append(run, tag)
	}
	flush()

	return out
}

// settle records conf and hands it to the registered handlers. It reports false once the
// channel is closed.
func (c *MemoryChannel) settle(conf confirm.Confirmation, count int) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.confirmedThrough = conf.Tag
	c.unconfirmed -= count
	if !conf.Ack && c.track {
		c.nacked = append(c.nacked, conf.Tag)
	}
	close(c.changed)
	c.changed = make(chan struct{})
	handlers := c.handlers
	c.mu.Unlock()

	for _, h := range handlers {
		h(conf)
	}

	return true
}
