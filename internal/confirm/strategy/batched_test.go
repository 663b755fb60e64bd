package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"pubconfirm/internal/confirm"
	"pubconfirm/internal/confirm/broker"
)

// barrierChannel records how many publishes preceded every confirm wait.
type barrierChannel struct {
	confirm.Channel

	mu        sync.Mutex
	sinceWait int
	barriers  []int
}

func (c *barrierChannel) Publish(ctx context.Context, queue string, body []byte) (confirm.SequenceNumber, error) {
	c.mu.Lock()
	c.sinceWait++
	c.mu.Unlock()

	return c.Channel.Publish(ctx, queue, body)
}

func (c *barrierChannel) WaitForConfirms(ctx context.Context) error {
	c.mu.Lock()
	c.barriers = append(c.barriers, c.sinceWait)
	c.sinceWait = 0
	c.mu.Unlock()

	return c.Channel.WaitForConfirms(ctx)
}

// brokenChannel fails the n-th publish.
type brokenChannel struct {
	confirm.Channel

	mu    sync.Mutex
	count int
	n     int
}

var errConnectionReset = errors.New("connection reset")

func (c *brokenChannel) Publish(ctx context.Context, queue string, body []byte) (confirm.SequenceNumber, error) {
	c.mu.Lock()
	c.count++
	broken := c.count == c.n
	c.mu.Unlock()

	if broken {
		return 0, errConnectionReset
	}

	return c.Channel.Publish(ctx, queue, body)
}

func TestBatched_OneBarrierPerWindow(t *testing.T) {
	b, ch, queue := memoryChannel(t, broker.MemoryConfig{CumulativeAcks: true})
	rec := &barrierChannel{Channel: ch}

	s, err := NewBatched(testConfig, zaptest.NewLogger(t))
	require.NoError(t, err)

	res, err := s.Run(context.Background(), rec, campaign(confirm.Batched, queue, 1000, 100))
	require.NoError(t, err)

	assert.Equal(t, confirm.Completed, res.Outcome)
	assert.Equal(t, 10, res.Barriers)
	require.Len(t, rec.barriers, 10)
	for i, n := range rec.barriers {
		assert.Equal(t, 100, n, "barrier %d", i)
	}

	assert.Zero(t, res.SequenceMismatches)
	assert.LessOrEqual(t, ch.Peak(), 100, "never more than one window unconfirmed")
	assert.Equal(t, 1000, b.Delivered(queue))
}

func TestBatched_ShortLastWindow(t *testing.T) {
	_, ch, queue := memoryChannel(t, broker.MemoryConfig{})
	rec := &barrierChannel{Channel: ch}

	s, err := NewBatched(testConfig, zaptest.NewLogger(t))
	require.NoError(t, err)

	res, err := s.Run(context.Background(), rec, campaign(confirm.Batched, queue, 250, 100))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Barriers)
	assert.Equal(t, []int{100, 100, 50}, rec.barriers)
	assert.LessOrEqual(t, ch.Peak(), 100)
}

func TestBatched_NackFailsWindow(t *testing.T) {
	_, ch, queue := memoryChannel(t, broker.MemoryConfig{CumulativeAcks: true, NackEvery: 150})

	s, err := NewBatched(testConfig, zaptest.NewLogger(t))
	require.NoError(t, err)

	res, err := s.Run(context.Background(), ch, campaign(confirm.Batched, queue, 300, 100))
	require.Error(t, err)

	assert.ErrorIs(t, err, confirm.ErrNackReceived)
	assert.Equal(t, 1, res.Barriers, "the second window holds the nack")
	assert.Empty(t, res.Outcome)
}

func TestBatched_RequiresWindow(t *testing.T) {
	_, ch, queue := memoryChannel(t, broker.MemoryConfig{})

	s, err := NewBatched(testConfig, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = s.Run(context.Background(), ch, campaign(confirm.Batched, queue, 10, 0))
	assert.ErrorIs(t, err, confirm.ErrInvalidCampaign)
}

func TestBatched_SequenceMismatchIsWarned(t *testing.T) {
	logger, logs := observed(zap.WarnLevel)
	_, ch, queue := memoryChannel(t, broker.MemoryConfig{CumulativeAcks: true})

	s, err := NewBatched(testConfig, logger)
	require.NoError(t, err)

	res, err := s.Run(context.Background(), &skewedChannel{Channel: ch, skew: 4}, campaign(confirm.Batched, queue, 6, 2))
	require.NoError(t, err)

	assert.Equal(t, confirm.Completed, res.Outcome)
	assert.Equal(t, 3, res.Barriers)
	assert.Equal(t, 1, res.SequenceMismatches)

	warnings := logs.FilterMessage("unexpected sequence number").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, int64(3), warnings[0].ContextMap()["message"])
	assert.Equal(t, uint64(4), warnings[0].ContextMap()["expected"])
	assert.Equal(t, uint64(104), warnings[0].ContextMap()["got"])
}

func TestBatched_PublishesWindowInOrder(t *testing.T) {
	logger, logs := observed(zap.WarnLevel)
	_, ch, queue := memoryChannel(t, broker.MemoryConfig{})

	s, err := NewBatched(testConfig, logger)
	require.NoError(t, err)

	res, err := s.Run(context.Background(), ch, campaign(confirm.Batched, queue, 500, 50))
	require.NoError(t, err)

	assert.Zero(t, res.SequenceMismatches, "every message gets base+i")
	assert.Zero(t, logs.Len())
}

func TestBatched_FailedSendCountsOnlyAcceptedMessages(t *testing.T) {
	_, ch, queue := memoryChannel(t, broker.MemoryConfig{CumulativeAcks: true})

	s, err := NewBatched(testConfig, zaptest.NewLogger(t))
	require.NoError(t, err)

	res, err := s.Run(context.Background(), &brokenChannel{Channel: ch, n: 14}, campaign(confirm.Batched, queue, 30, 10))
	require.Error(t, err)

	assert.ErrorIs(t, err, errConnectionReset)
	assert.Equal(t, confirm.FailureTransport, confirm.Classify(err))
	assert.Equal(t, 1, res.Barriers)
	assert.Equal(t, 3, res.Outstanding, "the fourth send of the second window failed")
	assert.Equal(t, 13, ch.Published())
}
