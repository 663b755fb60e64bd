package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pubconfirm/internal/confirm"
	"pubconfirm/internal/confirm/broker"
)

func TestBulk_Completes(t *testing.T) {
	b, ch, queue := memoryChannel(t, broker.MemoryConfig{CumulativeAcks: true})

	s, err := NewBulk(testConfig, zaptest.NewLogger(t))
	require.NoError(t, err)

	res, err := s.Run(context.Background(), ch, campaign(confirm.Bulk, queue, 500, 0))
	require.NoError(t, err)

	assert.Equal(t, confirm.Completed, res.Outcome)
	assert.Equal(t, 500, res.Messages)
	assert.Positive(t, res.Elapsed)
	assert.Zero(t, res.SequenceMismatches)
	assert.Zero(t, ch.Unconfirmed())
	assert.Equal(t, 500, b.Delivered(queue))
}

func TestBulk_NackFailsCampaign(t *testing.T) {
	_, ch, queue := memoryChannel(t, broker.MemoryConfig{
		Nack: func(seq confirm.SequenceNumber) bool { return seq == 2 },
	})

	s, err := NewBulk(testConfig, zaptest.NewLogger(t))
	require.NoError(t, err)

	res, err := s.Run(context.Background(), ch, campaign(confirm.Bulk, queue, 3, 0))
	require.Error(t, err)

	assert.ErrorIs(t, err, confirm.ErrNackReceived)
	assert.Equal(t, confirm.FailureNack, confirm.Classify(err))
	assert.Empty(t, res.Outcome, "no partial success")
	assert.Zero(t, res.Elapsed)
}
