package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"pubconfirm/internal/confirm"
	"pubconfirm/internal/confirm/metrics"
)

type fakeRecorder struct {
	err     error
	reports []confirm.Report
}

func (f *fakeRecorder) Record(_ context.Context, r confirm.Report) error {
	f.reports = append(f.reports, r)
	return f.err
}

func TestLogRecorder(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	rec, err := NewLogRecorder(zap.New(core))
	require.NoError(t, err)

	ok := confirm.Report{
		CampaignID: "c1",
		Strategy:   confirm.Bulk,
		Messages:   1000,
		Outcome:    confirm.Completed,
		Elapsed:    1500 * time.Millisecond,
		Throughput: 666.6,
	}
	failed := confirm.Report{
		CampaignID: "c2",
		Strategy:   confirm.Batched,
		Messages:   1000,
		Window:     100,
		Failure:    confirm.FailureTimeout,
		Detail:     "timed out waiting for window confirms",
	}

	require.NoError(t, rec.Record(context.Background(), ok))
	require.NoError(t, rec.Record(context.Background(), failed))

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "published 1000 messages in 1500 ms", entries[0].Message)
	assert.Equal(t, "completed", entries[0].ContextMap()["outcome"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "campaign failed", entries[1].Message)
	assert.Equal(t, "timeout", entries[1].ContextMap()["failure"])
	assert.Equal(t, int64(100), entries[1].ContextMap()["window"])
}

func TestMultiRecorder(t *testing.T) {
	first := &fakeRecorder{err: errors.New("store down")}
	second := &fakeRecorder{}
	third := &fakeRecorder{err: errors.New("disk full")}

	m := NewMultiRecorder(first, second, third)
	err := m.Record(context.Background(), confirm.Report{ID: "r"})

	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	for _, rec := range []*fakeRecorder{first, second, third} {
		assert.Len(t, rec.reports, 1, "every recorder sees the report")
	}

	assert.NoError(t, NewMultiRecorder(second).Record(context.Background(), confirm.Report{}))
}

func TestMetricsRecorder_PassesThrough(t *testing.T) {
	inner := &fakeRecorder{err: errors.New("boom")}
	rec := NewMetricsRecorder(inner, metrics.NewRegistry())

	err := rec.Record(context.Background(), confirm.Report{ID: "r"})

	assert.EqualError(t, err, "boom")
	assert.Len(t, inner.reports, 1)
}

func TestNewCouchbaseRecorder_Validates(t *testing.T) {
	_, err := NewCouchbaseRecorder(nil, nil, nil, zap.NewNop(), time.Hour)
	assert.Error(t, err)
}
