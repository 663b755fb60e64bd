package report

import (
	"context"
	"time"

	"pubconfirm/internal/confirm"
	"pubconfirm/internal/confirm/metrics"
)

// MetricsRecorder wraps a confirm.Recorder with metrics collection
type MetricsRecorder struct {
	recorder confirm.Recorder
	registry *metrics.Registry
}

func NewMetricsRecorder(recorder confirm.Recorder, registry *metrics.Registry) confirm.Recorder {
	return &MetricsRecorder{
		recorder: recorder,
		registry: registry,
	}
}

func (m *MetricsRecorder) Record(ctx context.Context, r confirm.Report) error {
	start := time.Now()

	err := m.recorder.Record(ctx, r)
	m.registry.RecordReportOperation("record", time.Since(start), err)

	return err
}
