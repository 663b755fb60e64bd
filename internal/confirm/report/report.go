// Package report keeps the outcome of every campaign run.
package report

import (
	"context"

	"go.uber.org/multierr"

	"pubconfirm/internal/confirm"
)

// MultiRecorder hands every report to all of its recorders.
type MultiRecorder struct {
	recorders []confirm.Recorder
}

func NewMultiRecorder(recorders ...confirm.Recorder) *MultiRecorder {
	return &MultiRecorder{recorders: recorders}
}

// Record implements confirm.Recorder.Record. Every recorder runs even when an earlier one fails.
func (m *MultiRecorder) Record(ctx context.Context, r confirm.Report) error {
	var err error
	for _, rec := range m.recorders {
		err = multierr.Append(err, rec.Record(ctx, r))
	}

	return err
}
