package report

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"pubconfirm/internal/confirm"
	"pubconfirm/internal/validator"
)

// LogRecorder writes reports to the log.
type LogRecorder struct {
	logger *zap.Logger
}

func NewLogRecorder(logger *zap.Logger) (*LogRecorder, error) {
	r := LogRecorder{logger: logger}

	if err := validator.Validate("log recorder", r.logger); err != nil {
		return nil, fmt.Errorf("failed to validate log recorder deps: %w", err)
	}

	r.logger = logger.Named("report")

	return &r, nil
}

func (l *LogRecorder) Record(_ context.Context, r confirm.Report) error {
	fields := []zap.Field{
		zap.String("campaign", r.CampaignID),
		zap.String("strategy", string(r.Strategy)),
		zap.Int("messages", r.Messages),
	}
	if r.Window > 0 {
		fields = append(fields, zap.Int("window", r.Window))
	}

	if !r.Succeeded() {
		fields = append(fields, zap.String("failure", string(r.Failure)), zap.String("detail", r.Detail))
		l.logger.Warn("campaign failed", fields...)
		return nil
	}

	fields = append(fields,
		zap.String("outcome", string(r.Outcome)),
		zap.Duration("elapsed", r.Elapsed),
		zap.Float64("messages_per_sec", r.Throughput),
		zap.Int("nacked", r.Nacked),
		zap.Int("sequence_mismatches", r.SequenceMismatches),
	)
	l.logger.Info(fmt.Sprintf("published %d messages in %d ms", r.Messages, r.Elapsed.Milliseconds()), fields...)

	return nil
}
