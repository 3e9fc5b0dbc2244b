package pipeline

import (
	"context"
	"log/slog"
	"time"

	"fleet-monitor/sentinel/internal/clock"
	"fleet-monitor/sentinel/internal/domain"
	"fleet-monitor/sentinel/internal/logging"
)

type StateSink interface {
	PipelineStateUpdate(ctx context.Context, s *domain.TelemetrySnapshot) error
}

const (
	stateBatchSize = 100
	stateFlush     = 50 * time.Millisecond
)

// StateWriter keeps the live driver state current for the dashboard.
type StateWriter struct {
	ch    <-chan *domain.TelemetrySnapshot
	sink  StateSink
	clock clock.Clock
	log   *slog.Logger
}

func NewStateWriter(ch <-chan *domain.TelemetrySnapshot, sink StateSink, c clock.Clock, log *slog.Logger) *StateWriter {
	return &StateWriter{ch: ch, sink: sink, clock: c, log: log}
}

func (w *StateWriter) Run(ctx context.Context) {
	batch := make([]*domain.TelemetrySnapshot, 0, stateBatchSize)
	ticker := w.clock.NewTicker(stateFlush)
	defer ticker.Stop()

	for {
		select {
		case s, ok := <-w.ch:
			if !ok {
				w.flushBatch(context.Background(), batch)
				return
			}
			batch = append(batch, s)
			if len(batch) >= stateBatchSize {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			w.flushBatch(context.Background(), batch)
			return
		}
	}
}

func (w *StateWriter) flushBatch(ctx context.Context, batch []*domain.TelemetrySnapshot) {
	for _, s := range batch {
		if err := w.sink.PipelineStateUpdate(ctx, s); err != nil {
			w.log.Warn("state update failed", slog.String("driver_id", s.DriverID), logging.Err(err))
		}
	}
}
