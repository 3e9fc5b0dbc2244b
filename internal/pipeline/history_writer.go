package pipeline

import (
	"context"
	"log/slog"
	"time"

	"fleet-monitor/sentinel/internal/clock"
	"fleet-monitor/sentinel/internal/domain"
	"fleet-monitor/sentinel/internal/logging"
	"fleet-monitor/sentinel/internal/metrics"
)

type HistorySink interface {
	InsertSnapshots(ctx context.Context, batch []*domain.TelemetrySnapshot) error
}

// HistoryWriter batches snapshots into the telemetry history table.
// A batch is flushed when full, on every tick, and on shutdown.
type HistoryWriter struct {
	ch         <-chan *domain.TelemetrySnapshot
	sink       HistorySink
	batchSize  int
	flush      time.Duration
	retryDelay time.Duration
	clock      clock.Clock
	log        *slog.Logger
}

func NewHistoryWriter(
	ch <-chan *domain.TelemetrySnapshot,
	sink HistorySink,
	batchSize int,
	flushMS int,
	c clock.Clock,
	log *slog.Logger,
) *HistoryWriter {
	return &HistoryWriter{
		ch:         ch,
		sink:       sink,
		batchSize:  batchSize,
		flush:      time.Duration(flushMS) * time.Millisecond,
		retryDelay: 500 * time.Millisecond,
		clock:      c,
		log:        log,
	}
}

func (w *HistoryWriter) Run(ctx context.Context) {
	batch := make([]*domain.TelemetrySnapshot, 0, w.batchSize)
	ticker := w.clock.NewTicker(w.flush)
	defer ticker.Stop()

	for {
		select {
		case s, ok := <-w.ch:
			if !ok {
				if len(batch) > 0 {
					w.write(context.Background(), batch)
				}
				return
			}
			batch = append(batch, s)
			if len(batch) >= w.batchSize {
				w.write(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.write(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			if len(batch) > 0 {
				w.write(context.Background(), batch)
			}
			return
		}
	}
}

func (w *HistoryWriter) write(ctx context.Context, batch []*domain.TelemetrySnapshot) {
	err := w.sink.InsertSnapshots(ctx, batch)
	if err != nil {
		w.log.Warn("history write failed, retrying", slog.Int("batch", len(batch)), logging.Err(err))
		time.Sleep(w.retryDelay)
		if err = w.sink.InsertSnapshots(ctx, batch); err != nil {
			w.log.Error("history write dropped", slog.Int("batch", len(batch)), logging.Err(err))
			metrics.HistoryWrites.WithLabelValues("failure").Add(float64(len(batch)))
			return
		}
	}
	metrics.HistoryWrites.WithLabelValues("success").Add(float64(len(batch)))
}
