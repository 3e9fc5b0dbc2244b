package connectivity

import (
	"context"
	"log/slog"
	"time"

	"fleet-monitor/sentinel/internal/clock"
	"fleet-monitor/sentinel/internal/logging"
	"fleet-monitor/sentinel/internal/outbox"
)

type Syncer interface {
	Sync(ctx context.Context) (outbox.SyncResult, error)
}

// Indicator surfaces the offline state to people. Enqueueing carries
// on while offline.
type Indicator interface {
	SetOffline(ctx context.Context, offline bool) error
}

// Scheduler starts a sync pass when the backend comes back and on
// every tick while online.
type Scheduler struct {
	syncer    Syncer
	indicator Indicator
	online    func() bool
	interval  time.Duration
	clock     clock.Clock
	log       *slog.Logger
	events    chan bool
}

func NewScheduler(
	syncer Syncer,
	indicator Indicator,
	online func() bool,
	interval time.Duration,
	c clock.Clock,
	log *slog.Logger,
) *Scheduler {
	return &Scheduler{
		syncer:    syncer,
		indicator: indicator,
		online:    online,
		interval:  interval,
		clock:     c,
		log:       log,
		events:    make(chan bool, 16),
	}
}

// OnTransition is the Monitor subscription. It never blocks.
func (s *Scheduler) OnTransition(online bool) {
	select {
	case s.events <- online:
	default:
		s.log.Warn("connectivity event dropped", slog.Bool("online", online))
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case online := <-s.events:
			s.setIndicator(ctx, !online)
			if online {
				s.sync(ctx, "reconnect")
			}

		case <-ticker.C:
			if s.online() {
				s.sync(ctx, "interval")
			}

		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) setIndicator(ctx context.Context, offline bool) {
	if err := s.indicator.SetOffline(ctx, offline); err != nil {
		s.log.Warn("offline indicator not updated", slog.Bool("offline", offline), logging.Err(err))
	}
}

func (s *Scheduler) sync(ctx context.Context, reason string) {
	res, err := s.syncer.Sync(ctx)
	if err != nil {
		s.log.Error("sync failed", slog.String("trigger", reason), logging.Err(err))
		return
	}
	if !res.Skipped {
		s.log.Debug("sync triggered", slog.String("trigger", reason), slog.Int("synced", res.Synced))
	}
}
