package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fleet-monitor/sentinel/internal/actions"
	"fleet-monitor/sentinel/internal/auth"
	"fleet-monitor/sentinel/internal/clock"
	"fleet-monitor/sentinel/internal/config"
	"fleet-monitor/sentinel/internal/connectivity"
	"fleet-monitor/sentinel/internal/domain"
	"fleet-monitor/sentinel/internal/exceptions"
	"fleet-monitor/sentinel/internal/logging"
	"fleet-monitor/sentinel/internal/metrics"
	"fleet-monitor/sentinel/internal/notify"
	"fleet-monitor/sentinel/internal/outbox"
	"fleet-monitor/sentinel/internal/pipeline"
	"fleet-monitor/sentinel/internal/remote"
	"fleet-monitor/sentinel/internal/rules"
	"fleet-monitor/sentinel/internal/store"
	transport "fleet-monitor/sentinel/internal/transport/http"
)

const (
	outboxGCInterval = 10 * time.Minute
	outboxGCRatio    = 0.5
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run ingestion, detection and the outbox",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log := logging.New(cfg.LogLevel)
		slog.SetDefault(log)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(logging.NewContext(ctx, log), cfg, log)
	},
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	c := clock.Real()

	ruleSet, err := rules.Load(cfg.RulesPath)
	if err != nil {
		return err
	}
	log.Info("rules loaded", slog.Int("count", len(ruleSet)), slog.String("path", cfg.RulesPath))

	db, err := store.NewTimescaleStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect timescale: %w", err)
	}
	defer db.Close()

	rdb, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	blobs, err := store.NewGCSBlobStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsFile)
	if err != nil {
		return err
	}
	defer blobs.Close()

	recorder := exceptions.NewPostgresRecorder(db.Pool(), c)
	router := notify.NewRouter(gateways(cfg, rdb, log), notify.Fanout{
		notify.NewFeedGateway(rdb),
		notify.NewLogGateway(log.With(slog.String("gateway", "critical"))),
	}, cfg.NotifyTimeout(), log)
	executor := actions.NewExecutor(db, router, c, log)

	kv, err := outbox.OpenBadger(outbox.BadgerConfig{
		Path:       cfg.OutboxPath,
		SyncWrites: true,
		Logger:     log.With(slog.String("component", "badger")),
	})
	if err != nil {
		return err
	}
	defer kv.Close()

	queue := outbox.NewStore(kv)
	if err := queue.Load(); err != nil {
		return err
	}
	handlers := remote.NewHandlers(db, blobs, recorder, router, ruleSet, c)
	svc := outbox.NewService(queue, handlers, c, outbox.Config{
		MaxRetries:  cfg.OutboxMaxRetries,
		BackoffUnit: cfg.OutboxBackoffUnit,
	}, log)
	defer svc.Wait()

	monitor := connectivity.NewMonitor(db, cfg.ProbeInterval, c, log)
	svc.SetOnline(monitor.Online)
	sched := connectivity.NewScheduler(svc, rdb, monitor.Online, cfg.SyncInterval, c, log)
	monitor.Subscribe(sched.OnTransition)

	authenticator := auth.NewAuthenticator(
		cfg.ValidAPIKeys,
		time.Duration(cfg.AuthCacheTTLSeconds)*time.Second,
		rdb, c, log,
	)

	dispatcher := pipeline.NewDispatcher(cfg.DetectChannelSize, cfg.HistoryChannelSize, cfg.StateChannelSize)
	server := transport.NewServer(transport.Deps{
		Ingestor:   dispatcher,
		Exceptions: recorder,
		Outbox:     svc,
		Feed:       rdb,
		Auth:       authenticator,
		Clock:      c,
		Metrics:    metrics.Handler(),
	}, log)

	g, gctx := errgroup.WithContext(ctx)
	// Workers stop when their channel closes, not on the signal, so a
	// shutdown still persists everything that was accepted.
	var workers errgroup.Group
	wctx := context.WithoutCancel(ctx)

	for i := 0; i < cfg.DetectWorkers; i++ {
		d := pipeline.NewDetector(dispatcher.DetectChan, ruleSet, recorder, router, executor, c,
			log.With(slog.Int("detector", i)))
		workers.Go(func() error { d.Run(wctx); return nil })
	}
	for i := 0; i < cfg.HistoryWorkers; i++ {
		w := pipeline.NewHistoryWriter(dispatcher.HistoryChan, db, cfg.HistoryBatchSize, cfg.HistoryFlushIntervalMS, c,
			log.With(slog.Int("history_writer", i)))
		workers.Go(func() error { w.Run(wctx); return nil })
	}
	for i := 0; i < cfg.StateWorkers; i++ {
		w := pipeline.NewStateWriter(dispatcher.StateChan, rdb, c, log.With(slog.Int("state_writer", i)))
		workers.Go(func() error { w.Run(wctx); return nil })
	}

	g.Go(func() error { monitor.Run(gctx); return nil })
	g.Go(func() error { sched.Run(gctx); return nil })
	g.Go(func() error { kv.RunGC(gctx, outboxGCInterval, outboxGCRatio, log); return nil })
	g.Go(func() error {
		return server.Run(gctx, ":"+cfg.HTTPPort)
	})

	log.Info("sentinel started",
		slog.String("port", cfg.HTTPPort),
		slog.Int("detect_workers", cfg.DetectWorkers),
		slog.Int("queued_actions", svc.Status().Total))

	err = g.Wait()

	// The server has stopped accepting telemetry; closing the channels
	// lets the workers drain what was already dispatched.
	dispatcher.Close()
	if werr := workers.Wait(); werr != nil && err == nil {
		err = werr
	}
	log.Info("sentinel stopped")
	return err
}

// gateways maps each notification channel to its delivery path. Chat goes
// to the webhook when one is configured; email and SMS are logged.
func gateways(cfg *config.Config, rdb *store.RedisStore, log *slog.Logger) map[domain.Channel]notify.Gateway {
	var line notify.Gateway = notify.NewLogGateway(log.With(slog.String("gateway", "line")))
	if cfg.ChatWebhookURL != "" {
		line = notify.NewWebhookGateway(cfg.ChatWebhookURL, cfg.ChatRatePerSec, cfg.NotifyTimeout())
	}
	return map[domain.Channel]notify.Gateway{
		domain.ChannelLine:       line,
		domain.ChannelEmail:      notify.NewLogGateway(log.With(slog.String("gateway", "email"))),
		domain.ChannelSMS:        notify.NewLogGateway(log.With(slog.String("gateway", "sms"))),
		domain.ChannelAdminPanel: notify.NewFeedGateway(rdb),
	}
}
