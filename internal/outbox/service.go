// Package outbox is the durable queue of state-changing actions that
// still have to reach the backend. Delivery is at-least-once: an action
// leaves the queue only after its sender returned without error.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"fleet-monitor/sentinel/internal/clock"
	"fleet-monitor/sentinel/internal/domain"
	"fleet-monitor/sentinel/internal/logging"
	"fleet-monitor/sentinel/internal/metrics"
)

// Sender delivers one action to the backend.
type Sender interface {
	Dispatch(ctx context.Context, a domain.QueuedAction) error
}

type SenderFunc func(ctx context.Context, a domain.QueuedAction) error

func (f SenderFunc) Dispatch(ctx context.Context, a domain.QueuedAction) error { return f(ctx, a) }

type Config struct {
	MaxRetries int
	// BackoffUnit scales the retry delay: a failure with n retries used
	// waits 2^n units before the next attempt.
	BackoffUnit time.Duration
}

// Request is one action handed to Enqueue.
type Request struct {
	Type       domain.ActionType     `json:"type" validate:"required"`
	Payload    json.RawMessage       `json:"payload" validate:"required"`
	Priority   domain.ActionPriority `json:"priority,omitempty" validate:"omitempty,oneof=critical normal"`
	MaxRetries int                   `json:"maxRetries,omitempty" validate:"gte=0,lte=20"`
}

// NewRequest marshals a typed payload into a Request.
func NewRequest(t domain.ActionType, payload any, priority domain.ActionPriority) (Request, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Request{Type: t, Payload: raw, Priority: priority}, nil
}

type SyncResult struct {
	Skipped     bool          `json:"skipped"`
	Synced      int           `json:"synced"`
	Failed      int           `json:"failed"`
	Quarantined int           `json:"quarantined"`
	Deferred    int           `json:"deferred"`
	Duration    time.Duration `json:"duration"`
}

type Status struct {
	Total        int                       `json:"total"`
	ByType       map[domain.ActionType]int `json:"byType"`
	Critical     int                       `json:"critical"`
	Quarantined  int                       `json:"quarantined"`
	FailedPasses int64                     `json:"failedPasses"`
	Syncing      bool                      `json:"syncing"`
	Online       bool                      `json:"online"`
}

// Service is the outbox. The host builds exactly one per store.
type Service struct {
	store    *Store
	sender   Sender
	clock    clock.Clock
	log      *slog.Logger
	validate *validator.Validate
	cfg      Config

	online       atomic.Pointer[func() bool]
	syncing      atomic.Bool
	failedPasses atomic.Int64
	background   sync.WaitGroup
}

func NewService(store *Store, sender Sender, c clock.Clock, cfg Config, log *slog.Logger) *Service {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = domain.DefaultMaxRetries
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = time.Second
	}
	return &Service{
		store:    store,
		sender:   sender,
		clock:    c,
		log:      log,
		validate: validator.New(),
		cfg:      cfg,
	}
}

// SetOnline installs the connectivity check used to decide whether
// Enqueue and Requeue start a sync. Without one the service assumes
// it is offline.
func (s *Service) SetOnline(fn func() bool) {
	s.online.Store(&fn)
}

func (s *Service) isOnline() bool {
	fn := s.online.Load()
	return fn != nil && (*fn)()
}

// Enqueue validates and durably stores an action. The action is on
// disk before Enqueue returns its id.
func (s *Service) Enqueue(ctx context.Context, req Request) (string, error) {
	if err := s.validate.Struct(req); err != nil {
		return "", fmt.Errorf("invalid request: %w", err)
	}
	payload, err := domain.DecodePayload(req.Type, req.Payload)
	if err != nil {
		return "", err
	}
	if err := s.validate.Struct(payload); err != nil {
		return "", fmt.Errorf("invalid %s payload: %w", req.Type, err)
	}

	a := domain.QueuedAction{
		ID:         uuid.NewString(),
		Type:       req.Type,
		Payload:    req.Payload,
		Priority:   req.Priority,
		EnqueuedAt: s.clock.Now(),
		MaxRetries: req.MaxRetries,
	}
	if k, ok := payload.(domain.Keyed); ok {
		a.OrderingKey = k.OrderingKey()
	}
	if a.Priority == "" {
		a.Priority = domain.PriorityNormal
		if a.Type == domain.ActionEmergency {
			a.Priority = domain.PriorityCritical
		}
	}
	if a.MaxRetries == 0 {
		a.MaxRetries = s.cfg.MaxRetries
	}

	if err := s.store.Insert(a); err != nil {
		s.log.Error("outbox write failed", slog.String("action_id", a.ID), logging.Err(err))
		return "", err
	}
	metrics.OutboxEnqueued.WithLabelValues(string(a.Type), string(a.Priority)).Inc()
	s.log.Debug("action queued",
		slog.String("action_id", a.ID),
		slog.String("type", string(a.Type)),
		slog.String("priority", string(a.Priority)))

	s.trigger()
	return a.ID, nil
}

// trigger starts a background pass when online and idle. A trigger
// that loses the race to a running pass is dropped.
func (s *Service) trigger() {
	if !s.isOnline() || s.syncing.Load() {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if _, err := s.Sync(context.Background()); err != nil {
			s.log.Error("background sync failed", logging.Err(err))
		}
	}()
}

// Wait blocks until background passes started by Enqueue or Requeue
// have returned.
func (s *Service) Wait() {
	s.background.Wait()
}

// Sync makes one pass over the queue. It returns Skipped without
// touching the queue when another pass is running or nothing is queued.
func (s *Service) Sync(ctx context.Context) (SyncResult, error) {
	if !s.syncing.CompareAndSwap(false, true) {
		return SyncResult{Skipped: true}, nil
	}
	defer s.syncing.Store(false)

	pending := s.store.Pending()
	if len(pending) == 0 {
		return SyncResult{Skipped: true}, nil
	}

	start := s.clock.Now()
	var res SyncResult
	out := newOutcome()
	blocked := make(map[string]bool)
	block := func(key string) {
		if key != "" {
			blocked[key] = true
		}
	}

	for _, a := range pending {
		if ctx.Err() != nil {
			break
		}
		if a.OrderingKey != "" && blocked[a.OrderingKey] {
			res.Deferred++
			continue
		}
		if a.NotBefore.After(s.clock.Now()) {
			res.Deferred++
			block(a.OrderingKey)
			continue
		}

		err := s.send(ctx, a)
		if err == nil {
			out.synced[a.ID] = true
			res.Synced++
			metrics.OutboxSynced.WithLabelValues(string(a.Type)).Inc()
			continue
		}

		a.Retries++
		a.LastError = err.Error()
		qerr := &domain.QueuedActionError{ActionID: a.ID, Type: a.Type, Attempt: a.Retries, Err: err}
		metrics.OutboxFailures.WithLabelValues(string(a.Type)).Inc()
		block(a.OrderingKey)

		if a.Exhausted() {
			out.quarantined[a.ID] = true
			res.Quarantined++
			metrics.OutboxQuarantined.WithLabelValues(string(a.Type)).Inc()
			s.log.Error("action quarantined", slog.String("action_id", a.ID), logging.Err(qerr))
		} else {
			a.NotBefore = s.clock.Now().Add(s.backoff(a.Retries))
			res.Failed++
			s.log.Warn("action failed, will retry",
				slog.String("action_id", a.ID),
				slog.Time("not_before", a.NotBefore),
				logging.Err(qerr))
		}
		out.updated[a.ID] = a
	}

	res.Duration = s.clock.Now().Sub(start)
	metrics.SyncDuration.Observe(res.Duration.Seconds())
	if res.Failed > 0 || res.Quarantined > 0 {
		s.failedPasses.Add(1)
	}

	if out.empty() {
		return res, nil
	}
	if err := s.store.apply(out); err != nil {
		s.log.Error("outbox write failed after sync", logging.Err(err))
		return res, err
	}
	s.log.Info("sync pass complete",
		slog.Int("synced", res.Synced),
		slog.Int("failed", res.Failed),
		slog.Int("quarantined", res.Quarantined),
		slog.Int("deferred", res.Deferred))
	return res, nil
}

func (s *Service) send(ctx context.Context, a domain.QueuedAction) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sender panicked: %v", p)
		}
	}()
	return s.sender.Dispatch(ctx, a)
}

// maxBackoffShift keeps 2^n units well inside time.Duration.
const maxBackoffShift = 20

func (s *Service) backoff(retries int) time.Duration {
	retries = min(max(retries, 0), maxBackoffShift)
	return s.cfg.BackoffUnit * time.Duration(1<<retries)
}

func (s *Service) Status() Status {
	st := Status{
		ByType:       make(map[domain.ActionType]int),
		FailedPasses: s.failedPasses.Load(),
		Syncing:      s.syncing.Load(),
		Online:       s.isOnline(),
	}
	for _, a := range s.store.Pending() {
		st.Total++
		st.ByType[a.Type]++
		if a.Priority == domain.PriorityCritical {
			st.Critical++
		}
	}
	_, st.Quarantined = s.store.Len()
	return st
}

// Clear discards every queued action and returns how many were dropped.
func (s *Service) Clear(_ context.Context) (int, error) {
	n, err := s.store.Clear()
	if err != nil {
		return 0, err
	}
	s.log.Warn("outbox cleared", slog.Int("dropped", n))
	return n, nil
}

func (s *Service) Quarantine() []domain.QueuedAction {
	return s.store.Quarantined()
}

// Requeue gives a quarantined action a new retry budget.
func (s *Service) Requeue(_ context.Context, id string) error {
	a, err := s.store.Requeue(id)
	if err != nil {
		return err
	}
	s.log.Info("action requeued", slog.String("action_id", a.ID), slog.String("type", string(a.Type)))
	s.trigger()
	return nil
}
