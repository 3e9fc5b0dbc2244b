// Package http exposes telemetry ingestion, exception management and
// the outbox over a JSON API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"fleet-monitor/sentinel/internal/clock"
	"fleet-monitor/sentinel/internal/domain"
	"fleet-monitor/sentinel/internal/exceptions"
	"fleet-monitor/sentinel/internal/logging"
	"fleet-monitor/sentinel/internal/metrics"
	"fleet-monitor/sentinel/internal/outbox"
)

const maxBodyBytes = 16 << 20

type Ingestor interface {
	Dispatch(s *domain.TelemetrySnapshot)
}

type Outbox interface {
	Enqueue(ctx context.Context, req outbox.Request) (string, error)
	Sync(ctx context.Context) (outbox.SyncResult, error)
	Status() outbox.Status
	Clear(ctx context.Context) (int, error)
	Quarantine() []domain.QueuedAction
	Requeue(ctx context.Context, id string) error
}

type FeedSource interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

type Deps struct {
	Ingestor   Ingestor
	Exceptions exceptions.Recorder
	Outbox     Outbox
	Feed       FeedSource
	Auth       KeyValidator
	Clock      clock.Clock
	Metrics    http.Handler
}

type Server struct {
	deps     Deps
	validate *validator.Validate
	log      *slog.Logger
	mux      *http.ServeMux
}

func NewServer(deps Deps, log *slog.Logger) *Server {
	s := &Server{
		deps:     deps,
		validate: validator.New(),
		log:      log,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/telemetry", s.handleTelemetry)
	api.HandleFunc("GET /v1/drivers/{driverID}/exceptions", s.handleActiveExceptions)
	api.HandleFunc("POST /v1/exceptions/{id}/resolve", s.handleResolve)
	api.HandleFunc("GET /v1/exceptions/stats", s.handleStats)
	api.HandleFunc("POST /v1/actions", s.handleEnqueue)
	api.HandleFunc("GET /v1/outbox", s.handleOutboxStatus)
	api.HandleFunc("DELETE /v1/outbox", s.handleOutboxClear)
	api.HandleFunc("POST /v1/outbox/sync", s.handleOutboxSync)
	api.HandleFunc("GET /v1/outbox/quarantine", s.handleQuarantine)
	api.HandleFunc("POST /v1/outbox/quarantine/{id}/requeue", s.handleRequeue)
	api.HandleFunc("GET /v1/feed", s.handleFeed)

	s.mux.Handle("/v1/", NewAuthMiddleware(s.deps.Auth).Wrap(api))
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics)
	}
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	var snap domain.TelemetrySnapshot
	if !s.decode(w, r, &snap) {
		return
	}
	if err := s.validate.Struct(&snap); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = s.deps.Clock.Now()
	}

	metrics.TelemetryReceived.Inc()
	s.deps.Ingestor.Dispatch(&snap)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleActiveExceptions(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Exceptions.GetActive(r.Context(), r.PathValue("driverID"))
	if err != nil {
		s.log.Error("list exceptions failed", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "could not load exceptions")
		return
	}
	if list == nil {
		list = []domain.Exception{}
	}
	writeJSON(w, http.StatusOK, list)
}

type resolveRequest struct {
	ResolvedBy string `json:"resolvedBy" validate:"required"`
	Note       string `json:"note"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	exc, err := s.deps.Exceptions.Resolve(r.Context(), r.PathValue("id"), req.ResolvedBy, req.Note)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "exception not found")
		return
	}
	if err != nil {
		s.log.Error("resolve exception failed", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "could not resolve exception")
		return
	}
	writeJSON(w, http.StatusOK, exc)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	to := s.deps.Clock.Now()
	from := to.Add(-24 * time.Hour)

	q := r.URL.Query()
	for name, dst := range map[string]*time.Time{"from": &from, "to": &to} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, name+" must be RFC3339")
			return
		}
		*dst = t
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to is before from")
		return
	}

	stats, err := s.deps.Exceptions.Stats(r.Context(), from, to)
	if err != nil {
		s.log.Error("exception stats failed", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "could not compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req outbox.Request
	if !s.decode(w, r, &req) {
		return
	}

	id, err := s.deps.Outbox.Enqueue(r.Context(), req)
	if errors.Is(err, domain.ErrStorage) {
		writeError(w, http.StatusInternalServerError, "action could not be stored")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleOutboxStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Outbox.Status())
}

func (s *Server) handleOutboxClear(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Outbox.Clear(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not clear outbox")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"dropped": n})
}

func (s *Server) handleOutboxSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Outbox.Sync(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleQuarantine(w http.ResponseWriter, r *http.Request) {
	list := s.deps.Outbox.Quarantine()
	if list == nil {
		list = []domain.QueuedAction{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Outbox.Requeue(r.Context(), r.PathValue("id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "action not in quarantine")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not requeue action")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
