package exceptions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleet-monitor/sentinel/internal/clock"
	"fleet-monitor/sentinel/internal/domain"
)

// MemoryRecorder keeps exceptions in process. Used in tests and when
// the service runs without a database.
type MemoryRecorder struct {
	mu      sync.RWMutex
	records map[string]*domain.Exception
	clock   clock.Clock
	log     *slog.Logger
}

func NewMemoryRecorder(c clock.Clock, log *slog.Logger) *MemoryRecorder {
	return &MemoryRecorder{
		records: make(map[string]*domain.Exception),
		clock:   c,
		log:     log,
	}
}

func (m *MemoryRecorder) Log(_ context.Context, in domain.ExceptionInput) (*domain.Exception, error) {
	if in.DriverID == "" || in.RuleID == "" {
		return nil, fmt.Errorf("%w: driver and rule are required", domain.ErrPersistence)
	}

	e := &domain.Exception{
		ID:        uuid.NewString(),
		DriverID:  in.DriverID,
		JobID:     in.JobID,
		RuleID:    in.RuleID,
		Severity:  in.Severity,
		Message:   in.Message,
		Telemetry: in.Telemetry,
		Location:  in.Location,
		Status:    domain.ExceptionOpen,
		CreatedAt: m.clock.Now(),
	}

	m.mu.Lock()
	m.records[e.ID] = e
	m.mu.Unlock()

	out := *e
	return &out, nil
}

func (m *MemoryRecorder) GetActive(_ context.Context, driverID string) ([]domain.Exception, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Exception
	for _, e := range m.records {
		if e.DriverID == driverID && e.Status == domain.ExceptionOpen {
			out = append(out, *e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryRecorder) Resolve(_ context.Context, id, resolvedBy, note string) (*domain.Exception, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("exception %s: %w", id, domain.ErrNotFound)
	}
	if e.Status == domain.ExceptionResolved {
		m.log.Warn("resolving already resolved exception",
			slog.String("exception_id", id),
			slog.String("previous_resolved_by", e.ResolvedBy))
	}

	now := m.clock.Now()
	e.Status = domain.ExceptionResolved
	e.ResolvedBy = resolvedBy
	e.ResolvedAt = &now
	e.ResolutionNote = note

	out := *e
	return &out, nil
}

func (m *MemoryRecorder) Stats(_ context.Context, from, to time.Time) (domain.ExceptionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := domain.NewExceptionStats()
	for _, e := range m.records {
		if e.CreatedAt.Before(from) || e.CreatedAt.After(to) {
			continue
		}
		st.Add(e.RuleID, e.Severity, e.Status, 1)
	}
	return st, nil
}
