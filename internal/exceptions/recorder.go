// Package exceptions is the persistence boundary for detected
// anomalies. It owns the open -> resolved lifecycle and nothing else.
package exceptions

import (
	"context"
	"time"

	"fleet-monitor/sentinel/internal/domain"
)

type Recorder interface {
	// Log persists a new open exception. Errors match domain.ErrPersistence.
	Log(ctx context.Context, in domain.ExceptionInput) (*domain.Exception, error)
	// GetActive returns open exceptions for driverID, newest first.
	GetActive(ctx context.Context, driverID string) ([]domain.Exception, error)
	// Resolve marks id resolved, writing resolvedBy, resolvedAt and note
	// together. A missing id returns domain.ErrNotFound.
	Resolve(ctx context.Context, id, resolvedBy, note string) (*domain.Exception, error)
	// Stats aggregates exceptions created in [from, to].
	Stats(ctx context.Context, from, to time.Time) (domain.ExceptionStats, error)
}
