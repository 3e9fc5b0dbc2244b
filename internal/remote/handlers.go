// Package remote turns queued actions into backend writes. Each action
// type has exactly one handler; Handlers.Dispatch is what the outbox
// calls during a sync pass.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleet-monitor/sentinel/internal/clock"
	"fleet-monitor/sentinel/internal/domain"
	"fleet-monitor/sentinel/internal/notify"
	"fleet-monitor/sentinel/internal/rules"
)

var ErrUnknownActionType = errors.New("no handler for action type")

type Backend interface {
	InsertDriverLog(ctx context.Context, l domain.DriverLog) error
	UpsertDriverLocation(ctx context.Context, l domain.DriverLocation) error
	InsertJobPhoto(ctx context.Context, p domain.JobPhoto) error
	InsertAlcoholTest(ctx context.Context, t domain.AlcoholTest) error
	UpdateProfile(ctx context.Context, profileID string, updates map[string]any) error
}

// BlobStore uploads binary evidence and returns its public URL.
type BlobStore interface {
	Upload(ctx context.Context, name, contentType string, data []byte) (string, error)
}

type ExceptionLogger interface {
	Log(ctx context.Context, in domain.ExceptionInput) (*domain.Exception, error)
}

// CriticalNotifier is the dedicated path for critical exceptions.
type CriticalNotifier interface {
	NotifyCritical(ctx context.Context, n notify.Notification)
}

type Handler func(ctx context.Context, payload any) error

type Handlers map[domain.ActionType]Handler

// NewHandlers builds the dispatch table. Emergency exceptions take their
// message from the emergency rule in ruleSet, or from the built-in rule
// when ruleSet has none.
func NewHandlers(
	backend Backend,
	blobs BlobStore,
	exceptions ExceptionLogger,
	alerts CriticalNotifier,
	ruleSet []domain.Rule,
	c clock.Clock,
) Handlers {
	sos, ok := rules.Find(ruleSet, rules.EmergencyRuleID)
	if !ok {
		sos, _ = rules.Find(rules.Defaults(), rules.EmergencyRuleID)
	}
	w := &writer{
		backend:    backend,
		blobs:      blobs,
		exceptions: exceptions,
		alerts:     alerts,
		sos:        sos,
		clock:      c,
	}
	return Handlers{
		domain.ActionCheckIn:        w.checkIn,
		domain.ActionCheckOut:       w.checkOut,
		domain.ActionLocationUpdate: w.location,
		domain.ActionPhotoUpload:    w.photo,
		domain.ActionAlcoholTest:    w.alcoholTest,
		domain.ActionProfileUpdate:  w.profile,
		domain.ActionEmergency:      w.emergency,
	}
}

// Dispatch decodes a's payload and runs its handler.
func (h Handlers) Dispatch(ctx context.Context, a domain.QueuedAction) error {
	fn, ok := h[a.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownActionType, a.Type)
	}
	payload, err := domain.DecodePayload(a.Type, a.Payload)
	if err != nil {
		return err
	}
	return fn(ctx, payload)
}

type writer struct {
	backend    Backend
	blobs      BlobStore
	exceptions ExceptionLogger
	alerts     CriticalNotifier
	sos        domain.Rule
	clock      clock.Clock
}

func (w *writer) at(ts *time.Time) time.Time {
	if ts != nil && !ts.IsZero() {
		return *ts
	}
	return w.clock.Now()
}

func (w *writer) checkIn(ctx context.Context, payload any) error {
	return w.driverLog(ctx, domain.ActionCheckIn, payload)
}

func (w *writer) checkOut(ctx context.Context, payload any) error {
	return w.driverLog(ctx, domain.ActionCheckOut, payload)
}

func (w *writer) driverLog(ctx context.Context, action domain.ActionType, payload any) error {
	p, ok := payload.(*domain.CheckPayload)
	if !ok {
		return fmt.Errorf("%s: unexpected payload %T", action, payload)
	}
	err := w.backend.InsertDriverLog(ctx, domain.DriverLog{
		DriverID:     p.DriverID,
		JobReference: p.Reference,
		Action:       action,
		Latitude:     p.Latitude,
		Longitude:    p.Longitude,
		Accuracy:     p.Accuracy,
		At:           w.at(p.Timestamp),
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", action, p.Reference, err)
	}
	return nil
}

func (w *writer) location(ctx context.Context, payload any) error {
	p, ok := payload.(*domain.LocationPayload)
	if !ok {
		return fmt.Errorf("location_update: unexpected payload %T", payload)
	}
	err := w.backend.UpsertDriverLocation(ctx, domain.DriverLocation{
		DriverID:  p.DriverID,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Accuracy:  p.Accuracy,
		Speed:     p.Speed,
		Battery:   p.Battery,
		UpdatedAt: w.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("location of %s: %w", p.DriverID, err)
	}
	return nil
}

// photo uploads first and records second. A failed insert leaves the
// blob behind and the retry uploads a new one under a fresh name.
func (w *writer) photo(ctx context.Context, payload any) error {
	p, ok := payload.(*domain.PhotoPayload)
	if !ok {
		return fmt.Errorf("photo_upload: unexpected payload %T", payload)
	}
	now := w.clock.Now()
	contentType := p.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}

	name := fmt.Sprintf("%s_%s_%d.jpg", p.JobID, p.StopID, now.UnixNano())
	url, err := w.blobs.Upload(ctx, name, contentType, p.Data)
	if err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.backend.InsertJobPhoto(ctx, domain.JobPhoto{
		JobID:      p.JobID,
		StopID:     p.StopID,
		URL:        url,
		UploadedAt: now,
	}); err != nil {
		return fmt.Errorf("record photo %s: %w", name, err)
	}
	return nil
}

func (w *writer) alcoholTest(ctx context.Context, payload any) error {
	p, ok := payload.(*domain.AlcoholTestPayload)
	if !ok {
		return fmt.Errorf("alcohol_test: unexpected payload %T", payload)
	}
	err := w.backend.InsertAlcoholTest(ctx, domain.AlcoholTest{
		DriverID: p.DriverID,
		JobID:    p.JobID,
		Result:   p.Result,
		PhotoURL: p.PhotoURL,
		TestedAt: w.at(p.Timestamp),
	})
	if err != nil {
		return fmt.Errorf("alcohol test for job %s: %w", p.JobID, err)
	}
	return nil
}

func (w *writer) profile(ctx context.Context, payload any) error {
	p, ok := payload.(*domain.ProfileUpdatePayload)
	if !ok {
		return fmt.Errorf("profile_update: unexpected payload %T", payload)
	}
	if err := w.backend.UpdateProfile(ctx, p.ProfileID, p.Updates); err != nil {
		return fmt.Errorf("profile %s: %w", p.ProfileID, err)
	}
	return nil
}

func (w *writer) emergency(ctx context.Context, payload any) error {
	p, ok := payload.(*domain.EmergencyPayload)
	if !ok {
		return fmt.Errorf("emergency: unexpected payload %T", payload)
	}
	in := domain.ExceptionInput{
		DriverID:  p.DriverID,
		JobID:     p.JobID,
		RuleID:    rules.EmergencyRuleID,
		Severity:  domain.SeverityCritical,
		Message:   w.sos.Message,
		Telemetry: p.Telemetry,
		Location:  p.Location,
	}
	exc, err := w.exceptions.Log(ctx, in)
	if err != nil {
		return fmt.Errorf("emergency for %s: %w", p.DriverID, err)
	}

	// The exception is stored, so the action is done even if no gateway
	// accepts the alert; a retry would only record a duplicate.
	w.alerts.NotifyCritical(ctx, notify.Notification{
		Kind:        notify.KindException,
		Severity:    domain.SeverityCritical,
		DriverID:    exc.DriverID,
		JobID:       exc.JobID,
		RuleID:      exc.RuleID,
		ExceptionID: exc.ID,
		Message:     exc.Message,
		Location:    &exc.Location,
		At:          w.clock.Now(),
	})
	return nil
}
