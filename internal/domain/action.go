package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type ActionType string

const (
	ActionCheckIn        ActionType = "check_in"
	ActionCheckOut       ActionType = "check_out"
	ActionLocationUpdate ActionType = "location_update"
	ActionPhotoUpload    ActionType = "photo_upload"
	ActionAlcoholTest    ActionType = "alcohol_test"
	ActionProfileUpdate  ActionType = "profile_update"
	ActionEmergency      ActionType = "emergency"
)

var ActionTypes = []ActionType{
	ActionCheckIn,
	ActionCheckOut,
	ActionLocationUpdate,
	ActionPhotoUpload,
	ActionAlcoholTest,
	ActionProfileUpdate,
	ActionEmergency,
}

type ActionPriority string

const (
	PriorityCritical ActionPriority = "critical"
	PriorityNormal   ActionPriority = "normal"
)

const DefaultMaxRetries = 3

// QueuedAction is one outbox entry. Retries never exceeds MaxRetries;
// an entry reaching the cap leaves the queue for quarantine.
type QueuedAction struct {
	ID          string          `json:"id"`
	Type        ActionType      `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	OrderingKey string          `json:"orderingKey,omitempty"`
	Priority    ActionPriority  `json:"priority"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	Retries     int             `json:"retries"`
	MaxRetries  int             `json:"maxRetries"`
	NotBefore   time.Time       `json:"notBefore,omitzero"`
	LastError   string          `json:"lastError,omitempty"`
}

func (a *QueuedAction) Exhausted() bool {
	return a.Retries >= a.MaxRetries
}

type CheckPayload struct {
	Reference string     `json:"reference" validate:"required"`
	DriverID  string     `json:"driverId" validate:"required"`
	Latitude  float64    `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64    `json:"longitude" validate:"gte=-180,lte=180"`
	Accuracy  float64    `json:"accuracy" validate:"gte=0"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (p *CheckPayload) OrderingKey() string { return "job:" + p.Reference }

type LocationPayload struct {
	DriverID  string  `json:"driverId" validate:"required"`
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Accuracy  float64 `json:"accuracy" validate:"gte=0"`
	Speed     float64 `json:"speed" validate:"gte=0"`
	Battery   float64 `json:"battery" validate:"gte=0,lte=100"`
}

func (p *LocationPayload) OrderingKey() string { return "location:" + p.DriverID }

type PhotoPayload struct {
	JobID       string `json:"jobId" validate:"required"`
	StopID      string `json:"stopId" validate:"required"`
	ContentType string `json:"contentType,omitempty"`
	Data        []byte `json:"data" validate:"required"`
}

func (p *PhotoPayload) OrderingKey() string { return "job:" + p.JobID }

type AlcoholTestPayload struct {
	DriverID  string     `json:"driverId" validate:"required"`
	JobID     string     `json:"jobId" validate:"required"`
	Result    float64    `json:"result" validate:"gte=0"`
	PhotoURL  string     `json:"photoUrl,omitempty" validate:"omitempty,url"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (p *AlcoholTestPayload) OrderingKey() string { return "job:" + p.JobID }

type ProfileUpdatePayload struct {
	ProfileID string         `json:"profileId" validate:"required"`
	Updates   map[string]any `json:"updates" validate:"required,min=1"`
}

func (p *ProfileUpdatePayload) OrderingKey() string { return "profile:" + p.ProfileID }

type EmergencyPayload struct {
	DriverID  string             `json:"driverId" validate:"required"`
	JobID     string             `json:"jobId,omitempty"`
	Location  Location           `json:"location"`
	Telemetry *TelemetrySnapshot `json:"telemetry,omitempty"`
}

// Emergency signals are never held behind another entry.
func (p *EmergencyPayload) OrderingKey() string { return "" }

// Keyed is implemented by payloads that must keep enqueue order
// relative to other payloads sharing the same key.
type Keyed interface {
	OrderingKey() string
}

// NewPayload returns an empty typed payload for t.
func NewPayload(t ActionType) (any, error) {
	switch t {
	case ActionCheckIn, ActionCheckOut:
		return &CheckPayload{}, nil
	case ActionLocationUpdate:
		return &LocationPayload{}, nil
	case ActionPhotoUpload:
		return &PhotoPayload{}, nil
	case ActionAlcoholTest:
		return &AlcoholTestPayload{}, nil
	case ActionProfileUpdate:
		return &ProfileUpdatePayload{}, nil
	case ActionEmergency:
		return &EmergencyPayload{}, nil
	default:
		return nil, fmt.Errorf("unknown action type %q", t)
	}
}

// DecodePayload unmarshals raw into the payload struct for t.
func DecodePayload(t ActionType, raw json.RawMessage) (any, error) {
	p, err := NewPayload(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}
