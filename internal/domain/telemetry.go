package domain

import "time"

type GPSStatus string

const (
	GPSOnline  GPSStatus = "online"
	GPSOffline GPSStatus = "offline"
)

type Location struct {
	Lat      float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng      float64 `json:"lng" validate:"gte=-180,lte=180"`
	Accuracy float64 `json:"accuracy,omitempty" validate:"gte=0"`
}

// TelemetrySnapshot is one point-in-time status bundle for a driver/job.
// Durations are seconds, distances metres, speeds km/h.
type TelemetrySnapshot struct {
	DriverID  string    `json:"driverId" validate:"required"`
	JobID     string    `json:"jobId,omitempty"`
	Location  Location  `json:"location"`
	Timestamp time.Time `json:"timestamp"`

	GPSStatus       GPSStatus `json:"gpsStatus,omitempty"`
	OfflineDuration float64   `json:"offlineDuration,omitempty" validate:"gte=0"`

	IsStopped    bool    `json:"isStopped,omitempty"`
	StopDuration float64 `json:"stopDuration,omitempty" validate:"gte=0"`

	DistanceFromRoute float64 `json:"distanceFromRoute,omitempty" validate:"gte=0"`
	ETADelay          float64 `json:"etaDelay,omitempty"`

	EmergencyTriggered   bool `json:"emergencyTriggered,omitempty"`
	CheckedOut           bool `json:"checkedOut,omitempty"`
	AlcoholTestCompleted bool `json:"alcoholTestCompleted,omitempty"`

	Speed      float64 `json:"speed,omitempty" validate:"gte=0"`
	SpeedLimit float64 `json:"speedLimit,omitempty" validate:"gte=0"`
}
