package domain

import "time"

// DriverLog is one check-in or check-out row.
type DriverLog struct {
	DriverID     string
	JobReference string
	Action       ActionType
	Latitude     float64
	Longitude    float64
	Accuracy     float64
	At           time.Time
}

type DriverLocation struct {
	DriverID  string
	Latitude  float64
	Longitude float64
	Accuracy  float64
	Speed     float64
	Battery   float64
	UpdatedAt time.Time
}

type JobPhoto struct {
	JobID      string
	StopID     string
	URL        string
	UploadedAt time.Time
}

type AlcoholTest struct {
	DriverID string
	JobID    string
	Result   float64
	PhotoURL string
	TestedAt time.Time
}
