package domain

import "time"

type ExceptionStatus string

const (
	ExceptionOpen     ExceptionStatus = "open"
	ExceptionResolved ExceptionStatus = "resolved"
)

// Exception is a persisted anomaly. It only moves open -> resolved and
// the resolution fields are written together.
type Exception struct {
	ID             string             `json:"id"`
	DriverID       string             `json:"driverId"`
	JobID          string             `json:"jobId,omitempty"`
	RuleID         string             `json:"ruleId"`
	Severity       Severity           `json:"severity"`
	Message        Message            `json:"message"`
	Telemetry      *TelemetrySnapshot `json:"telemetry,omitempty"`
	Location       Location           `json:"location"`
	Status         ExceptionStatus    `json:"status"`
	CreatedAt      time.Time          `json:"createdAt"`
	ResolvedBy     string             `json:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time         `json:"resolvedAt,omitempty"`
	ResolutionNote string             `json:"resolutionNote,omitempty"`
}

// ExceptionInput is what the detector hands to the recorder.
type ExceptionInput struct {
	DriverID  string
	JobID     string
	RuleID    string
	Severity  Severity
	Message   Message
	Telemetry *TelemetrySnapshot
	Location  Location
}

func NewExceptionInput(r Rule, s *TelemetrySnapshot) ExceptionInput {
	return ExceptionInput{
		DriverID:  s.DriverID,
		JobID:     s.JobID,
		RuleID:    r.ID,
		Severity:  r.Severity,
		Message:   r.Message,
		Telemetry: s,
		Location:  s.Location,
	}
}

type ExceptionStats struct {
	Total      int              `json:"total"`
	Open       int              `json:"open"`
	Resolved   int              `json:"resolved"`
	BySeverity map[Severity]int `json:"bySeverity"`
	ByRule     map[string]int   `json:"byRule"`
}

func NewExceptionStats() ExceptionStats {
	return ExceptionStats{
		BySeverity: make(map[Severity]int),
		ByRule:     make(map[string]int),
	}
}

// Add counts n exceptions sharing rule, severity and status.
func (st *ExceptionStats) Add(ruleID string, sev Severity, status ExceptionStatus, n int) {
	st.Total += n
	st.BySeverity[sev] += n
	st.ByRule[ruleID] += n
	switch status {
	case ExceptionOpen:
		st.Open += n
	case ExceptionResolved:
		st.Resolved += n
	}
}
