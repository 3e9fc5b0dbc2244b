package domain

import "fmt"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Channel is a notification target.
type Channel string

const (
	ChannelLine       Channel = "line"
	ChannelEmail      Channel = "email"
	ChannelSMS        Channel = "sms"
	ChannelAdminPanel Channel = "admin_panel"
)

var Channels = []Channel{ChannelLine, ChannelEmail, ChannelSMS, ChannelAdminPanel}

// ActionKind names an auto-action run after a rule fires.
type ActionKind string

const (
	ActionLogException        ActionKind = "log_exception"
	ActionNotifyDispatcher    ActionKind = "notify_dispatcher"
	ActionNotifyAllDispatcher ActionKind = "notify_all_dispatchers"
	ActionNotifyCustomer      ActionKind = "notify_customer"
	ActionNotifySupervisor    ActionKind = "notify_supervisor"
	ActionAskDriverReason     ActionKind = "ask_driver_reason"
	ActionWarnDriver          ActionKind = "warn_driver"
	ActionSendLocationToAll   ActionKind = "send_location_to_all"
	ActionRichMenuEmergency   ActionKind = "update_rich_menu_emergency"
)

var ActionKinds = []ActionKind{
	ActionLogException,
	ActionNotifyDispatcher,
	ActionNotifyAllDispatcher,
	ActionNotifyCustomer,
	ActionNotifySupervisor,
	ActionAskDriverReason,
	ActionWarnDriver,
	ActionSendLocationToAll,
	ActionRichMenuEmergency,
}

// Message carries the Thai and English texts of a rule.
type Message struct {
	TH string `json:"th" yaml:"th"`
	EN string `json:"en" yaml:"en"`
}

// Condition decides whether a rule fires for a snapshot.
type Condition interface {
	Matches(s *TelemetrySnapshot) bool
}

// ConditionFunc adapts a plain function to Condition.
type ConditionFunc func(s *TelemetrySnapshot) bool

func (f ConditionFunc) Matches(s *TelemetrySnapshot) bool { return f(s) }

// Rule is immutable once built. Priority is informational only: rules
// are evaluated in declared order.
type Rule struct {
	ID          string
	Name        string
	Priority    int
	Severity    Severity
	Targets     []Channel
	AutoActions []ActionKind
	Message     Message
	Condition   Condition
}

func (r Rule) String() string {
	return fmt.Sprintf("%s(%s)", r.ID, r.Severity)
}
