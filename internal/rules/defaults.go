// Package rules builds the ordered rule set the detector evaluates,
// either from the built-in defaults or from a YAML rule file.
package rules

import (
	"fmt"

	"fleet-monitor/sentinel/internal/domain"
)

type ConditionKind string

const (
	KindGPSOffline        ConditionKind = "gps_offline"
	KindLongStop          ConditionKind = "long_stop"
	KindRouteDeviation    ConditionKind = "route_deviation"
	KindETADelay          ConditionKind = "eta_delay"
	KindEmergency         ConditionKind = "emergency"
	KindMissedAlcoholTest ConditionKind = "missed_alcohol_test"
	KindSpeeding          ConditionKind = "speeding"
)

// Default thresholds: seconds, metres, km/h over the limit.
const (
	DefaultGPSOfflineSeconds = 300
	DefaultLongStopSeconds   = 1800
	DefaultRouteDeviationM   = 500
	DefaultETADelaySeconds   = 900
	DefaultSpeedingMarginKmh = 20
)

// BuildCondition returns the condition for kind. Every comparison is a
// strict greater-than, so a value equal to the threshold never fires.
func BuildCondition(kind ConditionKind, threshold float64) (domain.Condition, error) {
	switch kind {
	case KindGPSOffline:
		return domain.ConditionFunc(func(s *domain.TelemetrySnapshot) bool {
			return s.GPSStatus == domain.GPSOffline && s.OfflineDuration > threshold
		}), nil
	case KindLongStop:
		return domain.ConditionFunc(func(s *domain.TelemetrySnapshot) bool {
			return s.IsStopped && s.StopDuration > threshold
		}), nil
	case KindRouteDeviation:
		return domain.ConditionFunc(func(s *domain.TelemetrySnapshot) bool {
			return s.DistanceFromRoute > threshold
		}), nil
	case KindETADelay:
		return domain.ConditionFunc(func(s *domain.TelemetrySnapshot) bool {
			return s.ETADelay > threshold
		}), nil
	case KindEmergency:
		return domain.ConditionFunc(func(s *domain.TelemetrySnapshot) bool {
			return s.EmergencyTriggered
		}), nil
	case KindMissedAlcoholTest:
		return domain.ConditionFunc(func(s *domain.TelemetrySnapshot) bool {
			return s.CheckedOut && !s.AlcoholTestCompleted
		}), nil
	case KindSpeeding:
		return domain.ConditionFunc(func(s *domain.TelemetrySnapshot) bool {
			return s.SpeedLimit > 0 && s.Speed > s.SpeedLimit+threshold
		}), nil
	default:
		return nil, fmt.Errorf("unknown condition kind %q", kind)
	}
}

func mustCondition(kind ConditionKind, threshold float64) domain.Condition {
	c, err := BuildCondition(kind, threshold)
	if err != nil {
		panic(err)
	}
	return c
}

// Defaults returns the built-in rule set in evaluation order.
func Defaults() []domain.Rule {
	return []domain.Rule{
		{
			ID:          "gps_offline",
			Name:        "GPS Offline",
			Priority:    1,
			Severity:    domain.SeverityHigh,
			Targets:     []domain.Channel{domain.ChannelLine, domain.ChannelEmail, domain.ChannelAdminPanel},
			AutoActions: []domain.ActionKind{domain.ActionLogException, domain.ActionNotifyDispatcher},
			Message: domain.Message{
				TH: "GPS ไม่ทำงานเกิน 5 นาที",
				EN: "GPS offline for over 5 minutes",
			},
			Condition: mustCondition(KindGPSOffline, DefaultGPSOfflineSeconds),
		},
		{
			ID:          "long_stop",
			Name:        "Long Stop Detection",
			Priority:    2,
			Severity:    domain.SeverityMedium,
			Targets:     []domain.Channel{domain.ChannelLine, domain.ChannelAdminPanel},
			AutoActions: []domain.ActionKind{domain.ActionLogException, domain.ActionAskDriverReason},
			Message: domain.Message{
				TH: "จอดนานเกิน 30 นาที",
				EN: "Stopped for over 30 minutes",
			},
			Condition: mustCondition(KindLongStop, DefaultLongStopSeconds),
		},
		{
			ID:          "route_deviation",
			Name:        "Route Deviation",
			Priority:    3,
			Severity:    domain.SeverityMedium,
			Targets:     []domain.Channel{domain.ChannelLine, domain.ChannelAdminPanel},
			AutoActions: []domain.ActionKind{domain.ActionLogException},
			Message: domain.Message{
				TH: "เบี่ยงเบนจากเส้นทางเกิน 500 เมตร",
				EN: "Deviated from route by over 500m",
			},
			Condition: mustCondition(KindRouteDeviation, DefaultRouteDeviationM),
		},
		{
			ID:          "delivery_delay_risk",
			Name:        "Delivery Delay Risk",
			Priority:    1,
			Severity:    domain.SeverityHigh,
			Targets:     []domain.Channel{domain.ChannelLine, domain.ChannelEmail, domain.ChannelAdminPanel},
			AutoActions: []domain.ActionKind{domain.ActionLogException, domain.ActionNotifyCustomer},
			Message: domain.Message{
				TH: "เสี่ยงส่งช้าเกิน 15 นาที",
				EN: "Risk of late delivery (>15 min)",
			},
			Condition: mustCondition(KindETADelay, DefaultETADelaySeconds),
		},
		{
			ID:       "emergency_button",
			Name:     "Emergency Button Pressed",
			Priority: 0,
			Severity: domain.SeverityCritical,
			Targets:  []domain.Channel{domain.ChannelLine, domain.ChannelEmail, domain.ChannelSMS, domain.ChannelAdminPanel},
			AutoActions: []domain.ActionKind{
				domain.ActionLogException,
				domain.ActionNotifyAllDispatcher,
				domain.ActionSendLocationToAll,
				domain.ActionRichMenuEmergency,
			},
			Message: domain.Message{
				TH: "ฉุกเฉิน! ต้องการความช่วยเหลือด่วน",
				EN: "EMERGENCY! Immediate assistance required",
			},
			Condition: mustCondition(KindEmergency, 0),
		},
		{
			ID:          "missed_alcohol_test",
			Name:        "Missed Alcohol Test",
			Priority:    2,
			Severity:    domain.SeverityHigh,
			Targets:     []domain.Channel{domain.ChannelLine, domain.ChannelEmail, domain.ChannelAdminPanel},
			AutoActions: []domain.ActionKind{domain.ActionLogException, domain.ActionNotifySupervisor},
			Message: domain.Message{
				TH: "ไม่ได้ทดสอบแอลกอฮอล์ก่อนจบงาน",
				EN: "Missed alcohol test before checkout",
			},
			Condition: mustCondition(KindMissedAlcoholTest, 0),
		},
		{
			ID:          "speeding",
			Name:        "Speeding Detected",
			Priority:    3,
			Severity:    domain.SeverityMedium,
			Targets:     []domain.Channel{domain.ChannelAdminPanel},
			AutoActions: []domain.ActionKind{domain.ActionLogException, domain.ActionWarnDriver},
			Message: domain.Message{
				TH: "ขับเร็วเกินกำหนด",
				EN: "Speeding detected",
			},
			Condition: mustCondition(KindSpeeding, DefaultSpeedingMarginKmh),
		},
	}
}

// EmergencyRuleID is the rule id used for emergency exceptions that
// arrive through the outbox rather than through detection.
const EmergencyRuleID = "emergency_button"

// Find returns the rule with id from rs.
func Find(rs []domain.Rule, id string) (domain.Rule, bool) {
	for _, r := range rs {
		if r.ID == id {
			return r, true
		}
	}
	return domain.Rule{}, false
}
