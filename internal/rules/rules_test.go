package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/sentinel/internal/domain"
)

func ruleByID(t *testing.T, id string) domain.Rule {
	t.Helper()
	r, ok := Find(Defaults(), id)
	require.True(t, ok, "rule %s missing", id)
	return r
}

func TestDefaultsOrderAndIDs(t *testing.T) {
	var ids []string
	for _, r := range Defaults() {
		ids = append(ids, r.ID)
		require.NotNil(t, r.Condition)
		assert.True(t, r.Severity.Valid(), r.ID)
	}
	assert.Equal(t, []string{
		"gps_offline",
		"long_stop",
		"route_deviation",
		"delivery_delay_risk",
		"emergency_button",
		"missed_alcohol_test",
		"speeding",
	}, ids)
}

func TestGPSOfflineBoundary(t *testing.T) {
	r := ruleByID(t, "gps_offline")

	assert.True(t, r.Condition.Matches(&domain.TelemetrySnapshot{GPSStatus: domain.GPSOffline, OfflineDuration: 301}))
	assert.False(t, r.Condition.Matches(&domain.TelemetrySnapshot{GPSStatus: domain.GPSOffline, OfflineDuration: 300}))
	assert.False(t, r.Condition.Matches(&domain.TelemetrySnapshot{GPSStatus: domain.GPSOffline, OfflineDuration: 299}))
	assert.False(t, r.Condition.Matches(&domain.TelemetrySnapshot{GPSStatus: domain.GPSOnline, OfflineDuration: 900}))
}

func TestConditions(t *testing.T) {
	tests := []struct {
		rule string
		snap domain.TelemetrySnapshot
		want bool
	}{
		{"long_stop", domain.TelemetrySnapshot{IsStopped: true, StopDuration: 1801}, true},
		{"long_stop", domain.TelemetrySnapshot{IsStopped: false, StopDuration: 5000}, false},
		{"route_deviation", domain.TelemetrySnapshot{DistanceFromRoute: 501}, true},
		{"route_deviation", domain.TelemetrySnapshot{DistanceFromRoute: 500}, false},
		{"delivery_delay_risk", domain.TelemetrySnapshot{ETADelay: 901}, true},
		{"emergency_button", domain.TelemetrySnapshot{EmergencyTriggered: true}, true},
		{"emergency_button", domain.TelemetrySnapshot{}, false},
		{"missed_alcohol_test", domain.TelemetrySnapshot{CheckedOut: true}, true},
		{"missed_alcohol_test", domain.TelemetrySnapshot{CheckedOut: true, AlcoholTestCompleted: true}, false},
		{"speeding", domain.TelemetrySnapshot{Speed: 101, SpeedLimit: 80}, true},
		{"speeding", domain.TelemetrySnapshot{Speed: 100, SpeedLimit: 80}, false},
		{"speeding", domain.TelemetrySnapshot{Speed: 120}, false},
	}

	for _, tt := range tests {
		r := ruleByID(t, tt.rule)
		assert.Equal(t, tt.want, r.Condition.Matches(&tt.snap), "%s %+v", tt.rule, tt.snap)
	}
}

const sampleFile = `
rules:
  - id: emergency_button
    name: Emergency
    priority: 0
    severity: critical
    notify: [line, sms]
    auto_actions: [log_exception, notify_all_dispatchers]
    message:
      th: ฉุกเฉิน
      en: Emergency
    condition:
      kind: emergency
  - id: quick_offline
    name: Quick offline
    severity: medium
    message:
      th: ออฟไลน์
      en: Offline
    condition:
      kind: gps_offline
      threshold: 60
`

func TestParseFile(t *testing.T) {
	rs, err := Parse("rules.yaml", []byte(sampleFile))
	require.NoError(t, err)
	require.Len(t, rs, 2)

	assert.Equal(t, "emergency_button", rs[0].ID)
	assert.Equal(t, domain.SeverityCritical, rs[0].Severity)
	assert.Equal(t, []domain.Channel{domain.ChannelLine, domain.ChannelSMS}, rs[0].Targets)
	assert.Equal(t, []domain.ActionKind{domain.ActionLogException, domain.ActionNotifyAllDispatcher}, rs[0].AutoActions)

	assert.True(t, rs[1].Condition.Matches(&domain.TelemetrySnapshot{GPSStatus: domain.GPSOffline, OfflineDuration: 61}))
	assert.False(t, rs[1].Condition.Matches(&domain.TelemetrySnapshot{GPSStatus: domain.GPSOffline, OfflineDuration: 60}))
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	bad := map[string]string{
		"severity": `
rules:
  - id: r1
    name: R1
    severity: urgent
    message: {th: a, en: b}
    condition: {kind: emergency}
`,
		"channel": `
rules:
  - id: r1
    name: R1
    severity: low
    notify: [pager]
    message: {th: a, en: b}
    condition: {kind: emergency}
`,
		"kind": `
rules:
  - id: r1
    name: R1
    severity: low
    message: {th: a, en: b}
    condition: {kind: teleport}
`,
		"unknown field": `
rules:
  - id: r1
    name: R1
    severity: low
    colour: red
    message: {th: a, en: b}
    condition: {kind: emergency}
`,
	}

	for name, doc := range bad {
		_, err := Parse("rules.yaml", []byte(doc))
		assert.Error(t, err, name)
	}
}

func TestParseRejectsDuplicateIDs(t *testing.T) {
	doc := `
rules:
  - id: r1
    name: R1
    severity: low
    message: {th: a, en: b}
    condition: {kind: emergency}
  - id: r1
    name: R1 again
    severity: low
    message: {th: a, en: b}
    condition: {kind: emergency}
`
	_, err := Parse("rules.yaml", []byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	rs, err := Load("")
	require.NoError(t, err)
	assert.Len(t, rs, len(Defaults()))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o644))

	rs, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, rs, 2)
}
