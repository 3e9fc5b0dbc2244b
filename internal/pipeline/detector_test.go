package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/sentinel/internal/actions"
	"fleet-monitor/sentinel/internal/clock"
	"fleet-monitor/sentinel/internal/domain"
	"fleet-monitor/sentinel/internal/exceptions"
	"fleet-monitor/sentinel/internal/notify"
	"fleet-monitor/sentinel/internal/rules"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubNotifier struct {
	mu       sync.Mutex
	channels []domain.Channel
	critical []notify.Notification
}

func (n *stubNotifier) Notify(_ context.Context, ch domain.Channel, _ notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, ch)
}

func (n *stubNotifier) NotifyCritical(_ context.Context, note notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.critical = append(n.critical, note)
}

type ranAction struct {
	rule string
	kind domain.ActionKind
}

type stubRunner struct {
	mu      sync.Mutex
	ran     []ranAction
	panicOn map[domain.ActionKind]bool
	failOn  map[domain.ActionKind]error
}

func (r *stubRunner) Execute(_ context.Context, kind domain.ActionKind, ac actions.Context) error {
	r.mu.Lock()
	r.ran = append(r.ran, ranAction{ac.Rule.ID, kind})
	r.mu.Unlock()

	if r.panicOn[kind] {
		panic("action exploded")
	}
	return r.failOn[kind]
}

func (r *stubRunner) kindsFor(rule string) []domain.ActionKind {
	var out []domain.ActionKind
	for _, a := range r.ran {
		if a.rule == rule {
			out = append(out, a.kind)
		}
	}
	return out
}

type failingRecorder struct{}

func (failingRecorder) Log(context.Context, domain.ExceptionInput) (*domain.Exception, error) {
	return nil, errors.New("db unavailable")
}

type fixture struct {
	det      *Detector
	recorder *exceptions.MemoryRecorder
	notifier *stubNotifier
	runner   *stubRunner
}

func newFixture(rs []domain.Rule) *fixture {
	c := clock.NewFake(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	f := &fixture{
		recorder: exceptions.NewMemoryRecorder(c, quietLogger()),
		notifier: &stubNotifier{},
		runner:   &stubRunner{},
	}
	f.det = NewDetector(nil, rs, f.recorder, f.notifier, f.runner, c, quietLogger())
	return f
}

func TestEmergencySnapshot(t *testing.T) {
	f := newFixture(rules.Defaults())
	ctx := context.Background()

	got := f.det.Evaluate(ctx, &domain.TelemetrySnapshot{DriverID: "D1", EmergencyTriggered: true})

	require.Len(t, got, 1)
	assert.Equal(t, "emergency_button", got[0].ID)

	active, err := f.recorder.GetActive(ctx, "D1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, domain.SeverityCritical, active[0].Severity)

	emergency, _ := rules.Find(rules.Defaults(), "emergency_button")
	assert.Equal(t, emergency.AutoActions, f.runner.kindsFor("emergency_button"))
	assert.Equal(t, emergency.Targets, f.notifier.channels)
	assert.Len(t, f.notifier.critical, 1)
}

func TestCriticalPathWithoutTargets(t *testing.T) {
	rule := domain.Rule{
		ID:        "panic_only",
		Severity:  domain.SeverityCritical,
		Condition: domain.ConditionFunc(func(*domain.TelemetrySnapshot) bool { return true }),
	}
	f := newFixture([]domain.Rule{rule})

	f.det.Evaluate(context.Background(), &domain.TelemetrySnapshot{DriverID: "D1"})
	assert.Empty(t, f.notifier.channels)
	assert.Len(t, f.notifier.critical, 1)
}

func TestEveryRuleVisitedDespitePanics(t *testing.T) {
	var visited []string
	mk := func(id string, panics, match bool) domain.Rule {
		return domain.Rule{
			ID:       id,
			Severity: domain.SeverityLow,
			Condition: domain.ConditionFunc(func(*domain.TelemetrySnapshot) bool {
				visited = append(visited, id)
				if panics {
					panic("bad predicate")
				}
				return match
			}),
		}
	}
	rs := []domain.Rule{
		mk("a", true, false),
		mk("b", false, true),
		mk("c", true, false),
		mk("d", false, false),
		mk("e", false, true),
		{ID: "nil_condition"},
	}
	f := newFixture(rs)

	got := f.det.Evaluate(context.Background(), &domain.TelemetrySnapshot{DriverID: "D1"})

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, visited)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "e", got[1].ID)
}

func TestFailingActionDoesNotStopSiblings(t *testing.T) {
	first := domain.Rule{
		ID:          "first",
		Severity:    domain.SeverityHigh,
		Targets:     []domain.Channel{domain.ChannelLine},
		AutoActions: []domain.ActionKind{domain.ActionNotifyDispatcher, domain.ActionWarnDriver},
		Condition:   domain.ConditionFunc(func(*domain.TelemetrySnapshot) bool { return true }),
	}
	second := domain.Rule{
		ID:          "second",
		Severity:    domain.SeverityMedium,
		Targets:     []domain.Channel{domain.ChannelAdminPanel},
		AutoActions: []domain.ActionKind{domain.ActionLogException, domain.ActionAskDriverReason, domain.ActionSendLocationToAll},
		Condition:   domain.ConditionFunc(func(*domain.TelemetrySnapshot) bool { return true }),
	}
	f := newFixture([]domain.Rule{first, second})
	f.runner.panicOn = map[domain.ActionKind]bool{domain.ActionNotifyDispatcher: true}
	f.runner.failOn = map[domain.ActionKind]error{domain.ActionAskDriverReason: errors.New("line down")}

	got := f.det.Evaluate(context.Background(), &domain.TelemetrySnapshot{DriverID: "D2"})
	require.Len(t, got, 2)

	active, err := f.recorder.GetActive(context.Background(), "D2")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	assert.Equal(t, first.AutoActions, f.runner.kindsFor("first"))
	assert.Equal(t, second.AutoActions, f.runner.kindsFor("second"))
}

func TestUnknownActionSkipped(t *testing.T) {
	rule := domain.Rule{
		ID:          "r",
		Severity:    domain.SeverityLow,
		AutoActions: []domain.ActionKind{"teleport", domain.ActionWarnDriver},
		Condition:   domain.ConditionFunc(func(*domain.TelemetrySnapshot) bool { return true }),
	}
	f := newFixture([]domain.Rule{rule})
	f.runner.failOn = map[domain.ActionKind]error{"teleport": actions.ErrUnknownAction}

	f.det.Evaluate(context.Background(), &domain.TelemetrySnapshot{DriverID: "D1"})
	assert.Equal(t, []domain.ActionKind{"teleport", domain.ActionWarnDriver}, f.runner.kindsFor("r"))
}

func TestPersistenceFailureSkipsDispatch(t *testing.T) {
	n := &stubNotifier{}
	r := &stubRunner{}
	det := NewDetector(nil, rules.Defaults(), failingRecorder{}, n, r, clock.Real(), quietLogger())

	got := det.Evaluate(context.Background(), &domain.TelemetrySnapshot{DriverID: "D1", EmergencyTriggered: true})

	assert.Len(t, got, 1)
	assert.Empty(t, n.channels)
	assert.Empty(t, n.critical)
	assert.Empty(t, r.ran)
}

func TestGPSOfflineBoundary(t *testing.T) {
	f := newFixture(rules.Defaults())
	ctx := context.Background()

	got := f.det.Evaluate(ctx, &domain.TelemetrySnapshot{DriverID: "D1", GPSStatus: domain.GPSOffline, OfflineDuration: 301})
	require.Len(t, got, 1)
	assert.Equal(t, "gps_offline", got[0].ID)

	assert.Empty(t, f.det.Evaluate(ctx, &domain.TelemetrySnapshot{DriverID: "D1", GPSStatus: domain.GPSOffline, OfflineDuration: 299}))
	assert.Empty(t, f.det.Evaluate(ctx, &domain.TelemetrySnapshot{DriverID: "D1", GPSStatus: domain.GPSOffline, OfflineDuration: 300}))
}

func TestRunDrainsChannel(t *testing.T) {
	ch := make(chan *domain.TelemetrySnapshot, 2)
	c := clock.NewFake(time.Now())
	rec := exceptions.NewMemoryRecorder(c, quietLogger())
	det := NewDetector(ch, rules.Defaults(), rec, &stubNotifier{}, &stubRunner{}, c, quietLogger())

	ch <- &domain.TelemetrySnapshot{DriverID: "D1", ETADelay: 1000}
	ch <- &domain.TelemetrySnapshot{DriverID: "D2", Speed: 130, SpeedLimit: 90}
	close(ch)

	det.Run(context.Background())

	for _, id := range []string{"D1", "D2"} {
		active, err := rec.GetActive(context.Background(), id)
		require.NoError(t, err)
		assert.Len(t, active, 1, id)
	}
}
