package actions

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

	"fleet-monitor/sentinel/internal/clock"
	"fleet-monitor/sentinel/internal/domain"
	"fleet-monitor/sentinel/internal/notify"
)

type sent struct {
	channel domain.Channel
	n       notify.Notification
}

type stubNotifier struct {
	mu       sync.Mutex
	sent     []sent
	critical []notify.Notification
}

func (s *stubNotifier) Notify(_ context.Context, ch domain.Channel, n notify.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sent{ch, n})
}

func (s *stubNotifier) NotifyCritical(_ context.Context, n notify.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.critical = append(s.critical, n)
}

type stubDirectory struct {
	dispatchers []domain.Contact
	supervisor  *domain.Contact
	driver      *domain.Contact
	job         *domain.JobInfo
	err         error
	customer    []string
}

func (d *stubDirectory) Dispatchers(context.Context) ([]domain.Contact, error) {
	return d.dispatchers, d.err
}

func (d *stubDirectory) Supervisor(context.Context, string) (*domain.Contact, error) {
	return d.supervisor, d.err
}

func (d *stubDirectory) Driver(context.Context, string) (*domain.Contact, error) {
	return d.driver, d.err
}

func (d *stubDirectory) Job(context.Context, string) (*domain.JobInfo, error) {
	return d.job, d.err
}

func (d *stubDirectory) RecordCustomerNotification(_ context.Context, jobID, kind, _ string) error {
	d.customer = append(d.customer, jobID+":"+kind)
	return d.err
}

func newExecutor(dir Directory) (*Executor, *stubNotifier) {
	n := &stubNotifier{}
	c := clock.NewFake(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	return NewExecutor(dir, n, c, slog.New(slog.NewTextHandler(io.Discard, nil))), n
}

func actionContext() Context {
	return Context{
		DriverID:    "D1",
		JobID:       "J1",
		Telemetry:   &domain.TelemetrySnapshot{DriverID: "D1", Location: domain.Location{Lat: 13.75, Lng: 100.5}},
		Rule:        domain.Rule{ID: "emergency_button", Severity: domain.SeverityCritical},
		ExceptionID: "E1",
	}
}

func TestEveryActionKindHasHandler(t *testing.T) {
	e, _ := newExecutor(&stubDirectory{})
	for _, k := range domain.ActionKinds {
		_, ok := e.handlers[k]
		assert.True(t, ok, "no handler for %s", k)
	}
}

func TestUnknownAction(t *testing.T) {
	e, _ := newExecutor(&stubDirectory{})
	err := e.Execute(context.Background(), "teleport_driver", actionContext())
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestNotifyDispatchers(t *testing.T) {
	dir := &stubDirectory{dispatchers: []domain.Contact{
		{ID: "u1", LineUserID: "L1"},
		{ID: "u2", LineUserID: "L2"},
	}}
	e, n := newExecutor(dir)

	require.NoError(t, e.Execute(context.Background(), domain.ActionNotifyDispatcher, actionContext()))
	require.Len(t, n.sent, 2)
	assert.Equal(t, domain.ChannelLine, n.sent[0].channel)
	assert.Equal(t, "L1", n.sent[0].n.Recipient)
	assert.Equal(t, "E1", n.sent[0].n.ExceptionID)
}

func TestNotifyAllDispatchersAddsEmailAndSMS(t *testing.T) {
	dir := &stubDirectory{dispatchers: []domain.Contact{
		{ID: "u1", LineUserID: "L1", Email: "ops@example.com", Phone: "+66800000000"},
	}}
	e, n := newExecutor(dir)

	require.NoError(t, e.Execute(context.Background(), domain.ActionNotifyAllDispatcher, actionContext()))
	var channels []domain.Channel
	for _, s := range n.sent {
		channels = append(channels, s.channel)
	}
	assert.Equal(t, []domain.Channel{domain.ChannelLine, domain.ChannelEmail, domain.ChannelSMS}, channels)
}

func TestNotifyCustomer(t *testing.T) {
	dir := &stubDirectory{job: &domain.JobInfo{ID: "J1", Reference: "REF-9", CustomerPhone: "+6611"}}
	e, n := newExecutor(dir)

	require.NoError(t, e.Execute(context.Background(), domain.ActionNotifyCustomer, actionContext()))
	assert.Equal(t, []string{"J1:delay_alert"}, dir.customer)
	require.Len(t, n.sent, 1)
	assert.Equal(t, domain.ChannelSMS, n.sent[0].channel)
	assert.Contains(t, n.sent[0].n.Message.EN, "REF-9")
}

func TestNotifyCustomerWithoutJob(t *testing.T) {
	dir := &stubDirectory{}
	e, n := newExecutor(dir)

	ac := actionContext()
	ac.JobID = ""
	require.NoError(t, e.Execute(context.Background(), domain.ActionNotifyCustomer, ac))
	assert.Empty(t, n.sent)
}

func TestDirectoryErrorsSurface(t *testing.T) {
	dir := &stubDirectory{err: errors.New("db down")}
	e, _ := newExecutor(dir)

	for _, k := range []domain.ActionKind{
		domain.ActionNotifyDispatcher,
		domain.ActionNotifySupervisor,
		domain.ActionWarnDriver,
		domain.ActionAskDriverReason,
	} {
		assert.Error(t, e.Execute(context.Background(), k, actionContext()), k)
	}
}

func TestDriverDirectedActions(t *testing.T) {
	dir := &stubDirectory{driver: &domain.Contact{ID: "D1", LineUserID: "LD1"}}
	e, n := newExecutor(dir)
	ctx := context.Background()

	require.NoError(t, e.Execute(ctx, domain.ActionAskDriverReason, actionContext()))
	require.NoError(t, e.Execute(ctx, domain.ActionWarnDriver, actionContext()))
	require.NoError(t, e.Execute(ctx, domain.ActionRichMenuEmergency, actionContext()))

	require.Len(t, n.sent, 3)
	assert.Equal(t, notify.KindDriverQuestion, n.sent[0].n.Kind)
	assert.Equal(t, notify.KindDriverWarning, n.sent[1].n.Kind)
	assert.Equal(t, notify.KindRichMenu, n.sent[2].n.Kind)
	for _, s := range n.sent {
		assert.Equal(t, "LD1", s.n.Recipient)
	}
}

func TestBroadcastLocation(t *testing.T) {
	e, n := newExecutor(&stubDirectory{})

	require.NoError(t, e.Execute(context.Background(), domain.ActionSendLocationToAll, actionContext()))
	require.Len(t, n.sent, 1)
	assert.Equal(t, domain.ChannelAdminPanel, n.sent[0].channel)
	require.NotNil(t, n.sent[0].n.Location)
	assert.InDelta(t, 13.75, n.sent[0].n.Location.Lat, 1e-9)

	ac := actionContext()
	ac.Telemetry = nil
	assert.Error(t, e.Execute(context.Background(), domain.ActionSendLocationToAll, ac))
}
