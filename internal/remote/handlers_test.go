package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/sentinel/internal/clock"
	"fleet-monitor/sentinel/internal/domain"
	"fleet-monitor/sentinel/internal/exceptions"
	"fleet-monitor/sentinel/internal/notify"
	"fleet-monitor/sentinel/internal/rules"
)

type fakeBackend struct {
	logs      []domain.DriverLog
	locations []domain.DriverLocation
	photos    []domain.JobPhoto
	tests     []domain.AlcoholTest
	profiles  map[string]map[string]any
	err       error
}

func (b *fakeBackend) InsertDriverLog(_ context.Context, l domain.DriverLog) error {
	if b.err != nil {
		return b.err
	}
	b.logs = append(b.logs, l)
	return nil
}

func (b *fakeBackend) UpsertDriverLocation(_ context.Context, l domain.DriverLocation) error {
	if b.err != nil {
		return b.err
	}
	b.locations = append(b.locations, l)
	return nil
}

func (b *fakeBackend) InsertJobPhoto(_ context.Context, p domain.JobPhoto) error {
	if b.err != nil {
		return b.err
	}
	b.photos = append(b.photos, p)
	return nil
}

func (b *fakeBackend) InsertAlcoholTest(_ context.Context, t domain.AlcoholTest) error {
	if b.err != nil {
		return b.err
	}
	b.tests = append(b.tests, t)
	return nil
}

func (b *fakeBackend) UpdateProfile(_ context.Context, id string, updates map[string]any) error {
	if b.err != nil {
		return b.err
	}
	if b.profiles == nil {
		b.profiles = make(map[string]map[string]any)
	}
	b.profiles[id] = updates
	return nil
}

type fakeBlobs struct {
	names []string
	err   error
}

func (f *fakeBlobs) Upload(_ context.Context, name, _ string, _ []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.names = append(f.names, name)
	return "https://storage.example/" + name, nil
}

type criticalAlerts struct {
	sent []notify.Notification
}

func (c *criticalAlerts) NotifyCritical(_ context.Context, n notify.Notification) {
	c.sent = append(c.sent, n)
}

type env struct {
	h        Handlers
	backend  *fakeBackend
	blobs    *fakeBlobs
	recorder *exceptions.MemoryRecorder
	alerts   *criticalAlerts
	clock    *clock.Fake
}

func newEnv() *env {
	return newEnvWithRules(nil)
}

func newEnvWithRules(rs []domain.Rule) *env {
	c := clock.NewFake(time.Date(2026, 5, 1, 7, 30, 0, 0, time.UTC))
	e := &env{
		backend:  &fakeBackend{},
		blobs:    &fakeBlobs{},
		recorder: exceptions.NewMemoryRecorder(c, slog.New(slog.NewTextHandler(io.Discard, nil))),
		alerts:   &criticalAlerts{},
		clock:    c,
	}
	e.h = NewHandlers(e.backend, e.blobs, e.recorder, e.alerts, rs, c)
	return e
}

func action(t *testing.T, typ domain.ActionType, payload any) domain.QueuedAction {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return domain.QueuedAction{ID: "a1", Type: typ, Payload: raw}
}

func TestEveryActionTypeHasHandler(t *testing.T) {
	h := newEnv().h
	for _, typ := range domain.ActionTypes {
		assert.Contains(t, h, typ)
	}
	assert.Len(t, h, len(domain.ActionTypes))
}

func TestDispatchUnknownType(t *testing.T) {
	err := newEnv().h.Dispatch(context.Background(), domain.QueuedAction{Type: "fax", Payload: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, ErrUnknownActionType)
}

func TestCheckInAndOut(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	ts := time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)

	require.NoError(t, e.h.Dispatch(ctx, action(t, domain.ActionCheckIn, domain.CheckPayload{Reference: "R1", DriverID: "D1", Timestamp: &ts})))
	require.NoError(t, e.h.Dispatch(ctx, action(t, domain.ActionCheckOut, domain.CheckPayload{Reference: "R1", DriverID: "D1"})))

	require.Len(t, e.backend.logs, 2)
	assert.Equal(t, domain.ActionCheckIn, e.backend.logs[0].Action)
	assert.Equal(t, ts, e.backend.logs[0].At)
	assert.Equal(t, domain.ActionCheckOut, e.backend.logs[1].Action)
	assert.Equal(t, e.clock.Now(), e.backend.logs[1].At)
}

func TestLocationUpdate(t *testing.T) {
	e := newEnv()
	p := domain.LocationPayload{DriverID: "D1", Latitude: 13.7, Longitude: 100.5, Speed: 40, Battery: 80}

	require.NoError(t, e.h.Dispatch(context.Background(), action(t, domain.ActionLocationUpdate, p)))
	require.Len(t, e.backend.locations, 1)
	assert.Equal(t, "D1", e.backend.locations[0].DriverID)
	assert.InDelta(t, 80, e.backend.locations[0].Battery, 1e-9)
}

func TestPhotoUploadThenRecord(t *testing.T) {
	e := newEnv()
	p := domain.PhotoPayload{JobID: "J1", StopID: "S2", Data: []byte{0xff, 0xd8}}

	require.NoError(t, e.h.Dispatch(context.Background(), action(t, domain.ActionPhotoUpload, p)))
	require.Len(t, e.blobs.names, 1)
	assert.Regexp(t, `^J1_S2_\d+\.jpg$`, e.blobs.names[0])
	require.Len(t, e.backend.photos, 1)
	assert.Equal(t, "https://storage.example/"+e.blobs.names[0], e.backend.photos[0].URL)
}

func TestPhotoInsertFailureLeavesBlob(t *testing.T) {
	e := newEnv()
	e.backend.err = errors.New("insert failed")
	p := domain.PhotoPayload{JobID: "J1", StopID: "S2", Data: []byte{1}}

	assert.Error(t, e.h.Dispatch(context.Background(), action(t, domain.ActionPhotoUpload, p)))
	assert.Len(t, e.blobs.names, 1)

	e.blobs.err = errors.New("bucket gone")
	assert.Error(t, e.h.Dispatch(context.Background(), action(t, domain.ActionPhotoUpload, p)))
	assert.Len(t, e.blobs.names, 1)
}

func TestAlcoholTestAndProfile(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	require.NoError(t, e.h.Dispatch(ctx, action(t, domain.ActionAlcoholTest, domain.AlcoholTestPayload{DriverID: "D1", JobID: "J1", Result: 0.01})))
	require.Len(t, e.backend.tests, 1)
	assert.Equal(t, "J1", e.backend.tests[0].JobID)

	require.NoError(t, e.h.Dispatch(ctx, action(t, domain.ActionProfileUpdate, domain.ProfileUpdatePayload{
		ProfileID: "P1",
		Updates:   map[string]any{"phone": "+6612"},
	})))
	assert.Equal(t, "+6612", e.backend.profiles["P1"]["phone"])
}

func TestEmergencyRecordsCriticalException(t *testing.T) {
	e := newEnv()
	p := domain.EmergencyPayload{DriverID: "D1", JobID: "J1", Location: domain.Location{Lat: 13.7, Lng: 100.5}}

	require.NoError(t, e.h.Dispatch(context.Background(), action(t, domain.ActionEmergency, p)))

	active, err := e.recorder.GetActive(context.Background(), "D1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "emergency_button", active[0].RuleID)
	assert.Equal(t, domain.SeverityCritical, active[0].Severity)
	assert.NotEmpty(t, active[0].Message.EN)

	require.Len(t, e.alerts.sent, 1)
	n := e.alerts.sent[0]
	assert.Equal(t, active[0].ID, n.ExceptionID)
	assert.Equal(t, domain.SeverityCritical, n.Severity)
	assert.Equal(t, "J1", n.JobID)
	require.NotNil(t, n.Location)
	assert.InDelta(t, 13.7, n.Location.Lat, 1e-9)
}

func TestEmergencyUsesLoadedRuleMessage(t *testing.T) {
	rs := rules.Defaults()
	for i := range rs {
		if rs[i].ID == rules.EmergencyRuleID {
			rs[i].Message = domain.Message{TH: "ขอความช่วยเหลือ", EN: "Driver pressed SOS"}
		}
	}
	e := newEnvWithRules(rs)

	require.NoError(t, e.h.Dispatch(context.Background(), action(t, domain.ActionEmergency, domain.EmergencyPayload{DriverID: "D1"})))

	active, err := e.recorder.GetActive(context.Background(), "D1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Driver pressed SOS", active[0].Message.EN)
	require.Len(t, e.alerts.sent, 1)
	assert.Equal(t, "Driver pressed SOS", e.alerts.sent[0].Message.EN)
}

func TestEmergencyFailureSendsNoAlert(t *testing.T) {
	e := newEnv()
	e.h = NewHandlers(e.backend, e.blobs, failingLogger{}, e.alerts, nil, e.clock)

	err := e.h.Dispatch(context.Background(), action(t, domain.ActionEmergency, domain.EmergencyPayload{DriverID: "D1"}))
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.Empty(t, e.alerts.sent)
}

type failingLogger struct{}

func (failingLogger) Log(context.Context, domain.ExceptionInput) (*domain.Exception, error) {
	return nil, domain.ErrPersistence
}

func TestBackendErrorsPropagate(t *testing.T) {
	e := newEnv()
	e.backend.err = errors.New("connection refused")

	err := e.h.Dispatch(context.Background(), action(t, domain.ActionCheckIn, domain.CheckPayload{Reference: "R1", DriverID: "D1"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
