package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/sentinel/internal/clock"
	"fleet-monitor/sentinel/internal/domain"
	"fleet-monitor/sentinel/internal/exceptions"
	"fleet-monitor/sentinel/internal/notify"
	"fleet-monitor/sentinel/internal/outbox"
)

const testKey = "test_key"

type staticKeys map[string]bool

func (k staticKeys) Validate(_ context.Context, key string) bool { return k[key] }

type captureIngestor struct {
	mu  sync.Mutex
	got []*domain.TelemetrySnapshot
}

func (c *captureIngestor) Dispatch(s *domain.TelemetrySnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, s)
}

type chanFeed struct {
	mu      sync.Mutex
	ch      chan []byte
	channel string
}

func (f *chanFeed) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channel = channel
	return f.ch, nil
}

func (f *chanFeed) subscribed() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channel
}

type testServer struct {
	srv      *httptest.Server
	ingest   *captureIngestor
	recorder *exceptions.MemoryRecorder
	outbox   *outbox.Service
	feed     *chanFeed
	clock    *clock.Fake
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := clock.NewFake(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))

	kv, err := outbox.OpenBadger(outbox.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	store := outbox.NewStore(kv)
	require.NoError(t, store.Load())
	sender := outbox.SenderFunc(func(context.Context, domain.QueuedAction) error { return nil })

	ts := &testServer{
		ingest:   &captureIngestor{},
		recorder: exceptions.NewMemoryRecorder(c, log),
		outbox:   outbox.NewService(store, sender, c, outbox.Config{}, log),
		feed:     &chanFeed{ch: make(chan []byte, 1)},
		clock:    c,
	}
	s := NewServer(Deps{
		Ingestor:   ts.ingest,
		Exceptions: ts.recorder,
		Outbox:     ts.outbox,
		Feed:       ts.feed,
		Auth:       staticKeys{testKey: true},
		Clock:      c,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "# metrics")
		}),
	}, log)
	ts.srv = httptest.NewServer(s.Handler())
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-API-Key", testKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/v1/outbox")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/v1/outbox", nil)
	req.Header.Set("X-API-Key", "wrong")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)

	health, err := http.Get(ts.srv.URL + "/healthz")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	m, err := http.Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	defer m.Body.Close()
	assert.Equal(t, http.StatusOK, m.StatusCode)
}

func TestTelemetryIngest(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/telemetry", `{"driverId":"D1","speed":95,"speedLimit":60}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, ts.ingest.got, 1)
	assert.Equal(t, "D1", ts.ingest.got[0].DriverID)
	assert.Equal(t, ts.clock.Now(), ts.ingest.got[0].Timestamp)

	bad := ts.do(t, http.MethodPost, "/v1/telemetry", `{"speed":10}`)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	malformed := ts.do(t, http.MethodPost, "/v1/telemetry", `{`)
	assert.Equal(t, http.StatusBadRequest, malformed.StatusCode)
}

func TestExceptionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	exc, err := ts.recorder.Log(ctx, domain.ExceptionInput{DriverID: "D1", RuleID: "long_stop", Severity: domain.SeverityMedium})
	require.NoError(t, err)

	list := decodeBody[[]domain.Exception](t, ts.do(t, http.MethodGet, "/v1/drivers/D1/exceptions", ""))
	require.Len(t, list, 1)
	assert.Equal(t, exc.ID, list[0].ID)

	resp := ts.do(t, http.MethodPost, "/v1/exceptions/"+exc.ID+"/resolve", `{"resolvedBy":"ops1","note":"called driver"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resolved := decodeBody[domain.Exception](t, resp)
	assert.Equal(t, domain.ExceptionResolved, resolved.Status)
	assert.Equal(t, "ops1", resolved.ResolvedBy)
	require.NotNil(t, resolved.ResolvedAt)

	list = decodeBody[[]domain.Exception](t, ts.do(t, http.MethodGet, "/v1/drivers/D1/exceptions", ""))
	assert.Empty(t, list)

	missing := ts.do(t, http.MethodPost, "/v1/exceptions/nope/resolve", `{"resolvedBy":"ops1"}`)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	noActor := ts.do(t, http.MethodPost, "/v1/exceptions/"+exc.ID+"/resolve", `{}`)
	assert.Equal(t, http.StatusBadRequest, noActor.StatusCode)
}

func TestExceptionStats(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.recorder.Log(context.Background(), domain.ExceptionInput{DriverID: "D1", RuleID: "speeding", Severity: domain.SeverityMedium})
	require.NoError(t, err)

	stats := decodeBody[domain.ExceptionStats](t, ts.do(t, http.MethodGet, "/v1/exceptions/stats", ""))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByRule["speeding"])

	bad := ts.do(t, http.MethodGet, "/v1/exceptions/stats?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestOutboxEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/actions",
		`{"type":"check_in","priority":"normal","payload":{"reference":"R1","driverId":"D1","latitude":13.7,"longitude":100.5}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[map[string]string](t, resp)
	assert.NotEmpty(t, created["id"])

	invalid := ts.do(t, http.MethodPost, "/v1/actions", `{"type":"check_in","payload":{"driverId":"D1"}}`)
	assert.Equal(t, http.StatusBadRequest, invalid.StatusCode)

	status := decodeBody[outbox.Status](t, ts.do(t, http.MethodGet, "/v1/outbox", ""))
	assert.Equal(t, 1, status.Total)

	res := decodeBody[outbox.SyncResult](t, ts.do(t, http.MethodPost, "/v1/outbox/sync", ""))
	assert.Equal(t, 1, res.Synced)

	q := decodeBody[[]domain.QueuedAction](t, ts.do(t, http.MethodGet, "/v1/outbox/quarantine", ""))
	assert.Empty(t, q)

	notFound := ts.do(t, http.MethodPost, "/v1/outbox/quarantine/nope/requeue", "")
	assert.Equal(t, http.StatusNotFound, notFound.StatusCode)

	cleared := decodeBody[map[string]int](t, ts.do(t, http.MethodDelete, "/v1/outbox", ""))
	assert.Equal(t, 0, cleared["dropped"])
}

func TestFeedStreamsNotifications(t *testing.T) {
	ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/v1/feed?api_key=" + testKey
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	assert.Equal(t, notify.FeedChannel, ts.feed.subscribed())

	ts.feed.ch <- []byte(`{"ruleId":"emergency_button"}`)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"ruleId":"emergency_button"}`, string(msg))
}
