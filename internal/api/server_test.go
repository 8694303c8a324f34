package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/bardlex/promine/internal/database/memory"
	"github.com/bardlex/promine/internal/engine"
	"github.com/bardlex/promine/internal/hybrid"
	"github.com/bardlex/promine/internal/messaging"
	"github.com/bardlex/promine/internal/mining"
	"github.com/bardlex/promine/internal/models"
	"github.com/bardlex/promine/pkg/log"
)

type testEnv struct {
	server *httptest.Server
	store  *memory.Store
	hub    *Hub
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	store := memory.New()
	hub := NewHub(log.Discard())
	router := hybrid.NewRouter(engine.NewReal(), engine.NewSimulated(0, 21), log.Discard())
	manager := mining.NewManager(mining.DefaultConfig(), store, router, router, hub, log.Discard())

	srv := NewServer(cfg, store, manager, router, hub, nil, log.Discard())
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		hub.Close()
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})
	return &testEnv{server: ts, store: store, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decodeInto[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestStartMining(t *testing.T) {
	env := newTestEnv(t, Config{})

	status, body := env.do(t, http.MethodPost, "/api/mining/start",
		`{"workType":"goldbach_verification","difficulty":10}`)
	require.Equal(t, http.StatusAccepted, status, string(body))

	op := decodeInto[models.Operation](t, body)
	assert.NotZero(t, op.ID)
	assert.Equal(t, models.StatusActive, op.Status)
	assert.Equal(t, models.PhaseQueued, op.CurrentResult.Phase)

	require.Eventually(t, func() bool {
		blocks, err := env.store.GetBlocks(context.Background(), 10)
		return err == nil && len(blocks) == 1
	}, 10*time.Second, 10*time.Millisecond)

	status, body = env.do(t, http.MethodGet, "/api/blocks", "")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, decodeInto[[]models.Block](t, body), 1)

	status, body = env.do(t, http.MethodGet, "/api/discoveries?limit=5", "")
	require.Equal(t, http.StatusOK, status)
	ds := decodeInto[[]models.Discovery](t, body)
	require.Len(t, ds, 1)
	assert.Equal(t, engine.ModeReal, ds[0].ComputationMode)
	assert.True(t, ds[0].Verified)

	status, body = env.do(t, http.MethodGet, "/api/discoveries/1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1), decodeInto[models.Discovery](t, body).ID)

	status, body = env.do(t, http.MethodGet, "/api/blocks/1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(0), decodeInto[models.Block](t, body).Index)

	status, body = env.do(t, http.MethodGet, "/api/chain/verify", "")
	require.Equal(t, http.StatusOK, status)
	audit := decodeInto[map[string]any](t, body)
	assert.Equal(t, true, audit["valid"])
	assert.Equal(t, 1.0, audit["length"])

	status, body = env.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1), decodeInto[models.Stats](t, body).TotalBlocks)
}

func TestStartMining_Rejected(t *testing.T) {
	env := newTestEnv(t, Config{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"workType":`},
		{"missing type", `{"difficulty":10}`},
		{"unknown type", `{"workType":"alchemy","difficulty":10}`},
		{"analysis type", `{"workType":"collatz_verification","difficulty":10}`},
		{"difficulty out of range", `{"workType":"riemann_zero","difficulty":1001}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodPost, "/api/mining/start", tt.body)
			assert.Equal(t, http.StatusBadRequest, status, string(body))
			assert.NotEmpty(t, decodeInto[map[string]string](t, body)["error"])
		})
	}
}

func TestStartMining_RateLimited(t *testing.T) {
	env := newTestEnv(t, Config{SubmitRateLimit: 2})
	body := `{"workType":"prime_pattern","difficulty":20}`

	for range 2 {
		status, _ := env.do(t, http.MethodPost, "/api/mining/start", body)
		require.Equal(t, http.StatusAccepted, status)
	}
	status, _ := env.do(t, http.MethodPost, "/api/mining/start", body)
	assert.Equal(t, http.StatusTooManyRequests, status)
}

func TestLookups(t *testing.T) {
	env := newTestEnv(t, Config{})

	tests := []struct {
		path string
		want int
	}{
		{"/api/blocks/abc", http.StatusBadRequest},
		{"/api/blocks/0", http.StatusBadRequest},
		{"/api/blocks/99", http.StatusNotFound},
		{"/api/discoveries/99", http.StatusNotFound},
		{"/api/blocks?limit=-1", http.StatusBadRequest},
		{"/api/blocks?limit=1000", http.StatusOK},
		{"/api/mining/operations", http.StatusOK},
		{"/api/valuation/riemann_zero", http.StatusOK},
		{"/api/valuation/alchemy", http.StatusNotFound},
		{"/api/valuation", http.StatusOK},
		{"/health", http.StatusOK},
	}
	for _, tt := range tests {
		status, body := env.do(t, http.MethodGet, tt.path, "")
		assert.Equal(t, tt.want, status, "%s: %s", tt.path, body)
	}
}

func TestEmptyListsAreArrays(t *testing.T) {
	env := newTestEnv(t, Config{})
	for _, path := range []string{"/api/blocks", "/api/discoveries", "/api/mining/operations"} {
		status, body := env.do(t, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `[]`, string(body), path)
	}
}

func TestMetrics_Defaults(t *testing.T) {
	env := newTestEnv(t, Config{})

	status, body := env.do(t, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, status)
	m := decodeInto[models.NetworkMetrics](t, body)
	assert.Equal(t, 5, m.ActiveMiners)
	assert.Equal(t, 8.0, m.BlocksPerHour)
	assert.Equal(t, 450.0, m.AverageBlockTime)
}

func TestHybridEndpoints(t *testing.T) {
	env := newTestEnv(t, Config{})

	status, body := env.do(t, http.MethodGet, "/api/hybrid/capabilities", "")
	require.Equal(t, http.StatusOK, status)
	caps := decodeInto[hybrid.Capabilities](t, body)
	assert.NotEmpty(t, caps.RealTypes)
	assert.Equal(t, 100, caps.Thresholds["collatz_verification"])

	status, body = env.do(t, http.MethodPost, "/api/hybrid/compute",
		`{"workType":"collatz_verification","difficulty":50}`)
	require.Equal(t, http.StatusOK, status, string(body))
	res := decodeInto[engine.Result](t, body)
	assert.Equal(t, engine.ModeReal, res.Mode)
	require.NotNil(t, res.Valuation)

	// real-only type above its threshold has nowhere to run
	status, _ = env.do(t, http.MethodPost, "/api/hybrid/compute",
		`{"workType":"collatz_verification","difficulty":500}`)
	assert.Equal(t, http.StatusBadRequest, status)

	verifyBody, err := json.Marshal(map[string]any{"result": res})
	require.NoError(t, err)
	status, body = env.do(t, http.MethodPost, "/api/hybrid/verify", string(verifyBody))
	require.Equal(t, http.StatusOK, status, string(body))
	report := decodeInto[hybrid.Report](t, body)
	assert.GreaterOrEqual(t, report.Score, 0.0)
	assert.LessOrEqual(t, report.Score, 1.0)
	assert.Equal(t, engine.ModeReal, report.OriginalMode)

	status, _ = env.do(t, http.MethodPost, "/api/hybrid/verify", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, Config{})

	req, err := http.NewRequest(http.MethodOptions, env.server.URL+"/api/mining/start", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebsocketFeed(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return env.hub.Clients() == 1 }, 5*time.Second, 5*time.Millisecond)

	status, _ := env.do(t, http.MethodPost, "/api/mining/start", `{"workType":"goldbach_verification","difficulty":8}`)
	require.Equal(t, http.StatusAccepted, status)

	var kinds []messaging.Kind
	for !containsKind(kinds, messaging.KindMiningCompleted) {
		typ, data, err := conn.Read(ctx)
		require.NoError(t, err)
		require.Equal(t, websocket.MessageText, typ)

		e, err := messaging.Decode(data, messaging.EncodingJSON)
		require.NoError(t, err)
		kinds = append(kinds, e.Kind)
	}

	assert.Equal(t, messaging.KindMiningUpdate, kinds[0])
	assert.True(t, containsKind(kinds, messaging.KindNewBlock))
}

func containsKind(kinds []messaging.Kind, k messaging.Kind) bool {
	for _, got := range kinds {
		if got == k {
			return true
		}
	}
	return false
}

func TestHub_PublishWithoutClients(t *testing.T) {
	hub := NewHub(log.Discard())
	e := messaging.NewMetricsUpdateEvent(&models.NetworkMetrics{ActiveMiners: 3})
	require.NoError(t, hub.Publish(context.Background(), e))
	assert.Zero(t, hub.Clients())
}

func TestWindowLimiter(t *testing.T) {
	l := NewWindowLimiter(time.Minute)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := range 3 {
		ok, err := l.AllowSubmission(ctx, "10.0.0.1", 3)
		require.NoError(t, err)
		assert.True(t, ok, "submission %d", i+1)
	}
	ok, _ := l.AllowSubmission(ctx, "10.0.0.1", 3)
	assert.False(t, ok)

	ok, _ = l.AllowSubmission(ctx, "10.0.0.2", 3)
	assert.True(t, ok, "limits are per client")

	ok, _ = l.AllowSubmission(ctx, "10.0.0.1", 0)
	assert.True(t, ok, "zero disables limiting")

	now = now.Add(61 * time.Second)
	ok, _ = l.AllowSubmission(ctx, "10.0.0.1", 3)
	assert.True(t, ok, "a new window starts after expiry")

	l.Cleanup()
	assert.Len(t, l.windows, 1)
}

func TestDecode_RejectsOversizedBody(t *testing.T) {
	env := newTestEnv(t, Config{})
	big := bytes.Repeat([]byte("x"), maxRequestBody+1)
	body := `{"workType":"` + string(big) + `","difficulty":1}`

	status, _ := env.do(t, http.MethodPost, "/api/hybrid/compute", body)
	assert.Equal(t, http.StatusBadRequest, status)
}
