package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore stands in for an order store backend.
type fakeStore struct{ down atomic.Bool }

func (s *fakeStore) Ping(context.Context) error {
	if s.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

type statusResponse struct {
	Status string            `json:"status"`
	State  string            `json:"state"`
	Checks map[string]string `json:"checks"`
}

func get(t *testing.T, mux *http.ServeMux, path string) (int, statusResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var body statusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func newHealth(store Pinger) (*Health, *http.ServeMux) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, PingCheck(store))
	h.AddLivenessCheck("goroutines", time.Second, GoroutineCountCheck(1_000_000))
	mux := http.NewServeMux()
	h.Register(mux)
	return h, mux
}

func TestReady_Lifecycle(t *testing.T) {
	h, mux := newHealth(&fakeStore{})

	tests := []struct {
		name   string
		set    func()
		code   int
		status string
		state  string
	}{
		{name: "Starting", set: func() {}, code: http.StatusServiceUnavailable, status: "unavailable", state: "starting"},
		{name: "Serving", set: h.Serve, code: http.StatusOK, status: "ok", state: "serving"},
		{name: "Draining", set: h.Drain, code: http.StatusServiceUnavailable, status: "unavailable", state: "draining"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.set()
			code, body := get(t, mux, "/readyz")
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.status, body.Status)
			assert.Equal(t, tt.state, body.State)
			assert.Equal(t, map[string]string{"postgres": "ok"}, body.Checks)
		})
	}
}

func TestReady_StoreDown(t *testing.T) {
	store := &fakeStore{}
	h, mux := newHealth(store)
	h.Serve()
	store.down.Store(true)
	ctx := context.Background()

	// Below the threshold the failure is reported but traffic still flows.
	h.ready[0].run(ctx)
	h.ready[0].run(ctx)
	code, body := get(t, mux, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ping: connection refused", body.Checks["postgres"])

	h.ready[0].run(ctx)
	code, body = get(t, mux, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body.Status)

	// Liveness ignores the store.
	code, _ = get(t, mux, "/livez")
	assert.Equal(t, http.StatusOK, code)

	store.down.Store(false)
	h.ready[0].run(ctx)
	code, body = get(t, mux, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Checks["postgres"])
}

func TestLive_GoroutineLimit(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, GoroutineCountCheck(0))
	mux := http.NewServeMux()
	h.Register(mux)

	for range failureThreshold {
		h.live[0].run(context.Background())
	}
	code, body := get(t, mux, "/livez")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks["goroutines"], "limit 0")
	assert.Empty(t, body.State)
}

func TestCheck_Timeout(t *testing.T) {
	c := &check{name: "slow", timeout: 10 * time.Millisecond, fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	c.run(context.Background())

	assert.ErrorIs(t, c.last().err, context.DeadlineExceeded)
	assert.True(t, c.last().healthy)
}

func TestStart_RunsChecksUntilStop(t *testing.T) {
	var runs atomic.Int32
	h := New()
	h.AddReadinessCheck("postgres", time.Second, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	h.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)
	h.Stop()

	n := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, runs.Load())
}

func TestPingCheck(t *testing.T) {
	store := &fakeStore{}
	check := PingCheck(store)

	require.NoError(t, check(context.Background()))
	store.down.Store(true)
	assert.EqualError(t, check(context.Background()), "ping: connection refused")
}
