package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func passingCheck() CheckFunc {
	return func(context.Context) error { return nil }
}

func failingCheck(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func get(t *testing.T, h http.Handler, path string) (int, statusBody) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body statusBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func runN(c *check, n int) {
	for range n {
		c.run(context.Background())
	}
}

func TestLiveness(t *testing.T) {
	tests := []struct {
		name       string
		runs       int
		opts       []CheckOption
		wantStatus int
	}{
		{name: "starts healthy", runs: 0, wantStatus: http.StatusOK},
		{name: "below threshold", runs: 2, wantStatus: http.StatusOK},
		{name: "at threshold", runs: 3, wantStatus: http.StatusServiceUnavailable},
		{name: "custom threshold", runs: 1, opts: []CheckOption{WithFailureThreshold(1)}, wantStatus: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.AddLivenessCheck("db", time.Second, failingCheck("connection refused"), tt.opts...)
			runN(h.checks[Liveness][0], tt.runs)

			code, body := get(t, h.Handler(), "/livez")
			assert.Equal(t, tt.wantStatus, code)
			if tt.wantStatus != http.StatusOK {
				assert.Equal(t, "unhealthy", body.Status)
				assert.Equal(t, "connection refused", body.Checks["db"])
			} else {
				assert.Equal(t, "ok", body.Status)
			}
		})
	}
}

func TestReadiness(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, passingCheck())
	h.AddReadinessCheck("redis", time.Second, failingCheck("dial tcp: refused"))

	code, body := get(t, h.Handler(), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks, "_readiness")

	h.SetReady(true)
	assert.True(t, h.IsReady())
	code, _ = get(t, h.Handler(), "/readyz")
	assert.Equal(t, http.StatusOK, code)

	runN(h.checks[Readiness][1], 3)
	assert.False(t, h.IsReady())
	code, body = get(t, h.Handler(), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks, "redis")
	assert.NotContains(t, body.Checks, "postgres")

	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestCheckRecovery(t *testing.T) {
	failing := true
	h := New()
	h.AddLivenessCheck("flaky", time.Second, func(context.Context) error {
		if failing {
			return errors.New("down")
		}
		return nil
	}, WithSuccessThreshold(2))
	c := h.checks[Liveness][0]

	assert.Nil(t, c.lastError())
	runN(c, 3)
	assert.False(t, c.healthy.Load())
	assert.EqualError(t, c.lastError(), "down")

	failing = false
	runN(c, 1)
	assert.False(t, c.healthy.Load(), "one pass is below the success threshold")
	runN(c, 1)
	assert.True(t, c.healthy.Load())
}

func TestStartStop(t *testing.T) {
	h := New()
	h.AddLivenessCheck("live", time.Second, failingCheck("err"))
	h.AddReadinessCheck("ready", time.Second, passingCheck())
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, 5*time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.IsReady()
				h.LiveEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return !h.checks[Liveness][0].healthy.Load()
	}, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, GoroutineCountCheck(100000)(ctx))
	assert.ErrorContains(t, GoroutineCountCheck(0)(ctx), "exceeds threshold")

	assert.NoError(t, PingCheck(fakePinger{})(ctx))
	assert.Error(t, PingCheck(fakePinger{err: errors.New("refused")})(ctx))

	var last time.Time
	stale := StalenessCheck(func() time.Time { return last }, time.Minute)
	assert.NoError(t, stale(ctx), "never ran")
	last = time.Now()
	assert.NoError(t, stale(ctx))
	last = time.Now().Add(-time.Hour)
	assert.ErrorContains(t, stale(ctx), "exceeds")
}
