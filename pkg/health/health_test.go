package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type statusBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(t *testing.T, handler http.HandlerFunc) (int, statusBody) {
	t.Helper()

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body statusBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func runN(p *probe, n int) {
	for range n {
		p.run(context.Background())
	}
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		check      CheckFunc
		runs       int
		wantStatus int
		wantChecks map[string]string
	}{
		{"passing", passing, 1, http.StatusOK, nil},
		{"healthy before first run", failing("down"), 0, http.StatusOK, nil},
		{"failing below threshold", failing("down"), 2, http.StatusOK, nil},
		{"failing at threshold", failing("connection refused"), 3, http.StatusServiceUnavailable,
			map[string]string{"db": "connection refused"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.AddLivenessCheck("db", time.Second, tt.check)
			runN(h.liveness[0], tt.runs)

			code, body := serve(t, h.LiveEndpoint)
			assert.Equal(t, tt.wantStatus, code)
			assert.Equal(t, tt.wantChecks, body.Checks)
			if code == http.StatusOK {
				assert.Equal(t, "ok", body.Status)
			} else {
				assert.Equal(t, "unhealthy", body.Status)
			}
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, passing)
	h.AddReadinessCheck("filestore", time.Second, failing("read-only file system"))

	code, body := serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]string{"_readiness": "service is not ready"}, body.Checks)
	assert.False(t, h.IsReady())

	h.SetReady(true)
	code, _ = serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, h.IsReady())

	runN(h.readiness[1], 3)
	code, body = serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]string{"filestore": "read-only file system"}, body.Checks)
	assert.False(t, h.IsReady())

	h.SetReady(false)
	_, body = serve(t, h.ReadyEndpoint)
	assert.Len(t, body.Checks, 2)
}

func TestProbe_RecoversAfterSuccessThreshold(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	core, logs := observer.New(zapcore.InfoLevel)
	h := New(WithThresholds(Thresholds{Failure: 1, Success: 2}), WithLogger(zap.New(core)))
	h.AddReadinessCheck("flaky", time.Second, func(context.Context) error {
		if fail.Load() {
			return errors.New("timeout")
		}
		return nil
	})
	h.SetReady(true)
	p := h.readiness[0]

	runN(p, 1)
	assert.False(t, h.IsReady())
	assert.Equal(t, 1, logs.FilterMessage("Health check failing").Len())

	fail.Store(false)
	runN(p, 1)
	assert.False(t, h.IsReady(), "one success is below the threshold")
	runN(p, 1)
	assert.True(t, h.IsReady())
	assert.Equal(t, 1, logs.FilterMessage("Health check recovered").Len())
}

func TestNew_ClampsThresholds(t *testing.T) {
	h := New(WithThresholds(Thresholds{}))
	assert.Equal(t, Thresholds{Failure: 1, Success: 1}, h.thresholds)
}

func TestProbe_Timeout(t *testing.T) {
	h := New(WithThresholds(Thresholds{Failure: 1, Success: 1}))
	h.AddLivenessCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	runN(h.liveness[0], 1)

	code, body := serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, context.DeadlineExceeded.Error(), body.Checks["slow"])
}

func TestStartAndStop(t *testing.T) {
	var calls atomic.Int32
	h := New()
	h.AddLivenessCheck("counter", time.Second, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	h.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)

	h.Stop()
	h.Stop()
	time.Sleep(20 * time.Millisecond)
	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.AddLivenessCheck("live", time.Second, passing)
	h.AddReadinessCheck("ready", time.Second, failing("x"))
	h.SetReady(true)
	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				w := httptest.NewRecorder()
				h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
				h.LiveEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))
				_ = h.IsReady()
			}
		}()
	}
	wg.Wait()
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCheckers(t *testing.T) {
	errPing := errors.New("no route to host")

	assert.NoError(t, PingCheck(pingerFunc(passing))(context.Background()))
	assert.ErrorIs(t, PingCheck(pingerFunc(func(context.Context) error { return errPing }))(context.Background()), errPing)

	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))

	assert.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
}
