package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/codesnip/internal/auth"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
})

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLogger(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{"success is info", http.StatusOK, "INFO"},
		{"client error is warn", http.StatusNotFound, "WARN"},
		{"server error is error", http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			h := chimiddleware.RequestID(Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte("hello"))
			})))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/snippets", nil))

			var line map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
			assert.Equal(t, tt.wantLevel, line["level"])
			assert.Equal(t, "request completed", line["msg"])
			assert.Equal(t, "/api/snippets", line["path"])
			assert.EqualValues(t, tt.status, line["status"])
			assert.EqualValues(t, 5, line["bytes"])
			assert.NotEmpty(t, line["requestID"])
		})
	}
}

// newTestLimiter pins the limiter's clock so refill is deterministic.
func newTestLimiter(budget int, window time.Duration) (*RateLimiter, *time.Time) {
	l := NewRateLimiter("test", budget, window, discardLogger())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func doRequest(h http.Handler, remote string, setup func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/snippets", nil)
	req.RemoteAddr = remote
	if setup != nil {
		setup(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_RejectsAfterBudget(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)
	h := l.Handler(okHandler)

	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:5000", nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:5001", nil).Code)

	rec := doRequest(h, "10.0.0.1:5002", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.InDelta(t, 30, retry, 1)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Too many requests, please try again later.", body["message"])
}

func TestRateLimiter_Refills(t *testing.T) {
	l, now := newTestLimiter(2, time.Minute)
	h := l.Handler(okHandler)

	doRequest(h, "10.0.0.1:1", nil)
	doRequest(h, "10.0.0.1:1", nil)
	require.Equal(t, http.StatusTooManyRequests, doRequest(h, "10.0.0.1:1", nil).Code)

	// One token comes back every window/budget.
	*now = now.Add(31 * time.Second)
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(h, "10.0.0.1:1", nil).Code)
}

func TestRateLimiter_SeparateClients(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	h := l.Handler(okHandler)

	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(h, "10.0.0.1:2", nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.2:1", nil).Code)

	// An authenticated caller is keyed by user, not by address.
	asUser := func(r *http.Request) { *r = *r.WithContext(auth.WithUserID(r.Context(), "user-1")) }
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1", asUser).Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(h, "10.0.0.3:1", asUser).Code)
}

func TestRateLimiter_ZeroBudgetDisabled(t *testing.T) {
	l, _ := newTestLimiter(0, time.Minute)
	h := l.Handler(okHandler)

	for i := 0; i < 50; i++ {
		require.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1", nil).Code)
	}
	ok, _ := l.Allow("anyone")
	assert.True(t, ok)
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:4431"
	assert.Equal(t, "ip:203.0.113.7", clientKey(req))

	// RealIP rewrites RemoteAddr to a bare address.
	req.RemoteAddr = "203.0.113.8"
	assert.Equal(t, "ip:203.0.113.8", clientKey(req))

	req = req.WithContext(auth.WithUserID(req.Context(), "abc"))
	assert.Equal(t, "user:abc", clientKey(req))
}
