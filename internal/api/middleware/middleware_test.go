package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/scribe/backend/internal/shared/metrics"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func echoUser(w http.ResponseWriter, r *http.Request) {
	if user := GetUser(r.Context()); user != nil {
		w.Write([]byte(user.ID))
	}
}

func TestAuthWithVerifier(t *testing.T) {
	verify := func(_ context.Context, token string) (string, error) {
		if token == "good" {
			return "user_1", nil
		}
		return "", errors.New("bad token")
	}
	handler := NewAuthMiddleware(verify, zap.NewNop()).Handler(http.HandlerFunc(echoUser))

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
		wantBody   string
	}{
		{"bearer token", "Bearer good", "", http.StatusOK, "user_1"},
		{"query token", "", "?token=good", http.StatusOK, "user_1"},
		{"invalid token", "Bearer bad", "", http.StatusUnauthorized, ""},
		{"missing token", "", "", http.StatusUnauthorized, ""},
		{"user id param ignored", "", "?user_id=user_9", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestAuthWithoutVerifier(t *testing.T) {
	handler := NewAuthMiddleware(nil, zap.NewNop()).Handler(http.HandlerFunc(echoUser))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(UserIDHeader, "user_2")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "user_2", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/x?user_id=user_3", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "user_3", rec.Body.String())

	for _, bad := range []string{"a/b", "a/../b", "..", ".", `a\b`} {
		t.Run(bad, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.Header.Set(UserIDHeader, bad)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRateLimitKeys(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	assert.Equal(t, "ip:10.0.0.7", KeyByIP(req))
	assert.Equal(t, "ip:10.0.0.7", KeyByUser(req))

	req = req.WithContext(WithUser(req.Context(), "user_1"))
	assert.Equal(t, "user:user_1", KeyByUser(req))
}

func TestWindowKey(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 30, 45, 0, time.UTC)
	a := windowKey("upload", "user:1", now, time.Hour)
	b := windowKey("upload", "user:1", now.Add(20*time.Minute), time.Hour)
	c := windowKey("upload", "user:1", now.Add(40*time.Minute), time.Hour)

	assert.Equal(t, a, b, "same window")
	assert.NotEqual(t, a, c, "next window")
	assert.NotEqual(t, a, windowKey("ask", "user:1", now, time.Hour))
}

func TestRateLimiterDisabledWithoutRedis(t *testing.T) {
	rl := NewRateLimiter(nil, zap.NewNop())
	called := false
	handler := rl.Limit(GlobalRateLimit)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	r := chi.NewRouter()
	r.Use(MetricsMiddleware(m))
	r.Get("/files/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/files/"+id, nil))
	}

	assert.Equal(t, float64(3), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/files/{id}", "4xx")))
}
