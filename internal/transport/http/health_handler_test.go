package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bfintake/internal/services"
	"bfintake/pkg/contracts/domain"
)

type stubStatus struct {
	err error
}

func (s stubStatus) Status(context.Context) (domain.SystemStatus, error) {
	return domain.SystemStatus{StorageBackend: "memory", CacheStatus: domain.CacheStatus{}}, s.err
}

type stubClients int

func (c stubClients) ClientCount() int { return int(c) }

func healthRouter(status services.StatusProvider) chi.Router {
	svc := services.NewHealthService("test", status, stubClients(1), testLogger())
	h := NewHealthHandler(svc, nil, testLogger())
	r := chi.NewRouter()
	r.Get("/health", h.HealthCheck)
	r.Get("/api/version", h.Version)
	r.Mount("/api/health", h.Routes())
	return r
}

func TestHealthHandler(t *testing.T) {
	r := healthRouter(stubStatus{})

	tests := []struct {
		path       string
		wantStatus int
		wantKey    string
	}{
		{"/health", http.StatusOK, "status"},
		{"/api/health", http.StatusOK, "status"},
		{"/api/health/ready", http.StatusOK, "services"},
		{"/api/health/live", http.StatusOK, "runtime"},
		{"/api/health/stats", http.StatusOK, "storage_backend"},
		{"/api/version", http.StatusOK, "version"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), `"`+tt.wantKey+`"`)
		})
	}
}

func TestHealthHandler_NotReady(t *testing.T) {
	r := healthRouter(stubStatus{err: errors.New("bucket missing")})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_ready")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health/stats", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
