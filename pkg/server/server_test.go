package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/b00skit/antelope-sync/pkg/logger"

	"github.com/stretchr/testify/assert"
)

func get(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s := New(":0", logger.Nop(), nil)
	rec := get(s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestReadyRunsChecks(t *testing.T) {
	healthy := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	s := New(":0", logger.Nop(), map[string]ReadinessCheck{"store": healthy})
	assert.Equal(t, http.StatusOK, get(s, "/ready").Code)

	s = New(":0", logger.Nop(), map[string]ReadinessCheck{"store": healthy, "redis": down})
	rec := get(s, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not ready: redis", rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s := New(":0", logger.Nop(), nil)
	rec := get(s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
