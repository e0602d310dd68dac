package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/cadence/internal/resolver"
)

type stubDB struct{ err error }

func (s stubDB) Health(context.Context) error { return s.err }

type stubBreaker struct{ state resolver.BreakerState }

func (s stubBreaker) State() resolver.BreakerState { return s.state }

func checkHealth(t *testing.T, handler *HealthHandler) (int, HealthResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/health", handler.Check)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	var response HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return w.Code, response
}

func TestHealthHandler_Healthy(t *testing.T) {
	code, response := checkHealth(t, NewHealthHandler(stubDB{}, stubBreaker{state: resolver.BreakerClosed}))

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, "healthy", response.Database)
	assert.Equal(t, "closed", response.Resolver)
}

func TestHealthHandler_OpenBreakerDegrades(t *testing.T) {
	code, response := checkHealth(t, NewHealthHandler(stubDB{}, stubBreaker{state: resolver.BreakerOpen}))

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", response.Status)
	assert.Equal(t, "open", response.Resolver)
}

func TestHealthHandler_DatabaseDown(t *testing.T) {
	code, response := checkHealth(t, NewHealthHandler(stubDB{err: errors.New("disk gone")}, nil))

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", response.Status)
	assert.Equal(t, "unhealthy", response.Database)
	assert.Equal(t, "disk gone", response.Details["database_error"])
}
