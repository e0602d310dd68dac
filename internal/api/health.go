package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/cadence/internal/resolver"
)

// HealthResponse represents the response from the health check endpoint
type HealthResponse struct {
	Status   string                 `json:"status"`
	Database string                 `json:"database"`
	Resolver string                 `json:"resolver"`
	Time     string                 `json:"time"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// healthChecker reports datastore connectivity
type healthChecker interface {
	Health(ctx context.Context) error
}

// breakerState reports the resolver circuit breaker state
type breakerState interface {
	State() resolver.BreakerState
}

// HealthHandler handles health check requests
type HealthHandler struct {
	db      healthChecker
	breaker breakerState
}

// NewHealthHandler creates a new health check handler. breaker may be nil.
func NewHealthHandler(database healthChecker, breaker breakerState) *HealthHandler {
	return &HealthHandler{db: database, breaker: breaker}
}

// Check handles the health check endpoint
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:   "ok",
		Resolver: resolver.BreakerClosed.String(),
		Time:     time.Now().UTC().Format(time.RFC3339),
		Details:  make(map[string]interface{}),
	}

	// an open breaker degrades new requests but the service still answers
	if h.breaker != nil {
		state := h.breaker.State()
		response.Resolver = state.String()
		if state != resolver.BreakerClosed {
			response.Status = "degraded"
		}
	}

	// Check database connectivity
	if err := h.db.Health(ctx); err != nil {
		response.Status = "degraded"
		response.Database = "unhealthy"
		response.Details["database_error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	response.Database = "healthy"
	c.JSON(http.StatusOK, response)
}

// SetupHealthRoutes registers health check routes
func SetupHealthRoutes(apiGroup *gin.RouterGroup, database healthChecker, breaker breakerState) {
	handler := NewHealthHandler(database, breaker)
	apiGroup.GET("/health", handler.Check)
}
