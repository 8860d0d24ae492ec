package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/cron-runner/internal/runner"
	"github.com/gin-gonic/gin"
)

// HealthChecker reports whether a backing dependency is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BrokerChecker reports whether the run event publisher is connected
type BrokerChecker interface {
	IsConnected() bool
}

// ScheduleLister exposes the live triggers
type ScheduleLister interface {
	Schedules() []runner.ScheduleInfo
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Database    HealthChecker
	Broker      BrokerChecker // nil when run events are disabled
	Schedules   ScheduleLister
	ServiceName string
}

// StatusHandler serves read-only runner status
type StatusHandler struct {
	logger      *slog.Logger
	database    HealthChecker
	broker      BrokerChecker
	schedules   ScheduleLister
	serviceName string
}

// NewStatusHandler creates a new StatusHandler instance
func NewStatusHandler(deps *Dependencies) *StatusHandler {
	return &StatusHandler{
		logger:      deps.Logger,
		database:    deps.Database,
		broker:      deps.Broker,
		schedules:   deps.Schedules,
		serviceName: deps.ServiceName,
	}
}

// Health handles GET /health. Only the database decides the status code;
// a disconnected broker marks the status degraded.
func (h *StatusHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{
		"status":  "healthy",
		"service": h.serviceName,
	}

	if h.broker != nil {
		if h.broker.IsConnected() {
			body["rabbitmq"] = "connected"
		} else {
			body["rabbitmq"] = "disconnected"
			body["status"] = "degraded"
		}
	}

	if err := h.database.HealthCheck(ctx); err != nil {
		h.logger.Warn("Health check failed", slog.String("error", err.Error()))
		body["status"] = "unhealthy"
		body["error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}

	c.JSON(http.StatusOK, body)
}

// ListSchedules handles GET /api/v1/schedules
func (h *StatusHandler) ListSchedules(c *gin.Context) {
	schedules := h.schedules.Schedules()

	c.JSON(http.StatusOK, gin.H{
		"schedules": schedules,
		"count":     len(schedules),
	})
}
