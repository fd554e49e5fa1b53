package http

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const healthCheckTimeout = 2 * time.Second

// Checker reports whether a backing service is reachable.
type Checker interface {
	Ping(ctx context.Context) error
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Ping(ctx context.Context) error { return f(ctx) }

// SlotStats exposes worker pool occupancy.
type SlotStats interface {
	Size() int
	InUse() int
	Pending() int
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	checks map[string]Checker
	slots  SlotStats
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. slots may be nil.
func NewHealthHandler(slots SlotStats, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		checks: make(map[string]Checker),
		slots:  slots,
		logger: logger,
	}
}

// WithCheck registers a dependency checked on every health request.
func (h *HealthHandler) WithCheck(name string, check Checker) *HealthHandler {
	h.checks[name] = check
	return h
}

// WithSlots reports worker pool occupancy alongside the dependency checks.
func (h *HealthHandler) WithSlots(slots SlotStats) *HealthHandler {
	h.slots = slots
	return h
}

// Health handles GET /api/v1/health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	services := gin.H{}
	for _, name := range names {
		if err := h.checks[name].Ping(ctx); err != nil {
			h.logger.Warn("Health check failed", zap.String("service", name), zap.Error(err))
			services[name] = err.Error()
			status = "degraded"
			continue
		}
		services[name] = "ok"
	}

	body := gin.H{"status": status, "services": services}
	if h.slots != nil {
		body["pool"] = gin.H{
			"size":   h.slots.Size(),
			"in_use": h.slots.InUse(),
			"queued": h.slots.Pending(),
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, body)
}
