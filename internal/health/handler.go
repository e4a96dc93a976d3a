// Package health exposes liveness, readiness, and orchestrator health
// probes for the admin surface, scoped to the dependencies this
// service actually has (Store, Broker) and backed by the Control
// Plane's HealthSummary.
package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/jobforge/jobforge/internal/control"
	"github.com/jobforge/jobforge/internal/logger"
)

// Handler serves the admin surface's health endpoints.
type Handler struct {
	db      *gorm.DB
	rdb     *redis.Client
	control *control.Control
	version string
	log     *logger.Logger
}

var startTime = time.Now()

// NewHandler builds a health Handler.
func NewHandler(db *gorm.DB, rdb *redis.Client, ctrl *control.Control, version string, log *logger.Logger) *Handler {
	return &Handler{db: db, rdb: rdb, control: ctrl, version: version, log: log}
}

// CheckResult is one dependency's probe outcome.
type CheckResult struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Status is the full response body for GetHealth.
type Status struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    time.Duration          `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
	Queues    interface{}            `json:"queues,omitempty"`
	System    SystemInfo             `json:"system"`
}

// SystemInfo is a lightweight runtime snapshot.
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	NumCPU       int    `json:"num_cpu"`
	MemoryAlloc  uint64 `json:"memory_alloc_bytes"`
}

// GetHealth reports the Store, Broker, and per-queue health, used by
// dashboards and alerting.
// @Summary Health check
// @Description Store, Broker, and per-queue health in one response
// @Tags Health
// @Produce json
// @Success 200 {object} Status
// @Failure 503 {object} Status
// @Router /health [get]
func (h *Handler) GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	checks := make(map[string]CheckResult)
	overall := "healthy"

	dbResult := h.checkDatabase(ctx)
	checks["store"] = dbResult
	if dbResult.Status != "healthy" {
		overall = "unhealthy"
	}

	brokerResult := h.checkRedis(ctx)
	checks["broker"] = brokerResult
	if brokerResult.Status != "healthy" {
		overall = "unhealthy"
	}

	var queueSummary interface{}
	if summary, err := h.control.HealthSummary(ctx); err == nil {
		queueSummary = summary
		if summary.Overall == "error" && overall == "healthy" {
			overall = "degraded"
		}
	}

	status := Status{
		Status:    overall,
		Timestamp: time.Now(),
		Version:   h.version,
		Uptime:    time.Since(startTime),
		Checks:    checks,
		Queues:    queueSummary,
		System:    systemInfo(),
	}

	code := http.StatusOK
	if overall == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// GetLiveness is a trivial liveness probe.
// @Summary Liveness check
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/live [get]
func (h *Handler) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive", "timestamp": time.Now()})
}

// GetReadiness checks Store and Broker connectivity, used by
// orchestrators deciding whether to route traffic.
// @Summary Readiness check
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/ready [get]
func (h *Handler) GetReadiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	storeOK := h.quickDBCheck(ctx)
	brokerOK := h.quickRedisCheck(ctx)

	if storeOK && brokerOK {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "timestamp": time.Now()})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"status":    "not_ready",
		"timestamp": time.Now(),
		"store":     storeOK,
		"broker":    brokerOK,
	})
}

func (h *Handler) checkDatabase(ctx context.Context) CheckResult {
	start := time.Now()
	if h.db == nil {
		return CheckResult{Status: "unhealthy", Message: "store not initialized", Duration: time.Since(start)}
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return CheckResult{Status: "unhealthy", Message: err.Error(), Duration: time.Since(start)}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return CheckResult{Status: "unhealthy", Message: err.Error(), Duration: time.Since(start)}
	}
	return CheckResult{Status: "healthy", Message: "store is responsive", Duration: time.Since(start)}
}

func (h *Handler) checkRedis(ctx context.Context) CheckResult {
	start := time.Now()
	if h.rdb == nil {
		return CheckResult{Status: "unhealthy", Message: "broker not initialized", Duration: time.Since(start)}
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		return CheckResult{Status: "unhealthy", Message: err.Error(), Duration: time.Since(start)}
	}
	return CheckResult{Status: "healthy", Message: "broker is responsive", Duration: time.Since(start)}
}

func (h *Handler) quickDBCheck(ctx context.Context) bool {
	if h.db == nil {
		return false
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return false
	}
	return sqlDB.PingContext(ctx) == nil
}

func (h *Handler) quickRedisCheck(ctx context.Context) bool {
	if h.rdb == nil {
		return false
	}
	return h.rdb.Ping(ctx).Err() == nil
}

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return SystemInfo{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		MemoryAlloc:  m.Alloc,
	}
}
