package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/jobforge/jobforge/internal/control"
	"github.com/jobforge/jobforge/internal/jobforge"
	"github.com/jobforge/jobforge/internal/logger"
	"github.com/jobforge/jobforge/internal/middleware"
)

// Handler adapts the Control Plane onto Gin, one method per operation
// in the job-orchestration API surface.
type Handler struct {
	control  *control.Control
	validate *validator.Validate
	log      *logger.Logger
}

// NewHandler builds a Handler over an already-wired Control Plane.
func NewHandler(ctrl *control.Control, log *logger.Logger) *Handler {
	return &Handler{control: ctrl, validate: validator.New(), log: log.With("component", "api")}
}

func (h *Handler) bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION", "message": err.Error()})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION", "message": err.Error()})
		return false
	}
	return true
}

// fail maps a jobforge.Error to an HTTP status and writes the body;
// anything that isn't a jobforge.Error is a 500.
func (h *Handler) fail(c *gin.Context, err error) {
	code, ok := jobforge.CodeOf(err)
	if !ok {
		h.log.Errorw("unmapped error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL", "message": "internal error"})
		return
	}
	c.JSON(codeToStatus(code), gin.H{"error": string(code), "message": err.Error()})
}

func codeToStatus(code jobforge.Code) int {
	switch code {
	case jobforge.CodeNotFound:
		return http.StatusNotFound
	case jobforge.CodeForbidden, jobforge.CodeAdminRequired:
		return http.StatusForbidden
	case jobforge.CodeAuthRequired:
		return http.StatusUnauthorized
	case jobforge.CodeDuplicate, jobforge.CodeRefusedActive:
		return http.StatusConflict
	case jobforge.CodeValidation, jobforge.CodeInvalidQueue, jobforge.CodeInvalidJobType,
		jobforge.CodeInvalidDelay, jobforge.CodeInvalidCron, jobforge.CodePayloadTooLarge,
		jobforge.CodeInvalidConfig, jobforge.CodeNotRetriable, jobforge.CodeNotTriggerable:
		return http.StatusBadRequest
	case jobforge.CodeStoreUnavailable, jobforge.CodeBrokerUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PostSubmit enqueues a new job.
// @Summary Submit a job
// @Tags Jobs
// @Accept json
// @Produce json
// @Param request body SubmitRequest true "job to submit"
// @Success 201 {object} SubmitResponse
// @Failure 400 {object} map[string]string
// @Router /jobs [post]
func (h *Handler) PostSubmit(c *gin.Context) {
	var req SubmitRequest
	if !h.bindJSON(c, &req) {
		return
	}
	id, err := h.control.Submit(c.Request.Context(), req.Queue, req.Type, req.Payload, jobforge.SubmitOptions{
		ID:          req.ID,
		Owner:       middleware.Owner(c),
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
		DelayMS:     req.DelayMS,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, SubmitResponse{ID: id})
}

// GetInspect returns one job's merged Store/Broker view.
// @Summary Inspect a job
// @Tags Jobs
// @Produce json
// @Param id path string true "job id"
// @Success 200 {object} jobforge.JobView
// @Failure 404 {object} map[string]string
// @Router /jobs/{id} [get]
func (h *Handler) GetInspect(c *gin.Context) {
	view, err := h.control.Inspect(c.Request.Context(), c.Param("id"), middleware.Owner(c), middleware.IsAdmin(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// PostCancel cancels a waiting/delayed job.
// @Summary Cancel a job
// @Tags Jobs
// @Produce json
// @Param id path string true "job id"
// @Success 204
// @Failure 409 {object} map[string]string
// @Router /jobs/{id}/cancel [post]
func (h *Handler) PostCancel(c *gin.Context) {
	if err := h.control.Cancel(c.Request.Context(), c.Param("id"), middleware.Owner(c), middleware.IsAdmin(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PostRetry resubmits a failed job under a new id.
// @Summary Retry a failed job
// @Tags Jobs
// @Produce json
// @Param id path string true "job id"
// @Success 201 {object} SubmitResponse
// @Failure 400 {object} map[string]string
// @Router /jobs/{id}/retry [post]
func (h *Handler) PostRetry(c *gin.Context) {
	newID, err := h.control.Retry(c.Request.Context(), c.Param("id"), middleware.Owner(c), middleware.IsAdmin(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, SubmitResponse{ID: newID})
}

// PostBulkCancel cancels a batch of jobs, reporting a per-id outcome.
// @Summary Bulk-cancel jobs
// @Tags Jobs
// @Accept json
// @Produce json
// @Param request body BulkCancelRequest true "ids to cancel"
// @Success 200 {array} control.BulkOutcome
// @Router /jobs/bulk-cancel [post]
func (h *Handler) PostBulkCancel(c *gin.Context) {
	var req BulkCancelRequest
	if !h.bindJSON(c, &req) {
		return
	}
	outcomes := h.control.BulkCancel(c.Request.Context(), req.IDs, middleware.Owner(c), middleware.IsAdmin(c))
	c.JSON(http.StatusOK, outcomes)
}

// GetListForOwner lists the caller's own jobs.
// @Summary List my jobs
// @Tags Jobs
// @Produce json
// @Success 200 {object} jobforge.PageResult
// @Router /jobs [get]
func (h *Handler) GetListForOwner(c *gin.Context) {
	var q ListQuery
	_ = c.ShouldBindQuery(&q)
	result, err := h.control.ListForOwner(c.Request.Context(), middleware.Owner(c), q.toFilter(), q.toPage())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetListForQueue lists jobs in a queue, admin-only.
// @Summary List jobs in a queue
// @Tags Admin
// @Produce json
// @Param queue path string true "queue name"
// @Success 200 {object} jobforge.PageResult
// @Router /admin/queues/{queue}/jobs [get]
func (h *Handler) GetListForQueue(c *gin.Context) {
	var q ListQuery
	_ = c.ShouldBindQuery(&q)
	result, err := h.control.ListForQueue(c.Request.Context(), c.Param("queue"), q.toFilter(), q.toPage())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetQueueList lists every registered queue with live sizes, admin-only.
// @Summary List queues
// @Tags Admin
// @Produce json
// @Success 200 {array} control.QueueEntry
// @Router /admin/queues [get]
func (h *Handler) GetQueueList(c *gin.Context) {
	entries, err := h.control.QueueList(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// GetQueueDetail returns one queue's descriptor, recent jobs, and a
// per-type rollup, admin-only.
// @Summary Queue detail
// @Tags Admin
// @Produce json
// @Param queue path string true "queue name"
// @Success 200 {object} control.QueueDetailResult
// @Failure 404 {object} map[string]string
// @Router /admin/queues/{queue} [get]
func (h *Handler) GetQueueDetail(c *gin.Context) {
	detail, err := h.control.QueueDetail(c.Request.Context(), c.Param("queue"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// PostPauseQueue stops a queue from reserving new jobs, admin-only.
// @Summary Pause a queue
// @Tags Admin
// @Param queue path string true "queue name"
// @Success 204
// @Router /admin/queues/{queue}/pause [post]
func (h *Handler) PostPauseQueue(c *gin.Context) {
	if err := h.control.PauseQueue(c.Request.Context(), c.Param("queue")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PostResumeQueue re-enables reservation on a queue, admin-only.
// @Summary Resume a queue
// @Tags Admin
// @Param queue path string true "queue name"
// @Success 204
// @Router /admin/queues/{queue}/resume [post]
func (h *Handler) PostResumeQueue(c *gin.Context) {
	if err := h.control.ResumeQueue(c.Request.Context(), c.Param("queue")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PostCleanQueue hard-deletes terminal jobs older than the given
// window, admin-only.
// @Summary Clean a queue
// @Tags Admin
// @Accept json
// @Produce json
// @Param queue path string true "queue name"
// @Param request body CleanQueueRequest true "retention window"
// @Success 200 {object} map[string]int64
// @Router /admin/queues/{queue}/clean [post]
func (h *Handler) PostCleanQueue(c *gin.Context) {
	var req CleanQueueRequest
	if !h.bindJSON(c, &req) {
		return
	}
	removed, err := h.control.CleanQueue(c.Request.Context(), c.Param("queue"), parseOlderThan(req.OlderThanHours), jobforge.Status(req.Status))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// PutQueueConfig overwrites a queue's mutable configuration, admin-only.
// @Summary Update queue config
// @Tags Admin
// @Accept json
// @Produce json
// @Param queue path string true "queue name"
// @Param request body UpdateConfigRequest true "new configuration"
// @Success 200 {object} jobforge.QueueDescriptor
// @Failure 400 {object} map[string]string
// @Router /admin/queues/{queue}/config [put]
func (h *Handler) PutQueueConfig(c *gin.Context) {
	var req UpdateConfigRequest
	if !h.bindJSON(c, &req) {
		return
	}
	desc, err := h.control.UpdateQueueConfig(c.Request.Context(), c.Param("queue"), jobforge.QueueConfig{
		Concurrency:     req.Concurrency,
		RetryAttempts:   req.RetryAttempts,
		RetryDelayMS:    req.RetryDelayMS,
		RetainCompleted: req.RetainCompleted,
		RetainFailed:    req.RetainFailed,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, desc)
}

// PostScheduleDelayed submits a job to fire after a delay.
// @Summary Schedule a delayed job
// @Tags Schedules
// @Accept json
// @Produce json
// @Param request body ScheduleDelayedRequest true "delayed job"
// @Success 201 {object} SubmitResponse
// @Router /schedules/delayed [post]
func (h *Handler) PostScheduleDelayed(c *gin.Context) {
	var req ScheduleDelayedRequest
	if !h.bindJSON(c, &req) {
		return
	}
	id, err := h.control.ScheduleDelayed(c.Request.Context(), req.Queue, req.Type, req.Payload, req.DelayMS, middleware.Owner(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, SubmitResponse{ID: id})
}

// PostScheduleRepeating registers a recurring cron entry under a
// system-generated name, admin-only.
// @Summary Register a recurring schedule
// @Tags Schedules
// @Accept json
// @Produce json
// @Param request body ScheduleRepeatingRequest true "recurring schedule"
// @Success 201 {object} ScheduleRepeatingResponse
// @Failure 400 {object} map[string]string
// @Router /admin/schedules [post]
func (h *Handler) PostScheduleRepeating(c *gin.Context) {
	var req ScheduleRepeatingRequest
	if !h.bindJSON(c, &req) {
		return
	}
	name, err := h.control.ScheduleRepeating(c.Request.Context(), req.Queue, req.Type, req.Payload, req.Expression, middleware.Owner(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ScheduleRepeatingResponse{Name: name})
}

// DeleteSchedule cancels a registered cron entry, admin-only.
// @Summary Unschedule a recurring job
// @Tags Schedules
// @Param name path string true "schedule name"
// @Success 204
// @Router /admin/schedules/{name} [delete]
func (h *Handler) DeleteSchedule(c *gin.Context) {
	if err := h.control.UnscheduleRepeating(c.Request.Context(), c.Param("name")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetListSchedules lists every registered cron entry, admin-only.
// @Summary List recurring schedules
// @Tags Schedules
// @Produce json
// @Success 200 {array} scheduler.ScheduleView
// @Router /admin/schedules [get]
func (h *Handler) GetListSchedules(c *gin.Context) {
	schedules, err := h.control.ListSchedules(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, schedules)
}

// PostTriggerScheduled manually fires a registered cron entry, admin-only.
// @Summary Trigger a recurring schedule now
// @Tags Schedules
// @Produce json
// @Param name path string true "schedule name"
// @Success 201 {object} SubmitResponse
// @Failure 400 {object} map[string]string
// @Router /admin/schedules/{name}/trigger [post]
func (h *Handler) PostTriggerScheduled(c *gin.Context) {
	id, err := h.control.TriggerScheduled(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, SubmitResponse{ID: id})
}

// GetMetrics reports hourly completed/failed counts and mean
// processing time, optionally scoped to one queue.
// @Summary Job metrics
// @Tags Admin
// @Produce json
// @Param queue query string false "queue name"
// @Param window_hours query int false "lookback window in hours"
// @Success 200 {object} jobforge.MetricsReport
// @Router /admin/metrics [get]
func (h *Handler) GetMetrics(c *gin.Context) {
	windowHours, _ := strconv.Atoi(c.Query("window_hours"))
	report, err := h.control.Metrics(c.Request.Context(), c.Query("queue"), windowHours)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetHealthSummary reports overall and per-queue health.
// @Summary Orchestrator health summary
// @Tags Admin
// @Produce json
// @Success 200 {object} jobforge.HealthSummary
// @Router /admin/health-summary [get]
func (h *Handler) GetHealthSummary(c *gin.Context) {
	summary, err := h.control.HealthSummary(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
