// Package api wires the Control Plane onto a Gin router: request
// DTOs, validation, and the route table for jobforge's operation
// surface.
package api

import (
	"encoding/json"
	"time"

	"github.com/jobforge/jobforge/internal/jobforge"
)

// SubmitRequest is the request body for POST /jobs.
type SubmitRequest struct {
	Queue       string          `json:"queue" binding:"required"`
	Type        string          `json:"type" binding:"required"`
	Payload     json.RawMessage `json:"payload" binding:"required"`
	Priority    int             `json:"priority"`
	MaxAttempts int             `json:"max_attempts"`
	DelayMS     int64           `json:"delay_ms"`
	ID          string          `json:"id"`
}

// SubmitResponse is the response body for POST /jobs.
type SubmitResponse struct {
	ID string `json:"id"`
}

// BulkCancelRequest is the request body for POST /jobs/bulk-cancel.
type BulkCancelRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

// ListQuery captures the query-string filters shared by the listing
// endpoints.
type ListQuery struct {
	Queue  string `form:"queue"`
	Type   string `form:"type"`
	Status string `form:"status"`
	Offset int    `form:"offset"`
	Limit  int    `form:"limit"`
}

func (q ListQuery) toFilter() jobforge.Filter {
	f := jobforge.Filter{Queue: q.Queue, Type: q.Type}
	if q.Status != "" {
		f.Status = jobforge.Status(q.Status)
	}
	return f
}

func (q ListQuery) toPage() jobforge.Page {
	return jobforge.Page{Offset: q.Offset, Limit: q.Limit}
}

// UpdateConfigRequest is the request body for PUT /queues/:queue/config.
type UpdateConfigRequest struct {
	Concurrency     int   `json:"concurrency" binding:"required,min=1"`
	RetryAttempts   int   `json:"retry_attempts" binding:"required,min=1"`
	RetryDelayMS    int64 `json:"retry_delay_ms"`
	RetainCompleted int   `json:"retain_completed"`
	RetainFailed    int   `json:"retain_failed"`
}

// CleanQueueRequest is the request body for POST /queues/:queue/clean.
type CleanQueueRequest struct {
	OlderThanHours int    `json:"older_than_hours" binding:"required,min=1"`
	Status         string `json:"status"`
}

// ScheduleDelayedRequest is the request body for POST /schedules/delayed.
type ScheduleDelayedRequest struct {
	Queue   string          `json:"queue" binding:"required"`
	Type    string          `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload" binding:"required"`
	DelayMS int64           `json:"delay_ms" binding:"required,min=0"`
}

// ScheduleRepeatingRequest is the request body for POST /schedules/repeating.
type ScheduleRepeatingRequest struct {
	Queue      string          `json:"queue" binding:"required"`
	Type       string          `json:"type" binding:"required"`
	Payload    json.RawMessage `json:"payload" binding:"required"`
	Expression string          `json:"expression" binding:"required"`
}

// ScheduleRepeatingResponse is the response body for POST
// /schedules/repeating, carrying the system-generated entry name.
type ScheduleRepeatingResponse struct {
	Name string `json:"name"`
}

func parseOlderThan(hours int) time.Time {
	return time.Now().Add(-time.Duration(hours) * time.Hour)
}
