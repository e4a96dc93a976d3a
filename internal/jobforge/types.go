// Package jobforge holds the domain types shared by the Store, Broker,
// Worker Pool, Scheduler, and Control Plane: the Job record, the Queue
// descriptor, and the status enum that the state machine moves
// through. No component-specific logic lives here.
package jobforge

import (
	"encoding/json"
	"time"
)

// Status is a job's position in the state machine.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStalled   Status = "stalled"
)

// Registry is the fixed set of queue names the orchestrator accepts.
// Adding a queue is a configuration change, never a runtime operation.
var Registry = []string{
	"business-discovery",
	"instagram-detection",
	"video-scraping",
	"video-analysis",
	"report-generation",
	"file-processing",
	"cleanup",
	"notifications",
}

// IsRegisteredQueue reports whether name is one of the fixed queues.
func IsRegisteredQueue(name string) bool {
	for _, q := range Registry {
		if q == name {
			return true
		}
	}
	return false
}

// Job is one record per submission, the authoritative unit the Store
// persists and the Broker schedules.
type Job struct {
	ID                string          `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Queue             string          `json:"queue" gorm:"index:idx_jobs_queue_status;type:varchar(64);not null"`
	Type              string          `json:"type" gorm:"type:varchar(64);not null"`
	Payload           json.RawMessage `json:"payload" gorm:"type:jsonb"`
	Owner             string          `json:"owner,omitempty" gorm:"index;type:varchar(128)"`
	Status            Status          `json:"status" gorm:"index:idx_jobs_queue_status;type:varchar(16);not null"`
	Priority          int             `json:"priority"`
	Attempts          int             `json:"attempts"`
	MaxAttempts       int             `json:"max_attempts"`
	DelayUntil        *time.Time      `json:"delay_until,omitempty"`
	Result            json.RawMessage `json:"result,omitempty" gorm:"type:jsonb"`
	Error             string          `json:"error,omitempty" gorm:"type:text"`
	ProcessingTimeMS  int64           `json:"processing_time_ms,omitempty"`
	RetriedAs         string          `json:"retried_as,omitempty" gorm:"type:varchar(64)"`
	CreatedAt         time.Time       `json:"created_at" gorm:"index"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	FailedAt          *time.Time      `json:"failed_at,omitempty"`
	StalledAt         *time.Time      `json:"stalled_at,omitempty"`
}

// Placement is where a job currently sits in the Broker's runtime
// sets, merged into Inspect's view alongside the Store record.
type Placement string

const (
	PlacementWaiting  Placement = "waiting"
	PlacementDelayed  Placement = "delayed"
	PlacementInFlight Placement = "in_flight"
	PlacementTerminal Placement = "terminal"
)

// JobView is the Control Plane's Inspect result: the Store record
// merged with its live Broker placement.
type JobView struct {
	Job
	Placement Placement `json:"placement"`
}

// QueueConfig is the mutable, per-queue tuning the Control Plane can
// update at runtime.
type QueueConfig struct {
	Concurrency     int   `json:"concurrency"`
	RetryAttempts   int   `json:"retry_attempts"`
	RetryDelayMS    int64 `json:"retry_delay_ms"`
	RetainCompleted int   `json:"retain_completed"`
	RetainFailed    int   `json:"retain_failed"`
}

// HealthStatus is a queue's health evaluation, as recomputed by the
// Scheduler's metrics refresh task.
type HealthStatus string

const (
	HealthHealthy HealthStatus = "healthy"
	HealthWarning HealthStatus = "warning"
	HealthError   HealthStatus = "error"
)

// QueueDescriptor is one record per named queue: its pause flag,
// tunable configuration, and the aggregates the Scheduler refreshes.
type QueueDescriptor struct {
	Name                 string       `json:"name" gorm:"primaryKey;type:varchar(64)"`
	Description          string       `json:"description" gorm:"type:text"`
	IsActive             bool         `json:"is_active" gorm:"not null;default:true"`
	Configuration        QueueConfig  `json:"configuration" gorm:"embedded;embeddedPrefix:cfg_"`
	ProcessingRatePerMin float64      `json:"processing_rate_per_min"`
	AvgProcessingTimeMS  float64      `json:"avg_processing_time_ms"`
	LastProcessedAt      *time.Time   `json:"last_processed_at,omitempty"`
	HealthStatus         HealthStatus `json:"health_status" gorm:"type:varchar(16)"`
	LastHealthCheck      *time.Time   `json:"last_health_check,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// QueueSizes are the live Broker counts merged into QueueList/Detail.
type QueueSizes struct {
	Waiting  int64 `json:"waiting"`
	Active   int64 `json:"active"`
	Delayed  int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed   int64 `json:"failed"`
}

// Filter narrows a Query/ListFor* call over the Job Store.
type Filter struct {
	Owner         string
	Queue         string
	Type          string
	Status        Status
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// Page is offset/limit pagination with the total row count, used by
// every listing operation.
type Page struct {
	Offset int
	Limit  int
}

// PageResult wraps a page of jobs with the total matching count.
type PageResult struct {
	Jobs  []Job `json:"jobs"`
	Total int64 `json:"total"`
}

// AggregateRow is one group-by bucket from Store.Aggregate.
type AggregateRow struct {
	Status              Status  `json:"status"`
	Queue               string  `json:"queue"`
	Type                string  `json:"type"`
	Count               int64   `json:"count"`
	AvgProcessingTimeMS float64 `json:"avg_processing_time_ms"`
}

// SubmitOptions carries the optional fields a producer may set on Submit.
type SubmitOptions struct {
	ID          string
	Owner       string
	Priority    int
	MaxAttempts int
	DelayMS     int64
}

// CronEntry is an admin-registered recurring submission template.
type CronEntry struct {
	Name       string          `json:"name" gorm:"primaryKey;type:varchar(128)"`
	Queue      string          `json:"queue" gorm:"type:varchar(64);not null"`
	Type       string          `json:"type" gorm:"type:varchar(64);not null"`
	Payload    json.RawMessage `json:"payload" gorm:"type:jsonb"`
	Expression string          `json:"expression" gorm:"type:varchar(64);not null"`
	Owner      string          `json:"owner,omitempty" gorm:"type:varchar(128)"`
	CreatedAt  time.Time       `json:"created_at"`
}

// MetricsBucket is one hourly bucket in a Metrics response.
type MetricsBucket struct {
	HourStart time.Time `json:"hour_start"`
	Completed int64     `json:"completed"`
	Failed    int64     `json:"failed"`
	AvgMS     float64   `json:"avg_processing_time_ms"`
}

// MetricsReport is the Control Plane's Metrics operation result.
type MetricsReport struct {
	Queue    string          `json:"queue,omitempty"`
	Hourly   []MetricsBucket `json:"hourly_buckets"`
	Overall  MetricsBucket   `json:"overall"`
}

// QueueHealth is one queue's entry in a HealthSummary.
type QueueHealth struct {
	Queue  string       `json:"queue"`
	Status HealthStatus `json:"status"`
}

// HealthSummary is the Control Plane's system-wide health snapshot.
type HealthSummary struct {
	Overall  HealthStatus  `json:"overall"`
	PerQueue []QueueHealth `json:"per_queue"`
}
