// Package store implements the Job Store: the durable, authoritative
// record of every job and queue descriptor, backed by GORM. Tests
// substitute gorm.io/driver/sqlite for gorm.io/driver/postgres.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/jobforge/jobforge/internal/jobforge"
	"github.com/jobforge/jobforge/internal/logger"
)

// Store wraps a *gorm.DB with the Job Store operations from the
// component design: Create/Get/Update/Query/Aggregate plus the two
// retention sweeps.
type Store struct {
	db  *gorm.DB
	log *logger.Logger
}

// New wraps an already-connected *gorm.DB.
func New(db *gorm.DB, log *logger.Logger) *Store {
	return &Store{db: db, log: log}
}

// Migrate creates or updates the jobs, queue_descriptors, and
// cron_entries tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&jobforge.Job{},
		&jobforge.QueueDescriptor{},
		&jobforge.CronEntry{},
	)
}

// Create inserts a new job record, failing with DUPLICATE if the id
// is already taken.
func (s *Store) Create(ctx context.Context, job *jobforge.Job) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		if isUniqueViolation(err) {
			return jobforge.NewError(jobforge.CodeDuplicate, fmt.Sprintf("job %s already exists", job.ID), err)
		}
		return jobforge.Wrap(jobforge.CodeStoreUnavailable, err, "create job %s", job.ID)
	}
	return nil
}

// Get loads a single job by id.
func (s *Store) Get(ctx context.Context, id string) (*jobforge.Job, error) {
	var job jobforge.Job
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, jobforge.NewError(jobforge.CodeNotFound, fmt.Sprintf("job %s not found", id), nil)
		}
		return nil, jobforge.Wrap(jobforge.CodeStoreUnavailable, err, "get job %s", id)
	}
	return &job, nil
}

// Update applies a restricted set of field patches atomically and
// returns the resulting record.
func (s *Store) Update(ctx context.Context, id string, patch map[string]interface{}) (*jobforge.Job, error) {
	tx := s.db.WithContext(ctx).Model(&jobforge.Job{}).Where("id = ?", id).Updates(patch)
	if tx.Error != nil {
		return nil, jobforge.Wrap(jobforge.CodeStoreUnavailable, tx.Error, "update job %s", id)
	}
	if tx.RowsAffected == 0 {
		return nil, jobforge.NewError(jobforge.CodeNotFound, fmt.Sprintf("job %s not found", id), nil)
	}
	return s.Get(ctx, id)
}

// Query filters and paginates jobs, sorted by created_at desc unless
// the caller overrides sortBy.
func (s *Store) Query(ctx context.Context, filter jobforge.Filter, sortBy string, page jobforge.Page) (jobforge.PageResult, error) {
	q := s.db.WithContext(ctx).Model(&jobforge.Job{})
	q = applyFilter(q, filter)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return jobforge.PageResult{}, jobforge.Wrap(jobforge.CodeStoreUnavailable, err, "count jobs")
	}

	if sortBy == "" {
		sortBy = "created_at desc"
	}
	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}

	var jobs []jobforge.Job
	if err := q.Order(sortBy).Offset(page.Offset).Limit(limit).Find(&jobs).Error; err != nil {
		return jobforge.PageResult{}, jobforge.Wrap(jobforge.CodeStoreUnavailable, err, "query jobs")
	}
	return jobforge.PageResult{Jobs: jobs, Total: total}, nil
}

func applyFilter(q *gorm.DB, f jobforge.Filter) *gorm.DB {
	if f.Owner != "" {
		q = q.Where("owner = ?", f.Owner)
	}
	if f.Queue != "" {
		q = q.Where("queue = ?", f.Queue)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.CreatedAfter != nil {
		q = q.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		q = q.Where("created_at <= ?", *f.CreatedBefore)
	}
	return q
}

// Aggregate groups jobs by status, queue, and type, returning counts
// and mean processing time per bucket.
func (s *Store) Aggregate(ctx context.Context, queue string) ([]jobforge.AggregateRow, error) {
	var rows []jobforge.AggregateRow
	q := s.db.WithContext(ctx).Model(&jobforge.Job{}).
		Select("status, queue, type, count(*) as count, avg(processing_time_ms) as avg_processing_time_ms").
		Group("status, queue, type")
	if queue != "" {
		q = q.Where("queue = ?", queue)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, jobforge.Wrap(jobforge.CodeStoreUnavailable, err, "aggregate jobs")
	}
	return rows, nil
}

// TrimRetention keeps the N most recent completed and M most recent
// failed jobs for a queue, deleting older terminal jobs.
func (s *Store) TrimRetention(ctx context.Context, queue string, keepCompleted, keepFailed int) (int64, error) {
	var removed int64
	for _, statusKeep := range []struct {
		status jobforge.Status
		keep   int
	}{
		{jobforge.StatusCompleted, keepCompleted},
		{jobforge.StatusFailed, keepFailed},
	} {
		var ids []string
		err := s.db.WithContext(ctx).Model(&jobforge.Job{}).
			Where("queue = ? AND status = ?", queue, statusKeep.status).
			Order("created_at desc").
			Offset(statusKeep.keep).
			Pluck("id", &ids).Error
		if err != nil {
			return removed, jobforge.Wrap(jobforge.CodeStoreUnavailable, err, "trim retention scan %s", queue)
		}
		if len(ids) == 0 {
			continue
		}
		tx := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&jobforge.Job{})
		if tx.Error != nil {
			return removed, jobforge.Wrap(jobforge.CodeStoreUnavailable, tx.Error, "trim retention delete %s", queue)
		}
		removed += tx.RowsAffected
	}
	return removed, nil
}

// DeleteIDs hard-deletes the given job ids, used by admin Clean.
func (s *Store) DeleteIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&jobforge.Job{})
	if tx.Error != nil {
		return 0, jobforge.Wrap(jobforge.CodeStoreUnavailable, tx.Error, "delete jobs")
	}
	return tx.RowsAffected, nil
}

// ExpireOlderThan hard-deletes terminal jobs created before cutoff.
func (s *Store) ExpireOlderThan(ctx context.Context, cutoff time.Time, terminalOnly bool) (int64, error) {
	q := s.db.WithContext(ctx).Where("created_at < ?", cutoff)
	if terminalOnly {
		q = q.Where("status IN ?", []jobforge.Status{jobforge.StatusCompleted, jobforge.StatusFailed})
	}
	tx := q.Delete(&jobforge.Job{})
	if tx.Error != nil {
		return 0, jobforge.Wrap(jobforge.CodeStoreUnavailable, tx.Error, "expire older than %s", cutoff)
	}
	return tx.RowsAffected, nil
}

// GetQueueDescriptor loads a descriptor, creating a default one
// lazily on first use.
func (s *Store) GetQueueDescriptor(ctx context.Context, name string) (*jobforge.QueueDescriptor, error) {
	var desc jobforge.QueueDescriptor
	err := s.db.WithContext(ctx).First(&desc, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		desc = jobforge.QueueDescriptor{
			Name:     name,
			IsActive: true,
			Configuration: jobforge.QueueConfig{
				Concurrency:     5,
				RetryAttempts:   3,
				RetryDelayMS:    2000,
				RetainCompleted: 1000,
				RetainFailed:    1000,
			},
			HealthStatus: jobforge.HealthHealthy,
		}
		if err := s.db.WithContext(ctx).Create(&desc).Error; err != nil {
			return nil, jobforge.Wrap(jobforge.CodeStoreUnavailable, err, "create default descriptor %s", name)
		}
		return &desc, nil
	}
	if err != nil {
		return nil, jobforge.Wrap(jobforge.CodeStoreUnavailable, err, "get descriptor %s", name)
	}
	return &desc, nil
}

// ListQueueDescriptors returns every descriptor known to the Store.
func (s *Store) ListQueueDescriptors(ctx context.Context) ([]jobforge.QueueDescriptor, error) {
	var descs []jobforge.QueueDescriptor
	if err := s.db.WithContext(ctx).Find(&descs).Error; err != nil {
		return nil, jobforge.Wrap(jobforge.CodeStoreUnavailable, err, "list descriptors")
	}
	return descs, nil
}

// SaveQueueDescriptor persists the full descriptor, used by
// UpdateQueueConfig, Pause/Resume, and the Scheduler's metrics refresh.
func (s *Store) SaveQueueDescriptor(ctx context.Context, desc *jobforge.QueueDescriptor) error {
	if err := s.db.WithContext(ctx).Save(desc).Error; err != nil {
		return jobforge.Wrap(jobforge.CodeStoreUnavailable, err, "save descriptor %s", desc.Name)
	}
	return nil
}

// CreateCronEntry registers a recurring submission template, failing
// with DUPLICATE if the name is already taken.
func (s *Store) CreateCronEntry(ctx context.Context, entry *jobforge.CronEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		if isUniqueViolation(err) {
			return jobforge.NewError(jobforge.CodeDuplicate, fmt.Sprintf("cron entry %s already exists", entry.Name), err)
		}
		return jobforge.Wrap(jobforge.CodeStoreUnavailable, err, "create cron entry %s", entry.Name)
	}
	return nil
}

// GetCronEntry loads a registered cron entry by name.
func (s *Store) GetCronEntry(ctx context.Context, name string) (*jobforge.CronEntry, error) {
	var entry jobforge.CronEntry
	if err := s.db.WithContext(ctx).First(&entry, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, jobforge.NewError(jobforge.CodeNotFound, fmt.Sprintf("cron entry %s not found", name), nil)
		}
		return nil, jobforge.Wrap(jobforge.CodeStoreUnavailable, err, "get cron entry %s", name)
	}
	return &entry, nil
}

// ListCronEntries returns every registered cron entry.
func (s *Store) ListCronEntries(ctx context.Context) ([]jobforge.CronEntry, error) {
	var entries []jobforge.CronEntry
	if err := s.db.WithContext(ctx).Find(&entries).Error; err != nil {
		return nil, jobforge.Wrap(jobforge.CodeStoreUnavailable, err, "list cron entries")
	}
	return entries, nil
}

// DeleteCronEntry removes a registered cron entry by name.
func (s *Store) DeleteCronEntry(ctx context.Context, name string) error {
	tx := s.db.Where("name = ?", name).Delete(&jobforge.CronEntry{})
	if tx.Error != nil {
		return jobforge.Wrap(jobforge.CodeStoreUnavailable, tx.Error, "delete cron entry %s", name)
	}
	if tx.RowsAffected == 0 {
		return jobforge.NewError(jobforge.CodeNotFound, fmt.Sprintf("cron entry %s not found", name), nil)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "23505")
}
