// Package store persists scrape jobs, tasks and the engagement data they
// produce. The queue worker consumes it through the Store interface so tests
// can substitute an in-memory implementation.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence contract consumed by the queue worker and the
// service surface. Each task owns disjoint rows, so per-record updates are
// enough; no multi-record transactions are required beyond job creation.
type Store interface {
	// CreateJobWithTasks atomically inserts a job and one task per target.
	CreateJobWithTasks(ctx context.Context, campaignID string, targets []SocialLink) (*Job, []Task, error)
	// ActiveJobForCampaign returns the non-terminal job for a campaign, or
	// ErrNotFound when none exists.
	ActiveJobForCampaign(ctx context.Context, campaignID string) (*Job, error)
	// GetJob returns a job by ID.
	GetJob(ctx context.Context, id string) (*Job, error)
	// GetActiveJobs returns every job not yet in a terminal state.
	GetActiveJobs(ctx context.Context) ([]Job, error)
	// UpdateJobStatus sets a job's status and, for terminal states, its
	// completion time.
	UpdateJobStatus(ctx context.Context, id string, status JobStatus, completedAt *time.Time) error

	// GetQueuedTasks returns up to limit queued tasks ordered by ID ascending.
	GetQueuedTasks(ctx context.Context, limit int) ([]Task, error)
	// GetTasksByJob returns all tasks under a job, ordered by ID ascending.
	GetTasksByJob(ctx context.Context, jobID string) ([]Task, error)
	// UpdateTask applies a partial update to one task.
	UpdateTask(ctx context.Context, id string, fields map[string]interface{}) error
	// CountTasks aggregates task states under one job.
	CountTasks(ctx context.Context, jobID string) (TaskCounts, error)

	// GetScrapableLinks returns the campaign's links that carry a real URL.
	GetScrapableLinks(ctx context.Context, campaignID string) ([]SocialLink, error)
	// UpdateLinkMetrics overwrites a link's live metrics after a successful
	// scrape and clears any previous error state.
	UpdateLinkMetrics(ctx context.Context, linkID string, views, likes, comments, shares int64, engagementRate float64) error
	// MarkLinkError flags a link whose target permanently failed.
	MarkLinkError(ctx context.Context, linkID, message string) error
	// AppendEngagementSnapshot records one historical metrics data point.
	AppendEngagementSnapshot(ctx context.Context, linkID string, views, likes, comments, shares int64, engagementRate float64) error
}

// GormStore implements Store on top of a GORM database handle.
type GormStore struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewGormStore creates a Store backed by the given database connection.
func NewGormStore(db *gorm.DB, logger *logrus.Logger) *GormStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &GormStore{db: db, logger: logger}
}

// CreateJobWithTasks inserts the job and its tasks in one transaction so a
// half-created batch can never be observed by the worker.
func (s *GormStore) CreateJobWithTasks(ctx context.Context, campaignID string, targets []SocialLink) (*Job, []Task, error) {
	job := &Job{
		ID:         uuid.New().String(),
		CampaignID: campaignID,
		Status:     JobQueued,
		CreatedAt:  time.Now(),
	}

	tasks := make([]Task, 0, len(targets))
	for _, target := range targets {
		tasks = append(tasks, Task{
			ID:       uuid.New().String(),
			JobID:    job.ID,
			LinkID:   target.ID,
			URL:      target.URL,
			Platform: target.Platform,
			Status:   TaskQueued,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}
		if len(tasks) > 0 {
			if err := tx.Create(&tasks).Error; err != nil {
				return fmt.Errorf("failed to create tasks: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"job_id":      job.ID,
		"campaign_id": campaignID,
		"task_count":  len(tasks),
	}).Info("Created scrape job")

	return job, tasks, nil
}

func (s *GormStore) ActiveJobForCampaign(ctx context.Context, campaignID string) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND status IN ?", campaignID, []JobStatus{JobQueued, JobRunning}).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active job: %w", err)
	}
	return &job, nil
}

func (s *GormStore) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	return &job, nil
}

func (s *GormStore) GetActiveJobs(ctx context.Context) ([]Job, error) {
	var jobs []Job
	err := s.db.WithContext(ctx).
		Where("status IN ?", []JobStatus{JobQueued, JobRunning}).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query active jobs: %w", err)
	}
	return jobs, nil
}

func (s *GormStore) UpdateJobStatus(ctx context.Context, id string, status JobStatus, completedAt *time.Time) error {
	fields := map[string]interface{}{"status": status}
	if completedAt != nil {
		fields["completed_at"] = completedAt
	}

	err := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", id).Updates(fields).Error
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

func (s *GormStore) GetQueuedTasks(ctx context.Context, limit int) ([]Task, error) {
	var tasks []Task
	err := s.db.WithContext(ctx).
		Where("status = ?", TaskQueued).
		Order("id ASC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query queued tasks: %w", err)
	}
	return tasks, nil
}

func (s *GormStore) GetTasksByJob(ctx context.Context, jobID string) ([]Task, error) {
	var tasks []Task
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query job tasks: %w", err)
	}
	return tasks, nil
}

func (s *GormStore) UpdateTask(ctx context.Context, id string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	err := s.db.WithContext(ctx).Model(&Task{}).Where("id = ?", id).Updates(fields).Error
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

func (s *GormStore) CountTasks(ctx context.Context, jobID string) (TaskCounts, error) {
	var rows []struct {
		Status TaskStatus
		N      int64
	}
	err := s.db.WithContext(ctx).Model(&Task{}).
		Select("status, count(*) as n").
		Where("job_id = ?", jobID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return TaskCounts{}, fmt.Errorf("failed to count tasks: %w", err)
	}

	var counts TaskCounts
	for _, row := range rows {
		counts.Total += row.N
		switch row.Status {
		case TaskSuccess:
			counts.Succeeded += row.N
			counts.Completed += row.N
		case TaskFailed:
			counts.Failed += row.N
			counts.Completed += row.N
		}
	}
	return counts, nil
}

func (s *GormStore) GetScrapableLinks(ctx context.Context, campaignID string) ([]SocialLink, error) {
	var links []SocialLink
	err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND url <> '' AND url <> '#'", campaignID).
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	return links, nil
}

func (s *GormStore) UpdateLinkMetrics(ctx context.Context, linkID string, views, likes, comments, shares int64, engagementRate float64) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&SocialLink{}).Where("id = ?", linkID).Updates(map[string]interface{}{
		"views":           views,
		"likes":           likes,
		"comments":        comments,
		"shares":          shares,
		"engagement_rate": engagementRate,
		"status":          LinkActive,
		"last_error":      "",
		"last_scraped_at": now,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update link metrics: %w", err)
	}
	return nil
}

func (s *GormStore) MarkLinkError(ctx context.Context, linkID, message string) error {
	err := s.db.WithContext(ctx).Model(&SocialLink{}).Where("id = ?", linkID).Updates(map[string]interface{}{
		"status":     LinkError,
		"last_error": message,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to mark link error: %w", err)
	}
	return nil
}

func (s *GormStore) AppendEngagementSnapshot(ctx context.Context, linkID string, views, likes, comments, shares int64, engagementRate float64) error {
	snapshot := EngagementSnapshot{
		LinkID:         linkID,
		Views:          views,
		Likes:          likes,
		Comments:       comments,
		Shares:         shares,
		EngagementRate: engagementRate,
		RecordedAt:     time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&snapshot).Error; err != nil {
		return fmt.Errorf("failed to append engagement snapshot: %w", err)
	}
	return nil
}
