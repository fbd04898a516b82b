package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pulsetrack/scraper-go/pkg/orchestrator"
	"github.com/pulsetrack/scraper-go/pkg/store"
)

// Sentinel errors surfaced to the application layer on enqueue.
var (
	// ErrJobAlreadyActive means a non-terminal job exists for the campaign.
	ErrJobAlreadyActive = errors.New("a scrape job is already active for this campaign")
	// ErrNothingToScrape means no link in the campaign carries a real URL.
	ErrNothingToScrape = errors.New("nothing to scrape: no link has a URL")
)

// EnqueueReceipt is returned to the caller after a successful enqueue.
type EnqueueReceipt struct {
	JobID     string `json:"jobId"`
	TaskCount int    `json:"taskCount"`
}

// JobProgress is the aggregate view of one job for status polling.
type JobProgress struct {
	Status          store.JobStatus `json:"status"`
	TotalTasks      int64           `json:"totalTasks"`
	CompletedTasks  int64           `json:"completedTasks"`
	SuccessfulTasks int64           `json:"successfulTasks"`
	FailedTasks     int64           `json:"failedTasks"`
}

// Service is the surface the surrounding application (CLI/API layer) calls.
// Enqueue is synchronous and fast (row inserts only); the scraping itself is
// background work observed through GetJobStatus.
type Service struct {
	store        store.Store
	orchestrator *orchestrator.Orchestrator
	logger       *logrus.Logger
}

// NewService creates the application-facing service.
func NewService(st store.Store, orch *orchestrator.Orchestrator, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{store: st, orchestrator: orch, logger: logger}
}

// Enqueue creates one job with one task per scrapable link in the campaign.
// Single-link re-scrapes go through here too, as one-task jobs; there is
// exactly one state machine in the system.
func (s *Service) Enqueue(ctx context.Context, campaignID string) (*EnqueueReceipt, error) {
	if _, err := s.store.ActiveJobForCampaign(ctx, campaignID); err == nil {
		return nil, ErrJobAlreadyActive
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check active jobs: %w", err)
	}

	links, err := s.store.GetScrapableLinks(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign links: %w", err)
	}
	if len(links) == 0 {
		return nil, ErrNothingToScrape
	}

	job, tasks, err := s.store.CreateJobWithTasks(ctx, campaignID, links)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"job_id":      job.ID,
		"campaign_id": campaignID,
		"task_count":  len(tasks),
	}).Info("Enqueued scrape job")

	return &EnqueueReceipt{JobID: job.ID, TaskCount: len(tasks)}, nil
}

// GetJobStatus returns the aggregate progress of one job.
func (s *Service) GetJobStatus(ctx context.Context, jobID string) (*JobProgress, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	counts, err := s.store.CountTasks(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to count job tasks: %w", err)
	}

	return &JobProgress{
		Status:          job.Status,
		TotalTasks:      counts.Total,
		CompletedTasks:  counts.Completed,
		SuccessfulTasks: counts.Succeeded,
		FailedTasks:     counts.Failed,
	}, nil
}

// GetTaskStatuses returns every task under a job for per-target progress
// display.
func (s *Service) GetTaskStatuses(ctx context.Context, jobID string) ([]store.Task, error) {
	return s.store.GetTasksByJob(ctx, jobID)
}

// ResetCircuitBreakers forces all provider breakers back to CLOSED.
func (s *Service) ResetCircuitBreakers() {
	s.orchestrator.ResetBreakers()
}

// ProviderStats exposes the accumulated per-provider counters.
func (s *Service) ProviderStats() map[string]orchestrator.Stats {
	return s.orchestrator.ProviderStats()
}
