package queue_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsetrack/scraper-go/pkg/providers"
	"github.com/pulsetrack/scraper-go/pkg/store"
)

// memStore is a mutex-guarded in-memory store.Store used to drive the
// worker deterministically in tests.
type memStore struct {
	mu        sync.Mutex
	jobs      map[string]*store.Job
	tasks     map[string]*store.Task
	links     map[string]*store.SocialLink
	snapshots map[string][]store.EngagementSnapshot
}

func newMemStore() *memStore {
	return &memStore{
		jobs:      make(map[string]*store.Job),
		tasks:     make(map[string]*store.Task),
		links:     make(map[string]*store.SocialLink),
		snapshots: make(map[string][]store.EngagementSnapshot),
	}
}

func (m *memStore) addLink(link store.SocialLink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := link
	m.links[link.ID] = &copied
}

func (m *memStore) task(id string) store.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.tasks[id]
}

func (m *memStore) job(id string) store.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memStore) link(id string) store.SocialLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.links[id]
}

func (m *memStore) snapshotCount(linkID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots[linkID])
}

func (m *memStore) CreateJobWithTasks(ctx context.Context, campaignID string, targets []store.SocialLink) (*store.Job, []store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := &store.Job{
		ID:         uuid.New().String(),
		CampaignID: campaignID,
		Status:     store.JobQueued,
		CreatedAt:  time.Now(),
	}
	m.jobs[job.ID] = job

	tasks := make([]store.Task, 0, len(targets))
	for i, target := range targets {
		task := store.Task{
			// Sortable IDs preserve FIFO ordering in GetQueuedTasks.
			ID:       fmt.Sprintf("%s-%04d", job.ID, i),
			JobID:    job.ID,
			LinkID:   target.ID,
			URL:      target.URL,
			Platform: target.Platform,
			Status:   store.TaskQueued,
		}
		copied := task
		m.tasks[task.ID] = &copied
		tasks = append(tasks, task)
	}

	return job, tasks, nil
}

func (m *memStore) ActiveJobForCampaign(ctx context.Context, campaignID string) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.CampaignID == campaignID && !job.Status.Terminal() {
			copied := *job
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) GetJob(ctx context.Context, id string) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (m *memStore) GetActiveJobs(ctx context.Context) ([]store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var jobs []store.Job
	for _, job := range m.jobs {
		if !job.Status.Terminal() {
			jobs = append(jobs, *job)
		}
	}
	return jobs, nil
}

func (m *memStore) UpdateJobStatus(ctx context.Context, id string, status store.JobStatus, completedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.Status = status
	if completedAt != nil {
		job.CompletedAt = completedAt
	}
	return nil
}

func (m *memStore) GetQueuedTasks(ctx context.Context, limit int) ([]store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tasks []store.Task
	for _, task := range m.tasks {
		if task.Status == store.TaskQueued {
			tasks = append(tasks, *task)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (m *memStore) GetTasksByJob(ctx context.Context, jobID string) ([]store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tasks []store.Task
	for _, task := range m.tasks {
		if task.JobID == jobID {
			tasks = append(tasks, *task)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

func (m *memStore) UpdateTask(ctx context.Context, id string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return store.ErrNotFound
	}

	for key, value := range fields {
		switch key {
		case "status":
			task.Status = value.(store.TaskStatus)
		case "attempts":
			task.Attempts = value.(int)
		case "last_error":
			if value == nil {
				task.LastError = nil
			} else {
				msg := value.(string)
				task.LastError = &msg
			}
		case "result_metrics":
			if value == nil {
				task.ResultMetrics = nil
			} else {
				task.ResultMetrics = value.(*providers.Metrics)
			}
		}
	}
	task.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) CountTasks(ctx context.Context, jobID string) (store.TaskCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var counts store.TaskCounts
	for _, task := range m.tasks {
		if task.JobID != jobID {
			continue
		}
		counts.Total++
		switch task.Status {
		case store.TaskSuccess:
			counts.Succeeded++
			counts.Completed++
		case store.TaskFailed:
			counts.Failed++
			counts.Completed++
		}
	}
	return counts, nil
}

func (m *memStore) GetScrapableLinks(ctx context.Context, campaignID string) ([]store.SocialLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var links []store.SocialLink
	for _, link := range m.links {
		if link.CampaignID == campaignID && link.Scrapable() {
			links = append(links, *link)
		}
	}
	sort.Slice(links, func(i, j int) bool { return links[i].ID < links[j].ID })
	return links, nil
}

func (m *memStore) UpdateLinkMetrics(ctx context.Context, linkID string, views, likes, comments, shares int64, engagementRate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.links[linkID]
	if !ok {
		return store.ErrNotFound
	}
	link.Views = views
	link.Likes = likes
	link.Comments = comments
	link.Shares = shares
	link.EngagementRate = engagementRate
	link.Status = store.LinkActive
	link.LastError = ""
	now := time.Now()
	link.LastScrapedAt = &now
	return nil
}

func (m *memStore) MarkLinkError(ctx context.Context, linkID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.links[linkID]
	if !ok {
		return store.ErrNotFound
	}
	link.Status = store.LinkError
	link.LastError = message
	return nil
}

func (m *memStore) AppendEngagementSnapshot(ctx context.Context, linkID string, views, likes, comments, shares int64, engagementRate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[linkID] = append(m.snapshots[linkID], store.EngagementSnapshot{
		LinkID:         linkID,
		Views:          views,
		Likes:          likes,
		Comments:       comments,
		Shares:         shares,
		EngagementRate: engagementRate,
		RecordedAt:     time.Now(),
	})
	return nil
}
