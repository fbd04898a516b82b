package store

import (
	"time"

	"github.com/pulsetrack/scraper-go/pkg/providers"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Terminal reports whether the job status is final. Terminal jobs are never
// reopened; a new re-scrape creates a new job.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// TaskStatus represents the lifecycle state of a single scrape task.
type TaskStatus string

const (
	TaskQueued       TaskStatus = "queued"
	TaskRunning      TaskStatus = "running"
	TaskPendingRetry TaskStatus = "pending_retry"
	TaskSuccess      TaskStatus = "success"
	TaskFailed       TaskStatus = "failed"
)

// Terminal reports whether the task status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskSuccess || s == TaskFailed
}

// LinkStatus is the user-visible state of a tracked social link.
type LinkStatus string

const (
	LinkActive LinkStatus = "active"
	LinkError  LinkStatus = "error"
)

// Job is one batch of scraping work tied to a campaign. At most one
// non-terminal job exists per campaign at a time, enforced at enqueue.
type Job struct {
	ID          string     `gorm:"primaryKey;column:id"`
	CampaignID  string     `gorm:"column:campaign_id;not null;index"`
	Status      JobStatus  `gorm:"column:status;not null;default:queued"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
}

// TableName specifies the table name for the Job model
func (Job) TableName() string {
	return "scrape_jobs"
}

// Task is one scrape attempt target under a job. Mutated exclusively by the
// queue worker; attempts never exceeds the configured cap.
type Task struct {
	ID       string             `gorm:"primaryKey;column:id"`
	JobID    string             `gorm:"column:job_id;not null;index"`
	LinkID   string             `gorm:"column:link_id;not null"`
	URL      string             `gorm:"column:url;not null"`
	Platform providers.Platform `gorm:"column:platform;not null"`
	Status   TaskStatus         `gorm:"column:status;not null;default:queued;index"`
	Attempts int                `gorm:"column:attempts;default:0"`

	LastError     *string            `gorm:"column:last_error"`
	ResultMetrics *providers.Metrics `gorm:"column:result_metrics;type:jsonb;serializer:json"`

	CreatedAt time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the Task model
func (Task) TableName() string {
	return "scrape_tasks"
}

// SocialLink is a tracked post whose live metrics this subsystem maintains.
// The surrounding dashboard owns creation and deletion; the worker updates
// metrics and status.
type SocialLink struct {
	ID         string             `gorm:"primaryKey;column:id"`
	CampaignID string             `gorm:"column:campaign_id;not null;index"`
	URL        string             `gorm:"column:url"`
	Platform   providers.Platform `gorm:"column:platform"`
	Status     LinkStatus         `gorm:"column:status;default:active"`
	LastError  string             `gorm:"column:last_error"`

	// Live metrics, overwritten on every successful scrape
	Views          int64   `gorm:"column:views;default:0"`
	Likes          int64   `gorm:"column:likes;default:0"`
	Comments       int64   `gorm:"column:comments;default:0"`
	Shares         int64   `gorm:"column:shares;default:0"`
	EngagementRate float64 `gorm:"column:engagement_rate;default:0"`

	LastScrapedAt *time.Time `gorm:"column:last_scraped_at"`
}

// TableName specifies the table name for the SocialLink model
func (SocialLink) TableName() string {
	return "social_links"
}

// Scrapable reports whether the link has a real URL worth scraping.
func (l SocialLink) Scrapable() bool {
	return l.URL != "" && l.URL != "#"
}

// EngagementSnapshot is one historical metrics data point for a link,
// appended on every successful scrape so the dashboard can chart growth.
type EngagementSnapshot struct {
	ID             uint      `gorm:"primaryKey;autoIncrement;column:id"`
	LinkID         string    `gorm:"column:link_id;not null;index"`
	Views          int64     `gorm:"column:views"`
	Likes          int64     `gorm:"column:likes"`
	Comments       int64     `gorm:"column:comments"`
	Shares         int64     `gorm:"column:shares"`
	EngagementRate float64   `gorm:"column:engagement_rate"`
	RecordedAt     time.Time `gorm:"column:recorded_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the EngagementSnapshot model
func (EngagementSnapshot) TableName() string {
	return "engagement_snapshots"
}

// TaskCounts aggregates task states under one job. Job status recomputation
// is a pure function of these counts.
type TaskCounts struct {
	Total     int64
	Completed int64 // tasks in a terminal state
	Succeeded int64
	Failed    int64
}
