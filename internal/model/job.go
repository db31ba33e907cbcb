package model

import "time"

// JobRole distinguishes planning jobs from per-entity jobs.
type JobRole string

const (
	JobRoleCoordinator JobRole = "coordinator"
	JobRoleWorker      JobRole = "worker"
)

// JobStatus represents where a job is in its lifecycle.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed" // terminal, not retried
	JobStatusDead      JobStatus = "dead"   // retries exhausted
)

// EnrichmentJob is the payload the coordinator hands to workers.
type EnrichmentJob struct {
	ID          string     `json:"id"`
	EntityID    string     `json:"entity_id"`
	EntityType  EntityType `json:"entity_type"`
	Force       bool       `json:"force,omitempty"`
	ParentJobID string     `json:"parent_job_id,omitempty"`
	JobRole     JobRole    `json:"job_role"`

	Status      JobStatus `json:"status,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	MaxAttempts int       `json:"max_attempts,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	RunAfter    time.Time `json:"run_after,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// CoordinatorResult is returned by a coordinator run.
type CoordinatorResult struct {
	RunID           string `json:"run_id,omitempty"`
	CitiesQueued    int    `json:"cities_queued"`
	CountriesQueued int    `json:"countries_queued"`
	TotalQueued     int    `json:"total_queued"`
}

// WorkerResult is returned by a worker job.
type WorkerResult struct {
	EntityID            string     `json:"entity_id"`
	EntityType          EntityType `json:"entity_type"`
	ImagesFetched       int        `json:"images_fetched,omitempty"`
	CategoriesRefreshed int        `json:"categories_refreshed,omitempty"`
	CategoriesFailed    []string   `json:"categories_failed,omitempty"`
	Skipped             bool       `json:"skipped"`
	Reason              string     `json:"reason,omitempty"`
	AgeDays             float64    `json:"age_days,omitempty"`
	TotalCost           float64    `json:"total_cost,omitempty"`
}
