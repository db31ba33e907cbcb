package jobs

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/imagery-cli/internal/db"
	"github.com/sells-group/imagery-cli/internal/model"
)

const jobsTable = "enrichment_jobs"

var jobColumns = []string{
	"id", "entity_id", "entity_type", "force", "parent_job_id", "job_role",
	"status", "attempt", "max_attempts", "run_after", "created_at", "updated_at",
}

// PostgresQueue is a Queue backed by the enrichment_jobs table. Claims use
// FOR UPDATE SKIP LOCKED so several worker processes can share it.
type PostgresQueue struct {
	pool db.Pool
	now  func() time.Time
}

// NewPostgresQueue creates a PostgresQueue.
func NewPostgresQueue(pool db.Pool) *PostgresQueue {
	return &PostgresQueue{pool: pool, now: time.Now}
}

// EnqueueMany copies jobs into the table inside one transaction.
func (q *PostgresQueue) EnqueueMany(ctx context.Context, jobs []model.EnrichmentJob) error {
	if len(jobs) == 0 {
		return nil
	}

	now := q.now().UTC()
	rows := make([][]any, len(jobs))
	for i, j := range jobs {
		if j.ID == "" {
			return eris.Errorf("jobs: job %d has no id", i)
		}
		var parent any
		if j.ParentJobID != "" {
			parent = j.ParentJobID
		}
		maxAttempts := j.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = DefaultMaxAttempts
		}
		runAfter := j.RunAfter
		if runAfter.IsZero() {
			runAfter = now
		}
		rows[i] = []any{
			j.ID, j.EntityID, string(j.EntityType), j.Force, parent, string(j.JobRole),
			string(model.JobStatusQueued), 0, maxAttempts, runAfter, now, now,
		}
	}

	return db.WithTx(ctx, q.pool, func(tx pgx.Tx) error {
		n, err := db.CopyFrom(ctx, tx, jobsTable, jobColumns, rows)
		if err != nil {
			return eris.Wrap(err, "jobs: enqueue")
		}
		if n != int64(len(rows)) {
			return eris.Errorf("jobs: enqueue copied %d of %d jobs", n, len(rows))
		}
		return nil
	})
}

const claimSQL = `
	SELECT id, entity_id, entity_type, force, COALESCE(parent_job_id, ''), job_role, attempt, max_attempts, created_at
	FROM enrichment_jobs
	WHERE status = 'queued' AND run_after <= $1
	ORDER BY run_after, created_at
	LIMIT $2
	FOR UPDATE SKIP LOCKED`

// Claim locks up to limit due jobs and marks them running.
func (q *PostgresQueue) Claim(ctx context.Context, limit int) ([]model.EnrichmentJob, error) {
	if limit <= 0 {
		limit = 1
	}

	var claimed []model.EnrichmentJob
	err := db.WithTx(ctx, q.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, claimSQL, q.now().UTC(), limit)
		if err != nil {
			return eris.Wrap(err, "jobs: claim")
		}
		for rows.Next() {
			var (
				j                model.EnrichmentJob
				entityType, role string
			)
			if err := rows.Scan(&j.ID, &j.EntityID, &entityType, &j.Force, &j.ParentJobID, &role,
				&j.Attempt, &j.MaxAttempts, &j.CreatedAt); err != nil {
				rows.Close()
				return eris.Wrap(err, "jobs: scan claimed job")
			}
			j.EntityType = model.EntityType(entityType)
			j.JobRole = model.JobRole(role)
			j.Attempt++
			j.Status = model.JobStatusRunning
			claimed = append(claimed, j)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return eris.Wrap(err, "jobs: iterate claimed jobs")
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]string, len(claimed))
		for i, j := range claimed {
			ids[i] = j.ID
		}
		_, err = tx.Exec(ctx, `
			UPDATE enrichment_jobs
			SET status = 'running', attempt = attempt + 1, updated_at = now()
			WHERE id = ANY($1)`,
			ids,
		)
		return eris.Wrap(err, "jobs: mark running")
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (q *PostgresQueue) Complete(ctx context.Context, id string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE enrichment_jobs
		SET status = 'succeeded', last_error = NULL, updated_at = now()
		WHERE id = $1`,
		id,
	)
	return eris.Wrapf(err, "jobs: complete %s", id)
}

func (q *PostgresQueue) Retry(ctx context.Context, id string, runAfter time.Time, lastErr string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE enrichment_jobs
		SET status = 'queued', run_after = $2, last_error = $3, updated_at = now()
		WHERE id = $1`,
		id, runAfter.UTC(), lastErr,
	)
	return eris.Wrapf(err, "jobs: retry %s", id)
}

func (q *PostgresQueue) Fail(ctx context.Context, id string, lastErr string) error {
	return q.finish(ctx, id, model.JobStatusFailed, lastErr)
}

func (q *PostgresQueue) MarkDead(ctx context.Context, id string, lastErr string) error {
	return q.finish(ctx, id, model.JobStatusDead, lastErr)
}

func (q *PostgresQueue) finish(ctx context.Context, id string, status model.JobStatus, lastErr string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE enrichment_jobs
		SET status = $2, last_error = $3, updated_at = now()
		WHERE id = $1`,
		id, string(status), lastErr,
	)
	return eris.Wrapf(err, "jobs: mark %s %s", status, id)
}

// Dead lists the most recent dead jobs.
func (q *PostgresQueue) Dead(ctx context.Context, limit int) ([]model.EnrichmentJob, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT id, entity_id, entity_type, COALESCE(parent_job_id, ''), job_role, attempt, max_attempts,
			COALESCE(last_error, ''), created_at
		FROM enrichment_jobs
		WHERE status = 'dead'
		ORDER BY updated_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: list dead")
	}
	defer rows.Close()

	var out []model.EnrichmentJob
	for rows.Next() {
		var (
			j                model.EnrichmentJob
			entityType, role string
		)
		if err := rows.Scan(&j.ID, &j.EntityID, &entityType, &j.ParentJobID, &role,
			&j.Attempt, &j.MaxAttempts, &j.LastError, &j.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "jobs: scan dead job")
		}
		j.EntityType = model.EntityType(entityType)
		j.JobRole = model.JobRole(role)
		j.Status = model.JobStatusDead
		out = append(out, j)
	}
	return out, eris.Wrap(rows.Err(), "jobs: iterate dead jobs")
}

// Counts returns the number of jobs per status.
func (q *PostgresQueue) Counts(ctx context.Context) (map[model.JobStatus]int, error) {
	rows, err := q.pool.Query(ctx, `SELECT status, count(*)::int FROM enrichment_jobs GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: count")
	}
	defer rows.Close()

	out := make(map[model.JobStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "jobs: scan count")
		}
		out[model.JobStatus(status)] = n
	}
	return out, eris.Wrap(rows.Err(), "jobs: iterate counts")
}
