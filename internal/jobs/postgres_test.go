package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/imagery-cli/internal/model"
)

func TestPostgresQueue_EnqueueMany_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"enrichment_jobs"}, jobColumns).WillReturnResult(3)
	mock.ExpectCommit()

	q := NewPostgresQueue(mock)
	err = q.EnqueueMany(context.Background(), []model.EnrichmentJob{
		NewWorkerJob(model.EntityCity, "lisbon", false, "run-1"),
		NewWorkerJob(model.EntityCity, "porto", false, "run-1"),
		NewWorkerJob(model.EntityCountry, "pt", false, "run-1"),
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_EnqueueMany_CopyFailsRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"enrichment_jobs"}, jobColumns).WillReturnError(fmt.Errorf("duplicate key"))
	mock.ExpectRollback()

	q := NewPostgresQueue(mock)
	err = q.EnqueueMany(context.Background(), []model.EnrichmentJob{
		NewWorkerJob(model.EntityCity, "lisbon", false, "run-1"),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "jobs: enqueue")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_EnqueueMany_ShortCopy(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"enrichment_jobs"}, jobColumns).WillReturnResult(1)
	mock.ExpectRollback()

	q := NewPostgresQueue(mock)
	err = q.EnqueueMany(context.Background(), []model.EnrichmentJob{
		NewWorkerJob(model.EntityCity, "a", false, ""),
		NewWorkerJob(model.EntityCity, "b", false, ""),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "copied 1 of 2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_EnqueueMany_Empty(t *testing.T) {
	q := NewPostgresQueue(nil)
	assert.NoError(t, q.EnqueueMany(context.Background(), nil))
}

func TestPostgresQueue_EnqueueMany_MissingID(t *testing.T) {
	q := NewPostgresQueue(nil)
	err := q.EnqueueMany(context.Background(), []model.EnrichmentJob{{EntityID: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no id")
}

var claimColumns = []string{
	"id", "entity_id", "entity_type", "force", "parent_job_id", "job_role", "attempt", "max_attempts", "created_at",
}

func TestPostgresQueue_Claim(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	created := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, entity_id, entity_type .* FROM enrichment_jobs .* FOR UPDATE SKIP LOCKED`).
		WithArgs(pgxmock.AnyArg(), 10).
		WillReturnRows(pgxmock.NewRows(claimColumns).
			AddRow("j1", "lisbon", "city", false, "run-1", "worker", 0, 5, created).
			AddRow("j2", "", "", true, "", "coordinator", 2, 5, created))
	mock.ExpectExec(`UPDATE enrichment_jobs SET status = 'running'`).
		WithArgs([]string{"j1", "j2"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	q := NewPostgresQueue(mock)
	claimed, err := q.Claim(context.Background(), 10)

	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, model.EntityCity, claimed[0].EntityType)
	assert.Equal(t, "run-1", claimed[0].ParentJobID)
	assert.Equal(t, 1, claimed[0].Attempt)
	assert.Equal(t, model.JobRoleCoordinator, claimed[1].JobRole)
	assert.Equal(t, 3, claimed[1].Attempt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_Claim_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM enrichment_jobs`).
		WithArgs(pgxmock.AnyArg(), 20).
		WillReturnRows(pgxmock.NewRows(claimColumns))
	mock.ExpectCommit()

	claimed, err := NewPostgresQueue(mock).Claim(context.Background(), 20)
	require.NoError(t, err)
	assert.Empty(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_Claim_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM enrichment_jobs`).WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	_, err = NewPostgresQueue(mock).Claim(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jobs: claim")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_StatusUpdates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runAfter := time.Date(2026, 4, 1, 0, 5, 0, 0, time.UTC)
	mock.ExpectExec(`SET status = 'succeeded'`).WithArgs("j1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`SET status = 'queued', run_after = \$2`).WithArgs("j2", runAfter, "503").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`SET status = \$2`).WithArgs("j3", "failed", "not found").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`SET status = \$2`).WithArgs("j4", "dead", "all providers failed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	q := NewPostgresQueue(mock)
	ctx := context.Background()
	require.NoError(t, q.Complete(ctx, "j1"))
	require.NoError(t, q.Retry(ctx, "j2", runAfter, "503"))
	require.NoError(t, q.Fail(ctx, "j3", "not found"))
	require.NoError(t, q.MarkDead(ctx, "j4", "all providers failed"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_Dead(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	created := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`WHERE status = 'dead'`).WithArgs(50).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "entity_id", "entity_type", "parent_job_id", "job_role", "attempt", "max_attempts", "last_error", "created_at",
		}).AddRow("j9", "v1", "venue", "", "worker", 5, 5, "all providers failed", created))

	dead, err := NewPostgresQueue(mock).Dead(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, model.JobStatusDead, dead[0].Status)
	assert.Equal(t, "all providers failed", dead[0].LastError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_Counts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT status, count`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("queued", 4).
			AddRow("dead", 1))

	counts, err := NewPostgresQueue(mock).Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, counts[model.JobStatusQueued])
	assert.Equal(t, 1, counts[model.JobStatusDead])
	assert.NoError(t, mock.ExpectationsWereMet())
}
