package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/imagery-cli/internal/model"
)

// ProviderColumns are the providers columns written by UpsertProviders, in
// COPY order.
var ProviderColumns = []string{"name", "is_active", "capabilities", "priorities", "metadata", "updated_at"}

const providersStaging = "_providers_sync"

const createProvidersStaging = `CREATE TEMP TABLE _providers_sync (LIKE providers INCLUDING DEFAULTS) ON COMMIT DROP`

// Rows whose stored values already match are not touched, so updated_at
// only moves when a provider actually changed.
const mergeProviders = `
INSERT INTO providers (name, is_active, capabilities, priorities, metadata, updated_at)
SELECT name, is_active, capabilities, priorities, metadata, updated_at FROM _providers_sync
ON CONFLICT (name) DO UPDATE SET
	is_active    = EXCLUDED.is_active,
	capabilities = EXCLUDED.capabilities,
	priorities   = EXCLUDED.priorities,
	metadata     = EXCLUDED.metadata,
	updated_at   = EXCLUDED.updated_at
WHERE (providers.is_active, providers.capabilities, providers.priorities, providers.metadata)
	IS DISTINCT FROM (EXCLUDED.is_active, EXCLUDED.capabilities, EXCLUDED.priorities, EXCLUDED.metadata)`

// UpsertProviders syncs provider records into the providers table in one
// transaction: COPY into a staging table, then merge on name. It returns the
// number of providers inserted or changed. The batch is validated first; an
// invalid or duplicated record writes nothing.
func UpsertProviders(ctx context.Context, pool Pool, providers []model.Provider, now time.Time) (int64, error) {
	if len(providers) == 0 {
		return 0, nil
	}
	if err := model.ValidateProviders(providers); err != nil {
		return 0, eris.Wrap(err, "db: upsert providers")
	}

	rows := make([][]any, 0, len(providers))
	for _, p := range providers {
		caps, priorities, meta, err := p.JSONColumns()
		if err != nil {
			return 0, eris.Wrap(err, "db: upsert providers")
		}
		rows = append(rows, []any{p.Name, p.IsActive, caps, priorities, meta, now})
	}

	var changed int64
	err := WithTx(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createProvidersStaging); err != nil {
			return eris.Wrap(err, "db: upsert providers: create staging table")
		}
		n, err := CopyFrom(ctx, tx, providersStaging, ProviderColumns, rows)
		if err != nil {
			return err
		}
		if n != int64(len(rows)) {
			return eris.Errorf("db: upsert providers: staged %d of %d rows", n, len(rows))
		}
		tag, err := tx.Exec(ctx, mergeProviders)
		if err != nil {
			return eris.Wrap(err, "db: upsert providers: merge")
		}
		changed = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}
