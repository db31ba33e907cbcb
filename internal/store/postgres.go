package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/imagery-cli/internal/db"
	"github.com/sells-group/imagery-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the per-job hot path.
var preparedStatements = map[string]string{
	"get_venue":       `SELECT id, name, COALESCE(city_id, ''), provider_ids, images, enrichment_metadata FROM venues WHERE id = $1`,
	"save_venue_meta": `UPDATE venues SET enrichment_metadata = $1 WHERE id = $2`,
	"save_venue":      `UPDATE venues SET enrichment_metadata = $1, images = $3 WHERE id = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Close is a no-op.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for the job queue.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS providers (
	name         TEXT PRIMARY KEY,
	is_active    BOOLEAN NOT NULL DEFAULT true,
	capabilities JSONB NOT NULL DEFAULT '{}',
	priorities   JSONB NOT NULL DEFAULT '{}',
	metadata     JSONB NOT NULL DEFAULT '{}',
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS countries (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	code         TEXT NOT NULL DEFAULT '',
	provider_ids JSONB NOT NULL DEFAULT '{}',
	gallery      JSONB
);

CREATE TABLE IF NOT EXISTS cities (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	country_id   TEXT NOT NULL REFERENCES countries(id),
	venue_count  INTEGER NOT NULL DEFAULT 0,
	provider_ids JSONB NOT NULL DEFAULT '{}',
	gallery      JSONB
);

CREATE TABLE IF NOT EXISTS venues (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	city_id             TEXT REFERENCES cities(id),
	provider_ids        JSONB NOT NULL DEFAULT '{}',
	images              JSONB NOT NULL DEFAULT '[]',
	enrichment_metadata JSONB
);

CREATE INDEX IF NOT EXISTS idx_cities_country_id ON cities(country_id);
CREATE INDEX IF NOT EXISTS idx_cities_venue_count ON cities(venue_count);
CREATE INDEX IF NOT EXISTS idx_venues_city_id ON venues(city_id);

CREATE TABLE IF NOT EXISTS enrichment_jobs (
	id            TEXT PRIMARY KEY,
	entity_id     TEXT NOT NULL,
	entity_type   TEXT NOT NULL,
	force         BOOLEAN NOT NULL DEFAULT false,
	parent_job_id TEXT,
	job_role      TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'queued',
	attempt       INTEGER NOT NULL DEFAULT 0,
	max_attempts  INTEGER NOT NULL DEFAULT 5,
	last_error    TEXT,
	run_after     TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_enrichment_jobs_claim ON enrichment_jobs(status, run_after);
CREATE INDEX IF NOT EXISTS idx_enrichment_jobs_parent ON enrichment_jobs(parent_job_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetVenue(ctx context.Context, id string) (*model.Venue, error) {
	var (
		v                         model.Venue
		providerIDs, images, meta []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(city_id, ''), provider_ids, images, enrichment_metadata FROM venues WHERE id = $1`,
		id,
	).Scan(&v.ID, &v.Name, &v.CityID, &providerIDs, &images, &meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("venue", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get venue %s", id)
	}
	if err := unmarshalJSON(providerIDs, &v.ProviderIDs); err != nil {
		return nil, eris.Wrapf(err, "postgres: venue %s provider_ids", id)
	}
	if err := unmarshalJSON(images, &v.Images); err != nil {
		return nil, eris.Wrapf(err, "postgres: venue %s images", id)
	}
	if len(meta) > 0 {
		v.Enrichment = &model.EnrichmentMetadata{}
		if err := json.Unmarshal(meta, v.Enrichment); err != nil {
			return nil, eris.Wrapf(err, "postgres: venue %s enrichment_metadata", id)
		}
	}
	return &v, nil
}

func (s *PostgresStore) GetCity(ctx context.Context, id string) (*model.City, error) {
	var (
		c                    model.City
		providerIDs, gallery []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT ci.id, ci.name, ci.country_id, COALESCE(co.name, ''), ci.venue_count, ci.provider_ids, ci.gallery
		 FROM cities ci LEFT JOIN countries co ON co.id = ci.country_id WHERE ci.id = $1`,
		id,
	).Scan(&c.ID, &c.Name, &c.CountryID, &c.CountryName, &c.VenueCount, &providerIDs, &gallery)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("city", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get city %s", id)
	}
	if err := unmarshalJSON(providerIDs, &c.ProviderIDs); err != nil {
		return nil, eris.Wrapf(err, "postgres: city %s provider_ids", id)
	}
	if c.Gallery, err = unmarshalGallery(gallery); err != nil {
		return nil, eris.Wrapf(err, "postgres: city %s gallery", id)
	}
	return &c, nil
}

func (s *PostgresStore) GetCountry(ctx context.Context, id string) (*model.Country, error) {
	var (
		c                    model.Country
		providerIDs, gallery []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT co.id, co.name, co.code, (SELECT count(*) FROM cities ci WHERE ci.country_id = co.id)::int, co.provider_ids, co.gallery
		 FROM countries co WHERE co.id = $1`,
		id,
	).Scan(&c.ID, &c.Name, &c.Code, &c.CityCount, &providerIDs, &gallery)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("country", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get country %s", id)
	}
	if err := unmarshalJSON(providerIDs, &c.ProviderIDs); err != nil {
		return nil, eris.Wrapf(err, "postgres: country %s provider_ids", id)
	}
	if c.Gallery, err = unmarshalGallery(gallery); err != nil {
		return nil, eris.Wrapf(err, "postgres: country %s gallery", id)
	}
	return &c, nil
}

func (s *PostgresStore) SaveVenueEnrichment(ctx context.Context, id string, images []model.ImageDescriptor, meta model.EnrichmentMetadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal enrichment metadata")
	}

	query := `UPDATE venues SET enrichment_metadata = $1 WHERE id = $2`
	args := []any{metaJSON, id}
	if images != nil {
		imagesJSON, err := json.Marshal(images)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal images")
		}
		query = `UPDATE venues SET enrichment_metadata = $1, images = $3 WHERE id = $2`
		args = append(args, imagesJSON)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: save venue %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("venue", id)
	}
	return nil
}

func (s *PostgresStore) SaveGallery(ctx context.Context, entityType model.EntityType, id string, gallery model.Gallery) error {
	table, err := galleryTable(entityType)
	if err != nil {
		return err
	}
	galleryJSON, err := json.Marshal(gallery)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal gallery")
	}

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET gallery = $1 WHERE id = $2`, pgx.Identifier{table}.Sanitize()),
		galleryJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save %s gallery %s", entityType, id)
	}
	if tag.RowsAffected() == 0 {
		return notFound(string(entityType), id)
	}
	return nil
}

func (s *PostgresStore) EligibleCities(ctx context.Context, minVenues int) ([]model.City, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ci.id, ci.name, ci.country_id, COALESCE(co.name, ''), ci.venue_count
		 FROM cities ci LEFT JOIN countries co ON co.id = ci.country_id
		 WHERE ci.venue_count >= $1 ORDER BY ci.id`,
		minVenues,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: eligible cities")
	}
	defer rows.Close()

	var out []model.City
	for rows.Next() {
		var c model.City
		if err := rows.Scan(&c.ID, &c.Name, &c.CountryID, &c.CountryName, &c.VenueCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan city")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate cities")
}

func (s *PostgresStore) EligibleCountries(ctx context.Context) ([]model.Country, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT co.id, co.name, co.code, count(ci.id)::int
		 FROM countries co JOIN cities ci ON ci.country_id = co.id
		 GROUP BY co.id, co.name, co.code ORDER BY co.id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: eligible countries")
	}
	defer rows.Close()

	var out []model.Country
	for rows.Next() {
		var c model.Country
		if err := rows.Scan(&c.ID, &c.Name, &c.Code, &c.CityCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan country")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate countries")
}

func (s *PostgresStore) ListProviders(ctx context.Context) ([]model.Provider, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, is_active, capabilities, priorities, metadata FROM providers ORDER BY name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list providers")
	}
	defer rows.Close()

	var out []model.Provider
	for rows.Next() {
		var (
			p                      model.Provider
			caps, priorities, meta []byte
		)
		if err := rows.Scan(&p.Name, &p.IsActive, &caps, &priorities, &meta); err != nil {
			return nil, eris.Wrap(err, "postgres: scan provider")
		}
		if err := decodeProvider(&p, caps, priorities, meta); err != nil {
			return nil, eris.Wrapf(err, "postgres: provider %s", p.Name)
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate providers")
}

func (s *PostgresStore) UpsertProviders(ctx context.Context, providers []model.Provider) (int64, error) {
	n, err := db.UpsertProviders(ctx, s.pool, providers, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: sync providers")
	}
	return n, nil
}

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func unmarshalGallery(data []byte) (*model.Gallery, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var g model.Gallery
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func decodeProvider(p *model.Provider, caps, priorities, meta []byte) error {
	if err := unmarshalJSON(caps, &p.Capabilities); err != nil {
		return eris.Wrap(err, "capabilities")
	}
	if err := unmarshalJSON(priorities, &p.Priorities); err != nil {
		return eris.Wrap(err, "priorities")
	}
	if err := unmarshalJSON(meta, &p.Metadata); err != nil {
		return eris.Wrap(err, "metadata")
	}
	return nil
}
