package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/imagery-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local runs
// and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS providers (
	name         TEXT PRIMARY KEY,
	is_active    INTEGER NOT NULL DEFAULT 1,
	capabilities TEXT NOT NULL DEFAULT '{}',
	priorities   TEXT NOT NULL DEFAULT '{}',
	metadata     TEXT NOT NULL DEFAULT '{}',
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS countries (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	code         TEXT NOT NULL DEFAULT '',
	provider_ids TEXT NOT NULL DEFAULT '{}',
	gallery      TEXT
);

CREATE TABLE IF NOT EXISTS cities (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	country_id   TEXT NOT NULL REFERENCES countries(id),
	venue_count  INTEGER NOT NULL DEFAULT 0,
	provider_ids TEXT NOT NULL DEFAULT '{}',
	gallery      TEXT
);

CREATE TABLE IF NOT EXISTS venues (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	city_id             TEXT REFERENCES cities(id),
	provider_ids        TEXT NOT NULL DEFAULT '{}',
	images              TEXT NOT NULL DEFAULT '[]',
	enrichment_metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_cities_country_id ON cities(country_id);
CREATE INDEX IF NOT EXISTS idx_venues_city_id ON venues(city_id);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetVenue(ctx context.Context, id string) (*model.Venue, error) {
	var (
		v                   model.Venue
		cityID, meta        sql.NullString
		providerIDs, images string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, city_id, provider_ids, images, enrichment_metadata FROM venues WHERE id = ?`,
		id,
	).Scan(&v.ID, &v.Name, &cityID, &providerIDs, &images, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("venue", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get venue %s", id)
	}
	v.CityID = cityID.String
	if err := unmarshalJSON([]byte(providerIDs), &v.ProviderIDs); err != nil {
		return nil, eris.Wrapf(err, "sqlite: venue %s provider_ids", id)
	}
	if err := unmarshalJSON([]byte(images), &v.Images); err != nil {
		return nil, eris.Wrapf(err, "sqlite: venue %s images", id)
	}
	if meta.Valid && meta.String != "" {
		v.Enrichment = &model.EnrichmentMetadata{}
		if err := json.Unmarshal([]byte(meta.String), v.Enrichment); err != nil {
			return nil, eris.Wrapf(err, "sqlite: venue %s enrichment_metadata", id)
		}
	}
	return &v, nil
}

func (s *SQLiteStore) GetCity(ctx context.Context, id string) (*model.City, error) {
	var (
		c                    model.City
		countryName, gallery sql.NullString
		providerIDs          string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT ci.id, ci.name, ci.country_id, co.name, ci.venue_count, ci.provider_ids, ci.gallery
		 FROM cities ci LEFT JOIN countries co ON co.id = ci.country_id WHERE ci.id = ?`,
		id,
	).Scan(&c.ID, &c.Name, &c.CountryID, &countryName, &c.VenueCount, &providerIDs, &gallery)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("city", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get city %s", id)
	}
	c.CountryName = countryName.String
	if err := unmarshalJSON([]byte(providerIDs), &c.ProviderIDs); err != nil {
		return nil, eris.Wrapf(err, "sqlite: city %s provider_ids", id)
	}
	if c.Gallery, err = sqliteGallery(gallery); err != nil {
		return nil, eris.Wrapf(err, "sqlite: city %s gallery", id)
	}
	return &c, nil
}

func (s *SQLiteStore) GetCountry(ctx context.Context, id string) (*model.Country, error) {
	var (
		c           model.Country
		gallery     sql.NullString
		providerIDs string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT co.id, co.name, co.code, (SELECT count(*) FROM cities ci WHERE ci.country_id = co.id), co.provider_ids, co.gallery
		 FROM countries co WHERE co.id = ?`,
		id,
	).Scan(&c.ID, &c.Name, &c.Code, &c.CityCount, &providerIDs, &gallery)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("country", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get country %s", id)
	}
	if err := unmarshalJSON([]byte(providerIDs), &c.ProviderIDs); err != nil {
		return nil, eris.Wrapf(err, "sqlite: country %s provider_ids", id)
	}
	if c.Gallery, err = sqliteGallery(gallery); err != nil {
		return nil, eris.Wrapf(err, "sqlite: country %s gallery", id)
	}
	return &c, nil
}

func (s *SQLiteStore) SaveVenueEnrichment(ctx context.Context, id string, images []model.ImageDescriptor, meta model.EnrichmentMetadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal enrichment metadata")
	}

	var res sql.Result
	if images == nil {
		res, err = s.db.ExecContext(ctx,
			`UPDATE venues SET enrichment_metadata = ? WHERE id = ?`,
			string(metaJSON), id,
		)
	} else {
		imagesJSON, mErr := json.Marshal(images)
		if mErr != nil {
			return eris.Wrap(mErr, "sqlite: marshal images")
		}
		res, err = s.db.ExecContext(ctx,
			`UPDATE venues SET enrichment_metadata = ?, images = ? WHERE id = ?`,
			string(metaJSON), string(imagesJSON), id,
		)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: save venue %s", id)
	}
	return checkRowsAffected(res, "venue", id)
}

func (s *SQLiteStore) SaveGallery(ctx context.Context, entityType model.EntityType, id string, gallery model.Gallery) error {
	table, err := galleryTable(entityType)
	if err != nil {
		return err
	}
	galleryJSON, err := json.Marshal(gallery)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal gallery")
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET gallery = ? WHERE id = ?`, table),
		string(galleryJSON), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save %s gallery %s", entityType, id)
	}
	return checkRowsAffected(res, string(entityType), id)
}

func (s *SQLiteStore) EligibleCities(ctx context.Context, minVenues int) ([]model.City, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ci.id, ci.name, ci.country_id, co.name, ci.venue_count
		 FROM cities ci LEFT JOIN countries co ON co.id = ci.country_id
		 WHERE ci.venue_count >= ? ORDER BY ci.id`,
		minVenues,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: eligible cities")
	}
	defer rows.Close()

	var out []model.City
	for rows.Next() {
		var c model.City
		var countryName sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.CountryID, &countryName, &c.VenueCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan city")
		}
		c.CountryName = countryName.String
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate cities")
}

func (s *SQLiteStore) EligibleCountries(ctx context.Context) ([]model.Country, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT co.id, co.name, co.code, count(ci.id)
		 FROM countries co JOIN cities ci ON ci.country_id = co.id
		 GROUP BY co.id, co.name, co.code ORDER BY co.id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: eligible countries")
	}
	defer rows.Close()

	var out []model.Country
	for rows.Next() {
		var c model.Country
		if err := rows.Scan(&c.ID, &c.Name, &c.Code, &c.CityCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan country")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate countries")
}

func (s *SQLiteStore) ListProviders(ctx context.Context) ([]model.Provider, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, is_active, capabilities, priorities, metadata FROM providers ORDER BY name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list providers")
	}
	defer rows.Close()

	var out []model.Provider
	for rows.Next() {
		var (
			p                      model.Provider
			caps, priorities, meta string
		)
		if err := rows.Scan(&p.Name, &p.IsActive, &caps, &priorities, &meta); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provider")
		}
		if err := decodeProvider(&p, []byte(caps), []byte(priorities), []byte(meta)); err != nil {
			return nil, eris.Wrapf(err, "sqlite: provider %s", p.Name)
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate providers")
}

func (s *SQLiteStore) UpsertProviders(ctx context.Context, providers []model.Provider) (int64, error) {
	if len(providers) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	var n int64
	for _, p := range providers {
		caps, priorities, meta, err := p.JSONColumns()
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: encode provider %s", p.Name)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO providers (name, is_active, capabilities, priorities, metadata, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (name) DO UPDATE SET
			   is_active = excluded.is_active,
			   capabilities = excluded.capabilities,
			   priorities = excluded.priorities,
			   metadata = excluded.metadata,
			   updated_at = excluded.updated_at`,
			p.Name, p.IsActive, string(caps), string(priorities), string(meta), now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert provider %s", p.Name)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit tx")
	}
	return n, nil
}

func sqliteGallery(s sql.NullString) (*model.Gallery, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	return unmarshalGallery([]byte(s.String))
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}
