// Package store persists build request lifecycles to Postgres. The events
// trail is stored as JSONB the way the builds table has always worked.
package store

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"releasebot/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS builds (
	build_id VARCHAR(255) PRIMARY KEY,
	repository_url VARCHAR(255) NOT NULL,
	version_ref VARCHAR(255) NOT NULL,
	state VARCHAR(32) NOT NULL,
	events JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS releases (
	tag VARCHAR(255) PRIMARY KEY,
	artifacts JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

// Store wraps the builds table.
type Store struct {
	db *sql.DB
}

// Open connects, pings, and ensures the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "ping postgres")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, errors.Wrap(err, "create builds table")
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, for tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save upserts the full request row, state and events included.
func (s *Store) Save(ctx context.Context, req models.BuildRequest) error {
	events, err := json.Marshal(req.Events)
	if err != nil {
		return errors.Wrap(err, "marshal events")
	}
	query := `
	INSERT INTO builds (build_id, repository_url, version_ref, state, events)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (build_id)
	DO UPDATE SET state = EXCLUDED.state, events = EXCLUDED.events, version_ref = EXCLUDED.version_ref
	`
	if _, err := s.db.ExecContext(ctx, query, req.BuildID, req.RepositoryURL, req.VersionRef, string(req.State), events); err != nil {
		return errors.Wrapf(err, "save build %s", req.BuildID)
	}
	return nil
}

// Get loads one build row. sql.ErrNoRows passes through for the caller's 404.
func (s *Store) Get(ctx context.Context, buildID string) (models.BuildInfo, error) {
	query := "SELECT build_id, repository_url, version_ref, state, events FROM builds WHERE build_id = $1"
	row := s.db.QueryRowContext(ctx, query, buildID)

	var info models.BuildInfo
	if err := row.Scan(&info.BuildID, &info.RepositoryURL, &info.VersionRef, &info.State, &info.Events); err != nil {
		return models.BuildInfo{}, err
	}
	return info, nil
}

// SaveRelease records a published release. Re-publishing the same tag is a
// no-op upstream, so conflicts here just keep the first row.
func (s *Store) SaveRelease(ctx context.Context, rel models.Release) error {
	artifacts, err := json.Marshal(rel.Artifacts)
	if err != nil {
		return errors.Wrap(err, "marshal artifacts")
	}
	query := `
	INSERT INTO releases (tag, artifacts, created_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (tag) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, rel.Tag, artifacts, rel.CreatedAt); err != nil {
		return errors.Wrapf(err, "save release %s", rel.Tag)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
