package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS process_versions (
    id             TEXT NOT NULL,
    process_id     TEXT NOT NULL,
    version_number INTEGER NOT NULL,
    revision       BIGINT NOT NULL DEFAULT 0,
    model          JSONB NOT NULL DEFAULT '{}',
    layout         JSONB NOT NULL DEFAULT '{}',
    updated_by     TEXT NOT NULL DEFAULT '',
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (process_id, version_number)
);

CREATE TABLE IF NOT EXISTS process_meta (
    process_id  TEXT PRIMARY KEY,
    title       TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_process_versions_id ON process_versions(id);
`

// CreateSchema creates the process_versions and process_meta tables if they don't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops the process_versions and process_meta tables.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS process_versions, process_meta CASCADE;`)
	return err
}
