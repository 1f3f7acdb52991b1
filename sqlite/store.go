// Package sqlite stores process versions and metadata in a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/meikuraledutech/procgraph"
)

//go:embed schema.sql
var schemaSQL string

// Store implements procgraph.VersionStore and procgraph.MetaStore on SQLite.
// It runs with a single connection, so writes are serialised by database/sql.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path and applies the schema.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: connect: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new version.
func (s *Store) Create(ctx context.Context, v *procgraph.ProcessVersion) error {
	model, layout, err := encode(v)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO process_versions
		 (id, process_id, version_number, revision, model, layout, updated_by, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ProcessID, v.VersionNumber, v.Revision, model, layout, v.UpdatedBy, formatTime(v.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert version %s: %w", v.Key(), err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("sqlite: insert version %s: %w", v.Key(), err)
	} else if n == 0 {
		return fmt.Errorf("sqlite: insert version %s: %w", v.Key(), procgraph.ErrAlreadyExists)
	}
	return nil
}

// Get loads one version.
func (s *Store) Get(ctx context.Context, key procgraph.VersionKey) (*procgraph.ProcessVersion, error) {
	var (
		v                        procgraph.ProcessVersion
		model, layout, updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, process_id, version_number, revision, model, layout, updated_by, updated_at
		 FROM process_versions WHERE process_id = ? AND version_number = ?`,
		key.ProcessID, key.Version,
	).Scan(&v.ID, &v.ProcessID, &v.VersionNumber, &v.Revision, &model, &layout, &v.UpdatedBy, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlite: get version %s: %w", key, procgraph.ErrNotFound)
		}
		return nil, fmt.Errorf("sqlite: get version %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(model), &v.Model); err != nil {
		return nil, fmt.Errorf("sqlite: decode model %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(layout), &v.Layout); err != nil {
		return nil, fmt.Errorf("sqlite: decode layout %s: %w", key, err)
	}
	if v.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("sqlite: decode updated_at %s: %w", key, err)
	}
	return &v, nil
}

// Put replaces the stored version while its revision is still prevRevision.
func (s *Store) Put(ctx context.Context, v *procgraph.ProcessVersion, prevRevision int64) error {
	model, layout, err := encode(v)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE process_versions
		 SET revision = ?, model = ?, layout = ?, updated_by = ?, updated_at = ?
		 WHERE process_id = ? AND version_number = ? AND revision = ?`,
		v.Revision, model, layout, v.UpdatedBy, formatTime(v.UpdatedAt), v.ProcessID, v.VersionNumber, prevRevision,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update version %s: %w", v.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update version %s: %w", v.Key(), err)
	}

	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM process_versions WHERE process_id = ? AND version_number = ?)`,
			v.ProcessID, v.VersionNumber,
		).Scan(&exists); err != nil {
			return fmt.Errorf("sqlite: check version %s: %w", v.Key(), err)
		}
		if !exists {
			return fmt.Errorf("sqlite: update version %s: %w", v.Key(), procgraph.ErrNotFound)
		}
		return fmt.Errorf("sqlite: update version %s from revision %d: %w", v.Key(), prevRevision, procgraph.ErrConflict)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// GetMeta loads the metadata record of a process.
func (s *Store) GetMeta(ctx context.Context, processID string) (*procgraph.ProcessMeta, error) {
	return getMeta(ctx, s.db, processID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getMeta(ctx context.Context, q queryRower, processID string) (*procgraph.ProcessMeta, error) {
	var (
		m         procgraph.ProcessMeta
		updatedAt string
	)
	err := q.QueryRowContext(ctx,
		`SELECT process_id, title, status, description, updated_at FROM process_meta WHERE process_id = ?`,
		processID,
	).Scan(&m.ProcessID, &m.Title, &m.Status, &m.Description, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlite: get meta %s: %w", processID, procgraph.ErrNotFound)
		}
		return nil, fmt.Errorf("sqlite: get meta %s: %w", processID, err)
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("sqlite: decode meta %s: %w", processID, err)
	}
	return &m, nil
}

// UpdateMeta applies patch to the record, creating it if needed.
func (s *Store) UpdateMeta(ctx context.Context, processID string, patch procgraph.MetaPatch) (*procgraph.ProcessMeta, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback()

	var cur procgraph.ProcessMeta
	m, err := getMeta(ctx, tx, processID)
	switch {
	case err == nil:
		cur = *m
	case !errors.Is(err, procgraph.ErrNotFound):
		return nil, err
	}

	out := patch.Apply(cur)
	out.ProcessID = processID
	out.UpdatedAt = s.now().UTC()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO process_meta (process_id, title, status, description, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (process_id) DO UPDATE SET
		     title = excluded.title,
		     status = excluded.status,
		     description = excluded.description,
		     updated_at = excluded.updated_at`,
		out.ProcessID, out.Title, out.Status, out.Description, formatTime(out.UpdatedAt),
	); err != nil {
		return nil, fmt.Errorf("sqlite: upsert meta %s: %w", processID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}
	return &out, nil
}

func encode(v *procgraph.ProcessVersion) (model, layout string, err error) {
	m, err := json.Marshal(v.Model)
	if err != nil {
		return "", "", fmt.Errorf("sqlite: encode model %s: %w", v.Key(), err)
	}
	l, err := json.Marshal(v.Layout)
	if err != nil {
		return "", "", fmt.Errorf("sqlite: encode layout %s: %w", v.Key(), err)
	}
	return string(m), string(l), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
