package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/meikuraledutech/procgraph"
)

// Create inserts a new version. Returns procgraph.ErrAlreadyExists if the
// (process_id, version_number) pair is taken.
func (s *PGStore) Create(ctx context.Context, v *procgraph.ProcessVersion) error {
	model, layout, err := encode(v)
	if err != nil {
		return err
	}

	ct, err := s.db.Exec(ctx,
		`INSERT INTO process_versions (id, process_id, version_number, revision, model, layout, updated_by, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (process_id, version_number) DO NOTHING`,
		v.ID, v.ProcessID, v.VersionNumber, v.Revision, model, layout, v.UpdatedBy, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert version %s: %w", v.Key(), err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: insert version %s: %w", v.Key(), procgraph.ErrAlreadyExists)
	}
	return nil
}

// Get fetches one version.
func (s *PGStore) Get(ctx context.Context, key procgraph.VersionKey) (*procgraph.ProcessVersion, error) {
	var (
		v             procgraph.ProcessVersion
		model, layout json.RawMessage
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, process_id, version_number, revision, model, layout, updated_by, updated_at
		 FROM process_versions WHERE process_id = $1 AND version_number = $2`,
		key.ProcessID, key.Version,
	).Scan(&v.ID, &v.ProcessID, &v.VersionNumber, &v.Revision, &model, &layout, &v.UpdatedBy, &v.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("postgres: get version %s: %w", key, procgraph.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: get version %s: %w", key, err)
	}

	if err := json.Unmarshal(model, &v.Model); err != nil {
		return nil, fmt.Errorf("postgres: decode model %s: %w", key, err)
	}
	if err := json.Unmarshal(layout, &v.Layout); err != nil {
		return nil, fmt.Errorf("postgres: decode layout %s: %w", key, err)
	}
	return &v, nil
}

// Put replaces the stored document in one transaction, but only while the stored revision
// is still prevRevision. Concurrent writers serialise on the row lock; the losers see the
// advanced revision and get procgraph.ErrConflict.
func (s *PGStore) Put(ctx context.Context, v *procgraph.ProcessVersion, prevRevision int64) error {
	model, layout, err := encode(v)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx,
		`UPDATE process_versions
		 SET revision = $1, model = $2, layout = $3, updated_by = $4, updated_at = $5
		 WHERE process_id = $6 AND version_number = $7 AND revision = $8`,
		v.Revision, model, layout, v.UpdatedBy, v.UpdatedAt, v.ProcessID, v.VersionNumber, prevRevision,
	)
	if err != nil {
		return fmt.Errorf("postgres: update version %s: %w", v.Key(), err)
	}

	if ct.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM process_versions WHERE process_id = $1 AND version_number = $2)`,
			v.ProcessID, v.VersionNumber,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check version %s: %w", v.Key(), err)
		}
		if !exists {
			return fmt.Errorf("postgres: update version %s: %w", v.Key(), procgraph.ErrNotFound)
		}
		return fmt.Errorf("postgres: update version %s from revision %d: %w", v.Key(), prevRevision, procgraph.ErrConflict)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func encode(v *procgraph.ProcessVersion) (model, layout json.RawMessage, err error) {
	if model, err = json.Marshal(v.Model); err != nil {
		return nil, nil, fmt.Errorf("postgres: encode model %s: %w", v.Key(), err)
	}
	if layout, err = json.Marshal(v.Layout); err != nil {
		return nil, nil, fmt.Errorf("postgres: encode layout %s: %w", v.Key(), err)
	}
	return model, layout, nil
}

// isNoRows checks if the error is a "no rows" error from pgx.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
