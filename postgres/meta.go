package postgres

import (
	"context"
	"fmt"

	"github.com/meikuraledutech/procgraph"
)

// GetMeta fetches the metadata record of a process.
func (s *PGStore) GetMeta(ctx context.Context, processID string) (*procgraph.ProcessMeta, error) {
	var m procgraph.ProcessMeta
	err := s.db.QueryRow(ctx,
		`SELECT process_id, title, status, description, updated_at FROM process_meta WHERE process_id = $1`,
		processID,
	).Scan(&m.ProcessID, &m.Title, &m.Status, &m.Description, &m.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("postgres: get meta %s: %w", processID, procgraph.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: get meta %s: %w", processID, err)
	}
	return &m, nil
}

// UpdateMeta upserts the record. Nil patch fields keep their stored value.
func (s *PGStore) UpdateMeta(ctx context.Context, processID string, patch procgraph.MetaPatch) (*procgraph.ProcessMeta, error) {
	var m procgraph.ProcessMeta
	err := s.db.QueryRow(ctx,
		`INSERT INTO process_meta (process_id, title, status, description, updated_at)
		 VALUES ($1, COALESCE($2::text, ''), COALESCE($3::text, ''), COALESCE($4::text, ''), NOW())
		 ON CONFLICT (process_id) DO UPDATE SET
		     title       = COALESCE($2::text, process_meta.title),
		     status      = COALESCE($3::text, process_meta.status),
		     description = COALESCE($4::text, process_meta.description),
		     updated_at  = NOW()
		 RETURNING process_id, title, status, description, updated_at`,
		processID, patch.Title, patch.Status, patch.Description,
	).Scan(&m.ProcessID, &m.Title, &m.Status, &m.Description, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: update meta %s: %w", processID, err)
	}
	return &m, nil
}
