package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vitalsdash/domain/core"
	"vitalsdash/domain/vitals"
	"vitalsdash/ports"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// SnapshotRepository implements ports.SnapshotRepository for PostgreSQL
type SnapshotRepository struct {
	db *sqlx.DB
}

var _ ports.SnapshotRepository = (*SnapshotRepository)(nil)

// NewSnapshotRepository creates a new PostgreSQL snapshot repository
func NewSnapshotRepository(db *sqlx.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

type snapshotRow struct {
	ID          string    `db:"id"`
	Metric      string    `db:"metric"`
	ContentHash string    `db:"content_hash"`
	Documents   []byte    `db:"documents"`
	FetchedAt   time.Time `db:"fetched_at"`
}

// Save inserts a snapshot. Saving the same ID twice is a no-op.
func (r *SnapshotRepository) Save(ctx context.Context, snapshot *vitals.Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}

	docs, err := json.Marshal(snapshot.Documents)
	if err != nil {
		return fmt.Errorf("failed to encode documents: %w", err)
	}

	row := snapshotRow{
		ID:          snapshot.ID.String(),
		Metric:      snapshot.Metric.String(),
		ContentHash: snapshot.Hash.String(),
		Documents:   docs,
		FetchedAt:   snapshot.FetchedAt,
	}

	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO metric_snapshots (id, metric, content_hash, documents, fetched_at)
		VALUES (:id, :metric, :content_hash, :documents, :fetched_at)
		ON CONFLICT (id) DO NOTHING
	`, row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			return fmt.Errorf("failed to save snapshot (%s): %w", pqErr.Code.Name(), err)
		}
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recently fetched snapshot for metric
func (r *SnapshotRepository) Latest(ctx context.Context, metric vitals.Metric) (*vitals.Snapshot, error) {
	var row snapshotRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, metric, content_hash, documents, fetched_at
		FROM metric_snapshots
		WHERE metric = $1
		ORDER BY fetched_at DESC
		LIMIT 1
	`, metric.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w for %s", core.ErrSnapshotNotFound, metric)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	return row.toSnapshot()
}

// Prune keeps the keep most recent snapshots for metric
func (r *SnapshotRepository) Prune(ctx context.Context, metric vitals.Metric, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM metric_snapshots
		WHERE metric = $1
		AND id NOT IN (
			SELECT id FROM metric_snapshots
			WHERE metric = $1
			ORDER BY fetched_at DESC
			LIMIT $2
		)
	`, metric.String(), keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

func (row snapshotRow) toSnapshot() (*vitals.Snapshot, error) {
	id, err := core.ParseSnapshotID(row.ID)
	if err != nil {
		return nil, err
	}

	var docs []vitals.MetricDocument
	if err := json.Unmarshal(row.Documents, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", row.ID, err)
	}

	return &vitals.Snapshot{
		ID:        id,
		Metric:    vitals.Metric(row.Metric),
		Documents: docs,
		Hash:      core.Hash(row.ContentHash),
		FetchedAt: row.FetchedAt.UTC(),
	}, nil
}
