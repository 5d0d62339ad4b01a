package ports

import (
	"context"

	"vitalsdash/domain/vitals"
)

// SnapshotRepository persists upstream fetches so the dashboard can serve the
// last known data when the backend is unreachable
type SnapshotRepository interface {
	// Save stores a snapshot
	Save(ctx context.Context, snapshot *vitals.Snapshot) error

	// Latest returns the most recently fetched snapshot for metric, or an
	// error wrapping core.ErrSnapshotNotFound
	Latest(ctx context.Context, metric vitals.Metric) (*vitals.Snapshot, error)

	// Prune deletes all but the keep most recent snapshots for metric and
	// reports how many were removed
	Prune(ctx context.Context, metric vitals.Metric, keep int) (int64, error)
}
