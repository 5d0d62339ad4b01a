// Package memory provides in-process implementations of the repository ports.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"vitalsdash/domain/core"
	"vitalsdash/domain/vitals"
	"vitalsdash/ports"
)

// SnapshotRepository keeps snapshots in a map guarded by a mutex
type SnapshotRepository struct {
	mu        sync.RWMutex
	snapshots map[vitals.Metric][]*vitals.Snapshot
}

var _ ports.SnapshotRepository = (*SnapshotRepository)(nil)

// NewSnapshotRepository creates an empty in-memory repository
func NewSnapshotRepository() *SnapshotRepository {
	return &SnapshotRepository{snapshots: make(map[vitals.Metric][]*vitals.Snapshot)}
}

func (r *SnapshotRepository) Save(ctx context.Context, snapshot *vitals.Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := append(r.snapshots[snapshot.Metric], snapshot)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].FetchedAt.Before(list[j].FetchedAt)
	})
	r.snapshots[snapshot.Metric] = list
	return nil
}

func (r *SnapshotRepository) Latest(ctx context.Context, metric vitals.Metric) (*vitals.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.snapshots[metric]
	if len(list) == 0 {
		return nil, fmt.Errorf("%w for %s", core.ErrSnapshotNotFound, metric)
	}
	return list[len(list)-1], nil
}

func (r *SnapshotRepository) Prune(ctx context.Context, metric vitals.Metric, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.snapshots[metric]
	if len(list) <= keep {
		return 0, nil
	}
	removed := len(list) - keep
	r.snapshots[metric] = append([]*vitals.Snapshot(nil), list[removed:]...)
	return int64(removed), nil
}

// Count returns the number of stored snapshots for metric
func (r *SnapshotRepository) Count(metric vitals.Metric) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.snapshots[metric])
}
