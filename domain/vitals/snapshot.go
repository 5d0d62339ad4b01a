package vitals

import (
	"time"

	"vitalsdash/domain/core"
)

// Snapshot is one persisted upstream fetch for a metric.
type Snapshot struct {
	ID        core.SnapshotID  `json:"id" db:"id"`
	Metric    Metric           `json:"metric" db:"metric"`
	Documents []MetricDocument `json:"documents" db:"-"`
	Hash      core.Hash        `json:"hash" db:"content_hash"`
	FetchedAt time.Time        `json:"fetched_at" db:"fetched_at"`
}

// NewSnapshot stamps documents with a fresh ID, the content hash and fetchedAt.
func NewSnapshot(metric Metric, docs []MetricDocument, fetchedAt time.Time) (*Snapshot, error) {
	if docs == nil {
		docs = []MetricDocument{}
	}
	hash, err := core.ContentHash(docs)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ID:        core.NewSnapshotID(),
		Metric:    metric,
		Documents: docs,
		Hash:      hash,
		FetchedAt: fetchedAt.UTC(),
	}, nil
}

// Primary returns the first document, which is the one the dashboard renders.
func (s *Snapshot) Primary() (MetricDocument, bool) {
	if s == nil || len(s.Documents) == 0 {
		return MetricDocument{}, false
	}
	return s.Documents[0], true
}
