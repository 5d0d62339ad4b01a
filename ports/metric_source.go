package ports

import (
	"context"

	"vitalsdash/domain/vitals"
)

// MetricSource fetches metric documents from the upstream backend
type MetricSource interface {
	// Fetch returns every document the backend holds for metric
	Fetch(ctx context.Context, metric vitals.Metric) ([]vitals.MetricDocument, error)
}
