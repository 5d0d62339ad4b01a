package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vitalsdash/adapters/stats/trend"
	"vitalsdash/domain/core"
	"vitalsdash/domain/vitals"
	"vitalsdash/internal"
	"vitalsdash/internal/errors"
	"vitalsdash/ports"

	"golang.org/x/sync/errgroup"
)

// DashboardConfig tunes the dashboard service
type DashboardConfig struct {
	SnapshotKeep  int
	DefaultOffset int
}

// MetricStatus reports where the current data of a metric came from
type MetricStatus struct {
	Metric    vitals.Metric `json:"metric"`
	Available bool          `json:"available"`
	Stale     bool          `json:"stale"`
	Changed   bool          `json:"changed"`
	FetchedAt time.Time     `json:"fetched_at,omitempty"`
	Hash      core.Hash     `json:"hash,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// RefreshReport summarizes one Refresh call
type RefreshReport struct {
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Metrics   []MetricStatus `json:"metrics"`
}

// MaxPredictionOffset is the largest offset Prediction accepts
const MaxPredictionOffset = trend.MaxOffset

// RefreshListener is notified after every completed Refresh
type RefreshListener func(*RefreshReport)

type viewKey struct {
	metric vitals.Metric
	hash   core.Hash
}

type predictionKey struct {
	hash   core.Hash
	offset int
}

// DashboardService fetches metric documents and serves derived views.
// Derived views are memoized per source content hash, so they are recomputed
// only when the fetched documents change. Only the default-offset prediction
// is memoized; other offsets are computed per call.
type DashboardService struct {
	source    ports.MetricSource
	snapshots ports.SnapshotRepository
	config    DashboardConfig
	logger    *internal.Logger
	now       func() time.Time

	refreshMu sync.Mutex
	listeners []RefreshListener

	mu          sync.RWMutex
	current     map[vitals.Metric]*vitals.Snapshot
	status      map[vitals.Metric]MetricStatus
	views       map[viewKey]*MetricView
	predictions map[predictionKey]*Prediction
}

// NewDashboardService creates a dashboard service
func NewDashboardService(source ports.MetricSource, snapshots ports.SnapshotRepository, config DashboardConfig, logger *internal.Logger) *DashboardService {
	if config.SnapshotKeep < 1 {
		config.SnapshotKeep = 1
	}
	if config.DefaultOffset < 1 {
		config.DefaultOffset = trend.DefaultOffset
	}
	if config.DefaultOffset > MaxPredictionOffset {
		config.DefaultOffset = MaxPredictionOffset
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}

	return &DashboardService{
		source:      source,
		snapshots:   snapshots,
		config:      config,
		logger:      logger.WithField("component", "dashboard"),
		now:         time.Now,
		current:     make(map[vitals.Metric]*vitals.Snapshot),
		status:      make(map[vitals.Metric]MetricStatus),
		views:       make(map[viewKey]*MetricView),
		predictions: make(map[predictionKey]*Prediction),
	}
}

// OnRefresh registers fn to run after each successful Refresh
func (s *DashboardService) OnRefresh(fn RefreshListener) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// DefaultOffset is the prediction offset used when callers pass none
func (s *DashboardService) DefaultOffset() int {
	return s.config.DefaultOffset
}

// Refresh fetches every metric concurrently. A failed fetch falls back to the
// latest stored snapshot; it only fails the whole call when ctx ends.
func (s *DashboardService) Refresh(ctx context.Context) (*RefreshReport, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	start := s.now()
	metrics := vitals.AllMetrics()
	statuses := make([]MetricStatus, len(metrics))

	g, gctx := errgroup.WithContext(ctx)
	for i, metric := range metrics {
		g.Go(func() error {
			statuses[i] = s.refreshMetric(gctx, metric)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "refresh aborted")
	}

	report := &RefreshReport{
		StartedAt: start,
		Duration:  s.now().Sub(start),
		Metrics:   statuses,
	}
	s.logger.Info("refresh finished in %s", report.Duration)
	for _, fn := range s.listeners {
		fn(report)
	}
	return report, nil
}

func (s *DashboardService) refreshMetric(ctx context.Context, metric vitals.Metric) MetricStatus {
	log := s.logger.WithField("metric", metric)

	docs, err := s.source.Fetch(ctx, metric)
	if err != nil {
		log.WithError(err).Warn("fetch failed, falling back to last snapshot")
		return s.fallback(ctx, metric, err)
	}

	snap, err := vitals.NewSnapshot(metric, docs, s.now())
	if err != nil {
		log.WithError(err).Error("could not hash fetched documents")
		return s.fallback(ctx, metric, err)
	}

	if err := s.snapshots.Save(ctx, snap); err != nil {
		log.WithError(err).Warn("snapshot not persisted")
	} else if removed, err := s.snapshots.Prune(ctx, metric, s.config.SnapshotKeep); err != nil {
		log.WithError(err).Warn("snapshot prune failed")
	} else if removed > 0 {
		log.Debug("pruned %d old snapshots", removed)
	}

	status := MetricStatus{
		Metric:    metric,
		Available: len(docs) > 0,
		FetchedAt: snap.FetchedAt,
		Hash:      snap.Hash,
	}
	status.Changed = s.setCurrent(snap, status)
	log.Debug("fetched %d documents (hash %s, changed=%t)", len(docs), snap.Hash.Short(), status.Changed)
	return status
}

func (s *DashboardService) fallback(ctx context.Context, metric vitals.Metric, cause error) MetricStatus {
	status := MetricStatus{Metric: metric, Stale: true, Error: cause.Error()}

	snap, err := s.snapshots.Latest(ctx, metric)
	if err != nil {
		if !core.IsNotFoundError(err) {
			s.logger.WithField("metric", metric).WithError(err).Warn("snapshot lookup failed")
		}
		s.mu.Lock()
		// Keep whatever is already in memory; only the status changes.
		if cur, ok := s.current[metric]; ok {
			status.Available = true
			status.FetchedAt = cur.FetchedAt
			status.Hash = cur.Hash
		}
		s.status[metric] = status
		s.mu.Unlock()
		return status
	}

	status.Available = len(snap.Documents) > 0
	status.FetchedAt = snap.FetchedAt
	status.Hash = snap.Hash
	status.Changed = s.setCurrent(snap, status)
	return status
}

// setCurrent installs snap as the source for its metric and drops memoized
// values derived from a different hash. It reports whether the hash changed.
func (s *DashboardService) setCurrent(snap *vitals.Snapshot, status MetricStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.current[snap.Metric]
	changed := !had || !prev.Hash.Equals(snap.Hash)

	s.current[snap.Metric] = snap
	s.status[snap.Metric] = status

	if changed && had {
		delete(s.views, viewKey{metric: snap.Metric, hash: prev.Hash})
		for key := range s.predictions {
			if key.hash.Equals(prev.Hash) {
				delete(s.predictions, key)
			}
		}
	}
	return changed
}

// snapshot returns the current snapshot for metric, fetching it on first use
func (s *DashboardService) snapshot(ctx context.Context, metric vitals.Metric) (*vitals.Snapshot, MetricStatus) {
	s.mu.RLock()
	snap, ok := s.current[metric]
	status := s.status[metric]
	s.mu.RUnlock()
	if ok {
		return snap, status
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.RLock()
	snap, ok = s.current[metric]
	status, attempted := s.status[metric]
	s.mu.RUnlock()
	if ok {
		return snap, status
	}
	// A fetch already failed with nothing to fall back on. Wait for the next
	// Refresh instead of hitting the upstream on every request.
	if attempted {
		return nil, status
	}

	status = s.refreshMetric(ctx, metric)
	s.mu.RLock()
	snap = s.current[metric]
	s.mu.RUnlock()
	return snap, status
}

// Status returns the last known status for metric
func (s *DashboardService) Status(metric vitals.Metric) MetricStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.status[metric]; ok {
		return st
	}
	return MetricStatus{Metric: metric}
}

// MetricView returns the memoized view for metric
func (s *DashboardService) MetricView(ctx context.Context, metric vitals.Metric) (*MetricView, error) {
	info, ok := metric.Info()
	if !ok {
		return nil, errors.WithCode(errors.CodeNotFound, fmt.Errorf("%w: %s", core.ErrUnknownMetric, metric))
	}

	snap, status := s.snapshot(ctx, metric)
	if snap == nil {
		view := emptyView(info)
		view.Stale = status.Stale
		view.Error = status.Error
		return view, nil
	}

	key := viewKey{metric: metric, hash: snap.Hash}
	s.mu.RLock()
	cached, ok := s.views[key]
	s.mu.RUnlock()
	if ok {
		return withStatus(cached, status), nil
	}

	view, err := BuildMetricView(info, snap)
	if err != nil {
		return nil, err
	}

	s.storeIfCurrent(metric, snap.Hash, func() { s.views[key] = view })

	return withStatus(view, status), nil
}

// storeIfCurrent runs store under the write lock when hash is still the
// current source of metric. A Refresh that replaced it in the meantime has
// already dropped that hash's entries.
func (s *DashboardService) storeIfCurrent(metric vitals.Metric, hash core.Hash, store func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.current[metric]; ok && cur.Hash.Equals(hash) {
		store()
	}
}

// withStatus copies the memoized view and stamps the volatile status fields
func withStatus(view *MetricView, status MetricStatus) *MetricView {
	out := *view
	out.Stale = status.Stale
	out.Error = status.Error
	return &out
}

// Latest returns the most recent reading for metric, nil when there is none
func (s *DashboardService) Latest(ctx context.Context, metric vitals.Metric) (*vitals.SensorReading, error) {
	view, err := s.MetricView(ctx, metric)
	if err != nil {
		return nil, err
	}
	return view.Latest, nil
}

// Prediction returns the heart-rate regression projected offset months ahead.
// Zero selects the configured default.
func (s *DashboardService) Prediction(ctx context.Context, offset int) (*Prediction, error) {
	if offset < 0 || offset > MaxPredictionOffset {
		return nil, errors.InvalidInput(fmt.Sprintf("offset must be between 1 and %d, got %d", MaxPredictionOffset, offset))
	}
	if offset == 0 {
		offset = s.config.DefaultOffset
	}

	info, _ := vitals.MetricHeartRate.Info()
	snap, _ := s.snapshot(ctx, vitals.MetricHeartRate)
	if snap == nil {
		return BuildPrediction(info, nil, offset), nil
	}

	if offset != s.config.DefaultOffset {
		return BuildPrediction(info, snap, offset), nil
	}

	key := predictionKey{hash: snap.Hash, offset: offset}
	s.mu.RLock()
	cached, ok := s.predictions[key]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	p := BuildPrediction(info, snap, offset)
	s.storeIfCurrent(vitals.MetricHeartRate, snap.Hash, func() { s.predictions[key] = p })

	return p, nil
}

// Dashboard assembles every metric view and the default prediction. A metric
// whose view cannot be built is reported unavailable with its error.
func (s *DashboardService) Dashboard(ctx context.Context) (*Dashboard, error) {
	d := &Dashboard{GeneratedAt: s.now().UTC()}

	for _, info := range vitals.Catalog() {
		view, err := s.MetricView(ctx, info.Metric)
		if err != nil {
			s.logger.WithField("metric", info.Metric).WithError(err).Warn("metric view unavailable")
			view = emptyView(info)
			view.Error = err.Error()
		}
		d.Metrics = append(d.Metrics, view)
	}

	p, err := s.Prediction(ctx, 0)
	if err != nil {
		return nil, err
	}
	d.Prediction = p

	return d, nil
}
