package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"vitalsdash/adapters/memory"
	"vitalsdash/domain/vitals"
	"vitalsdash/internal"
	"vitalsdash/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMetricSource struct {
	mock.Mock
}

func (m *MockMetricSource) Fetch(ctx context.Context, metric vitals.Metric) ([]vitals.MetricDocument, error) {
	args := m.Called(ctx, metric)
	docs, _ := args.Get(0).([]vitals.MetricDocument)
	return docs, args.Error(1)
}

var monthNames = []string{"January", "February", "March", "April", "May", "June", "July"}

// testDocument builds a document with one reading per month equal to its average
func testDocument(id string, averages ...float64) vitals.MetricDocument {
	doc := vitals.MetricDocument{ID: id}
	for i, avg := range averages {
		doc.MonthlyData = append(doc.MonthlyData, vitals.MonthlyBucket{
			Month:   monthNames[i],
			Average: avg,
			Min:     avg - 1,
			Max:     avg + 1,
			Readings: []vitals.SensorReading{
				{Date: fmt.Sprintf("2024-%02d-15T08:00:00Z", i+1), Value: avg},
			},
		})
	}
	return doc
}

func newTestService(source *MockMetricSource, repo *memory.SnapshotRepository) *DashboardService {
	logger := internal.NewLogger(internal.LogLevelError)
	return NewDashboardService(source, repo, DashboardConfig{SnapshotKeep: 3, DefaultOffset: 12}, logger)
}

func expectAll(source *MockMetricSource, hr []vitals.MetricDocument) {
	source.On("Fetch", mock.Anything, vitals.MetricOxygenSaturation).Return([]vitals.MetricDocument{testDocument("o", 97, 98)}, nil)
	source.On("Fetch", mock.Anything, vitals.MetricBodyTemperature).Return([]vitals.MetricDocument{testDocument("t", 36.5, 36.7)}, nil)
	source.On("Fetch", mock.Anything, vitals.MetricHeartRate).Return(hr, nil)
}

func TestDashboardService_RefreshBuildsViews(t *testing.T) {
	source := &MockMetricSource{}
	expectAll(source, []vitals.MetricDocument{testDocument("h", 70, 72, 78)})
	repo := memory.NewSnapshotRepository()
	svc := newTestService(source, repo)

	report, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Metrics, 3)
	for _, st := range report.Metrics {
		assert.True(t, st.Available, st.Metric)
		assert.False(t, st.Stale, st.Metric)
		assert.True(t, st.Changed, st.Metric)
		assert.Equal(t, 1, repo.Count(st.Metric))
	}

	view, err := svc.MetricView(context.Background(), vitals.MetricHeartRate)
	require.NoError(t, err)
	assert.True(t, view.Available)
	assert.Equal(t, "h", view.DocumentID)
	assert.Equal(t, "Heart Rate: 78 BPM (Date: 2024-03-15T08:00:00Z)", view.LatestText)
	require.Len(t, view.Averages, 3)
	assert.Equal(t, SeriesPoint{Name: "Jan", Value: 70}, view.Averages[0])
	assert.Equal(t, RangePoint{Name: "Mar", Min: 77, Max: 79}, view.MinMax[2])
	assert.Len(t, view.DailyReadings, 3)

	source.AssertExpectations(t)
}

func TestDashboardService_MemoizesUnchangedInput(t *testing.T) {
	source := &MockMetricSource{}
	expectAll(source, []vitals.MetricDocument{testDocument("h", 70, 72)})
	svc := newTestService(source, memory.NewSnapshotRepository())
	ctx := context.Background()

	_, err := svc.Refresh(ctx)
	require.NoError(t, err)
	first, err := svc.MetricView(ctx, vitals.MetricHeartRate)
	require.NoError(t, err)

	report, err := svc.Refresh(ctx)
	require.NoError(t, err)
	for _, st := range report.Metrics {
		assert.False(t, st.Changed, st.Metric)
	}

	second, err := svc.MetricView(ctx, vitals.MetricHeartRate)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	svc.mu.RLock()
	cached := len(svc.views)
	svc.mu.RUnlock()
	assert.Equal(t, 1, cached)
}

func TestDashboardService_ChangedInputInvalidatesView(t *testing.T) {
	source := &MockMetricSource{}
	source.On("Fetch", mock.Anything, vitals.MetricOxygenSaturation).Return([]vitals.MetricDocument{}, nil)
	source.On("Fetch", mock.Anything, vitals.MetricBodyTemperature).Return([]vitals.MetricDocument{}, nil)
	source.On("Fetch", mock.Anything, vitals.MetricHeartRate).Return([]vitals.MetricDocument{testDocument("h", 70)}, nil).Once()
	source.On("Fetch", mock.Anything, vitals.MetricHeartRate).Return([]vitals.MetricDocument{testDocument("h", 70, 80)}, nil).Once()
	svc := newTestService(source, memory.NewSnapshotRepository())
	ctx := context.Background()

	_, err := svc.Refresh(ctx)
	require.NoError(t, err)
	before, err := svc.MetricView(ctx, vitals.MetricHeartRate)
	require.NoError(t, err)
	assert.Len(t, before.Averages, 1)

	_, err = svc.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, svc.Status(vitals.MetricHeartRate).Changed)

	after, err := svc.MetricView(ctx, vitals.MetricHeartRate)
	require.NoError(t, err)
	assert.Len(t, after.Averages, 2)
	assert.NotEqual(t, before.SourceHash, after.SourceHash)

	svc.mu.RLock()
	_, stale := svc.views[viewKey{metric: vitals.MetricHeartRate, hash: before.SourceHash}]
	svc.mu.RUnlock()
	assert.False(t, stale)
}

func TestDashboardService_FallsBackToLastSnapshot(t *testing.T) {
	repo := memory.NewSnapshotRepository()
	ctx := context.Background()

	healthy := &MockMetricSource{}
	expectAll(healthy, []vitals.MetricDocument{testDocument("h", 70, 72)})
	_, err := newTestService(healthy, repo).Refresh(ctx)
	require.NoError(t, err)

	failing := &MockMetricSource{}
	failing.On("Fetch", mock.Anything, mock.Anything).Return(nil, stderrors.New("connection refused"))
	svc := newTestService(failing, repo)

	report, err := svc.Refresh(ctx)
	require.NoError(t, err)
	for _, st := range report.Metrics {
		assert.True(t, st.Stale, st.Metric)
		assert.True(t, st.Available, st.Metric)
		assert.Contains(t, st.Error, "connection refused")
	}

	view, err := svc.MetricView(ctx, vitals.MetricHeartRate)
	require.NoError(t, err)
	assert.True(t, view.Available)
	assert.True(t, view.Stale)
	assert.Equal(t, "Heart Rate: 72 BPM (Date: 2024-02-15T08:00:00Z)", view.LatestText)
}

func TestDashboardService_UnavailableWithoutSnapshot(t *testing.T) {
	source := &MockMetricSource{}
	source.On("Fetch", mock.Anything, vitals.MetricOxygenSaturation).Return(nil, stderrors.New("timeout"))
	source.On("Fetch", mock.Anything, vitals.MetricBodyTemperature).Return([]vitals.MetricDocument{testDocument("t", 36.5)}, nil)
	source.On("Fetch", mock.Anything, vitals.MetricHeartRate).Return([]vitals.MetricDocument{}, nil)
	svc := newTestService(source, memory.NewSnapshotRepository())

	d, err := svc.Dashboard(context.Background())
	require.NoError(t, err)
	require.Len(t, d.Metrics, 3)

	spo2 := d.Metrics[0]
	assert.False(t, spo2.Available)
	assert.True(t, spo2.Stale)
	assert.Equal(t, "SpO2: Loading...", spo2.LatestText)
	assert.Contains(t, spo2.Error, "timeout")

	assert.True(t, d.Metrics[1].Available)
	assert.Equal(t, "Temperature: 36.5 °C (Date: 2024-01-15T08:00:00Z)", d.Metrics[1].LatestText)

	assert.False(t, d.Metrics[2].Available)
	assert.Equal(t, "Heart Rate: Loading...", d.Metrics[2].LatestText)
	require.NotNil(t, d.Prediction)
	assert.False(t, d.Prediction.Available)
	assert.Empty(t, d.Prediction.Rows)
}

func TestDashboardService_LazyFetchOnFirstView(t *testing.T) {
	source := &MockMetricSource{}
	source.On("Fetch", mock.Anything, vitals.MetricBodyTemperature).Return([]vitals.MetricDocument{testDocument("t", 36.5)}, nil).Once()
	svc := newTestService(source, memory.NewSnapshotRepository())
	ctx := context.Background()

	_, err := svc.MetricView(ctx, vitals.MetricBodyTemperature)
	require.NoError(t, err)
	_, err = svc.MetricView(ctx, vitals.MetricBodyTemperature)
	require.NoError(t, err)

	source.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestDashboardService_FailedFirstFetchWaitsForRefresh(t *testing.T) {
	source := &MockMetricSource{}
	source.On("Fetch", mock.Anything, vitals.MetricOxygenSaturation).Return(nil, stderrors.New("connection refused"))
	source.On("Fetch", mock.Anything, vitals.MetricBodyTemperature).Return([]vitals.MetricDocument{testDocument("t", 36.5)}, nil)
	source.On("Fetch", mock.Anything, vitals.MetricHeartRate).Return([]vitals.MetricDocument{testDocument("h", 70, 72)}, nil)
	svc := newTestService(source, memory.NewSnapshotRepository())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		view, err := svc.MetricView(ctx, vitals.MetricOxygenSaturation)
		require.NoError(t, err)
		assert.False(t, view.Available)
		assert.Contains(t, view.Error, "connection refused")
	}
	source.AssertNumberOfCalls(t, "Fetch", 1)

	_, err := svc.Refresh(ctx)
	require.NoError(t, err)
	source.AssertNumberOfCalls(t, "Fetch", 4)

	_, err = svc.Dashboard(ctx)
	require.NoError(t, err)
	source.AssertNumberOfCalls(t, "Fetch", 4)
}

func TestDashboardService_MemoizesDefaultOffsetOnly(t *testing.T) {
	source := &MockMetricSource{}
	source.On("Fetch", mock.Anything, vitals.MetricHeartRate).Return([]vitals.MetricDocument{testDocument("h", 70, 72, 74)}, nil)
	svc := newTestService(source, memory.NewSnapshotRepository())
	ctx := context.Background()

	for offset := 1; offset <= 500; offset++ {
		p, err := svc.Prediction(ctx, offset)
		require.NoError(t, err)
		require.Equal(t, offset, p.Offset)
	}

	svc.mu.RLock()
	size := len(svc.predictions)
	svc.mu.RUnlock()
	assert.Equal(t, 1, size)

	first, err := svc.Prediction(ctx, 0)
	require.NoError(t, err)
	second, err := svc.Prediction(ctx, 12)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestDashboardService_DropsValuesBuiltFromReplacedSource(t *testing.T) {
	source := &MockMetricSource{}
	source.On("Fetch", mock.Anything, vitals.MetricOxygenSaturation).Return([]vitals.MetricDocument{}, nil)
	source.On("Fetch", mock.Anything, vitals.MetricBodyTemperature).Return([]vitals.MetricDocument{}, nil)
	source.On("Fetch", mock.Anything, vitals.MetricHeartRate).Return([]vitals.MetricDocument{testDocument("h", 70)}, nil).Once()
	source.On("Fetch", mock.Anything, vitals.MetricHeartRate).Return([]vitals.MetricDocument{testDocument("h", 70, 80)}, nil).Once()
	svc := newTestService(source, memory.NewSnapshotRepository())
	ctx := context.Background()

	_, err := svc.Refresh(ctx)
	require.NoError(t, err)
	old := svc.Status(vitals.MetricHeartRate).Hash

	_, err = svc.Refresh(ctx)
	require.NoError(t, err)
	require.NotEqual(t, old, svc.Status(vitals.MetricHeartRate).Hash)

	// A view finished after the second Refresh replaced its source.
	stale := viewKey{metric: vitals.MetricHeartRate, hash: old}
	svc.storeIfCurrent(vitals.MetricHeartRate, old, func() { svc.views[stale] = &MetricView{} })

	svc.mu.RLock()
	_, kept := svc.views[stale]
	svc.mu.RUnlock()
	assert.False(t, kept)

	view, err := svc.MetricView(ctx, vitals.MetricHeartRate)
	require.NoError(t, err)
	svc.mu.RLock()
	_, cached := svc.views[viewKey{metric: vitals.MetricHeartRate, hash: view.SourceHash}]
	svc.mu.RUnlock()
	assert.True(t, cached)
}

func TestDashboardService_UnknownMetric(t *testing.T) {
	svc := newTestService(&MockMetricSource{}, memory.NewSnapshotRepository())

	_, err := svc.MetricView(context.Background(), vitals.Metric("glucose"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
}

func TestDashboardService_Prediction(t *testing.T) {
	source := &MockMetricSource{}
	source.On("Fetch", mock.Anything, vitals.MetricHeartRate).Return([]vitals.MetricDocument{testDocument("h", 70, 72, 74)}, nil)
	svc := newTestService(source, memory.NewSnapshotRepository())
	ctx := context.Background()

	p, err := svc.Prediction(ctx, 0)
	require.NoError(t, err)
	assert.True(t, p.Available)
	assert.Equal(t, 12, p.Offset)
	assert.InDelta(t, 2.0, p.Slope, 1e-9)
	assert.InDelta(t, 70.0, p.Intercept, 1e-9)
	assert.InDelta(t, 1.0, p.RSquared, 1e-9)
	assert.InDelta(t, 98.0, p.NextValue, 1e-9)

	require.Len(t, p.Rows, 3)
	for i, row := range p.Rows {
		assert.Equal(t, monthNames[i], row.Name)
		assert.InDelta(t, 70+2*float64(i), row.Regression, 1e-9)
		assert.InDelta(t, 70+2*float64(i+12), row.Predicted, 1e-9)
	}

	again, err := svc.Prediction(ctx, 12)
	require.NoError(t, err)
	assert.Same(t, p, again)

	shorter, err := svc.Prediction(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 76.0, shorter.NextValue, 1e-9)
}

func TestDashboardService_PredictionRejectsOutOfRangeOffset(t *testing.T) {
	svc := newTestService(&MockMetricSource{}, memory.NewSnapshotRepository())

	for _, offset := range []int{-3, MaxPredictionOffset + 1, math.MaxInt} {
		_, err := svc.Prediction(context.Background(), offset)
		require.Error(t, err, offset)
		assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err), offset)
	}
}

func TestDashboardService_PredictionAtMaxOffsetStaysFinite(t *testing.T) {
	source := &MockMetricSource{}
	expectAll(source, []vitals.MetricDocument{testDocument("h", 70, 72, 74)})
	svc := newTestService(source, memory.NewSnapshotRepository())

	p, err := svc.Prediction(context.Background(), MaxPredictionOffset)
	require.NoError(t, err)
	// 70 + 2*(2+1200)
	assert.InDelta(t, 2474.0, p.NextValue, 1e-6)
	for i, row := range p.Rows {
		assert.InDelta(t, 70+2*float64(i+MaxPredictionOffset), row.Predicted, 1e-6)
	}
}

func TestReportBuilder_Markdown(t *testing.T) {
	source := &MockMetricSource{}
	expectAll(source, []vitals.MetricDocument{testDocument("h", 70, 72, 74)})
	svc := newTestService(source, memory.NewSnapshotRepository())

	d, err := svc.Dashboard(context.Background())
	require.NoError(t, err)

	md := ReportBuilder{}.Markdown(d)
	assert.True(t, strings.HasPrefix(md, "# Health Metrics Report\n"))
	assert.Contains(t, md, "- SpO2: 98.0% (Date: 2024-02-15T08:00:00Z)")
	assert.Contains(t, md, "## Heart Rate (BPM)")
	assert.Contains(t, md, "| January | 70.00 | 69.00 | 71.00 | 70.00 | 1 |")
	assert.Contains(t, md, "## Prediction (heart_rate, 12 months ahead)")
	assert.Contains(t, md, "| March | 74.00 | 74.00 | 98.00 |")

	assert.Contains(t, ReportBuilder{Title: "Weekly"}.Markdown(nil), "# Weekly")
}

func TestReportBuilder_EscapesUpstreamText(t *testing.T) {
	d := &Dashboard{Metrics: []*MetricView{{
		DisplayName: "Heart Rate",
		Unit:        "BPM",
		Available:   true,
		LatestText:  "Heart Rate: <b>78</b> BPM",
		Months:      []vitals.MonthlyStats{{Month: "[Jan](javascript:alert(1)) | *x*"}},
	}}}

	md := ReportBuilder{}.Markdown(d)
	assert.Contains(t, md, `| \[Jan\](javascript:alert(1)) \| \*x\* |`)
	assert.Contains(t, md, `- Heart Rate: \<b\>78\</b\> BPM`)
	assert.NotContains(t, md, "[Jan](")
	assert.Equal(t, `a\_b\\c`, EscapeMarkdown(`a_b\c`))
}

func TestDashboardService_NotifiesRefreshListeners(t *testing.T) {
	source := &MockMetricSource{}
	expectAll(source, []vitals.MetricDocument{testDocument("h", 70)})
	svc := newTestService(source, memory.NewSnapshotRepository())

	var got []*RefreshReport
	svc.OnRefresh(func(r *RefreshReport) { got = append(got, r) })

	report, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Same(t, report, got[0])
}

func TestDashboardService_RefreshHonoursCancelledContext(t *testing.T) {
	source := &MockMetricSource{}
	source.On("Fetch", mock.Anything, mock.Anything).Return(nil, context.Canceled)
	svc := newTestService(source, memory.NewSnapshotRepository())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Refresh(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
