package app

import (
	"fmt"
	"time"

	"vitalsdash/adapters/stats/trend"
	"vitalsdash/domain/core"
	"vitalsdash/domain/vitals"
	"vitalsdash/internal/errors"
)

// SeriesPoint is one labelled value of a chart series
type SeriesPoint struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// RangePoint is one labelled min/max pair
type RangePoint struct {
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// MetricView is everything the dashboard shows for one metric
type MetricView struct {
	Metric      vitals.Metric `json:"metric"`
	DisplayName string        `json:"display_name"`
	Label       string        `json:"label"`
	Unit        string        `json:"unit"`

	Available  bool      `json:"available"`
	Stale      bool      `json:"stale"`
	Error      string    `json:"error,omitempty"`
	DocumentID string    `json:"document_id,omitempty"`
	SourceHash core.Hash `json:"source_hash,omitempty"`
	FetchedAt  time.Time `json:"fetched_at,omitempty"`

	Averages      []SeriesPoint         `json:"averages"`
	MinMax        []RangePoint          `json:"min_max"`
	DailyReadings []SeriesPoint         `json:"daily_readings"`
	Months        []vitals.MonthlyStats `json:"months"`
	Totals        *vitals.Totals        `json:"totals,omitempty"`

	Latest     *vitals.SensorReading `json:"latest,omitempty"`
	LatestText string                `json:"latest_text"`
}

// PredictionRow is one month of the prediction chart
type PredictionRow struct {
	Name       string  `json:"name"`
	Average    float64 `json:"average"`
	Regression float64 `json:"regression"`
	Predicted  float64 `json:"predicted"`
}

// Prediction is the regression view over a metric's monthly averages
type Prediction struct {
	Metric     vitals.Metric `json:"metric"`
	Unit       string        `json:"unit"`
	Available  bool          `json:"available"`
	Offset     int           `json:"offset"`
	SourceHash core.Hash     `json:"source_hash,omitempty"`

	Slope     float64         `json:"slope"`
	Intercept float64         `json:"intercept"`
	RSquared  float64         `json:"r_squared"`
	NextValue float64         `json:"next_value"`
	Rows      []PredictionRow `json:"rows"`
}

// Dashboard bundles every metric view with the heart-rate prediction
type Dashboard struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Metrics     []*MetricView `json:"metrics"`
	Prediction  *Prediction   `json:"prediction"`
}

// presentationPlaces is the rounding applied to regression output
const presentationPlaces = 2

func emptyView(info vitals.MetricInfo) *MetricView {
	return &MetricView{
		Metric:        info.Metric,
		DisplayName:   info.DisplayName,
		Label:         info.Label,
		Unit:          info.Unit,
		Averages:      []SeriesPoint{},
		MinMax:        []RangePoint{},
		DailyReadings: []SeriesPoint{},
		Months:        []vitals.MonthlyStats{},
		LatestText:    LatestText(info, nil),
	}
}

// BuildMetricView derives the view of a snapshot's primary document. A nil
// snapshot or one without documents yields an unavailable view, not an error.
func BuildMetricView(info vitals.MetricInfo, snap *vitals.Snapshot) (*MetricView, error) {
	view := emptyView(info)

	doc, ok := snap.Primary()
	if !ok {
		return view, nil
	}

	latest, err := vitals.SelectLatest(doc.MonthlyData)
	if err != nil {
		return nil, errors.ParseError(fmt.Sprintf("latest %s reading", info.Metric), err)
	}

	view.Available = true
	view.DocumentID = doc.ID
	view.SourceHash = snap.Hash
	view.FetchedAt = snap.FetchedAt
	view.Totals = doc.TotalsOrComputed()
	view.Months = vitals.SummarizeAll(doc.MonthlyData)
	view.Latest = latest
	view.LatestText = LatestText(info, latest)

	for _, m := range view.Months {
		view.Averages = append(view.Averages, SeriesPoint{Name: m.Label, Value: m.Average})
		view.MinMax = append(view.MinMax, RangePoint{Name: m.Label, Min: m.Min, Max: m.Max})
		// Months without raw readings have no daily mean and are left out.
		if m.HasReadings {
			view.DailyReadings = append(view.DailyReadings, SeriesPoint{Name: m.Label, Value: m.ReadingMean})
		}
	}

	return view, nil
}

// BuildPrediction fits the monthly averages of a snapshot's primary document
// and projects every month offset positions ahead.
func BuildPrediction(info vitals.MetricInfo, snap *vitals.Snapshot, offset int) *Prediction {
	p := &Prediction{
		Metric: info.Metric,
		Unit:   info.Unit,
		Offset: offset,
		Rows:   []PredictionRow{},
	}

	doc, ok := snap.Primary()
	if !ok {
		return p
	}

	fit := trend.FitAndPredict(doc.Averages())
	projected := fit.Project(offset)

	p.Available = fit.Len() > 0
	p.SourceHash = snap.Hash
	p.Slope = fit.Slope
	p.Intercept = fit.Intercept
	p.RSquared = fit.RSquared
	if p.Available {
		p.NextValue = trend.Round(fit.Extrapolate(offset), presentationPlaces)
	}

	for i, b := range doc.MonthlyData {
		p.Rows = append(p.Rows, PredictionRow{
			Name:       b.Month,
			Average:    b.Average,
			Regression: trend.Round(fit.Fitted[i], presentationPlaces),
			Predicted:  trend.Round(projected[i], presentationPlaces),
		})
	}

	return p
}

// LatestText renders the one-line live reading, e.g. "SpO2: 98.0% (Date: ...)".
func LatestText(info vitals.MetricInfo, r *vitals.SensorReading) string {
	if r == nil {
		return info.Label + ": Loading..."
	}
	sep := " "
	if info.Unit == "%" {
		sep = ""
	}
	return fmt.Sprintf("%s: %.*f%s%s (Date: %s)", info.Label, info.Precision, r.Value, sep, info.Unit, r.Date)
}
