// Package vitals holds the health-metric documents fetched from the upstream
// backend and the pure functions that derive dashboard values from them.
package vitals

import (
	"fmt"
	"strings"

	"vitalsdash/domain/core"
)

// Metric identifies one sensor metric.
type Metric string

const (
	MetricOxygenSaturation Metric = "oxygen_saturation"
	MetricBodyTemperature  Metric = "body_temperature"
	MetricHeartRate        Metric = "heart_rate"
)

// MetricInfo carries presentation and transport details for a Metric.
type MetricInfo struct {
	Metric      Metric `json:"metric"`
	DisplayName string `json:"display_name"`
	Label       string `json:"label"`
	Unit        string `json:"unit"`
	Path        string `json:"path"`
	Precision   int    `json:"precision"`
}

var catalog = []MetricInfo{
	{Metric: MetricOxygenSaturation, DisplayName: "Oxygen Saturation", Label: "SpO2", Unit: "%", Path: "oxygenSaturation/oxygenSaturations/", Precision: 1},
	{Metric: MetricBodyTemperature, DisplayName: "Body Temperature", Label: "Temperature", Unit: "°C", Path: "bodyTemperature/bodyTemperatures/", Precision: 1},
	{Metric: MetricHeartRate, DisplayName: "Heart Rate", Label: "Heart Rate", Unit: "BPM", Path: "heartRate/heartRates/", Precision: 0},
}

// AllMetrics returns every known metric in dashboard order.
func AllMetrics() []Metric {
	out := make([]Metric, len(catalog))
	for i, info := range catalog {
		out[i] = info.Metric
	}
	return out
}

// Catalog returns the info for every known metric in dashboard order.
func Catalog() []MetricInfo {
	out := make([]MetricInfo, len(catalog))
	copy(out, catalog)
	return out
}

// Info returns the catalog entry for m.
func (m Metric) Info() (MetricInfo, bool) {
	for _, info := range catalog {
		if info.Metric == m {
			return info, true
		}
	}
	return MetricInfo{}, false
}

func (m Metric) String() string { return string(m) }

// ParseMetric accepts the canonical name as well as dashed and camel-case
// spellings ("heart-rate", "heartRate").
func ParseMetric(s string) (Metric, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	switch norm {
	case "oxygen_saturation", "oxygensaturation", "spo2", "oxygen":
		return MetricOxygenSaturation, nil
	case "body_temperature", "bodytemperature", "temperature":
		return MetricBodyTemperature, nil
	case "heart_rate", "heartrate", "bpm":
		return MetricHeartRate, nil
	}
	return "", fmt.Errorf("%w: %q", core.ErrUnknownMetric, s)
}

// SensorReading is one timestamped sample. Date keeps the raw upstream string
// and is parsed on demand.
type SensorReading struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// Time parses Date with ParseTime.
func (r SensorReading) Time() (core.Timestamp, error) {
	t, err := ParseTime(r.Date)
	if err != nil {
		return core.Timestamp{}, err
	}
	return core.NewTimestamp(t), nil
}

// MonthlyBucket aggregates one calendar month of one metric. Min <= Average
// <= Max is expected of upstream data but never checked here.
type MonthlyBucket struct {
	Month    string          `json:"month"`
	Average  float64         `json:"average"`
	Min      float64         `json:"min"`
	Max      float64         `json:"max"`
	Readings []SensorReading `json:"readings"`
}

// Totals are the document-wide aggregates some upstream documents carry.
type Totals struct {
	TotalAverage float64 `json:"totalAverage"`
	TotalMin     float64 `json:"totalMin"`
	TotalMax     float64 `json:"totalMax"`
}

// MetricDocument is one upstream document. It is never mutated after decode.
type MetricDocument struct {
	ID          string          `json:"id"`
	Metric      string          `json:"metric,omitempty"`
	Unit        string          `json:"unit,omitempty"`
	Totals      *Totals         `json:"totals,omitempty"`
	MonthlyData []MonthlyBucket `json:"monthlyData"`
	CreatedAt   string          `json:"createdAt,omitempty"`
	UpdatedAt   string          `json:"updatedAt,omitempty"`
}

// Averages returns the bucket averages in document order.
func (d MetricDocument) Averages() []float64 {
	out := make([]float64, len(d.MonthlyData))
	for i, b := range d.MonthlyData {
		out[i] = b.Average
	}
	return out
}

// ReadingCount returns the number of readings across all buckets.
func (d MetricDocument) ReadingCount() int {
	n := 0
	for _, b := range d.MonthlyData {
		n += len(b.Readings)
	}
	return n
}
