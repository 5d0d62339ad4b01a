package vitals

import (
	"github.com/montanaflynn/stats"
)

// MonthlyStats is the per-month summary shared by every metric.
type MonthlyStats struct {
	Month        string  `json:"month"`
	Label        string  `json:"label"`
	Average      float64 `json:"average"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	ReadingMean  float64 `json:"reading_mean"`
	ReadingCount int     `json:"reading_count"`
	Variability  float64 `json:"variability"`
	HasReadings  bool    `json:"has_readings"`
}

// MonthLabel shortens a month name to its first three characters ("January" -> "Jan").
func MonthLabel(month string) string {
	r := []rune(month)
	if len(r) <= 3 {
		return month
	}
	return string(r[:3])
}

// Summarize derives MonthlyStats from one bucket. Average, Min and Max are
// taken from upstream as-is; ReadingMean and Variability (population standard
// deviation) come from the raw readings and are zero when there are none.
func Summarize(b MonthlyBucket) MonthlyStats {
	ms := MonthlyStats{
		Month:        b.Month,
		Label:        MonthLabel(b.Month),
		Average:      b.Average,
		Min:          b.Min,
		Max:          b.Max,
		ReadingCount: len(b.Readings),
	}
	if len(b.Readings) == 0 {
		return ms
	}

	values := make(stats.Float64Data, len(b.Readings))
	for i, r := range b.Readings {
		values[i] = r.Value
	}

	// Only EmptyInputErr is possible here and it is excluded above.
	mean, _ := values.Mean()
	sd, _ := values.StandardDeviationPopulation()

	ms.ReadingMean = mean
	ms.Variability = sd
	ms.HasReadings = true
	return ms
}

// SummarizeAll applies Summarize to every bucket, preserving order.
func SummarizeAll(buckets []MonthlyBucket) []MonthlyStats {
	out := make([]MonthlyStats, len(buckets))
	for i, b := range buckets {
		out[i] = Summarize(b)
	}
	return out
}

// ComputeTotals derives document totals from the buckets: mean of the
// bucket averages, lowest Min and highest Max. Nil for no buckets.
func ComputeTotals(buckets []MonthlyBucket) *Totals {
	if len(buckets) == 0 {
		return nil
	}

	avgs := make(stats.Float64Data, len(buckets))
	mins := make(stats.Float64Data, len(buckets))
	maxs := make(stats.Float64Data, len(buckets))
	for i, b := range buckets {
		avgs[i] = b.Average
		mins[i] = b.Min
		maxs[i] = b.Max
	}

	mean, _ := avgs.Mean()
	lo, _ := mins.Min()
	hi, _ := maxs.Max()
	return &Totals{TotalAverage: mean, TotalMin: lo, TotalMax: hi}
}

// TotalsOrComputed returns the upstream totals when present, otherwise
// ComputeTotals over the monthly data.
func (d MetricDocument) TotalsOrComputed() *Totals {
	if d.Totals != nil {
		return d.Totals
	}
	return ComputeTotals(d.MonthlyData)
}
