// Package fragments provides template path constants for the shared page fragments
package fragments

import "strings"

// Template path constants, relative to ui/templates/fragments
const (
	// Layout templates
	Header = "layout/header.html"
	Footer = "layout/footer.html"

	// Metric templates
	MetricCard    = "metric/metric_card.html"
	LatestReading = "metric/latest_reading.html"

	// Prediction templates
	PredictionTable = "prediction/prediction_table.html"
)

// GetAllTemplatePaths returns all fragment paths for registration
func GetAllTemplatePaths() []string {
	return []string{
		Header,
		Footer,
		MetricCard,
		LatestReading,
		PredictionTable,
	}
}

// GetTemplateCategory returns the category for a given template path
func GetTemplateCategory(templatePath string) string {
	switch {
	case strings.HasPrefix(templatePath, "layout/"):
		return "layout"
	case strings.HasPrefix(templatePath, "metric/"):
		return "metric"
	case strings.HasPrefix(templatePath, "prediction/"):
		return "prediction"
	default:
		return "unknown"
	}
}
