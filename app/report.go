package app

import (
	"fmt"
	"strings"
	"time"
)

// markdownEscaper backslash-escapes the characters that open Markdown
// emphasis, links, images, inline HTML, code spans and table cells.
var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"`", "\\`",
	`*`, `\*`,
	`_`, `\_`,
	`[`, `\[`,
	`]`, `\]`,
	`<`, `\<`,
	`>`, `\>`,
	`|`, `\|`,
	`!`, `\!`,
	`#`, `\#`,
	`~`, `\~`,
)

// EscapeMarkdown makes upstream text render literally inside a report
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// ReportBuilder renders a Dashboard as Markdown
type ReportBuilder struct {
	// Title heads the document; empty uses "Health Metrics Report".
	Title string
}

// Markdown renders the latest readings, totals, per-month table and the
// heart-rate prediction of d.
func (b ReportBuilder) Markdown(d *Dashboard) string {
	title := b.Title
	if title == "" {
		title = "Health Metrics Report"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", title)
	if d == nil {
		sb.WriteString("_No data._\n")
		return sb.String()
	}
	fmt.Fprintf(&sb, "Generated %s\n\n", d.GeneratedAt.UTC().Format(time.RFC1123))

	sb.WriteString("## Latest readings\n\n")
	for _, v := range d.Metrics {
		line := EscapeMarkdown(v.LatestText)
		if v.Stale {
			line += " _(stale)_"
		}
		fmt.Fprintf(&sb, "- %s\n", line)
	}
	sb.WriteString("\n")

	for _, v := range d.Metrics {
		writeMetricSection(&sb, v)
	}

	if d.Prediction != nil {
		writePredictionSection(&sb, d.Prediction)
	}

	return sb.String()
}

func writeMetricSection(sb *strings.Builder, v *MetricView) {
	fmt.Fprintf(sb, "## %s (%s)\n\n", v.DisplayName, v.Unit)

	if !v.Available {
		if v.Error != "" {
			fmt.Fprintf(sb, "Unavailable: %s\n\n", EscapeMarkdown(v.Error))
		} else {
			sb.WriteString("No data available.\n\n")
		}
		return
	}

	if v.Totals != nil {
		fmt.Fprintf(sb, "Overall average **%.2f**, min **%.2f**, max **%.2f**.\n\n",
			v.Totals.TotalAverage, v.Totals.TotalMin, v.Totals.TotalMax)
	}

	sb.WriteString("| Month | Average | Min | Max | Daily mean | Readings |\n")
	sb.WriteString("|---|---:|---:|---:|---:|---:|\n")
	for _, m := range v.Months {
		daily := "-"
		if m.HasReadings {
			daily = fmt.Sprintf("%.2f", m.ReadingMean)
		}
		fmt.Fprintf(sb, "| %s | %.2f | %.2f | %.2f | %s | %d |\n",
			EscapeMarkdown(m.Month), m.Average, m.Min, m.Max, daily, m.ReadingCount)
	}
	sb.WriteString("\n")
}

func writePredictionSection(sb *strings.Builder, p *Prediction) {
	fmt.Fprintf(sb, "## Prediction (%s, %d months ahead)\n\n", p.Metric, p.Offset)

	if !p.Available {
		sb.WriteString("Not enough data for a trend.\n\n")
		return
	}

	fmt.Fprintf(sb, "Trend: y = %.4f·x + %.4f (R² %.3f). Next value **%.2f %s**.\n\n",
		p.Slope, p.Intercept, p.RSquared, p.NextValue, p.Unit)

	sb.WriteString("| Month | Average | Regression | Predicted |\n")
	sb.WriteString("|---|---:|---:|---:|\n")
	for _, r := range p.Rows {
		fmt.Fprintf(sb, "| %s | %.2f | %.2f | %.2f |\n", EscapeMarkdown(r.Name), r.Average, r.Regression, r.Predicted)
	}
	sb.WriteString("\n")
}
