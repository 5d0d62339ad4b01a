// Package excel writes dashboard data to .xlsx workbooks and reads them back.
package excel

import (
	"fmt"
	"io"
	"math"

	"vitalsdash/app"
	"vitalsdash/internal/errors"

	"github.com/xuri/excelize/v2"
)

// PredictionSheet is the name of the regression sheet
const PredictionSheet = "Prediction"

var (
	metricHeaders     = []interface{}{"Month", "Average", "Min", "Max", "Daily mean", "Readings", "Variability"}
	predictionHeaders = []interface{}{"Month", "Average", "Regression", "Predicted"}
)

// WriteDashboard writes one sheet per metric plus the Prediction sheet to w
func WriteDashboard(w io.Writer, d *app.Dashboard) error {
	if d == nil {
		return errors.InvalidInput("dashboard cannot be nil")
	}

	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.Wrap(err, "failed to create header style")
	}

	first := true
	for _, view := range d.Metrics {
		name := view.DisplayName
		if first {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return errors.Wrapf(err, "failed to name sheet %s", name)
			}
			first = false
		} else if _, err := f.NewSheet(name); err != nil {
			return errors.Wrapf(err, "failed to create sheet %s", name)
		}
		if err := writeMetricSheet(f, name, view, header); err != nil {
			return err
		}
	}

	if first {
		if err := f.SetSheetName("Sheet1", PredictionSheet); err != nil {
			return errors.Wrap(err, "failed to name prediction sheet")
		}
	} else if _, err := f.NewSheet(PredictionSheet); err != nil {
		return errors.Wrap(err, "failed to create prediction sheet")
	}
	if err := writePredictionSheet(f, d.Prediction, header); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return errors.Wrap(err, "failed to write workbook")
	}
	return nil
}

func writeMetricSheet(f *excelize.File, sheet string, v *app.MetricView, header int) error {
	if err := writeHeader(f, sheet, metricHeaders, header); err != nil {
		return err
	}

	if !v.Available {
		return setRow(f, sheet, 2, []interface{}{"No data available"})
	}

	row := 2
	for _, m := range v.Months {
		var daily interface{}
		if m.HasReadings {
			daily = m.ReadingMean
		}
		values := []interface{}{m.Month, m.Average, m.Min, m.Max, daily, m.ReadingCount, m.Variability}
		if err := setRow(f, sheet, row, values); err != nil {
			return err
		}
		row++
	}

	row++
	if v.Totals != nil {
		if err := setRow(f, sheet, row, []interface{}{"Total", v.Totals.TotalAverage, v.Totals.TotalMin, v.Totals.TotalMax}); err != nil {
			return err
		}
		row++
	}
	return setRow(f, sheet, row, []interface{}{"Latest", v.LatestText})
}

func writePredictionSheet(f *excelize.File, p *app.Prediction, header int) error {
	if err := writeHeader(f, PredictionSheet, predictionHeaders, header); err != nil {
		return err
	}
	if p == nil || !p.Available {
		return setRow(f, PredictionSheet, 2, []interface{}{"Not enough data"})
	}

	row := 2
	for _, r := range p.Rows {
		if err := setRow(f, PredictionSheet, row, []interface{}{r.Name, r.Average, r.Regression, r.Predicted}); err != nil {
			return err
		}
		row++
	}

	row++
	summary := [][]interface{}{
		{"Slope", p.Slope},
		{"Intercept", p.Intercept},
		{"R squared", finite(p.RSquared)},
		{fmt.Sprintf("Next value (+%d)", p.Offset), p.NextValue},
	}
	for _, values := range summary {
		if err := setRow(f, PredictionSheet, row, values); err != nil {
			return err
		}
		row++
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []interface{}, style int) error {
	if err := setRow(f, sheet, 1, headers); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return errors.Wrap(err, "invalid header range")
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return errors.Wrapf(err, "failed to style header of %s", sheet)
	}
	return f.SetColWidth(sheet, "A", "A", 14)
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return errors.Wrapf(err, "invalid row %d", row)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return errors.Wrapf(err, "failed to write %s!%s", sheet, cell)
	}
	return nil
}

// finite maps NaN and infinities to nil so they land as empty cells
func finite(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
