package excel

import (
	"io"
	"strings"

	"vitalsdash/internal/errors"

	"github.com/xuri/excelize/v2"
)

// RawRowData represents a row as header to cell text
type RawRowData map[string]string

// SheetData is one sheet of a workbook read back as text
type SheetData struct {
	Name    string
	Headers []string
	Rows    []RawRowData
}

// ReadWorkbook reads every sheet of an .xlsx stream in workbook order. The
// first row of each sheet is taken as the header row.
func ReadWorkbook(r io.Reader) ([]*SheetData, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.ParseError("failed to open workbook", err)
	}
	defer f.Close()

	var sheets []*SheetData
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read sheet %s", name)
		}
		sheets = append(sheets, processRows(name, rows))
	}
	return sheets, nil
}

// processRows converts raw string rows into SheetData. Blank rows are kept so
// callers can locate trailing summary blocks.
func processRows(name string, rows [][]string) *SheetData {
	data := &SheetData{Name: name}
	if len(rows) == 0 {
		return data
	}

	data.Headers = make([]string, len(rows[0]))
	for i, header := range rows[0] {
		data.Headers[i] = strings.TrimSpace(header)
	}

	for _, row := range rows[1:] {
		rowData := make(RawRowData)
		for j, cell := range row {
			if j < len(data.Headers) {
				rowData[data.Headers[j]] = strings.TrimSpace(cell)
			}
		}
		data.Rows = append(data.Rows, rowData)
	}
	return data
}

// Sheet returns the sheet with the given name, or nil
func Sheet(sheets []*SheetData, name string) *SheetData {
	for _, s := range sheets {
		if s.Name == name {
			return s
		}
	}
	return nil
}
