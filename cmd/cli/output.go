package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// printer writes status lines, colored when out is a terminal
type printer struct {
	out io.Writer
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

func (p *printer) Info(format string, args ...interface{}) {
	color.New(color.FgCyan).Fprintf(p.out, format+"\n", args...)
}

func (p *printer) Success(format string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(p.out, "✓ "+format+"\n", args...)
}

func (p *printer) Warn(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(p.out, "⚠ "+format+"\n", args...)
}

// table buffers rows and renders them borderless
type table struct {
	table  *tablewriter.Table
	header []string
	rows   [][]string
}

func newTable(w io.Writer, headers []string) *table {
	t := tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
			Header: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{Borders: tw.BorderNone}),
	)
	return &table{table: t, header: headers}
}

func (t *table) AddRow(row []string) {
	t.rows = append(t.rows, row)
}

func (t *table) Render() error {
	t.table.Header(t.header)
	if err := t.table.Bulk(t.rows); err != nil {
		return fmt.Errorf("failed to add rows: %w", err)
	}
	return t.table.Render()
}
