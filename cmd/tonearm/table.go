package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// renderTable renders rows under headers in the shared CLI table style.
// Columns are left-aligned; numeric columns (counts, attempt ratios) are
// listed by zero-based index in rightAligned. Short rows are padded so
// ragged input never shifts columns.
func renderTable(headers []string, rows [][]string, rightAligned ...int) string {
	if len(headers) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		padded := make(table.Row, len(headers))
		for i := range padded {
			padded[i] = ""
			if i < len(row) {
				padded[i] = row[i]
			}
		}
		tw.AppendRow(padded)
	}

	right := make(map[int]struct{}, len(rightAligned))
	for _, idx := range rightAligned {
		right[idx] = struct{}{}
	}
	configs := make([]table.ColumnConfig, len(headers))
	for i := range configs {
		align := text.AlignLeft
		if _, ok := right[i]; ok {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		}
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// allColumns lists every column index of headers, for views whose columns
// are uniformly numeric.
func allColumns(headers []string) []int {
	idx := make([]int, len(headers))
	for i := range idx {
		idx[i] = i
	}
	return idx
}
