package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/samber/lo"
)

type column struct {
	title string
	align text.Align
}

func leftCol(title string) column  { return column{title: title, align: text.AlignLeft} }
func rightCol(title string) column { return column{title: title, align: text.AlignRight} }

// renderTable draws rows under columns. Short rows are padded with blanks and
// cells past the last column are dropped.
func renderTable(columns []column, rows [][]string) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(lo.Map(columns, func(c column, _ int) any { return c.title }))
	for _, row := range rows {
		tw.AppendRow(lo.Times(len(columns), func(i int) any {
			if i < len(row) {
				return row[i]
			}
			return ""
		}))
	}
	tw.SetColumnConfigs(lo.Map(columns, func(c column, i int) table.ColumnConfig {
		return table.ColumnConfig{Number: i + 1, Align: c.align, AlignHeader: text.AlignLeft}
	}))
	return tw.Render()
}

// renderFieldTable draws a two-column Field/Value table.
func renderFieldTable(rows [][]string) string {
	return renderTable([]column{leftCol("Field"), leftCol("Value")}, rows)
}
