package main

import (
	"strconv"
	"time"

	"github.com/contractear/contractear-api/internal/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func stuckTable(list []models.Analysis, now time.Time) ([]string, [][]string, []columnAlignment) {
	headers := []string{"ID", "Status", "Tier", "Attempts", "Lease", "Idle"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight}
	rows := make([][]string, 0, len(list))
	for _, a := range list {
		lease := "-"
		if a.LeaseExpiresAt != nil {
			if a.LeaseExpiresAt.After(now) {
				lease = "held " + a.LeaseExpiresAt.Sub(now).Round(time.Second).String()
			} else {
				lease = "expired"
			}
		}
		rows = append(rows, []string{
			a.ID.String(),
			string(a.Status),
			string(a.Tier),
			strconv.Itoa(a.ProcessingAttempts),
			lease,
			now.Sub(a.UpdatedAt).Round(time.Minute).String(),
		})
	}
	return headers, rows, aligns
}
