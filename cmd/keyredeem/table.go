package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"keyredeem/internal/keys"
	"keyredeem/internal/runner"
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
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func outcomeRows(outcomes map[keys.Status]int, order []keys.Status) [][]string {
	rows := make([][]string, 0, len(order))
	for _, status := range order {
		rows = append(rows, []string{statusLabel(status), strconv.Itoa(outcomes[status])})
	}
	return rows
}

func statusLabel(status keys.Status) string {
	return strings.ReplaceAll(string(status), "_", " ")
}

// renderRunSummary prints per-bucket counts, skip lists, and rate-limit and
// session statistics for a finished run.
func renderRunSummary(rep runner.Report, colorize bool) string {
	var b strings.Builder
	for _, line := range renderSectionHeader("Run summary", colorize) {
		b.WriteString(line + "\n")
	}

	rows := outcomeRows(rep.Redemption.Outcomes, []keys.Status{
		keys.StatusRedeemed, keys.StatusAlreadyOwned, keys.StatusExpired, keys.StatusErrored,
	})
	rows = append(rows,
		[]string{"friend keys", strconv.Itoa(len(rep.Friends))},
		[]string{"owned (skipped)", strconv.Itoa(len(rep.Owned))},
		[]string{"uncertain (skipped)", strconv.Itoa(len(rep.Uncertain))},
		[]string{"settled earlier", strconv.Itoa(rep.Known)},
	)
	if rep.Reconcile != nil {
		rows = append(rows, []string{"reconciled", strconv.Itoa(
			rep.Reconcile.Outcomes[keys.StatusRedeemed] + rep.Reconcile.Outcomes[keys.StatusAlreadyOwned])})
	}
	b.WriteString(renderTable([]string{"Outcome", "Keys"}, rows, []columnAlignment{alignLeft, alignRight}))
	b.WriteString("\n")

	if rl := rep.Redemption.RateLimit; rl.Episodes > 0 {
		b.WriteString(renderStatusLine("Rate limit", statusWarn,
			fmt.Sprintf("%d waits, %s total", rl.Episodes, rl.Waited.Round(time.Second)), colorize) + "\n")
	}
	if s := rep.Redemption.Session; s.Recoveries > 0 {
		b.WriteString(renderStatusLine("Session", statusWarn,
			fmt.Sprintf("%d of %d recoveries used", s.Recoveries, s.Budget), colorize) + "\n")
	}
	if rep.Redemption.Unsettled > 0 {
		b.WriteString(renderStatusLine("Unsettled", statusError,
			fmt.Sprintf("%d keys moved to errored", rep.Redemption.Unsettled), colorize) + "\n")
	}
	if len(rep.CompletedMonths) > 0 {
		b.WriteString(renderStatusLine("Choice months", statusOK,
			fmt.Sprintf("%d newly complete", len(rep.CompletedMonths)), colorize) + "\n")
	}

	if len(rep.Friends) > 0 {
		friendRows := make([][]string, 0, len(rep.Friends))
		for _, f := range rep.Friends {
			friendRows = append(friendRows, []string{f.Record.HumanName, f.Verdict.Tier.Label(), f.Verdict.Reason})
		}
		b.WriteString(renderTable([]string{"Friend key", "Confidence", "Reason"}, friendRows, nil))
		b.WriteString("\n")
	}
	b.WriteString(renderStatusLine("Duration", statusInfo, rep.Duration.Round(time.Second).String(), colorize))
	return b.String()
}
