package main

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"reelflow/internal/api"
)

var titleCaser = cases.Title(language.Und)

// statusLabel renders a status or stage name for humans.
func statusLabel(value string) string {
	if value == "" {
		return "-"
	}
	return titleCaser.String(strings.ReplaceAll(value, "_", " "))
}

func truncate(value string, width int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if width <= 0 || len(runes) <= width {
		return value
	}
	if width <= 1 {
		return string(runes[:width])
	}
	return string(runes[:width-1]) + "…"
}

// relativeTime renders an API timestamp as "3m ago" relative to now.
func relativeTime(raw string, now time.Time) string {
	if raw == "" {
		return "-"
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return raw
	}
	d := now.Sub(ts)
	switch {
	case d < 0:
		return ts.Local().Format("2006-01-02 15:04")
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return ts.Local().Format("2006-01-02 15:04")
	}
}

func workflowTable(items []api.Workflow, now time.Time) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.ID,
			item.Brand,
			statusLabel(item.Status),
			statusLabel(item.Stage),
			truncate(item.Title, 40),
			fmt.Sprintf("%d", item.RetryCount),
			relativeTime(item.UpdatedAt, now),
		})
	}
	return renderTable([]column{
		textCol("ID"), textCol("Brand"), textCol("Status"), textCol("Stage"),
		textCol("Title"), numCol("Retries"), textCol("Updated"),
	}, rows)
}

func deadLetterTable(items []api.DeadLetter, now time.Time) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			fmt.Sprintf("%d", item.ID),
			item.Vendor,
			item.Brand,
			truncate(item.Error, 50),
			fmt.Sprintf("%d", item.ReplayCount),
			yesNo(item.Resolved),
			relativeTime(item.CreatedAt, now),
		})
	}
	return renderTable([]column{
		numCol("ID"), textCol("Vendor"), textCol("Brand"), textCol("Error"),
		numCol("Replays"), textCol("Resolved"), textCol("Created"),
	}, rows)
}

func describeCronRun(run api.CronRun) string {
	if run.Outcome == "skipped" && run.Error == "" {
		return fmt.Sprintf("%s skipped: lease held by another holder", run.Job)
	}
	line := fmt.Sprintf("%s %s as %s in %dms", run.Job, run.Outcome, run.Holder, run.DurationMs)
	if r := run.Report; r != nil {
		line += fmt.Sprintf(": checked %d, healed %d, advanced %d, retried %d, failed %d, pending %d, errors %d",
			r.Checked, r.Healed, r.Advanced, r.Retried, r.Failed, r.Pending, r.Errors)
	}
	if p := run.Purged; p != nil {
		line += fmt.Sprintf(": removed %d receipts, %d dead letters", p.Receipts, p.DeadLetters)
	}
	if run.Error != "" {
		line += " (error: " + run.Error + ")"
	}
	return line
}
