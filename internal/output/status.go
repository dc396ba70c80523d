package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/apilens/apilens/internal/core/quota"
)

// FormatStatus renders a quota snapshot in the requested format.
func FormatStatus(format Format, snapshot quota.Snapshot) (string, error) {
	switch format {
	case FormatJSON:
		return RenderJSON(snapshot)
	case FormatYAML:
		return RenderYAML(snapshot)
	default:
		return formatStatusTable(snapshot), nil
	}
}

func formatStatusTable(snapshot quota.Snapshot) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Allowance", "Remaining", "Cap", "Replenishes"})

	t.AppendRow(table.Row{
		"minute",
		snapshot.MinuteRemaining,
		snapshot.MinuteCap,
		formatInstant(snapshot.NextMinuteRefill),
	})
	t.AppendRow(table.Row{
		"day",
		snapshot.DayRemaining,
		snapshot.DayCap,
		formatInstant(snapshot.NextDayReset),
	})
	t.AppendRow(table.Row{
		"concurrency",
		fmt.Sprintf("%d in flight", snapshot.InFlight),
		snapshot.ConcurrencyCap,
		"-",
	})

	if snapshot.Waiting > 0 {
		t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d waiting", snapshot.Waiting)})
	}

	return t.Render()
}

func formatInstant(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.UTC().Format(time.RFC3339)
}
