package ui

import (
	"fmt"
	"strings"

	"wallsync/pkg/reconcile"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
	barWidth      = 20
)

// Bar renders done out of total as a fixed width bar
func Bar(done, total, width int) string {
	filled := 0
	if total > 0 {
		filled = done * width / total
	}
	if filled > width {
		filled = width
	}
	return strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, width-filled)
}

// PrintReport prints one line per month of a reconciliation report
func PrintReport(r *reconcile.Report) {
	if IsQuietMode() || r == nil {
		return
	}

	done := make(map[string]bool, len(r.Done))
	for _, p := range r.Done {
		done[p.String()] = true
	}
	reopened := make(map[string]bool, len(r.Reopened))
	for _, p := range r.Reopened {
		reopened[p.String()] = true
	}

	for _, m := range r.Months {
		key := m.Month.String()
		var status string
		switch {
		case m.Cataloged == 0:
			status = Dim("not cataloged")
		case done[key]:
			status = Green("done")
		case reopened[key]:
			status = Red("reopened")
		case m.Present == m.Cataloged:
			status = Cyan("open")
		default:
			status = Yellow(fmt.Sprintf("%d missing", m.Cataloged-m.Present))
		}
		fmt.Fprintf(Out, "%s [%s] %3d/%-3d %s\n",
			Cyan(key),
			Bar(m.Present, m.Cataloged, barWidth),
			m.Present,
			m.Cataloged,
			status,
		)
	}
}
