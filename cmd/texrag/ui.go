package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/brunobiangulo/texrag"
	"github.com/brunobiangulo/texrag/resolve"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220"))

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1)
)

// renderSummary renders the per-document processing summary: candidate
// totals, per-status counts, and the reason behind every non-resolved
// marker.
func renderSummary(res *texrag.ExtractResult) string {
	rep := res.Report

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", dimStyle.Render("Parse method:"), res.ParseMethod)
	fmt.Fprintf(&b, "%s %d\n", dimStyle.Render("Pages:"), res.Pages)
	fmt.Fprintf(&b, "%s %d detected, %d filtered\n",
		dimStyle.Render("Formula regions:"), rep.Total, len(res.Rejections))

	if rep.Total > 0 {
		fmt.Fprintf(&b, "%s %s  %s  %s  %s\n",
			dimStyle.Render("Outcomes:"),
			okStyle.Render(fmt.Sprintf("%d resolved", rep.Resolved)),
			failStyle.Render(fmt.Sprintf("%d failed", rep.Failed)),
			warnStyle.Render(fmt.Sprintf("%d skipped", rep.Skipped)),
			warnStyle.Render(fmt.Sprintf("%d lost", rep.Lost)))
	}

	for _, e := range rep.Entries {
		if e.Status == resolve.StatusResolved {
			continue
		}
		fmt.Fprintf(&b, "  %s %s %s\n",
			statusStyle(e.Status).Render(string(e.Status)),
			e.Token,
			dimStyle.Render(e.Reason))
	}

	if len(rep.Leaked) > 0 {
		fmt.Fprintf(&b, "%s %s\n",
			failStyle.Render("Leaked markers:"),
			strings.Join(rep.Leaked, " "))
	}

	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func statusStyle(s resolve.Status) lipgloss.Style {
	switch s {
	case resolve.StatusResolved:
		return okStyle
	case resolve.StatusFailed:
		return failStyle
	default:
		return warnStyle
	}
}
