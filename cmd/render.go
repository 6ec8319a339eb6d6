package cmd

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/allow2/internal/authz"
)

const nameColumnWidth = 20

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	labelStyle   = lipgloss.NewStyle().Faint(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	denyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// cell pads or truncates s to width display columns; names may hold wide runes.
func cell(s string, width int) string {
	if runewidth.StringWidth(s) > width {
		s = runewidth.Truncate(s, width, "…")
	}
	return runewidth.FillRight(s, width)
}

func field(label string, value any) string {
	return fmt.Sprintf("  %s %v", labelStyle.Render(cell(label+":", 14)), value)
}

// renderChildren lists the roster sorted by id.
func renderChildren(children map[int]string, boundChild int) string {
	if len(children) == 0 {
		return "  (no children)"
	}
	var b strings.Builder
	for _, id := range slices.Sorted(maps.Keys(children)) {
		mark := " "
		if id == boundChild {
			mark = "*"
		}
		fmt.Fprintf(&b, "  %s %s %d\n", mark, cell(children[id], nameColumnWidth), id)
	}
	return strings.TrimRight(b.String(), "\n")
}

func verdict(allowed bool) string {
	if allowed {
		return okStyle.Render("ALLOWED")
	}
	return denyStyle.Render("DENIED")
}

// renderResult prints a check result with per-activity detail.
func renderResult(res *authz.Result, now time.Time) string {
	var b strings.Builder
	b.WriteString(verdict(res.Allowed()))
	if res.IsFailOpen() {
		b.WriteString(" " + warnStyle.Render("(pairing revoked; failing open)"))
	}
	b.WriteString("\n")

	for _, a := range res.Activities() {
		detail := ""
		if a.Timed {
			detail = fmt.Sprintf("%s left", a.Remaining.Round(time.Second))
		}
		if a.Banned {
			detail = "banned"
		}
		fmt.Fprintf(&b, "  %s %s %s\n", cell(a.Name, nameColumnWidth), verdict(a.Allowed()), labelStyle.Render(detail))
	}
	if today, ok := res.Today(); ok {
		b.WriteString(field("Today", today.Name) + "\n")
	}
	if !res.Expires().IsZero() {
		b.WriteString(field("Valid for", res.Expires().Sub(now).Round(time.Second)) + "\n")
	}
	if why := res.Explanation(); why != "" {
		b.WriteString("\n" + why + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
