package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/reefcomp/internal/export"
)

var (
	regionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#5B8DEF"))

	labelStyleQueued  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	labelStylePending = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	labelStyleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF")).Bold(true)
	labelStyleDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("#98C379")).Bold(true)
	labelStyleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75")).Bold(true)

	detailTextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))

	taskPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

func statusLabel(status export.Status) string {
	text := fmt.Sprintf("%-9s", status)
	switch status {
	case export.StatusQueued:
		return labelStyleQueued.Render("○ " + text)
	case export.StatusPending:
		return labelStylePending.Render("◔ " + text)
	case export.StatusRunning:
		return labelStyleRunning.Render("◑ " + text)
	case export.StatusSucceeded:
		return labelStyleDone.Render("● " + text)
	case export.StatusFailed:
		return labelStyleFailed.Render("✗ " + text)
	default:
		return detailTextStyle.Render("? " + text)
	}
}

// groupByRegion orders regions by name and tasks by artifact name.
func groupByRegion(tasks []export.Task) ([]string, map[string][]export.Task) {
	groups := make(map[string][]export.Task)
	for _, t := range tasks {
		region := t.Destination.Region
		groups[region] = append(groups[region], t)
	}
	regions := make([]string, 0, len(groups))
	for region, list := range groups {
		regions = append(regions, region)
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}
	sort.Strings(regions)
	return regions, groups
}

func (a *App) renderTasks() string {
	if len(a.tasks) == 0 {
		return taskPanelStyle.Render(detailTextStyle.Render("No exports scheduled."))
	}
	regions, groups := groupByRegion(a.tasks)
	var b strings.Builder
	for i, region := range regions {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(regionHeaderStyle.Render(region))
		b.WriteString("\n")
		for _, t := range groups[region] {
			b.WriteString(renderTaskLine(t))
			b.WriteString("\n")
		}
	}
	return taskPanelStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func renderTaskLine(t export.Task) string {
	line := fmt.Sprintf("  %s %s", statusLabel(t.Status), t.Name)
	var details []string
	if t.Deferrals > 0 {
		details = append(details, fmt.Sprintf("deferred ×%d", t.Deferrals))
	}
	if t.Status == export.StatusFailed && t.Error != "" {
		details = append(details, t.Error)
	}
	if len(details) > 0 {
		line += "  " + detailTextStyle.Render(strings.Join(details, " · "))
	}
	return line
}
