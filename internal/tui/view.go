package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/osteele/pbs-jobs/internal/jobs"
	"github.com/osteele/pbs-jobs/internal/tail"
)

// View renders the UI
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	listHeight := int(float64(m.height) * 0.55)
	detailHeight := int(float64(m.height) * 0.35)

	var mainView string
	if m.viewMode == ViewModeServers {
		mainView = lipgloss.JoinVertical(
			lipgloss.Left,
			m.renderServerList(listHeight),
			m.renderServerDetail(detailHeight),
			m.renderFlash(),
			m.renderStatusBar(),
		)
	} else {
		mainView = lipgloss.JoinVertical(
			lipgloss.Left,
			m.renderJobList(listHeight),
			m.renderLogPanel(detailHeight),
			m.renderFlash(),
			m.renderStatusBar(),
		)
	}

	if m.showHelp {
		return m.renderHelpOverlay()
	}

	switch m.confirm {
	case confirmKill:
		return m.renderWithModal(fmt.Sprintf("Kill job %s on %s?\n\n(y/n)",
			m.pendingKill.JobID, m.pendingKill.Server))
	case confirmRemoveDir:
		return m.renderWithModal(fmt.Sprintf("Delete job directory on %s?\n\n%s\n\n(y/n)",
			m.killed.Server.Name, m.killed.Path))
	}

	if m.submitting {
		return m.renderWithModal("Submitting job...")
	}

	if m.inputMode {
		return m.renderInputForm()
	}

	return mainView
}

func (m Model) renderWithModal(message string) string {
	modalStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 3).
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("229"))

	return lipgloss.Place(
		m.width, m.height,
		lipgloss.Center, lipgloss.Center,
		modalStyle.Render(message),
		lipgloss.WithWhitespaceChars(" "),
		lipgloss.WithWhitespaceForeground(lipgloss.Color("237")),
	)
}

type shortcut struct{ key, desc string }

func (m Model) renderHelpOverlay() string {
	modalStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(50)

	sectionStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	keyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true).Width(12)
	descStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("255"))

	var b strings.Builder
	section := func(title string, shortcuts []shortcut) {
		b.WriteString(sectionStyle.Render(title))
		b.WriteString("\n")
		for _, s := range shortcuts {
			b.WriteString(keyStyle.Render(s.key))
			b.WriteString(descStyle.Render(s.desc))
			b.WriteString("\n")
		}
	}

	b.WriteString(sectionStyle.Render("Keyboard Shortcuts"))
	b.WriteString("\n\n")
	if m.viewMode == ViewModeJobs {
		section("Jobs View", []shortcut{
			{"↑/↓", "Navigate job list"},
			{"l / Enter", "Follow job log"},
			{"k", "Kill job (then optionally delete its directory)"},
			{"n", "Submit a job"},
			{"s", "Cycle sort column"},
			{"f", "Cycle status filter (all, R, Q)"},
			{"m", "Only my jobs"},
			{"Esc", "Close log / clear messages"},
			{"Tab", "Switch to servers view"},
		})
	} else {
		section("Servers View", []shortcut{
			{"↑/↓", "Navigate server list"},
			{"Tab", "Switch to jobs view"},
		})
	}
	b.WriteString("\n")
	section("General", []shortcut{
		{"R", "Refresh now"},
		{"?", "Show/hide this help"},
		{"q", "Quit"},
		{"Ctrl+Z", "Suspend (fg to resume)"},
	})
	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Render("Press ? or Esc to close"))

	return lipgloss.Place(
		m.width, m.height,
		lipgloss.Center, lipgloss.Center,
		modalStyle.Render(b.String()),
	)
}

func (m Model) renderInputForm() string {
	modalStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(60)

	labelStyle := lipgloss.NewStyle().Width(10).Foreground(lipgloss.Color("245"))
	focusedLabelStyle := lipgloss.NewStyle().Width(10).Foreground(lipgloss.Color("69")).Bold(true)

	var b strings.Builder
	b.WriteString("Submit Job\n\n")

	labels := []string{"Path:", "Script:"}
	for i, input := range m.inputs {
		label := labelStyle
		if i == m.inputFocus {
			label = focusedLabelStyle
		}
		b.WriteString(label.Render(labels[i]))
		b.WriteString(input.View())
		b.WriteString("\n\n")
	}

	if drives := m.svc.Paths.Drives(); len(drives) > 0 {
		b.WriteString(dimStyle.Render("Mapped drives: " + strings.Join(drives, ", ")))
		b.WriteString("\n\n")
	}

	helpText := "Tab: next field • Enter: submit • Esc: cancel"
	if m.flashIsError && m.flashMessage != "" {
		helpText = errorStyle.Render(m.flashMessage)
	}
	b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(helpText))

	return lipgloss.Place(
		m.width, m.height,
		lipgloss.Center, lipgloss.Center,
		modalStyle.Render(b.String()),
		lipgloss.WithWhitespaceChars(" "),
		lipgloss.WithWhitespaceForeground(lipgloss.Color("237")),
	)
}

// formatRow lays out a record in the fixed columns, cutting at maxWidth
func formatRow(values func(jobs.SortField) string, maxWidth int) string {
	var b strings.Builder
	b.WriteString(" ")
	for _, col := range jobs.Columns {
		b.WriteString(fmt.Sprintf("%-*s ", col.Width, jobs.Truncate(values(col.Field), col.Width)))
	}
	line := strings.TrimRight(b.String(), " ")
	if runes := []rune(line); maxWidth > 0 && len(runes) > maxWidth {
		line = string(runes[:maxWidth])
	}
	return line
}

func (m Model) renderJobList(height int) string {
	var rows []string
	innerWidth := m.width - 6

	header := formatRow(func(f jobs.SortField) string {
		if f == m.sortField() {
			return string(f) + "▾"
		}
		return string(f)
	}, innerWidth)
	rows = append(rows, headerStyle.Render(header))

	if len(m.rows) == 0 {
		msg := " No jobs."
		if m.fetching && m.lastFetch.IsZero() {
			msg = " Fetching jobs..."
		}
		rows = append(rows, dimStyle.Render(msg))
	}

	// Scroll so the selected row stays visible
	contentHeight := height - 4
	offset := 0
	if m.selectedIndex >= contentHeight {
		offset = m.selectedIndex - contentHeight + 1
	}
	for i := offset; i < len(m.rows) && i-offset < contentHeight; i++ {
		r := m.rows[i]
		line := formatRow(r.Display, innerWidth)
		if i == m.selectedIndex {
			line = selectedStyle.Width(m.width - 4).Render(line)
		} else {
			line = styleForState(r.Status.String()).Render(line)
		}
		rows = append(rows, line)
	}

	return listPanelStyle.Width(m.width - 2).Height(height).Render(strings.Join(rows, "\n"))
}

func (m Model) renderLogPanel(height int) string {
	if m.logKey == "" && m.logContent == "" {
		return m.renderJobDetails(height)
	}

	var content string
	switch {
	case m.logLoading:
		content = dimStyle.Render("Loading log...")
	case m.logContent == "":
		content = dimStyle.Render("Log is empty")
	default:
		lines := strings.Split(m.logContent, "\n")
		maxLines := height - 4
		if maxLines > 0 && len(lines) > maxLines {
			lines = lines[len(lines)-maxLines:]
		}
		for i, line := range lines {
			if line == tail.ResetMarker {
				lines[i] = resetMarkerStyle.Render(line)
			}
		}
		content = strings.Join(lines, "\n")
	}

	title := fmt.Sprintf("Log: %s on %s", m.logJob.JobID, m.logJob.Server)
	return logPanelStyle.Width(m.width - 2).Height(height).Render(titleStyle.Render(title) + "\n" + content)
}

func (m Model) renderJobDetails(height int) string {
	r, ok := m.highlighted()
	if !ok {
		return logPanelStyle.Width(m.width - 2).Height(height).Render(dimStyle.Render("No job selected"))
	}

	labelStyle := lipgloss.NewStyle().Width(10).Foreground(lipgloss.Color("245"))
	fields := []struct{ label, value string }{
		{"Job:", r.JobID},
		{"Name:", r.Name.String()},
		{"Server:", r.Server},
		{"State:", r.Status.String()},
		{"Owner:", r.Owner.String()},
		{"CPUs:", r.CPUs.String()},
		{"Memory:", r.Memory.String()},
		{"Path:", r.Path.String()},
	}
	if p, ok := r.Path.Value(); ok {
		if srv, found := m.svc.Config.ServerByName(r.Server); found {
			if local, err := m.svc.Paths.ToLocal(srv.Hostname, p); err == nil {
				fields = append(fields, struct{ label, value string }{"Local:", local})
			}
		}
	}

	var lines []string
	for _, f := range fields {
		lines = append(lines, labelStyle.Render(f.label)+f.value)
	}
	lines = append(lines, "", dimStyle.Render("l: follow log • k: kill"))
	return logPanelStyle.Width(m.width - 2).Height(height).Render(strings.Join(lines, "\n"))
}

func (m Model) renderFlash() string {
	if m.flashMessage == "" {
		return ""
	}

	var style lipgloss.Style
	if m.flashIsError {
		style = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("124")).
			Bold(true).
			Padding(0, 1)
	} else {
		style = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("240")).
			Padding(0, 1)
	}

	return " " + style.Render(m.flashMessage)
}

// statusSummary describes the current view: counts, sort, filters and age
func (m Model) statusSummary(now time.Time) string {
	parts := []string{
		fmt.Sprintf("%d of %d jobs", len(m.rows), m.svc.Controller.Table().Len()),
		"sort: " + string(m.sortField()),
	}
	if status := statusFilters[m.statusFilter]; status != "" {
		parts = append(parts, "state: "+status)
	}
	if m.mineOnly {
		parts = append(parts, "mine")
	}
	if !m.lastFetch.IsZero() {
		parts = append(parts, "fetched "+humanize.RelTime(m.lastFetch, now, "ago", "from now"))
	}
	return strings.Join(parts, " · ")
}

func (m Model) renderStatusBar() string {
	var help string
	if m.viewMode == ViewModeServers {
		help = helpStyle.Render("?:help q:quit ↑/↓:nav R:refresh tab:jobs")
	} else {
		help = helpStyle.Render("?:help q:quit ↑/↓:nav l:log k:kill n:submit s:sort f:filter m:mine R:refresh tab:servers")
	}

	left := " " + dimStyle.Render(m.statusSummary(time.Now()))
	if m.fetching {
		left = " " + fetchingStyle.Render("⟳") + left
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(help) - 2
	if gap < 1 {
		return left
	}
	return left + strings.Repeat(" ", gap) + help
}

func (m Model) renderServerList(height int) string {
	var rows []string

	header := fmt.Sprintf(" %-16s %-6s %-28s %-18s %s",
		"SERVER", "DRIVE", "HOSTNAME", "STATUS", "LAST CHECK")
	rows = append(rows, headerStyle.Render(header))

	contentHeight := height - 4
	for i, s := range m.servers {
		if i >= contentHeight {
			break
		}
		checked := "-"
		if !s.LastCheck.IsZero() {
			checked = humanize.Time(s.LastCheck)
		}
		line := fmt.Sprintf(" %-16s %-6s %-28s %-18s %s",
			jobs.Truncate(s.Server.Name, 16), s.DriveLabel(),
			jobs.Truncate(s.Server.Hostname, 28), s.StatusString(), checked)

		if i == m.selectedServerIdx {
			line = selectedStyle.Width(m.width - 4).Render(line)
		} else {
			line = styleForServerState(s.State).Render(line)
		}
		rows = append(rows, line)
	}

	return listPanelStyle.Width(m.width - 2).Height(height).Render(strings.Join(rows, "\n"))
}

func (m Model) renderServerDetail(height int) string {
	if m.selectedServerIdx >= len(m.servers) {
		return logPanelStyle.Width(m.width - 2).Height(height).Render(dimStyle.Render("No server selected"))
	}
	s := m.servers[m.selectedServerIdx]

	labelStyle := lipgloss.NewStyle().Width(12).Foreground(lipgloss.Color("245"))
	lines := []string{
		titleStyle.Render(s.Server.Name),
		labelStyle.Render("Hostname:") + s.Server.Hostname,
		labelStyle.Render("Drive:") + s.DriveLabel(),
		labelStyle.Render("Status:") + styleForServerState(s.State).Render(s.StatusString()),
	}
	if s.Elapsed > 0 {
		lines = append(lines, labelStyle.Render("Fetch time:")+s.Elapsed.Round(10*time.Millisecond).String())
	}
	if s.Error != "" {
		lines = append(lines, "", errorStyle.Render(s.Error))
	}
	return logPanelStyle.Width(m.width - 2).Height(height).Render(strings.Join(lines, "\n"))
}

func styleForServerState(state ServerState) lipgloss.Style {
	switch state {
	case ServerOnline:
		return serverOnlineStyle
	case ServerOffline, ServerBroken:
		return serverOfflineStyle
	case ServerChecking:
		return serverCheckingStyle
	}
	return dimStyle
}
