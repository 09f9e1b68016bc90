package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type uiTheme struct {
	header    lipgloss.Style
	tabActive lipgloss.Style
	tabIdle   lipgloss.Style
	userTag   lipgloss.Style
	botTag    lipgloss.Style
	systemTag lipgloss.Style
	modelNote lipgloss.Style
	status    lipgloss.Style
	statusBad lipgloss.Style
	dim       lipgloss.Style
	selected  lipgloss.Style
	modal     lipgloss.Style
	modalWarn lipgloss.Style
	keycap    lipgloss.Style
}

func newTheme() uiTheme {
	return uiTheme{
		header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#c9d1d9")),
		tabActive: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#0d1117")).Background(lipgloss.Color("#7ee787")).Padding(0, 1),
		tabIdle:   lipgloss.NewStyle().Foreground(lipgloss.Color("#8b949e")).Padding(0, 1),
		userTag:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#79c0ff")),
		botTag:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7ee787")),
		systemTag: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#d2a8ff")),
		modelNote: lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("#8b949e")),
		status:    lipgloss.NewStyle().Foreground(lipgloss.Color("#8b949e")),
		statusBad: lipgloss.NewStyle().Foreground(lipgloss.Color("#ff7b72")),
		dim:       lipgloss.NewStyle().Faint(true),
		selected:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7ee787")),
		modal: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7ee787")).
			Padding(1, 2),
		modalWarn: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#d29922")).
			Padding(1, 2),
		keycap: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffa657")),
	}
}

const (
	headerHeight = 2
	footerHeight = 3
)

func (m *model) resize() {
	bodyHeight := maxInt(3, m.height-headerHeight-footerHeight)
	m.timeline.Width = maxInt(20, m.width)
	m.timeline.Height = bodyHeight
	m.sidebar.Width = maxInt(20, m.width)
	m.sidebar.Height = bodyHeight
	m.input.Width = maxInt(20, m.width-4)
	m.pal.input.Width = minInt(70, maxInt(30, m.width-20))
}

// renderPanes refreshes viewport contents after any state change. Rendering
// into viewports here keeps View itself cheap and scroll-friendly.
func (m *model) renderPanes() {
	atBottom := m.timeline.AtBottom()
	m.timeline.SetContent(m.renderTimeline())
	if atBottom {
		m.timeline.GotoBottom()
	}
	if m.activeTab == tabLogs {
		m.sidebar.SetContent(m.renderLogEntries())
	}
}

func (m *model) renderTimeline() string {
	width := maxInt(20, m.timeline.Width-2)
	if len(m.sess.transcript) == 0 {
		return m.theme.dim.Render("No conversation yet. Say something, or press ctrl+v and speak.")
	}
	var b strings.Builder
	for i, turn := range m.sess.transcript {
		if i > 0 {
			b.WriteString("\n")
		}
		var tag string
		switch turn.Role {
		case roleUser:
			tag = m.theme.userTag.Render("you")
		case roleAssistant:
			tag = m.theme.botTag.Render("sidekick")
			if turn.Model != "" {
				tag += " " + m.theme.modelNote.Render("· via "+turn.Model)
			}
		default:
			tag = m.theme.systemTag.Render(turn.Role)
		}
		b.WriteString(tag)
		b.WriteString("\n")
		content := turn.Content
		if content == "" && turn.Role == roleAssistant {
			if m.stream.phase == turnAwaitingOpen || m.stream.phase == turnStreaming || m.inflight {
				content = m.spinner.View() + " thinking"
			} else {
				content = m.theme.dim.Render("(no reply)")
			}
		}
		b.WriteString(wrapText(content, width))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *model) renderLogEntries() string {
	if len(m.logEntries) == 0 {
		return m.theme.dim.Render("journal is empty")
	}
	width := maxInt(20, m.sidebar.Width-2)
	var b strings.Builder
	for i, entry := range m.logEntries {
		if i > 0 {
			b.WriteString("\n")
		}
		ts, _ := entry["timestamp"].(string)
		if ts == "" {
			ts, _ = entry["time"].(string)
		}
		if ts != "" {
			b.WriteString(m.theme.modelNote.Render(ts))
			b.WriteString("\n")
		}
		keys := make([]string, 0, len(entry))
		for key := range entry {
			if key == "timestamp" || key == "time" {
				continue
			}
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			line := fmt.Sprintf("%s: %v", key, entry[key])
			b.WriteString(wrapText(compactSingleLine(line, 500), width))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m *model) renderHeader() string {
	labels := []string{"chat", "logs", "settings", "help"}
	parts := make([]string, 0, len(labels))
	for i, label := range labels {
		if tabID(i) == m.activeTab {
			parts = append(parts, m.theme.tabActive.Render(label))
		} else {
			parts = append(parts, m.theme.tabIdle.Render(label))
		}
	}
	title := m.theme.header.Render("sidekick")
	tabs := lipgloss.JoinHorizontal(lipgloss.Top, parts...)
	line := title + "  " + tabs
	return line + "\n" + m.theme.dim.Render(strings.Repeat("─", maxInt(10, m.width)))
}

func (m *model) renderFooter() string {
	var badges []string
	badges = append(badges, "stream "+onOff(m.sess.streamEnabled))
	badges = append(badges, "rag "+onOff(m.sess.ragEnabled))
	if m.sess.voiceEnabled() {
		badges = append(badges, "voice on")
		if m.sess.handsFree() {
			badges = append(badges, "hands-free")
		}
	}
	if m.sess.muted {
		badges = append(badges, "muted")
	}
	if m.sess.selectedModel != "" {
		badges = append(badges, "model "+m.sess.selectedModel)
	}
	badges = append(badges, "task "+m.sess.taskType)
	badges = append(badges, fmt.Sprintf("s/q %d", m.sess.speedQuality))
	if m.captureState != captureIdle {
		badges = append(badges, "mic "+m.captureState.String())
	}

	status := m.sess.statusLine
	style := m.theme.status
	if strings.Contains(status, "error") || strings.Contains(status, "failed") || strings.Contains(status, "denied") || strings.Contains(status, "unreachable") {
		style = m.theme.statusBad
	}
	if !m.ready || m.inflight || m.stream.phase == turnAwaitingOpen || m.stream.phase == turnStreaming {
		status = m.spinner.View() + " " + status
	}

	lines := []string{
		m.theme.dim.Render(strings.Join(badges, " · ")),
		style.Render(truncate(status, maxInt(20, m.width-2))),
	}
	if m.activeTab == tabChat {
		lines = append(lines, m.input.View())
	} else {
		lines = append(lines, m.theme.dim.Render("tab switches panes · esc returns to chat"))
	}
	return strings.Join(lines, "\n")
}

func (m *model) renderSettings() string {
	check := func(on bool) string {
		return ternary(on, "[x]", "[ ]")
	}
	doc := m.sess.config
	entries := []struct {
		label string
		value string
	}{
		{"streaming replies", check(m.sess.streamEnabled)},
		{"retrieval context", check(m.sess.ragEnabled)},
		{"voice replies", check(doc.Voice.Enabled)},
		{"hands-free", check(doc.Voice.HandsFree)},
		{"wake word", check(doc.Voice.WakeWordEnabled)},
		{"speed / quality", fmt.Sprintf("%3d  (left/right ±5)", m.sess.speedQuality)},
		{"model override", ternary(m.sess.selectedModel == "", "(router decides)", m.sess.selectedModel)},
		{"task type", m.sess.taskType},
	}
	var b strings.Builder
	if !m.sess.configLoaded {
		b.WriteString(m.theme.statusBad.Render("settings unavailable: backend not reachable at startup"))
		b.WriteString("\n\n")
	}
	for i, entry := range entries {
		cursor := "  "
		line := fmt.Sprintf("%-18s %s", entry.label, entry.value)
		if i == m.settingsIndex {
			cursor = m.theme.selected.Render("> ")
			line = m.theme.selected.Render(line)
		}
		b.WriteString(cursor + line + "\n")
	}
	b.WriteString("\n")
	b.WriteString(m.theme.header.Render("routing rules"))
	b.WriteString("\n")
	b.WriteString(wrapText(m.sess.rulesText, maxInt(20, m.width-4)))
	b.WriteString("\n\n")
	b.WriteString(m.theme.dim.Render("edit rules with /rules <json array> in the chat input"))
	if len(m.logs) > 0 {
		b.WriteString("\n\n")
		b.WriteString(m.theme.header.Render("client log"))
		b.WriteString("\n")
		start := maxInt(0, len(m.logs)-10)
		for _, line := range m.logs[start:] {
			b.WriteString(m.theme.dim.Render(truncate(line, maxInt(20, m.width-2))))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m *model) renderHelp() string {
	key := m.theme.keycap.Render
	rows := []string{
		m.theme.header.Render("keys"),
		key("enter") + "      send message / run slash command",
		key("ctrl+v") + "     start or stop voice capture",
		key("ctrl+p") + "     open the command palette",
		key("tab") + "        cycle chat → logs → settings → help",
		key("esc") + "        back to chat, or quit prompt from chat",
		key("ctrl+o") + "     approve pending request once",
		key("ctrl+a") + "     approve pending request always",
		key("ctrl+c") + "     quit immediately",
		"",
		m.theme.header.Render("commands"),
		"/model [name]      pin a model, or clear the pin",
		"/models            refresh the model catalog",
		"/task <type>       " + strings.Join(taskTypes, "|"),
		"/quality <0-100>   speed vs quality bias",
		"/stream /rag /voice /handsfree /wake /mute   toggles",
		"/rules <json>      replace routing rules",
		"/route <message>   dry-run the router",
		"/logs <journal> [n]  audit|dreams|reflections",
		"/skill <name> [json] run a skill",
		"/ingest <path>...  index documents for retrieval",
		"/quit              leave",
	}
	return strings.Join(rows, "\n")
}

func (m *model) renderApprovalModal() string {
	decision := m.sess.pendingApproval
	kind, identifier := splitScope(decision.Scope)
	width := minInt(64, maxInt(36, m.width-10))
	body := []string{
		m.theme.header.Render("approval required"),
		"",
		wrapText(decision.Reason, width-6),
		"",
		fmt.Sprintf("%-6s %s", "kind", kind),
		fmt.Sprintf("%-6s %s", "target", identifier),
		"",
		m.theme.keycap.Render("ctrl+o") + " allow once   " +
			m.theme.keycap.Render("ctrl+a") + " always   " +
			m.theme.keycap.Render("esc") + " deny",
	}
	return m.theme.modalWarn.Width(width).Render(strings.Join(body, "\n"))
}

func (m *model) renderPaletteOverlay() string {
	width := minInt(74, maxInt(40, m.width-8))
	lines := []string{
		m.theme.header.Render("command bar"),
		m.pal.input.View(),
	}
	if len(m.pal.models) > 0 {
		lines = append(lines, "", m.theme.dim.Render("models (up/down, enter to pin)"))
		for i, tag := range m.pal.models {
			label := tag.Name
			if tag.Size > 0 {
				label += fmt.Sprintf("  %.1f GB", float64(tag.Size)/1e9)
			}
			if i == m.pal.index {
				lines = append(lines, m.theme.selected.Render("> "+label))
			} else {
				lines = append(lines, "  "+label)
			}
		}
	}
	return m.theme.modal.Width(width).Render(strings.Join(lines, "\n"))
}

func (m *model) renderQuitModal() string {
	body := m.theme.header.Render("quit sidekick?") + "\n\n" +
		m.theme.keycap.Render("y") + " quit   " + m.theme.keycap.Render("n") + " stay"
	return m.theme.modal.Render(body)
}

func (m model) View() string {
	if m.width == 0 {
		return "starting..."
	}

	var body string
	switch m.activeTab {
	case tabChat:
		body = m.timeline.View()
	case tabLogs:
		title := m.theme.header.Render(m.logJournal+" journal") +
			m.theme.dim.Render("  (left/right switches, r reloads)")
		body = title + "\n" + m.sidebar.View()
	case tabSettings:
		body = m.renderSettings()
	case tabHelp:
		body = m.renderHelp()
	}

	screen := m.renderHeader() + "\n" + body + "\n" + m.renderFooter()

	var overlay string
	switch {
	case m.quitConfirm:
		overlay = m.renderQuitModal()
	case m.pal.open:
		overlay = m.renderPaletteOverlay()
	case m.sess.pendingApproval != nil:
		overlay = m.renderApprovalModal()
	}
	if overlay != "" {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, overlay)
	}
	return screen
}
