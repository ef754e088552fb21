package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tomaslejdung/superdesk/pkg/peer"
	"github.com/tomaslejdung/superdesk/pkg/session"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("7"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	codeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("13"))

	peerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14")) // Cyan for keys

	keySepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)
)

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type model struct {
	app  *app
	mode string

	state     session.State
	peerPhase peer.Phase
	connType  string
	started   time.Time

	videoCodec string
	videoBytes uint64
	sent       uint64
	dropped    uint64

	notice    string
	lastError string
	width     int

	pointer *pointer
}

func initialModel(a *app) model {
	return model{
		app:     a,
		mode:    a.cfg.Mode,
		started: time.Now(),
		pointer: newPointer(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.startCmd(), tickCmd())
}

// Manager operations notify the program synchronously, so they run as
// commands rather than inside Update.
func (m model) startCmd() tea.Cmd {
	a := m.app
	return func() tea.Msg {
		if err := a.start(context.Background()); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m model) refreshCmd() tea.Cmd {
	a := m.app
	return func() tea.Msg {
		if err := a.manager.RefreshSessionCode(); err != nil {
			return errMsg{err}
		}
		return noticeMsg("Requested a new session code")
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.app.setViewSize(msg.Width, msg.Height)
		return m, nil

	case tea.MouseMsg:
		if m.mode != modeJoin || m.state.Phase != session.PhaseGuestConnected {
			return m, nil
		}
		if codec := m.app.inputCodec(); codec != nil {
			if err := m.pointer.handle(msg, codec); err != nil {
				m.lastError = err.Error()
			}
		}
		return m, nil

	case stateMsg:
		if msg.state.Active && !m.state.Active {
			m.lastError = ""
		}
		if !msg.state.WebRTCConnected {
			m.connType = ""
		}
		m.state = msg.state
		return m, nil

	case peerPhaseMsg:
		m.peerPhase = msg.phase
		m.connType = msg.connType
		return m, nil

	case noticeMsg:
		m.notice = string(msg)
		return m, nil

	case errMsg:
		if msg.err != nil {
			m.lastError = msg.err.Error()
		}
		return m, nil

	case tickMsg:
		m.videoCodec, m.videoBytes = m.app.video()
		m.sent, m.dropped = 0, 0
		if ctrl := m.app.controller(); ctrl != nil {
			stats := ctrl.Stats()
			m.sent, m.dropped = stats.Sent, stats.Dropped
		}
		return m, tickCmd()
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "ctrl+q":
		return m, tea.Quit
	}

	if m.mode == modeJoin && m.state.Phase == session.PhaseGuestConnected {
		// Everything else goes to the host.
		action, ok := viewerKey(msg)
		if !ok {
			return m, nil
		}
		if codec := m.app.inputCodec(); codec != nil {
			if err := action.apply(codec); err != nil {
				m.lastError = err.Error()
			}
		}
		return m, nil
	}

	switch msg.String() {
	case "q", "esc":
		return m, tea.Quit
	case "r":
		if m.state.Hosting() {
			m.notice = ""
			return m, m.refreshCmd()
		}
	case "enter":
		if m.state.Phase == session.PhaseIdle {
			m.lastError = ""
			m.notice = ""
			return m, m.startCmd()
		}
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("superdesk"))
	b.WriteString(dimStyle.Render(" - remote desktop"))
	b.WriteString("\n\n")

	b.WriteString(boxStyle.Render(m.renderStatus()))
	b.WriteString("\n")

	if m.notice != "" {
		b.WriteString(peerStyle.Render(m.notice))
		b.WriteString("\n")
	}
	if m.lastError != "" {
		b.WriteString(errorStyle.Render("Error: " + m.lastError))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m model) renderStatus() string {
	var b strings.Builder
	s := m.state

	b.WriteString(statusStyle.Render("Session: "))
	switch s.Phase {
	case session.PhaseIdle:
		b.WriteString(dimStyle.Render("not connected"))
	case session.PhaseCreating:
		b.WriteString(dimStyle.Render("creating..."))
	case session.PhaseJoining:
		b.WriteString(dimStyle.Render("joining " + m.app.cfg.Code + "..."))
	default:
		b.WriteString(codeStyle.Render(formatCode(s.SessionID)))
		b.WriteString("  ")
		b.WriteString(dimStyle.Render("[" + s.Role.String() + "]"))
	}
	b.WriteString("\n")

	if s.Role == session.RoleHost {
		b.WriteString(statusStyle.Render("Guest: "))
		if s.PeerID == "" {
			b.WriteString(dimStyle.Render("waiting..."))
		} else {
			b.WriteString(peerStyle.Render(truncate(s.PeerID, 12)))
		}
		b.WriteString("\n")
	}

	b.WriteString(statusStyle.Render("WebRTC: "))
	if s.WebRTCConnected {
		b.WriteString(selectedStyle.Render("connected"))
		if m.connType != "" {
			b.WriteString(dimStyle.Render(" (" + m.connType + ")"))
		}
	} else if s.Active {
		b.WriteString(normalStyle.Render(m.peerPhase.String()))
	} else {
		b.WriteString(dimStyle.Render("-"))
	}
	b.WriteString("\n")

	switch {
	case s.Role == session.RoleHost:
		b.WriteString(statusStyle.Render("Sharing: "))
		if s.ScreenSharing {
			b.WriteString(selectedStyle.Render(fmt.Sprintf("%dx%d %s", m.app.cfg.ScreenWidth, m.app.cfg.ScreenHeight, m.app.cfg.Codec)))
		} else {
			b.WriteString(dimStyle.Render("no"))
		}
	case s.Role == session.RoleGuest:
		b.WriteString(statusStyle.Render("Video: "))
		if m.videoBytes == 0 {
			b.WriteString(dimStyle.Render("waiting..."))
		} else {
			b.WriteString(normalStyle.Render(fmt.Sprintf("%s %s", m.videoCodec, formatBytes(int64(m.videoBytes)))))
		}
		b.WriteString("  ")
		b.WriteString(statusStyle.Render("Input: "))
		b.WriteString(normalStyle.Render(fmt.Sprintf("%s sent", formatNumber(int64(m.sent)))))
		if m.dropped > 0 {
			b.WriteString(dimStyle.Render(fmt.Sprintf(", %s dropped", formatNumber(int64(m.dropped)))))
		}
	}
	b.WriteString("\n")
	b.WriteString(statusStyle.Render("Uptime: "))
	b.WriteString(dimStyle.Render(formatDuration(time.Since(m.started))))
	return b.String()
}

func (m model) renderHelp() string {
	sep := keySepStyle.Render("  ")
	var actions []string

	if m.mode == modeJoin && m.state.Phase == session.PhaseGuestConnected {
		actions = append(actions, helpStyle.Render("typing and mouse are sent to the host"))
		actions = append(actions, keyStyle.Render("^q")+helpStyle.Render(" quit"))
		return strings.Join(actions, sep)
	}

	if m.state.Hosting() {
		actions = append(actions, keyStyle.Render("r")+helpStyle.Render(" new code"))
	}
	if m.state.Phase == session.PhaseIdle {
		actions = append(actions, keyStyle.Render("enter")+helpStyle.Render(" retry"))
	}
	actions = append(actions, keyStyle.Render("q")+helpStyle.Render(" quit"))
	return strings.Join(actions, sep)
}

// formatCode splits a session code into two groups for reading aloud.
func formatCode(code string) string {
	if len(code) != 8 {
		return code
	}
	return code[:4] + "-" + code[4:]
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

func formatBytes(b int64) string {
	if b >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(b)/1_000_000_000)
	}
	if b >= 1_000_000 {
		return fmt.Sprintf("%.1f MB", float64(b)/1_000_000)
	}
	if b >= 1_000 {
		return fmt.Sprintf("%.1f KB", float64(b)/1_000)
	}
	return fmt.Sprintf("%d B", b)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// RunTUI runs the interface until the user quits, then ends the session.
func RunTUI(a *app) error {
	p := tea.NewProgram(initialModel(a), tea.WithAltScreen(), tea.WithMouseCellMotion())
	a.setNotify(p.Send)

	_, err := p.Run()
	a.close()
	return err
}
