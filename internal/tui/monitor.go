package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tablestakes/game-session/internal/api"
	"github.com/tablestakes/game-session/pkg/interfaces"
	"github.com/tablestakes/game-session/pkg/session"
)

const requestTimeout = 5 * time.Second

// Config holds configuration for the TUI monitor
type Config struct {
	APIURL      string
	RefreshRate int
	CompactMode bool
	StatsWindow int
}

// SessionAPI is what the monitor needs from the control API
type SessionAPI interface {
	Status(ctx context.Context) (*session.Snapshot, error)
	Reconnect(ctx context.Context) (*api.StatusResponse, error)
	UnlockBet(ctx context.Context) (*api.BalanceResponse, error)
	BetStats(ctx context.Context, windowSize int) (*interfaces.BetStats, error)
}

// Model represents the TUI application state
type Model struct {
	config     Config
	client     SessionAPI
	status     *session.Snapshot
	stats      *interfaces.BetStats
	notice     string
	loading    bool
	error      error
	width      int
	height     int
	lastUpdate time.Time
}

// tickMsg is sent when the refresh timer ticks
type tickMsg time.Time

// statusMsg carries a fresh snapshot and, when available, bet stats
type statusMsg struct {
	snapshot *session.Snapshot
	stats    *interfaces.BetStats
}

// errorMsg is sent when an error occurs
type errorMsg struct{ err error }

// noticeMsg reports the outcome of an operator action
type noticeMsg string

// StartMonitor starts the TUI monitor application
func StartMonitor(config Config) error {
	client := api.NewClient(config.APIURL, requestTimeout)
	p := tea.NewProgram(initialModel(config, client), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func initialModel(config Config, client SessionAPI) Model {
	if config.RefreshRate <= 0 {
		config.RefreshRate = 1000
	}
	if config.StatsWindow <= 0 {
		config.StatsWindow = 50
	}
	return Model{
		config:  config,
		client:  client,
		loading: true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchStatus(),
		tickCmd(m.config.RefreshRate),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.notice = "reconnecting..."
			return m, m.reconnect()
		case "u":
			m.notice = "releasing bet lock..."
			return m, m.unlock()
		case " ", "f":
			return m, m.fetchStatus()
		}

	case tickMsg:
		return m, tea.Batch(
			m.fetchStatus(),
			tickCmd(m.config.RefreshRate),
		)

	case statusMsg:
		m.status = msg.snapshot
		if msg.stats != nil {
			m.stats = msg.stats
		}
		m.loading = false
		m.error = nil
		m.lastUpdate = time.Now()
		return m, nil

	case noticeMsg:
		m.notice = string(msg)
		return m, m.fetchStatus()

	case errorMsg:
		m.error = msg.err
		m.loading = false
		return m, nil
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#7D56F4")).
		Padding(0, 1)

	contentStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#874BFD")).
		Padding(1, 2)

	var b strings.Builder

	b.WriteString(titleStyle.Width(m.width-2).Render("🎲 Game Session Monitor"))
	b.WriteString("\n\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("'r' reconnect · 'u' release bet lock · 'f' refresh · 'q' quit"))
	b.WriteString("\n\n")

	if m.error != nil {
		errorStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)
		b.WriteString(errorStyle.Render(fmt.Sprintf("❌ Error: %v", m.error)))
		b.WriteString("\n")
	} else if m.loading {
		b.WriteString("🔄 Loading status...\n")
	} else if m.status != nil {
		b.WriteString(m.renderStatus())
	}

	if m.notice != "" {
		b.WriteString("\n" + lipgloss.NewStyle().Italic(true).Render(m.notice) + "\n")
	}

	if !m.lastUpdate.IsZero() {
		updateTime := fmt.Sprintf("Last updated: %s", m.lastUpdate.Format("15:04:05"))
		b.WriteString("\n" + lipgloss.NewStyle().Faint(true).Render(updateTime))
	}

	return contentStyle.Width(m.width - 4).Render(b.String())
}

// stateStyle picks the icon and colour for a connection state
func stateStyle(state interfaces.ConnectionState) (string, lipgloss.Color) {
	switch state {
	case interfaces.StateConnected:
		return "✅", lipgloss.Color("#00FF00")
	case interfaces.StateConnecting:
		return "🔄", lipgloss.Color("#FFFF00")
	case interfaces.StateDisconnected:
		return "⏸", lipgloss.Color("#FFA500")
	default:
		return "❌", lipgloss.Color("#FF0000")
	}
}

func (m Model) renderStatus() string {
	s := m.status
	var b strings.Builder

	icon, color := stateStyle(s.Connection.State)
	stateText := lipgloss.NewStyle().Foreground(color).Bold(true).Render(s.Connection.State.String())
	fmt.Fprintf(&b, "Connection: %s %s", icon, stateText)
	if s.Connection.ReconnectAttempt > 0 {
		fmt.Fprintf(&b, " (retry %d)", s.Connection.ReconnectAttempt)
	}
	b.WriteString("\n")
	if s.Connection.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", s.Connection.LastError)
	}

	lock := "free"
	if s.BetLocked {
		lock = "🔒 locked"
	}
	fmt.Fprintf(&b, "Balance:    %d (seq %d) · bet %s\n", s.Balance.Value, s.Balance.Seq, lock)

	if m.config.CompactMode {
		return b.String()
	}

	fmt.Fprintf(&b, "Queued:     %d\n", s.Connection.Queued)
	fmt.Fprintf(&b, "Gateway:    %s\n", s.URL)
	fmt.Fprintf(&b, "Session:    %s\n", s.SessionID)

	if s.InFlightBet != nil {
		b.WriteString("\n🎯 In flight\n")
		b.WriteString("───────────\n")
		fmt.Fprintf(&b, "%s %d (%s)\n", s.InFlightBet.Type, s.InFlightBet.Amount, s.InFlightBet.RequestID)
	}

	if s.LastOutcome != nil {
		b.WriteString("\n🧾 Last result\n")
		b.WriteString("─────────────\n")
		b.WriteString(formatOutcome(*s.LastOutcome) + "\n")
	}

	if m.stats != nil && m.stats.TotalBets > 0 {
		b.WriteString("\n📈 Recent bets\n")
		b.WriteString("─────────────\n")
		fmt.Fprintf(&b, "Bets:     %d (won %d, lost %d, rejected %d)\n",
			m.stats.TotalBets, m.stats.Won, m.stats.Lost, m.stats.Rejected)
		fmt.Fprintf(&b, "Win rate: %.1f%%\n", m.stats.WinRate*100)
		fmt.Fprintf(&b, "Staked:   %d  Paid out: %d\n", m.stats.TotalStaked, m.stats.TotalPayout)
	}

	return b.String()
}

func formatOutcome(o interfaces.BetOutcome) string {
	switch {
	case o.Rejected:
		return fmt.Sprintf("%s %d rejected", o.GameType, o.Amount)
	case o.Won:
		return fmt.Sprintf("%s %d won, payout %d", o.GameType, o.Amount, o.Payout)
	default:
		return fmt.Sprintf("%s %d lost", o.GameType, o.Amount)
	}
}

func (m Model) fetchStatus() tea.Cmd {
	client, window := m.client, m.config.StatsWindow
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		snap, err := client.Status(ctx)
		if err != nil {
			return errorMsg{err}
		}
		// Stats are decorative; a failure here keeps the previous ones
		stats, _ := client.BetStats(ctx, window)
		return statusMsg{snapshot: snap, stats: stats}
	}
}

func (m Model) reconnect() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		status, err := client.Reconnect(ctx)
		if err != nil {
			return errorMsg{err}
		}
		return noticeMsg(fmt.Sprintf("reconnect requested, connection %s", status.State))
	}
}

func (m Model) unlock() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		if _, err := client.UnlockBet(ctx); err != nil {
			return errorMsg{err}
		}
		return noticeMsg("bet lock released")
	}
}

func tickCmd(refreshRate int) tea.Cmd {
	return tea.Tick(time.Duration(refreshRate)*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
