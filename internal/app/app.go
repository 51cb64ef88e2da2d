// Package app implements the main Bubble Tea dashboard model.
package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/j-veylop/quotameter/internal/models"
	"github.com/j-veylop/quotameter/internal/services"
	"github.com/j-veylop/quotameter/internal/ui/components"
	"github.com/j-veylop/quotameter/internal/ui/styles"
)

const barWidth = 30

// KeyMap defines the keybindings for the application.
type KeyMap struct {
	Refresh key.Binding
	Quit    key.Binding
}

// DefaultKeyMap returns the default keybindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Refresh: key.NewBinding(key.WithKeys("r", "ctrl+r"), key.WithHelp("r", "refresh")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// Model is the main application model.
type Model struct {
	services *services.Manager

	results     []services.ProviderStatus
	probing     bool
	lastUpdated time.Time
	serviceErr  string

	spinner components.LoadingSpinner
	bar     components.UsageBar
	keymap  KeyMap

	width  int
	height int
	ready  bool

	eventChannel chan services.ServiceEvent
}

// NewModel initializes the dashboard model.
func NewModel(mgr *services.Manager) *Model {
	return &Model{
		services: mgr,
		spinner:  components.NewSpinner("Probing providers..."),
		bar:      components.NewUsageBar(barWidth),
		keymap:   DefaultKeyMap(),
		probing:  true,
	}
}

// Init initializes the model.
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Init()}

	if m.services != nil {
		var cmd tea.Cmd
		m.eventChannel, cmd = m.services.Subscribe()
		cmds = append(cmds, cmd)
		m.results = m.services.Results()
	}

	return tea.Batch(cmds...)
}

// Update handles messages and updates the model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keymap.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keymap.Refresh):
			if m.services != nil {
				m.services.Refresh()
			}
			return m, nil
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case services.ProbingEvent:
		m.probing = true
		return m, m.nextEvent()

	case services.ResultsUpdatedEvent:
		m.probing = false
		m.results = msg.Results
		m.lastUpdated = time.Now()
		return m, m.nextEvent()

	case services.ErrorEvent:
		m.serviceErr = msg.Error.Error()
		return m, m.nextEvent()
	}

	return m, nil
}

// nextEvent re-arms the subscription listener.
func (m *Model) nextEvent() tea.Cmd {
	if m.eventChannel == nil {
		return nil
	}
	return services.WaitForEvent(m.eventChannel)
}

// View renders the dashboard.
func (m *Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder

	b.WriteString(styles.TitleStyle.Render("quotameter"))
	if m.probing {
		b.WriteString("  " + m.spinner.View())
	}
	b.WriteString("\n")

	if len(m.results) == 0 {
		b.WriteString(styles.CenterBoth(m.spinner.ViewWithLabel(), m.width, m.height-4))
		return b.String()
	}

	for _, status := range m.results {
		b.WriteString(m.renderCard(status))
		b.WriteString("\n")
	}

	if m.serviceErr != "" {
		b.WriteString(styles.ErrorTextStyle.Render(ansi.Truncate(m.serviceErr, m.width, "…")))
		b.WriteString("\n")
	}

	b.WriteString(m.renderFooter())
	return b.String()
}

// renderCard draws one provider's metrics inside a bordered card.
func (m *Model) renderCard(status services.ProviderStatus) string {
	var lines []string

	header := styles.ProviderNameStyle.
		Foreground(styles.ProviderColor(status.Provider)).
		Render(status.Name)
	if status.Plan != "" {
		header += "  " + styles.PlanBadgeStyle.Render(status.Plan)
	}
	if status.Stale {
		header += "  " + styles.StaleTagStyle.Render("stale")
	}
	lines = append(lines, header)

	if status.Failed() && len(status.Lines) == 0 {
		lines = append(lines, styles.ErrorTextStyle.Render(status.Error))
	}

	now := time.Now()
	for _, line := range status.Lines {
		switch line.Kind {
		case models.MetricProgress:
			lines = append(lines, m.bar.Render(line, now))
			if pace := components.RenderPace(status.Predictions[line.Label]); pace != "" {
				lines = append(lines, strings.Repeat(" ", 14)+pace)
			}
		case models.MetricText:
			lines = append(lines, styles.MetricLabelStyle.Render(line.Label)+" "+styles.MetricValueStyle.Render(line.Value))
		case models.MetricBadge:
			lines = append(lines, styles.MetricLabelStyle.Render(line.Label)+" "+styles.BadgeStyle.Render(line.Status))
		}
	}

	if spark := m.renderSparkline(status); spark != "" {
		lines = append(lines, spark)
	}

	card := styles.ProviderCardStyle
	if status.Stale {
		card = styles.StaleCardStyle
	}

	content := strings.Join(m.truncateAll(lines), "\n")
	return card.Render(content)
}

// renderSparkline plots the history of the card's first bounded window.
func (m *Model) renderSparkline(status services.ProviderStatus) string {
	for _, line := range status.Lines {
		if line.Kind != models.MetricProgress {
			continue
		}
		return components.RenderSparkline(status.Series[line.Label], barWidth+10, 3)
	}
	return ""
}

// truncateAll clamps rendered lines to the card's inner width.
func (m *Model) truncateAll(lines []string) []string {
	maxWidth := m.width - 8
	if maxWidth < 20 {
		return lines
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = ansi.Truncate(line, maxWidth, "…")
	}
	return out
}

// renderFooter draws the help line with the last update time.
func (m *Model) renderFooter() string {
	help := styles.HelpKeyStyle.Render("r") + styles.HelpStyle.Render(" refresh  ") +
		styles.HelpKeyStyle.Render("q") + styles.HelpStyle.Render(" quit")

	if !m.lastUpdated.IsZero() {
		help += styles.HelpStyle.Render(fmt.Sprintf("  updated %s", m.lastUpdated.Format("15:04:05")))
	}

	return help
}
