package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const errorPrefix = "⚠️"

type mode int

const (
	modeInteractive mode = iota
	modeOneShot
)

type role string

const (
	roleUser      role = "user"
	roleAssistant role = "assistant"
	roleError     role = "error"
)

type chatMessage struct {
	role    role
	content string
}

// replyMsg carries one outbound bus message into the UI loop.
type replyMsg struct {
	content string
}

// submitFailedMsg reports that a prompt could not be enqueued.
type submitFailedMsg struct {
	err error
}

// submitFunc enqueues a prompt on the bus and returns a command reporting failure.
type submitFunc func(prompt string) tea.Cmd

type model struct {
	submit       submitFunc
	mode         mode
	oneShotInput string
	info         RuntimeInfo

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	messages  []chatMessage
	width     int
	height    int
	isReady   bool
	isLoading bool
	lastErr   string
	followLog bool
}

func newModel(submit submitFunc, runMode mode, prompt string, info RuntimeInfo) *model {
	spin := spinner.New()
	spin.Spinner = spinner.MiniDot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("209"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Message crabbybot, or /help"
	in.Focus()
	in.CharLimit = 0

	return &model{
		submit:       submit,
		mode:         runMode,
		oneShotInput: strings.TrimSpace(prompt),
		info:         info,
		theme:        defaultTheme(),
		spinner:      spin,
		input:        in,
		viewport:     viewport.New(80, 12),
		width:        100,
		height:       28,
		followLog:    true,
	}
}

func (m *model) Init() tea.Cmd {
	if m.mode == modeOneShot {
		if m.oneShotInput == "" {
			return tea.Quit
		}
		return m.send(m.oneShotInput)
	}

	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case tea.MouseMsg:
		if m.mode == modeInteractive {
			m.handleViewportMouse(typed)
		}
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(typed)
	case spinner.TickMsg:
		if !m.isLoading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case replyMsg:
		m.isLoading = false
		if strings.HasPrefix(typed.content, errorPrefix) {
			m.lastErr = strings.TrimSpace(strings.TrimPrefix(typed.content, errorPrefix))
			m.messages = append(m.messages, chatMessage{role: roleError, content: m.lastErr})
		} else {
			m.lastErr = ""
			m.messages = append(m.messages, chatMessage{role: roleAssistant, content: typed.content})
		}
		m.refreshViewport(false)
		if m.mode == modeOneShot {
			return m, tea.Quit
		}
		return m, nil
	case submitFailedMsg:
		m.isLoading = false
		m.lastErr = typed.err.Error()
		m.messages = append(m.messages, chatMessage{role: roleError, content: m.lastErr})
		m.refreshViewport(false)
		if m.mode == modeOneShot {
			return m, tea.Quit
		}
		return m, nil
	}

	if m.mode != modeInteractive {
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit
	}

	if m.mode == modeOneShot {
		return m, nil
	}
	if m.handleViewportKey(msg) {
		return m, nil
	}

	if msg.String() != "enter" {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	if m.isLoading {
		return m, nil
	}

	prompt := strings.TrimSpace(m.input.Value())
	if prompt == "" {
		return m, nil
	}
	if isExitCommand(prompt) {
		return m, tea.Quit
	}

	m.input.SetValue("")
	return m, m.send(prompt)
}

// send records the prompt locally and enqueues it for the bridge.
func (m *model) send(prompt string) tea.Cmd {
	m.lastErr = ""
	m.messages = append(m.messages, chatMessage{role: roleUser, content: prompt})
	m.isLoading = true
	m.followLog = true
	m.refreshViewport(true)

	return tea.Batch(m.spinner.Tick, m.submit(prompt))
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}
	if m.mode == modeOneShot {
		return m.oneShotView()
	}

	header := m.theme.header.Width(m.width - 2).Render("🦀 crabbybot")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"provider:%s · model:%s · turns:%d",
		displayOrNA(m.info.Provider),
		displayOrNA(m.info.Model),
		conversationTurns(m.messages),
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("─", max(8, m.width-2)))

	status := m.theme.status.Render("Enter send · PgUp/PgDn scroll · End latest · Ctrl+C/Esc quit")
	if m.isLoading {
		status = m.theme.statusBusy.Render(m.spinner.View() + " thinking...")
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("last request failed, try again")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("You")+" "+m.theme.hint.Render("(/exit, quit or :q to leave)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) oneShotView() string {
	contentWidth := max(40, m.width-6)
	parts := []string{m.renderMessage(chatMessage{role: roleUser, content: m.oneShotInput}, contentWidth)}

	if m.isLoading {
		parts = append(parts, m.theme.statusBusy.Render(m.spinner.View()+" waiting for reply..."))
		return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n"
	}

	if n := len(m.messages); n > 1 {
		parts = append(parts, m.renderMessage(m.messages[n-1], contentWidth))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n\n"
}

func (m *model) resizeComponents() {
	w := max(50, m.width-6)
	h := max(8, m.height-10)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset

	sections := make([]string, 0, len(m.messages))
	for _, item := range m.messages {
		sections = append(sections, m.renderMessage(item, m.viewport.Width))
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) renderMessage(item chatMessage, width int) string {
	body := strings.TrimSpace(item.content)
	switch item.role {
	case roleUser:
		return lipgloss.JoinVertical(lipgloss.Left, m.theme.userTitle.Render("you"), m.theme.userBox.Width(width).Render(body))
	case roleError:
		return lipgloss.JoinVertical(lipgloss.Left, m.theme.errorTitle.Render("error"), m.theme.errorBox.Width(width).Render(body))
	default:
		return lipgloss.JoinVertical(lipgloss.Left, m.theme.assistantTitle.Render("🦀"), m.theme.assistantBox.Width(width).Render(body))
	}
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		m.followLog = m.viewport.AtBottom()
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(3)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(3)
		m.followLog = m.viewport.AtBottom()
		return true
	default:
		return false
	}
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func conversationTurns(messages []chatMessage) int {
	count := 0
	for _, message := range messages {
		if message.role == roleUser {
			count++
		}
	}

	return count
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
