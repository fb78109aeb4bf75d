package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"alumnet/internal/chat"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	timeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	nameStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	selfStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
)

const chromeHeight = 4 // title, blank, status, input

type sendErrMsg struct{ err error }

type model struct {
	me     string
	server string
	send   func(string) error

	viewport viewport.Model
	input    textinput.Model
	lines    []string
	status   string
}

func newModel(me, server string, send func(string) error) model {
	ti := textinput.New()
	ti.Placeholder = "Say something..."
	ti.Prompt = "> "
	ti.CharLimit = chat.DefaultMaxContentLength
	ti.Focus()

	return model{
		me:       me,
		server:   server,
		send:     send,
		viewport: viewport.New(80, 20),
		input:    ti,
		status:   "connected",
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(1, msg.Height-chromeHeight)
		m.input.Width = max(1, msg.Width-len(m.input.Prompt)-1)
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			content := m.input.Value()
			m.input.Reset()
			if strings.TrimSpace(content) == "" {
				return m, nil
			}
			return m, m.sendCmd(content)
		}

	case frame:
		m.apply(msg)
		return m, nil

	case sendErrMsg:
		m.status = "send failed: " + msg.err.Error()
		return m, nil

	case disconnectedMsg:
		m.status = "disconnected: " + msg.err.Error()
		return m, tea.Quit
	}

	var inputCmd, viewCmd tea.Cmd
	m.input, inputCmd = m.input.Update(msg)
	m.viewport, viewCmd = m.viewport.Update(msg)
	return m, tea.Batch(inputCmd, viewCmd)
}

func (m model) sendCmd(content string) tea.Cmd {
	return func() tea.Msg {
		if err := m.send(content); err != nil {
			return sendErrMsg{err: err}
		}
		return nil
	}
}

func (m *model) apply(f frame) {
	switch f.Type {
	case chat.EventHistory:
		m.lines = m.lines[:0]
		for _, rec := range f.Messages {
			m.lines = append(m.lines, m.formatRecord(rec))
		}
	case chat.EventMessage:
		var rec chat.MessageRecord
		if err := json.Unmarshal(f.Message, &rec); err != nil {
			m.status = "unreadable message from server"
			return
		}
		m.lines = append(m.lines, m.formatRecord(rec))
	case chat.EventError:
		var text string
		_ = json.Unmarshal(f.Message, &text)
		m.lines = append(m.lines, errorStyle.Render(fmt.Sprintf("! %s: %s", f.Code, text)))
	default:
		return
	}
	m.refresh()
}

func (m model) formatRecord(rec chat.MessageRecord) string {
	name := nameStyle.Render(rec.UserName)
	if rec.UserName == m.me {
		name = selfStyle.Render(rec.UserName)
	}
	ts := timeStyle.Render("[" + rec.CreatedAt.Local().Format("15:04:05") + "]")
	return fmt.Sprintf("%s %s: %s", ts, name, rec.Content)
}

func (m *model) refresh() {
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func (m model) View() string {
	title := titleStyle.Render(fmt.Sprintf("alumnet chat · %s · %s", m.me, m.server))
	return fmt.Sprintf("%s\n%s\n%s\n%s",
		title,
		m.viewport.View(),
		statusStyle.Render(m.status),
		m.input.View(),
	)
}
