package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"chatsync/internal/livesync"
	"chatsync/internal/models"
)

type MessagesModel struct {
	client       *livesync.Client
	conv         models.Conversation
	viewport     viewport.Model
	textarea     textarea.Model
	opening      bool
	composing    bool
	err          error
	spinner      spinner.Model
	windowWidth  int
	windowHeight int
}

func NewMessagesModel(client *livesync.Client, conv models.Conversation) MessagesModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle

	vp := viewport.New(80, 20)
	vp.HighPerformanceRendering = false

	ta := textarea.New()
	ta.Placeholder = "Type your message..."
	ta.CharLimit = 1000
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	return MessagesModel{
		client:       client,
		conv:         conv,
		viewport:     vp,
		textarea:     ta,
		opening:      true,
		spinner:      s,
		windowWidth:  80,
		windowHeight: 30,
	}
}

func (m MessagesModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, openCmd(m.client, m.conv.ID), waitForUpdate(m.client))
}

func (m MessagesModel) peerName() string {
	name := m.conv.Other(m.client.UserID()).Name
	if name == "" {
		name = m.conv.ID
	}
	return name
}

func (m MessagesModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height

		headerHeight := 6
		textareaHeight := 5
		helpHeight := 2
		availableHeight := msg.Height - headerHeight - helpHeight

		if m.composing {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = availableHeight - textareaHeight
			m.textarea.SetWidth(msg.Width - 4)
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = availableHeight
		}

		m.updateViewportContent()
		return m, nil

	case openDoneMsg:
		if msg.conversationID != m.conv.ID {
			return m, nil
		}
		m.opening = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.updateViewportContent()
		m.viewport.GotoBottom()
		return m, nil

	case syncUpdateMsg:
		atBottom := m.viewport.AtBottom()
		m.updateViewportContent()
		if atBottom {
			m.viewport.GotoBottom()
		}
		return m, waitForUpdate(m.client)

	case refreshDoneMsg:
		return m, nil

	case spinner.TickMsg:
		if m.opening {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		if msg.String() == "esc" {
			if m.composing {
				m.composing = false
				m.textarea.Reset()
				m.textarea.Blur()
				m.err = nil
				return m, nil
			}
			m.client.CloseActive()
			convModel := NewConversationsModel(m.client)
			if m.windowWidth > 0 {
				updated, cmd := convModel.Update(tea.WindowSizeMsg{Width: m.windowWidth, Height: m.windowHeight})
				convModel = updated.(ConversationsModel)
				return convModel, tea.Batch(convModel.Init(), cmd)
			}
			return convModel, convModel.Init()
		}

		if m.composing {
			switch msg.String() {
			case "ctrl+s", "enter":
				text := strings.TrimSpace(m.textarea.Value())
				if text != "" {
					m.client.Send(text)
					m.textarea.Reset()
				}
				return m, nil
			default:
				// Keystrokes feed the debounced typing indicator.
				m.client.Typing()
				var cmd tea.Cmd
				m.textarea, cmd = m.textarea.Update(msg)
				return m, cmd
			}
		}

		if m.opening {
			return m, nil
		}

		switch msg.String() {
		case "q":
			return m, tea.Quit

		case "n", "c", "i":
			m.composing = true
			m.textarea.Focus()
			return m, textarea.Blink

		case "R":
			// Re-queue everything that exhausted its retries.
			for _, f := range m.client.FailedSends() {
				m.client.RetrySend(f.Ref)
			}
			return m, nil

		default:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	return m, nil
}

func (m *MessagesModel) updateViewportContent() {
	messages := m.client.ActiveMessages()
	if len(messages) == 0 {
		m.viewport.SetContent("")
		return
	}

	var content strings.Builder
	wrapWidth := m.viewport.Width
	if wrapWidth <= 0 {
		wrapWidth = 80
	}
	viewerID := m.client.UserID()
	peerID := m.conv.Other(viewerID).ID

	for i, message := range messages {
		if i > 0 {
			content.WriteString("\n")
		}

		timestamp := message.CreatedAt.Local().Format("3:04 PM")

		if message.SenderID == viewerID {
			header := fmt.Sprintf("You • %s", timestamp)
			if peerID != "" && message.ReadByUser(peerID) {
				header += " ✓"
			}
			styledHeader := messageHeaderStyle.Render(header)
			content.WriteString(lipgloss.NewStyle().Align(lipgloss.Right).Width(wrapWidth).Render(styledHeader) + "\n")

			wrapped := wordwrap.String(message.Body, wrapWidth-10)
			styled := messageFromMeStyle.Render(wrapped)
			content.WriteString(lipgloss.NewStyle().Align(lipgloss.Right).Width(wrapWidth).Render(styled) + "\n")
		} else {
			sender := message.SenderName
			if sender == "" {
				sender = message.SenderID
			}
			header := messageHeaderStyle.Render(fmt.Sprintf("%s • %s", sender, timestamp))
			content.WriteString(header + "\n")

			wrapped := wordwrap.String(message.Body, wrapWidth-10)
			content.WriteString(messageFromOtherStyle.Render(wrapped) + "\n")
		}
	}

	m.viewport.SetContent(content.String())
}

func (m MessagesModel) View() string {
	if m.opening {
		return fmt.Sprintf("\n  %s Opening conversation...\n", m.spinner.View())
	}

	s := titleStyle.Render(fmt.Sprintf("💬 %s", m.peerName())) + "\n"

	if !m.client.ConnectionUp() {
		s += offlineStyle.Render("⚠ offline, reconnecting...") + "\n"
	}
	if m.err != nil {
		s += errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n"
	}
	s += "\n"

	if len(m.client.ActiveMessages()) == 0 {
		s += normalStyle.Render("  No messages yet. Say hello!") + "\n"
	} else {
		s += m.viewport.View() + "\n"
	}

	if names := m.client.TypingIn(m.conv.ID); len(names) > 0 {
		s += typingStyle.Render(fmt.Sprintf("%s is typing...", strings.Join(names, ", "))) + "\n"
	}

	if failed := m.client.FailedSends(); len(failed) > 0 {
		for _, f := range failed {
			preview := f.Body
			if len(preview) > 40 {
				preview = preview[:37] + "..."
			}
			s += errorStyle.Render(fmt.Sprintf("✗ not delivered: %q (%s)", preview, f.Reason)) + "\n"
		}
		s += helpStyle.Render("R: retry failed sends") + "\n"
	}

	if m.composing {
		s += "\n" + inputStyle.Render("Message:") + "\n"
		s += m.textarea.View() + "\n"
		s += helpStyle.Render("enter: send • esc: stop composing")
	} else {
		scrollPercent := int(m.viewport.ScrollPercent() * 100)
		s += "\n" + helpStyle.Render(fmt.Sprintf("↑↓/jk: scroll • i: compose • esc: back • q: quit • %d%%", scrollPercent))
	}

	return s
}
