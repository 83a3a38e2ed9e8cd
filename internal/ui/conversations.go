package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chatsync/internal/livesync"
	"chatsync/internal/models"
)

type conversationItem struct {
	conv     models.Conversation
	viewerID string
}

func (i conversationItem) Title() string {
	name := i.conv.Other(i.viewerID).Name
	if name == "" {
		name = i.conv.ID
	}
	if i.conv.Unread > 0 {
		return fmt.Sprintf("%s %s", name, unreadBadgeStyle.Render(fmt.Sprintf("%d", i.conv.Unread)))
	}
	return name
}

func (i conversationItem) Description() string {
	timeAgo := formatTimeAgo(i.conv.LastMessageAt)
	preview := i.conv.LastMessage
	if len(preview) > 50 {
		preview = preview[:47] + "..."
	}
	if preview == "" {
		return timeAgo
	}
	return fmt.Sprintf("%s • %s", timeAgo, preview)
}

func (i conversationItem) FilterValue() string {
	return i.conv.Other(i.viewerID).Name
}

func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "no messages"
	}

	duration := time.Since(t)

	if duration < time.Minute {
		return "just now"
	}
	if duration < 2*time.Minute {
		return "1 min ago"
	}
	if duration < time.Hour {
		return fmt.Sprintf("%dm ago", int(duration.Minutes()))
	}
	if duration < 2*time.Hour {
		return "1h ago"
	}
	if duration < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(duration.Hours()))
	}
	if duration < 48*time.Hour {
		return "yesterday"
	}
	if duration < 7*24*time.Hour {
		return fmt.Sprintf("%dd ago", int(duration.Hours()/24))
	}
	return t.Format("Jan 2")
}

type ConversationsModel struct {
	client       *livesync.Client
	list         list.Model
	loading      bool
	err          error
	spinner      spinner.Model
	windowWidth  int
	windowHeight int
}

func NewConversationsModel(client *livesync.Client) ConversationsModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.Color("5")).
		Bold(true)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(lipgloss.Color("8"))

	l := list.New([]list.Item{}, delegate, 80, 20)
	l.Title = "Conversations"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)

	return ConversationsModel{
		client:       client,
		list:         l,
		loading:      true,
		spinner:      s,
		windowWidth:  80,
		windowHeight: 30,
	}
}

func (m ConversationsModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, refreshCmd(m.client), waitForUpdate(m.client))
}

func (m *ConversationsModel) reloadItems() {
	convs := m.client.Conversations()
	items := make([]list.Item, len(convs))
	for i, conv := range convs {
		items[i] = conversationItem{conv: conv, viewerID: m.client.UserID()}
	}
	m.list.SetItems(items)
	if total := m.client.TotalUnread(); total > 0 {
		m.list.Title = fmt.Sprintf("Conversations (%d unread)", total)
	} else {
		m.list.Title = "Conversations"
	}
}

func (m ConversationsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.list.SetWidth(msg.Width)
		m.list.SetHeight(msg.Height - 4)
		return m, nil

	case refreshDoneMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.reloadItems()
		return m, nil

	case syncUpdateMsg:
		m.reloadItems()
		return m, waitForUpdate(m.client)

	case openDoneMsg:
		// An open kicked off from this view failed; stay on the list.
		if msg.err != nil {
			m.err = msg.err
		}
		return m, nil

	case spinner.TickMsg:
		if m.loading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		if msg.String() == "r" && !m.loading {
			m.loading = true
			return m, tea.Batch(m.spinner.Tick, refreshCmd(m.client))
		}

		if msg.String() == "enter" && !m.loading {
			if item, ok := m.list.SelectedItem().(conversationItem); ok {
				messagesModel := NewMessagesModel(m.client, item.conv)
				if m.windowWidth > 0 {
					updated, cmd := messagesModel.Update(tea.WindowSizeMsg{Width: m.windowWidth, Height: m.windowHeight})
					messagesModel = updated.(MessagesModel)
					return messagesModel, tea.Batch(messagesModel.Init(), cmd)
				}
				return messagesModel, messagesModel.Init()
			}
		}

		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m ConversationsModel) View() string {
	if m.loading {
		return fmt.Sprintf("\n  %s Loading conversations...\n", m.spinner.View())
	}

	if m.err != nil {
		s := titleStyle.Render("Conversations") + "\n\n"
		s += errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n\n"
		s += helpStyle.Render("r: retry • q: quit")
		return s
	}

	s := ""
	if !m.client.ConnectionUp() {
		s += offlineStyle.Render("⚠ offline, reconnecting...") + "\n"
	}

	if len(m.list.Items()) == 0 {
		s += titleStyle.Render("Conversations") + "\n\n"
		s += normalStyle.Render("  No conversations yet.") + "\n"
		s += "\n" + helpStyle.Render("r: refresh • q: quit")
		return s
	}

	s += m.list.View() + "\n"
	s += helpStyle.Render("↑↓/jk: navigate • enter: open • /: search • r: refresh • q: quit")

	return s
}
