// Package ui is the terminal front end: a conversation list and a message
// view rendered from the sync client's snapshots. The models never mutate
// state themselves; every change flows through the client and comes back as
// an update notification.
package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"chatsync/internal/livesync"
)

// syncUpdateMsg means the client's view of the world changed and the model
// should re-read its snapshots.
type syncUpdateMsg struct{}

// waitForUpdate blocks on the client's coalesced update channel. The model
// re-arms it after every syncUpdateMsg.
func waitForUpdate(c *livesync.Client) tea.Cmd {
	return func() tea.Msg {
		<-c.Updates()
		return syncUpdateMsg{}
	}
}

type refreshDoneMsg struct {
	err error
}

func refreshCmd(c *livesync.Client) tea.Cmd {
	return func() tea.Msg {
		return refreshDoneMsg{err: c.Refresh(context.Background())}
	}
}

type openDoneMsg struct {
	conversationID string
	err            error
}

func openCmd(c *livesync.Client, conversationID string) tea.Cmd {
	return func() tea.Msg {
		return openDoneMsg{
			conversationID: conversationID,
			err:            c.Open(context.Background(), conversationID),
		}
	}
}
