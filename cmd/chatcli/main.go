package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/golang-jwt/jwt/v5"

	"chatsync/internal/api"
	"chatsync/internal/config"
	"chatsync/internal/livesync"
	"chatsync/internal/transport"
	"chatsync/internal/ui"
)

const version = "1.0.0"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "-v", "--version":
			fmt.Printf("chatcli v%s\n", version)
			return
		case "help", "-h", "--help":
			printHelp()
			return
		default:
			fmt.Printf("Unknown command: %s\n", os.Args[1])
			printHelp()
			os.Exit(1)
		}
	}

	config.LoadEnv()
	cfg := config.ClientFromEnv()
	if cfg.Token == "" {
		fmt.Println("CHAT_TOKEN is required. Run the devserver and copy one of its minted tokens.")
		os.Exit(1)
	}

	userID, userName := identityFromToken(cfg.Token)
	if userID == "" {
		fmt.Println("CHAT_TOKEN does not carry a user_id claim.")
		os.Exit(1)
	}

	// The TUI owns the terminal, so logs go nowhere unless asked for.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if path := os.Getenv("CHAT_LOG_FILE"); path != "" {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
			defer f.Close()
		}
	}

	tokenFn := func(context.Context) (string, error) { return cfg.Token, nil }
	rest := api.New(cfg.ServerURL, tokenFn, api.WithLogger(logger))
	tr := transport.NewManager(wsURL(cfg.ServerURL), tokenFn,
		transport.WithLogger(logger),
		transport.WithReconnectInterval(cfg.ReconnectInterval))

	client := livesync.New(rest, tr, livesync.Options{
		UserID:        userID,
		UserName:      userName,
		PageSize:      cfg.PageSize,
		AckTimeout:    cfg.AckTimeout,
		SendRetries:   cfg.SendRetries,
		SendRetryBase: cfg.SendRetryBase,
		TypingTTL:     cfg.TypingTTL,
		Logger:        logger,
	})
	client.Connect()
	defer client.Close()

	initialModel := ui.NewConversationsModel(client)
	p := tea.NewProgram(initialModel, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

// identityFromToken reads the user claims without verifying the signature;
// the backend verifies on every request anyway.
func identityFromToken(token string) (id, name string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", ""
	}
	id, _ = claims["user_id"].(string)
	name, _ = claims["user_name"].(string)
	return id, name
}

// wsURL turns the REST base URL into the push channel endpoint.
func wsURL(serverURL string) string {
	u := serverURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return strings.TrimRight(u, "/") + "/ws"
}

func printHelp() {
	help := `chatcli - Terminal chat client

Usage:
  chatcli            Start the chat client
  chatcli version    Show version information
  chatcli help       Show this help message

Environment:
  CHAT_SERVER_URL    Backend base URL (default http://localhost:3001)
  CHAT_TOKEN         Access token (required)
  CHAT_LOG_FILE      Append debug logs to this file

Navigation:
  ↑/↓ or j/k        Navigate lists and scroll messages
  Enter             Open conversation
  ESC               Go back / stop composing
  q                 Quit from current view
  ctrl+c            Force quit

Conversations:
  /                 Search conversations
  r                 Refresh conversation list

Messages:
  i, n or c         Compose a message
  enter             Send (while composing)
  R                 Retry failed sends
`
	fmt.Print(help)
}
