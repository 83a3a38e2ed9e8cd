// devserver runs the reference backend with a seeded demo roster so the
// chat client can be exercised locally: it prints a ready-to-use token per
// demo user.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatsync/internal/backend"
	"chatsync/internal/config"
)

func main() {
	config.LoadEnv()
	cfg := config.ServerFromEnv()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	srv := backend.New(cfg.JWTSecret, logger)
	seed(srv, logger)

	go func() {
		if err := srv.Listen(":" + cfg.Port); err != nil {
			logger.Error("server stopped", "err", err)
			os.Exit(1)
		}
	}()
	logger.Info("devserver listening", "port", cfg.Port)

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	<-c
	logger.Info("gracefully shutting down")
	_ = srv.Shutdown()
	logger.Info("server shutdown complete")
}

func seed(srv *backend.Server, logger *slog.Logger) {
	student := backend.User{ID: "u-student", Name: "Sam Student", Role: "student"}
	tutor := backend.User{ID: "u-tutor", Name: "Tina Tutor", Role: "tutor"}
	parent := backend.User{ID: "u-parent", Name: "Pat Parent", Role: "parent"}

	store := srv.Store()
	for _, u := range []backend.User{student, tutor, parent} {
		store.AddUser(u)
	}
	store.CreateConversation("conv-student-tutor", student, tutor)
	store.CreateConversation("conv-student-parent", student, parent)

	fmt.Println("Demo tokens (export as CHAT_TOKEN):")
	for _, u := range []backend.User{student, tutor, parent} {
		token, err := srv.TokenFor(u, 24*time.Hour)
		if err != nil {
			logger.Error("mint token", "user", u.ID, "err", err)
			continue
		}
		fmt.Printf("  %-10s %s\n", u.ID, token)
	}
}
