package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"lobbyhub/database"
	"lobbyhub/internal/config"
	"lobbyhub/internal/lobby"
	"lobbyhub/internal/presence"
	"lobbyhub/internal/server"
)

func main() {
	// Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Setup structured logging
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	// Database
	db, err := database.ConnectDB(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	registry := lobby.NewRoomRegistry(db)
	users := lobby.NewUserRepository(db)

	// Presence is optional; the lobby runs without Redis
	var tracker *presence.Tracker
	if cfg.PresenceEnable {
		tracker, err = presence.NewTracker(cfg.RedisAddr())
		if err != nil {
			logger.Warn("presence_disabled", "error", err.Error())
			tracker = nil
		} else {
			defer tracker.Close()
		}
	}

	tcpAddr := fmt.Sprintf(":%d", cfg.TCPPort)
	logger.Info("starting_lobby_server", "tcp_addr", tcpAddr)

	srv := server.NewLobbyServer(tcpAddr, registry, users, tracker, logger)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		logger.Info("received_shutdown_signal")
		srv.Stop()
		logger.Info("server_stopped_gracefully")
	case err := <-errChan:
		logger.Error("server_error", "error", err.Error())
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
