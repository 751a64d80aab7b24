package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"

	"lobbyhub/database"
	"lobbyhub/internal/config"
	"lobbyhub/internal/httpapi"
	"lobbyhub/internal/lobby"
	"lobbyhub/internal/presence"
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

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Database
	db, err := database.ConnectDB(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	registry := lobby.NewRoomRegistry(db)
	users := lobby.NewUserRepository(db)
	auth := httpapi.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)

	// Presence is optional; the API reports zero online without Redis
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

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	handler := httpapi.NewHandler(registry, users, auth, tracker, logger)
	handler.RegisterRoutes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	logger.Info("starting_api_server", "http_addr", addr)
	if err := r.Run(addr); err != nil {
		logger.Error("server_error", "error", err.Error())
		os.Exit(1)
	}
}
