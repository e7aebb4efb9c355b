package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"plotform-planner/internal/clipper"
	"plotform-planner/internal/config"
	"plotform-planner/internal/database"
	"plotform-planner/internal/generator"
	"plotform-planner/internal/llm"
	"plotform-planner/internal/metrics"
	"plotform-planner/internal/telegram"
	"plotform-planner/internal/workspace"

	"github.com/joho/godotenv"
)

func main() {
	// 1. Load Configuration
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.TelegramBotToken == "" || cfg.TelegramWebhookURL == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN and TELEGRAM_WEBHOOK_URL must be set for the bot")
	}

	ctx := context.Background()

	// 2. Initialize Infrastructure
	textGen, closeGen, err := llm.NewFromConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create text generator: %v", err)
	}
	defer closeGen()

	db, err := database.NewDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// 3. Initialize Stores
	store := workspace.NewStore(db.SQL)
	registry := workspace.NewRegistry(db.SQL)
	metricsStore := metrics.NewStore(db.SQL)

	// 4. Initialize Services
	pipeline := generator.New(textGen, store, registry,
		generator.WithRecorder(metricsStore))
	ideaClipper := clipper.NewClipper(textGen)

	// 5. Initialize Telegram Bot
	bot, err := telegram.NewBot(cfg, pipeline, ideaClipper, registry, metricsStore)
	if err != nil {
		log.Fatalf("Failed to initialize Telegram Bot: %v", err)
	}

	// 6. Start Server with Graceful Shutdown
	bot.RegisterHandlers()

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: nil,
	}

	go func() {
		log.Printf("Telegram Bot Server listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	pipeline.Cancel()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting")
}
