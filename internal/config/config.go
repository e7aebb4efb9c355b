package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the configuration for the application.
type Config struct {
	Provider     string
	GeminiAPIKey string
	GeminiModel  string
	GroqAPIKey   string
	GroqModel    string
	DBPath       string

	// Telegram Config
	TelegramBotToken       string
	TelegramWebhookURL     string
	TelegramAllowedUserIDs []int64
	AdminTelegramID        int64
	Port                   string
}

const defaultGeminiModel = "gemini-1.5-pro"

// Supported generator providers.
const (
	ProviderGemini = "gemini"
	ProviderGroq   = "groq"
)

// NewFromEnv creates a new Config object from environment variables.
func NewFromEnv() (*Config, error) {
	provider := strings.ToLower(os.Getenv("GENERATOR_PROVIDER"))
	if provider == "" {
		provider = ProviderGemini
	}
	if provider != ProviderGemini && provider != ProviderGroq {
		return nil, fmt.Errorf("unknown GENERATOR_PROVIDER %q", provider)
	}

	geminiAPIKey := os.Getenv("GEMINI_API_KEY")
	if provider == ProviderGemini && geminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}

	groqAPIKey := os.Getenv("GROQ_API_KEY")
	if provider == ProviderGroq && groqAPIKey == "" {
		return nil, fmt.Errorf("GROQ_API_KEY environment variable not set")
	}

	geminiModel := os.Getenv("GEMINI_MODEL")
	if geminiModel == "" {
		geminiModel = defaultGeminiModel
	}

	dbPath := os.Getenv("PLANNER_DB_PATH")
	if dbPath == "" {
		dbPath = "data/planner.db"
	}

	// Telegram Config (optional for CLI, required for Bot)
	telegramBotToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	telegramWebhookURL := os.Getenv("TELEGRAM_WEBHOOK_URL")

	var allowedIDs []int64
	if raw := os.Getenv("TELEGRAM_ALLOWED_USER_IDS"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid TELEGRAM_ALLOWED_USER_IDS entry %q: %w", part, err)
			}
			allowedIDs = append(allowedIDs, id)
		}
	}

	var adminID int64
	if raw := os.Getenv("ADMIN_TELEGRAM_ID"); raw != "" {
		fmt.Sscanf(raw, "%d", &adminID)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return &Config{
		Provider:               provider,
		GeminiAPIKey:           geminiAPIKey,
		GeminiModel:            geminiModel,
		GroqAPIKey:             groqAPIKey,
		GroqModel:              os.Getenv("GROQ_MODEL"),
		DBPath:                 dbPath,
		TelegramBotToken:       telegramBotToken,
		TelegramWebhookURL:     telegramWebhookURL,
		TelegramAllowedUserIDs: allowedIDs,
		AdminTelegramID:        adminID,
		Port:                   port,
	}, nil
}
