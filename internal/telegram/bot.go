package telegram

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"plotform-planner/internal/clipper"
	"plotform-planner/internal/config"
	"plotform-planner/internal/generator"
	"plotform-planner/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Bot wraps the Telegram API, the generation pipeline, and the clipper.
type Bot struct {
	api          *tgbotapi.BotAPI
	pipeline     *generator.Pipeline
	clipper      *clipper.Clipper
	categories   generator.CategoryRegistry
	metricsStore *metrics.Store
	cfg          *config.Config
}

// NewBot initializes the Telegram Bot and sets the Webhook.
func NewBot(
	cfg *config.Config,
	pipeline *generator.Pipeline,
	ideaClipper *clipper.Clipper,
	categories generator.CategoryRegistry,
	metricsStore *metrics.Store,
) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}

	log.Printf("Authorized on account %s", bot.Self.UserName)

	webhookURL := cfg.TelegramWebhookURL
	wh, _ := tgbotapi.NewWebhook(webhookURL)
	resp, err := bot.Request(wh)
	if err != nil {
		return nil, fmt.Errorf("failed to set webhook to %s: %w", webhookURL, err)
	}
	log.Printf("Webhook set response: %s", resp.Description)

	return &Bot{
		api:          bot,
		pipeline:     pipeline,
		clipper:      ideaClipper,
		categories:   categories,
		metricsStore: metricsStore,
		cfg:          cfg,
	}, nil
}

// RegisterHandlers registers the webhook handler with the default HTTP mux.
func (b *Bot) RegisterHandlers() {
	http.HandleFunc("/webhook", b.handleWebhook)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	update, err := b.api.HandleUpdate(r)
	if err != nil {
		log.Printf("Error parsing update: %v", err)
		return
	}

	if update.CallbackQuery != nil {
		b.handleCallbackQuery(update.CallbackQuery)
		return
	}

	if update.Message == nil {
		return
	}

	isAllowed := false
	for _, id := range b.cfg.TelegramAllowedUserIDs {
		if update.Message.From.ID == id {
			isAllowed = true
			break
		}
	}

	if !isAllowed {
		log.Printf("⚠️ Unauthorized access attempt from UserID: %d (@%s)", update.Message.From.ID, update.Message.From.UserName)
		return
	}

	go b.processMessage(update.Message)
}

func (b *Bot) processMessage(msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)

	switch {
	case text == "/cancel":
		b.pipeline.Cancel()
		b.send(msg.Chat.ID, "🛑 Run cancelled. Nothing was committed.")
		return
	case text == "/categories":
		b.handleCategoriesCommand(msg.Chat.ID)
		return
	case strings.HasPrefix(text, "/use "):
		b.handleUseCommand(msg.Chat.ID, strings.TrimSpace(strings.TrimPrefix(text, "/use ")))
		return
	case text == "/metrics":
		b.handleMetricsRequest(msg)
		return
	}

	// A URL seeds the idea through the clipper; anything else is the idea.
	if strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://") {
		b.handleURLRequest(msg)
		return
	}

	b.handleIdeaRequest(msg.Chat.ID, text)
}

func (b *Bot) handleURLRequest(msg *tgbotapi.Message) {
	statusMsg, err := b.sendAndReturn(msg.Chat.ID, "✂️ *Reading page...* \n(Distilling it into a production idea)")
	if err != nil {
		return
	}

	ctx := context.Background()
	idea, err := b.clipper.ExtractIdea(ctx, msg.Text)
	if err != nil {
		log.Printf("Error extracting idea: %v", err)
		b.edit(msg.Chat.ID, statusMsg.MessageID, formatError("Error reading page", err))
		return
	}

	b.edit(msg.Chat.ID, statusMsg.MessageID, fmt.Sprintf("💡 *%s*\n\n_%s_", idea.Title, idea.Text))
	b.handleIdeaRequest(msg.Chat.ID, idea.Text)
}

func (b *Bot) handleIdeaRequest(chatID int64, idea string) {
	statusMsg, err := b.sendAndReturn(chatID, "🎬 *Planning...* \n(Sketching the structure of your idea)")
	if err != nil {
		return
	}

	log.Printf("Starting generation run for idea: %s", idea)

	events, err := b.pipeline.StartRun(context.Background(), idea)
	if err != nil {
		b.edit(chatID, statusMsg.MessageID, formatError("Could not start run", err))
		return
	}

	b.consumeEvents(chatID, statusMsg.MessageID, events)
}

// consumeEvents renders the run's progress into the status message, edited
// in place as the pipeline advances.
func (b *Bot) consumeEvents(chatID int64, messageID int, events <-chan generator.ProgressEvent) {
	finished := false

	for ev := range events {
		switch ev.Type {
		case generator.EventStageStarted:
			b.edit(chatID, messageID, stageStatusText(ev.Stage))
		case generator.EventRetryScheduled:
			b.edit(chatID, messageID, fmt.Sprintf(
				"⏳ *Service busy*, retrying attempt %d in %s...", ev.Attempt+1, ev.Delay))
		case generator.EventStageFailed:
			finished = true
			b.edit(chatID, messageID, formatStageFailure(ev))
		case generator.EventAwaitingChoice:
			b.askCommitChoice(chatID, messageID, ev.Response)
		case generator.EventCommitted:
			finished = true
			b.edit(chatID, messageID, fmt.Sprintf(
				"✅ *Plan committed!*\n%d episode(s) added to your workspace.", ev.CommittedCount))
		}
	}

	if !finished {
		// The stream closed without a terminal event: the run was cancelled.
		b.edit(chatID, messageID, "🛑 Run cancelled. Nothing was committed.")
	}
}

func (b *Bot) askCommitChoice(chatID int64, messageID int, resp *generator.PlanResponse) {
	text := fmt.Sprintf(
		"🤔 The plan suggests the *%s* category, which differs from your current default.\n\n%s\nHow should it be committed?",
		resp.SuggestedCategory, formatPlanSummary(resp))

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📌 Keep current category", "commit"),
			tgbotapi.NewInlineKeyboardButtonData("🔀 Switch to "+resp.SuggestedCategory, "switch"),
		),
	)

	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = "Markdown"
	edit.ReplyMarkup = &keyboard
	b.api.Send(edit)
}

func (b *Bot) handleCallbackQuery(query *tgbotapi.CallbackQuery) {
	choice := generator.ChoiceCurrent
	if query.Data == "switch" {
		choice = generator.ChoiceSwitch
	}

	// Answer callback to remove spinner
	b.api.Request(tgbotapi.NewCallback(query.ID, ""))

	if err := b.pipeline.ChooseCommit(choice); err != nil {
		b.edit(query.Message.Chat.ID, query.Message.MessageID, formatError("Commit choice failed", err))
		return
	}

	b.edit(query.Message.Chat.ID, query.Message.MessageID, "📦 *Committing episodes...*")
}

func (b *Bot) handleCategoriesCommand(chatID int64) {
	ctx := context.Background()

	cats, err := b.categories.ListCategories(ctx)
	if err != nil {
		b.send(chatID, formatError("Error listing categories", err))
		return
	}
	active, err := b.categories.ActiveCategory(ctx)
	if err != nil {
		b.send(chatID, formatError("Error reading active category", err))
		return
	}

	b.send(chatID, formatCategories(cats, active))
}

func (b *Bot) handleUseCommand(chatID int64, name string) {
	if err := b.categories.SetActiveCategory(context.Background(), name); err != nil {
		b.send(chatID, formatError("Could not switch category", err))
		return
	}
	b.send(chatID, fmt.Sprintf("✅ Active category is now *%s*.", name))
}

func (b *Bot) handleMetricsRequest(msg *tgbotapi.Message) {
	if msg.From.ID != b.cfg.AdminTelegramID {
		b.send(msg.Chat.ID, "⛔ *Access Denied*: Admin only.")
		return
	}
	b.handleMetricsCommand(msg.Chat.ID)
}

func (b *Bot) handleMetricsCommand(chatID int64) {
	usage, err := b.metricsStore.GetDailyUsage(7)
	if err != nil {
		b.send(chatID, "❌ Error fetching metrics.")
		return
	}

	health := metrics.GetSysHealth(filepath.Dir(b.cfg.DBPath))

	var sb strings.Builder
	sb.WriteString("📊 *Usage & Health Report*\n\n")

	sb.WriteString("🗓 *Recent LLM Activity*\n")
	if len(usage) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range usage {
		sb.WriteString(fmt.Sprintf("• *%s*: %d tokens (%d calls)\n", d.Date, d.TotalPrompt+d.TotalCompletion, d.TotalExecution))
	}

	sb.WriteString("\n🧠 *System Health*\n")
	sb.WriteString(fmt.Sprintf("• RAM: %dMB (Alloc) / %dMB (Sys)\n", health.AllocMB, health.SysMB))
	sb.WriteString(fmt.Sprintf("• Goroutines: %d\n", health.Goroutines))
	sb.WriteString(fmt.Sprintf("• Workspace: %s\n", health.WorkspaceSize))

	b.send(chatID, sb.String())
}

func (b *Bot) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	b.api.Send(msg)
}

func (b *Bot) sendAndReturn(chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	sent, err := b.api.Send(msg)
	if err != nil {
		log.Printf("Failed to send initial reply: %v", err)
	}
	return sent, err
}

func (b *Bot) edit(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = "Markdown"
	b.api.Send(edit)
}
