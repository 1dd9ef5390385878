package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"tg_utm_tracker/internal/config"
	"tg_utm_tracker/internal/domain"
	"tg_utm_tracker/internal/logging"
	"tg_utm_tracker/internal/storage"
	"tg_utm_tracker/internal/telegram"
	"tg_utm_tracker/internal/webhook"
)

const (
	storeConnectTimeout = 15 * time.Second
	seedTimeout         = 30 * time.Second
	storeCloseTimeout   = 5 * time.Second
)

type botValidator interface {
	ValidateBot(ctx context.Context, token, chatID string) (telegram.BotInfo, error)
}

type seedParams struct {
	Token       string
	ChatID      string
	Private     bool
	UserID      string
	Name        string
	Description string
	BaseURL     string
}

type seedResult struct {
	Bot      domain.Bot
	Campaign domain.Campaign
}

func main() {
	token := flag.String("token", "", "telegram bot token")
	chatID := flag.String("chat", "", "channel or group id (e.g. -1001234567890 or @channel)")
	private := flag.Bool("private", false, "mint invite links that expire after 24h")
	userID := flag.String("user", "operator", "owner id stored on the bot and campaign")
	name := flag.String("name", "", "campaign name")
	description := flag.String("description", "", "campaign description")
	deleteID := flag.String("delete-campaign", "", "delete the campaign with this id together with its invite links and leads")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), storeConnectTimeout)
	backend, err := storage.Open(connectCtx, cfg, logger)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "store setup error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancelSeed := context.WithTimeout(context.Background(), seedTimeout)
	// exit closes the store first; os.Exit skips deferred calls.
	exit := func(code int) {
		cancelSeed()
		closeCtx, cancel := context.WithTimeout(context.Background(), storeCloseTimeout)
		defer cancel()
		if err := backend.Close(closeCtx); err != nil {
			logger.WithField("event", "store_close_failed").WithError(err).Warn("store close failed")
		}
		if code != 0 {
			os.Exit(code)
		}
	}

	if id := strings.TrimSpace(*deleteID); id != "" {
		if err := backend.DeleteCampaign(ctx, id); err != nil {
			logger.WithFields(logging.Fields{"event": "seed_delete_failed", "campaign_id": id}).WithError(err).Error("campaign delete failed")
			fmt.Fprintf(os.Stderr, "delete campaign: %v\n", err)
			exit(1)
		}
		logger.WithFields(logging.Fields{"event": "seed_campaign_deleted", "campaign_id": id}).Info("campaign deleted")
		fmt.Printf("deleted campaign %s\n", id)
		exit(0)
		return
	}

	params := seedParams{
		Token:       *token,
		ChatID:      *chatID,
		Private:     *private,
		UserID:      *userID,
		Name:        *name,
		Description: *description,
		BaseURL:     cfg.PublicBaseURL,
	}

	result, err := seedCampaign(ctx, backend.Repositories(), telegram.NewGateway(cfg, logger), params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		exit(1)
	}
	defer exit(0)

	logger.WithFields(logging.Fields{
		"event":       "seed_complete",
		"campaign_id": result.Campaign.ID,
		"bot_id":      result.Bot.ID,
	}).Info("bot and campaign registered")

	fmt.Printf("bot:          %s (@%s, %s %q)\n", result.Bot.ID, result.Bot.BotUsername, result.Bot.ChatType, result.Bot.ChatName)
	fmt.Printf("campaign:     %s\n", result.Campaign.ID)
	fmt.Printf("capture url:  %s\n", result.Campaign.CaptureWebhookURL)
	fmt.Printf("member url:   %s\n", result.Campaign.MemberWebhookURL)
	fmt.Printf("qr code:      %s/qr.png\n", result.Campaign.CaptureWebhookURL)
	fmt.Printf("setup:        curl -X POST %s/setup\n", result.Campaign.MemberWebhookURL)
}

// seedCampaign validates the bot against Telegram, stores it and creates an
// active campaign with its capture and member URLs filled in.
func seedCampaign(ctx context.Context, repos domain.Repositories, validator botValidator, p seedParams) (seedResult, error) {
	token := strings.TrimSpace(p.Token)
	chatID := strings.TrimSpace(p.ChatID)
	name := strings.TrimSpace(p.Name)

	var missing []string
	if token == "" {
		missing = append(missing, "-token")
	}
	if chatID == "" {
		missing = append(missing, "-chat")
	}
	if name == "" {
		missing = append(missing, "-name")
	}
	if len(missing) > 0 {
		return seedResult{}, fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}
	if repos.Bots == nil || repos.Campaigns == nil {
		return seedResult{}, errors.New("repositories are not configured")
	}

	info, err := validator.ValidateBot(ctx, token, chatID)
	if err != nil {
		return seedResult{}, fmt.Errorf("validate bot: %s", telegram.Describe(err))
	}

	bot, err := repos.Bots.Create(ctx, domain.Bot{
		UserID:      p.UserID,
		BotToken:    token,
		BotUsername: info.Username,
		ChatID:      chatID,
		ChatName:    info.ChatName,
		ChatType:    info.ChatType,
		IsPrivate:   p.Private,
		IsActive:    true,
	})
	if err != nil {
		return seedResult{}, fmt.Errorf("create bot: %w", err)
	}

	baseURL := strings.TrimRight(p.BaseURL, "/")
	campaignID := domain.NewID()

	campaign, err := repos.Campaigns.Create(ctx, domain.Campaign{
		ID:                campaignID,
		UserID:            p.UserID,
		TelegramBotID:     bot.ID,
		Name:              name,
		Description:       p.Description,
		CaptureWebhookURL: baseURL + webhook.CapturePath + campaignID,
		MemberWebhookURL:  baseURL + webhook.MemberPath + campaignID,
		IsActive:          true,
	})
	if err != nil {
		if cleanupErr := repos.Bots.Delete(context.WithoutCancel(ctx), bot.ID); cleanupErr != nil {
			return seedResult{}, fmt.Errorf("create campaign: %w (remove bot %s: %v)", err, bot.ID, cleanupErr)
		}
		return seedResult{}, fmt.Errorf("create campaign: %w", err)
	}

	return seedResult{Bot: bot, Campaign: campaign}, nil
}
