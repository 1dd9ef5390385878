// Package lifecycle registers and removes a campaign bot's Telegram webhook.
package lifecycle

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"tg_utm_tracker/internal/apperr"
	"tg_utm_tracker/internal/domain"
	"tg_utm_tracker/internal/logging"
	"tg_utm_tracker/internal/telegram"
)

// MemberPath is the route prefix Telegram delivers chat_member updates to.
const MemberPath = "/webhooks/telegram-member/"

type campaignReader interface {
	Get(ctx context.Context, id string) (domain.Campaign, error)
}

type botStore interface {
	Get(ctx context.Context, id string) (domain.Bot, error)
	SetWebhookURL(ctx context.Context, id, url string) error
}

type webhookAPI interface {
	SetWebhook(ctx context.Context, token, url, secret string) error
	DeleteWebhook(ctx context.Context, token string) error
}

// Service drives setWebhook and deleteWebhook for campaign bots.
type Service struct {
	campaigns campaignReader
	bots      botStore
	gateway   webhookAPI
	baseURL   string
	secret    string
	logger    *logrus.Entry
}

// NewService constructs a lifecycle Service. baseURL is the public origin of
// this service; secret, when set, is registered as the webhook secret token.
func NewService(campaigns campaignReader, bots botStore, gateway webhookAPI, baseURL, secret string, logger *logrus.Entry) *Service {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Service{
		campaigns: campaigns,
		bots:      bots,
		gateway:   gateway,
		baseURL:   strings.TrimRight(baseURL, "/"),
		secret:    secret,
		logger:    logger,
	}
}

// MemberWebhookURL returns the URL Telegram should deliver updates to for
// campaign, preferring the campaign's stored member_webhook_url.
func (s *Service) MemberWebhookURL(campaign domain.Campaign) string {
	if url := strings.TrimSpace(campaign.MemberWebhookURL); url != "" {
		return url
	}
	return s.baseURL + MemberPath + campaign.ID
}

// Register points the campaign bot's webhook at this service. Telegram
// rejections surface as apperr.Upstream with Telegram's description.
func (s *Service) Register(ctx context.Context, campaignID string) (string, error) {
	campaign, bot, err := s.load(ctx, campaignID)
	if err != nil {
		return "", err
	}

	url := s.MemberWebhookURL(campaign)
	if err := s.gateway.SetWebhook(ctx, bot.BotToken, url, s.secret); err != nil {
		return "", apperr.Wrap(apperr.Upstream, telegram.Describe(err), err)
	}

	if err := s.bots.SetWebhookURL(ctx, bot.ID, url); err != nil {
		return "", apperr.Wrap(apperr.Internal, "failed to store webhook url", err)
	}

	logging.WithContext(s.logger, logging.Context{CampaignID: campaign.ID, Event: "webhook_registered"}).WithFields(logging.Fields{
		"bot_id": bot.ID,
		"url":    url,
	}).Info("webhook configured")

	return url, nil
}

// Deregister removes the campaign bot's webhook and clears the stored URL.
func (s *Service) Deregister(ctx context.Context, campaignID string) error {
	campaign, bot, err := s.load(ctx, campaignID)
	if err != nil {
		return err
	}

	if err := s.gateway.DeleteWebhook(ctx, bot.BotToken); err != nil {
		return apperr.Wrap(apperr.Upstream, telegram.Describe(err), err)
	}

	if err := s.bots.SetWebhookURL(ctx, bot.ID, ""); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to clear webhook url", err)
	}

	logging.WithContext(s.logger, logging.Context{CampaignID: campaign.ID, Event: "webhook_removed"}).
		WithField("bot_id", bot.ID).
		Info("webhook removed")

	return nil
}

// load resolves the campaign and its bot. Active flags are not checked so a
// paused campaign can still have its webhook removed.
func (s *Service) load(ctx context.Context, campaignID string) (domain.Campaign, domain.Bot, error) {
	if s == nil || s.campaigns == nil || s.bots == nil || s.gateway == nil {
		return domain.Campaign{}, domain.Bot{}, errors.New("lifecycle service is not initialized")
	}
	if ctx == nil {
		return domain.Campaign{}, domain.Bot{}, errors.New("context is required")
	}

	campaign, err := s.campaigns.Get(ctx, campaignID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.Campaign{}, domain.Bot{}, apperr.New(apperr.NotFound, "Campaign not found")
	case err != nil:
		return domain.Campaign{}, domain.Bot{}, apperr.Wrap(apperr.Internal, "failed to load campaign", err)
	}

	bot, err := s.bots.Get(ctx, campaign.TelegramBotID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.Campaign{}, domain.Bot{}, apperr.New(apperr.NotFound, "Bot not found")
	case err != nil:
		return domain.Campaign{}, domain.Bot{}, apperr.Wrap(apperr.Internal, "failed to load bot", err)
	}

	return campaign, bot, nil
}
