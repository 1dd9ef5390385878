// Package capture turns a tracked click into a per-click Telegram invite link.
package capture

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"tg_utm_tracker/internal/apperr"
	"tg_utm_tracker/internal/codegen"
	"tg_utm_tracker/internal/domain"
	"tg_utm_tracker/internal/logging"
	"tg_utm_tracker/internal/telegram"
)

const rollbackTimeout = 5 * time.Second

type campaignReader interface {
	Get(ctx context.Context, id string) (domain.Campaign, error)
}

type botReader interface {
	Get(ctx context.Context, id string) (domain.Bot, error)
}

type linkStore interface {
	Create(ctx context.Context, link domain.InviteLink) (domain.InviteLink, error)
	AttachURL(ctx context.Context, id, url string) error
	Delete(ctx context.Context, id string) error
}

type linkMinter interface {
	CreateInviteLink(ctx context.Context, token, chatID, name string, private bool) (string, error)
}

// Result is a captured click with its minted Telegram URL.
type Result struct {
	LinkID string
	Code   string
	URL    string
}

// Service records clicks and mints their invite links.
type Service struct {
	campaigns campaignReader
	bots      botReader
	links     linkStore
	gateway   linkMinter
	logger    *logrus.Entry
	newCode   func() (string, error)
}

// NewService constructs a capture Service.
func NewService(campaigns campaignReader, bots botReader, links linkStore, gateway linkMinter, logger *logrus.Entry) *Service {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Service{
		campaigns: campaigns,
		bots:      bots,
		links:     links,
		gateway:   gateway,
		logger:    logger,
		newCode:   codegen.New,
	}
}

// Capture stores the click's UTM payload under a fresh code and asks Telegram
// for an invite link named with that code. The stored link is removed again
// on every path that does not end with an attached URL.
func (s *Service) Capture(ctx context.Context, campaignID string, utm domain.UTM) (Result, error) {
	if s == nil || s.campaigns == nil || s.bots == nil || s.links == nil || s.gateway == nil {
		return Result{}, errors.New("capture service is not initialized")
	}
	if ctx == nil {
		return Result{}, errors.New("context is required")
	}

	campaign, err := s.campaigns.Get(ctx, campaignID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return Result{}, apperr.New(apperr.NotFound, "Campaign not found or inactive")
	case err != nil:
		return Result{}, apperr.Wrap(apperr.Internal, "failed to load campaign", err)
	case !campaign.IsActive:
		return Result{}, apperr.New(apperr.NotFound, "Campaign not found or inactive")
	}

	code, err := s.newCode()
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Internal, "failed to generate code", err)
	}

	link, err := s.links.Create(ctx, domain.InviteLink{
		CampaignID: campaign.ID,
		Code:       code,
		UTM:        utm,
	})
	if errors.Is(err, domain.ErrDuplicate) {
		return Result{}, apperr.Wrap(apperr.Internal, "code collision, retry the request", err)
	}
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Internal, "failed to store click", err)
	}

	log := logging.WithContext(s.logger, logging.Context{CampaignID: campaign.ID, Code: code})

	committed := false
	defer func() {
		if !committed {
			s.rollback(ctx, link.ID, log)
		}
	}()

	bot, err := s.bots.Get(ctx, campaign.TelegramBotID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return Result{}, apperr.New(apperr.NotFound, "Bot not found or inactive")
	case err != nil:
		return Result{}, apperr.Wrap(apperr.Internal, "failed to load bot", err)
	case !bot.IsActive:
		return Result{}, apperr.New(apperr.NotFound, "Bot not found or inactive")
	}

	url, err := s.gateway.CreateInviteLink(ctx, bot.BotToken, bot.ChatID, code, bot.IsPrivate)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Upstream, "Failed to create invite link: "+telegram.Describe(err), err)
	}

	if err := s.links.AttachURL(ctx, link.ID, url); err != nil {
		return Result{}, apperr.Wrap(apperr.Internal, "failed to store invite link", err)
	}
	committed = true

	logging.WithContext(log, logging.Context{Event: "invite_link_created"}).WithFields(logging.Fields{
		"link_id": link.ID,
		"private": bot.IsPrivate,
	}).Info("captured click")

	return Result{LinkID: link.ID, Code: code, URL: url}, nil
}

// rollback deletes an uncommitted link. It outlives a cancelled request so
// client disconnects do not strand half-written rows.
func (s *Service) rollback(ctx context.Context, linkID string, log *logrus.Entry) {
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if err := s.links.Delete(deleteCtx, linkID); err != nil {
		log.WithFields(logging.Fields{
			"event":   "invite_link_rollback_failed",
			"link_id": linkID,
			"error":   err.Error(),
		}).Error("failed to roll back captured click")
		return
	}

	log.WithFields(logging.Fields{
		"event":   "invite_link_rolled_back",
		"link_id": linkID,
	}).Warn("rolled back captured click")
}
