// Package member records Telegram chat joins as campaign leads.
package member

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"tg_utm_tracker/internal/apperr"
	"tg_utm_tracker/internal/domain"
	"tg_utm_tracker/internal/events"
	"tg_utm_tracker/internal/logging"
	"tg_utm_tracker/internal/telegram"
)

// Action is what HandleUpdate did with a delivery.
type Action string

// Actions reported in Outcome.
const (
	ActionIgnored   Action = "ignored"
	ActionDuplicate Action = "duplicate"
	ActionCreated   Action = "created"
	ActionRejoined  Action = "rejoined"
)

// Outcome describes a handled delivery.
type Outcome struct {
	Action  Action
	LeadID  string
	Message string
}

type campaignReader interface {
	Get(ctx context.Context, id string) (domain.Campaign, error)
}

type botReader interface {
	Get(ctx context.Context, id string) (domain.Bot, error)
}

type linkFinder interface {
	FindUsableByCode(ctx context.Context, campaignID, code string) (domain.InviteLink, error)
}

type leadStore interface {
	FindByTelegramID(ctx context.Context, campaignID, telegramID string) (domain.Lead, error)
	Create(ctx context.Context, lead domain.Lead) (domain.Lead, error)
	MarkRejoined(ctx context.Context, id string, at time.Time) error
}

// DeliveryClaims de-duplicates webhook deliveries by update_id.
type DeliveryClaims interface {
	Claim(ctx context.Context, campaignID string, updateID int64) (bool, error)
	Release(ctx context.Context, campaignID string, updateID int64) error
}

// Publisher announces committed lead changes.
type Publisher interface {
	Publish(ctx context.Context, event events.LeadEvent) error
}

// Service turns chat_member updates into leads.
type Service struct {
	campaigns campaignReader
	bots      botReader
	links     linkFinder
	leads     leadStore
	claims    DeliveryClaims
	publisher Publisher
	logger    *logrus.Entry
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClaims enables update_id de-duplication.
func WithClaims(claims DeliveryClaims) Option {
	return func(s *Service) {
		s.claims = claims
	}
}

// WithPublisher enables lead event publishing.
func WithPublisher(publisher Publisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// NewService constructs a member Service.
func NewService(campaigns campaignReader, bots botReader, links linkFinder, leads leadStore, logger *logrus.Entry, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Logger()
	}

	s := &Service{
		campaigns: campaigns,
		bots:      bots,
		links:     links,
		leads:     leads,
		logger:    logger,
		now:       domain.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// HandleUpdate records a join for campaignID. Deliveries that are not joins
// are acknowledged without writes. A user already known to the campaign keeps
// their original attribution and only has status and entry date refreshed.
func (s *Service) HandleUpdate(ctx context.Context, campaignID string, update telegram.Update) (out Outcome, err error) {
	if s == nil || s.campaigns == nil || s.bots == nil || s.links == nil || s.leads == nil {
		return Outcome{}, errors.New("member service is not initialized")
	}
	if ctx == nil {
		return Outcome{}, errors.New("context is required")
	}

	if err := s.EnsureActive(ctx, campaignID); err != nil {
		return Outcome{}, err
	}

	change := update.ChatMember
	if change == nil {
		return Outcome{Action: ActionIgnored, Message: "Not a chat_member update"}, nil
	}
	if change.Status() != telegram.MemberStatusMember {
		return Outcome{Action: ActionIgnored, Message: "User did not join"}, nil
	}

	user := change.JoinedUser()
	if user == nil || user.ID == 0 {
		return Outcome{}, apperr.New(apperr.Invalid, "No telegram_id found")
	}
	telegramID := strconv.FormatInt(user.ID, 10)
	code := change.LinkName()

	log := logging.WithContext(s.logger, logging.Context{
		CampaignID: campaignID,
		TelegramID: telegramID,
	}).WithField("update_id", update.UpdateID)

	if s.claims != nil && update.UpdateID != 0 {
		claimed, claimErr := s.claims.Claim(ctx, campaignID, update.UpdateID)
		switch {
		case claimErr != nil:
			log.WithFields(logging.Fields{
				"event": "update_claim_failed",
				"error": claimErr.Error(),
			}).Warn("processing update without de-duplication")
		case !claimed:
			log.WithField("event", "update_duplicate").Info("skipping repeated delivery")
			return Outcome{Action: ActionDuplicate, Message: "Update already processed"}, nil
		default:
			defer func() {
				if err != nil {
					s.release(ctx, campaignID, update.UpdateID, log)
				}
			}()
		}
	}

	existing, err := s.leads.FindByTelegramID(ctx, campaignID, telegramID)
	switch {
	case err == nil:
		return s.rejoin(ctx, existing, log)
	case !errors.Is(err, domain.ErrNotFound):
		return Outcome{}, apperr.Wrap(apperr.Internal, "failed to load lead", err)
	}

	lead := domain.Lead{
		CampaignID: campaignID,
		TelegramID: telegramID,
		Username:   user.Username,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		GroupName:  change.ChatTitle(),
		EntryDate:  s.now(),
		Status:     domain.StatusMember,
	}

	if code != "" {
		link, linkErr := s.links.FindUsableByCode(ctx, campaignID, code)
		switch {
		case linkErr == nil:
			linkID := link.ID
			lead.InviteLinkID = &linkID
			lead.UTM = link.UTM
		case errors.Is(linkErr, domain.ErrNotFound):
			logging.WithContext(log, logging.Context{Code: code, Event: "invite_link_unknown"}).Info("join without a known invite link")
		default:
			return Outcome{}, apperr.Wrap(apperr.Internal, "failed to load invite link", linkErr)
		}
	}

	created, err := s.leads.Create(ctx, lead)
	if errors.Is(err, domain.ErrDuplicate) {
		// A concurrent delivery created the lead first.
		existing, findErr := s.leads.FindByTelegramID(ctx, campaignID, telegramID)
		if findErr != nil {
			return Outcome{}, apperr.Wrap(apperr.Internal, "failed to load lead", findErr)
		}
		return s.rejoin(ctx, existing, log)
	}
	if err != nil {
		return Outcome{}, apperr.Wrap(apperr.Internal, "failed to store lead", err)
	}

	logging.WithContext(log, logging.Context{Code: code, Event: "lead_created"}).WithFields(logging.Fields{
		"lead_id":    created.ID,
		"attributed": created.InviteLinkID != nil,
	}).Info("lead created")
	s.publish(ctx, events.TypeLeadCreated, created, log)

	return Outcome{Action: ActionCreated, LeadID: created.ID, Message: "Lead created successfully"}, nil
}

// EnsureActive reports apperr.NotFound unless the campaign and its bot exist
// and are active. The HTTP layer calls it before reading the delivery body.
func (s *Service) EnsureActive(ctx context.Context, campaignID string) error {
	if s == nil || s.campaigns == nil || s.bots == nil {
		return errors.New("member service is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	campaign, err := s.campaigns.Get(ctx, campaignID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return apperr.New(apperr.NotFound, "Campaign not found or inactive")
	case err != nil:
		return apperr.Wrap(apperr.Internal, "failed to load campaign", err)
	case !campaign.IsActive:
		return apperr.New(apperr.NotFound, "Campaign not found or inactive")
	}

	bot, err := s.bots.Get(ctx, campaign.TelegramBotID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return apperr.New(apperr.NotFound, "Bot not found or inactive")
	case err != nil:
		return apperr.Wrap(apperr.Internal, "failed to load bot", err)
	case !bot.IsActive:
		return apperr.New(apperr.NotFound, "Bot not found or inactive")
	}

	return nil
}

func (s *Service) rejoin(ctx context.Context, lead domain.Lead, log *logrus.Entry) (Outcome, error) {
	at := s.now()
	if err := s.leads.MarkRejoined(ctx, lead.ID, at); err != nil {
		return Outcome{}, apperr.Wrap(apperr.Internal, "failed to update lead", err)
	}
	lead.Status = domain.StatusMember
	lead.EntryDate = at

	log.WithFields(logging.Fields{
		"event":   "lead_rejoined",
		"lead_id": lead.ID,
	}).Info("existing lead updated")
	s.publish(ctx, events.TypeLeadRejoined, lead, log)

	return Outcome{Action: ActionRejoined, LeadID: lead.ID, Message: "Existing lead updated"}, nil
}

// publish is best effort; the lead is already committed.
func (s *Service) publish(ctx context.Context, eventType string, lead domain.Lead, log *logrus.Entry) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, events.NewLeadEvent(eventType, lead)); err != nil {
		log.WithFields(logging.Fields{
			"event":      "lead_publish_failed",
			"lead_id":    lead.ID,
			"event_type": eventType,
			"error":      err.Error(),
		}).Warn("failed to publish lead event")
	}
}

func (s *Service) release(ctx context.Context, campaignID string, updateID int64, log *logrus.Entry) {
	if err := s.claims.Release(context.WithoutCancel(ctx), campaignID, updateID); err != nil {
		log.WithFields(logging.Fields{
			"event": "update_release_failed",
			"error": err.Error(),
		}).Warn("failed to release update claim")
	}
}
