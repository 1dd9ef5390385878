package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"tg_utm_tracker/internal/domain"
)

// CampaignRepository persists campaigns in SQL.
type CampaignRepository struct {
	db *gorm.DB
}

// Get fetches a campaign by id.
func (r *CampaignRepository) Get(ctx context.Context, id string) (domain.Campaign, error) {
	var campaign domain.Campaign
	err := r.db.WithContext(ctx).First(&campaign, "id = ?", id).Error
	return campaign, translate(err, "find campaign")
}

// Create inserts a campaign, assigning an id and timestamps when missing.
func (r *CampaignRepository) Create(ctx context.Context, campaign domain.Campaign) (domain.Campaign, error) {
	if campaign.TelegramBotID == "" {
		return domain.Campaign{}, errors.New("telegram_bot_id is required")
	}
	if campaign.ID == "" {
		campaign.ID = domain.NewID()
	}

	now := domain.Now()
	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = now
	}
	campaign.UpdatedAt = now

	if err := r.db.WithContext(ctx).Create(&campaign).Error; err != nil {
		return domain.Campaign{}, translate(err, "insert campaign")
	}

	return campaign, nil
}

// BotRepository persists bots in SQL.
type BotRepository struct {
	db *gorm.DB
}

// Get fetches a bot by id.
func (r *BotRepository) Get(ctx context.Context, id string) (domain.Bot, error) {
	var bot domain.Bot
	err := r.db.WithContext(ctx).First(&bot, "id = ?", id).Error
	return bot, translate(err, "find bot")
}

// Create inserts a bot, assigning an id and timestamps when missing.
func (r *BotRepository) Create(ctx context.Context, bot domain.Bot) (domain.Bot, error) {
	if bot.BotToken == "" || bot.ChatID == "" {
		return domain.Bot{}, errors.New("bot_token and chat_id are required")
	}
	if bot.ID == "" {
		bot.ID = domain.NewID()
	}

	now := domain.Now()
	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = now
	}
	bot.UpdatedAt = now

	if err := r.db.WithContext(ctx).Create(&bot).Error; err != nil {
		return domain.Bot{}, translate(err, "insert bot")
	}

	return bot, nil
}

// SetWebhookURL records the registered webhook URL; an empty url clears it.
func (r *BotRepository) SetWebhookURL(ctx context.Context, id, url string) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Bot{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"webhook_url": url, "updated_at": domain.Now()})
	if result.Error != nil {
		return translate(result.Error, "update bot webhook")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("update bot webhook: %w", domain.ErrNotFound)
	}

	return nil
}

// Delete removes a bot by id. Missing bots are not an error.
func (r *BotRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Bot{}).Error
	return translate(err, "delete bot")
}

// InviteLinkRepository persists captured clicks in SQL.
type InviteLinkRepository struct {
	db *gorm.DB
}

// Create inserts a link without a Telegram URL. A code collision returns
// domain.ErrDuplicate.
func (r *InviteLinkRepository) Create(ctx context.Context, link domain.InviteLink) (domain.InviteLink, error) {
	if link.CampaignID == "" || link.Code == "" {
		return domain.InviteLink{}, errors.New("campaign_id and code are required")
	}
	if link.ID == "" {
		link.ID = domain.NewID()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = domain.Now()
	}

	if err := r.db.WithContext(ctx).Create(&link).Error; err != nil {
		return domain.InviteLink{}, translate(err, "insert invite link")
	}

	return link, nil
}

// AttachURL stores the Telegram URL on a link that does not have one yet.
func (r *InviteLinkRepository) AttachURL(ctx context.Context, id, url string) error {
	if id == "" || url == "" {
		return errors.New("invite link id and url are required")
	}

	result := r.db.WithContext(ctx).
		Model(&domain.InviteLink{}).
		Where("id = ? AND invite_link_url = ?", id, "").
		Update("invite_link_url", url)
	if result.Error != nil {
		return translate(result.Error, "update invite link url")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("update invite link url: %w", domain.ErrNotFound)
	}

	return nil
}

// Delete removes a link by id. Missing links are not an error.
func (r *InviteLinkRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.InviteLink{}).Error
	return translate(err, "delete invite link")
}

// FindUsableByCode resolves a code within a campaign, ignoring links that
// never received a Telegram URL.
func (r *InviteLinkRepository) FindUsableByCode(ctx context.Context, campaignID, code string) (domain.InviteLink, error) {
	var link domain.InviteLink
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND code = ? AND invite_link_url <> ?", campaignID, code, "").
		First(&link).Error
	return link, translate(err, "find invite link")
}

// LeadRepository persists leads in SQL.
type LeadRepository struct {
	db *gorm.DB
}

// FindByTelegramID fetches the lead for a Telegram user within a campaign.
func (r *LeadRepository) FindByTelegramID(ctx context.Context, campaignID, telegramID string) (domain.Lead, error) {
	var lead domain.Lead
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND telegram_id = ?", campaignID, telegramID).
		First(&lead).Error
	return lead, translate(err, "find lead")
}

// Create inserts a lead. A second lead for the same campaign and Telegram ID
// returns domain.ErrDuplicate.
func (r *LeadRepository) Create(ctx context.Context, lead domain.Lead) (domain.Lead, error) {
	if lead.CampaignID == "" || lead.TelegramID == "" {
		return domain.Lead{}, errors.New("campaign_id and telegram_id are required")
	}
	if lead.ID == "" {
		lead.ID = domain.NewID()
	}
	if lead.Status == "" {
		lead.Status = domain.StatusMember
	}

	now := domain.Now()
	if lead.EntryDate.IsZero() {
		lead.EntryDate = now
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now

	if err := r.db.WithContext(ctx).Create(&lead).Error; err != nil {
		return domain.Lead{}, translate(err, "insert lead")
	}

	return lead, nil
}

// MarkRejoined resets a lead to member status with a new entry date. UTM
// attribution and the invite link reference are left untouched.
func (r *LeadRepository) MarkRejoined(ctx context.Context, id string, at time.Time) error {
	if at.IsZero() {
		at = domain.Now()
	}

	result := r.db.WithContext(ctx).
		Model(&domain.Lead{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     domain.StatusMember,
			"entry_date": at,
			"updated_at": domain.Now(),
		})
	if result.Error != nil {
		return translate(result.Error, "update lead")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("update lead: %w", domain.ErrNotFound)
	}

	return nil
}
