package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type findCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
}

type insertFindCollection interface {
	findCollection
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

type updateCollection interface {
	insertFindCollection
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

type documentCollection interface {
	updateCollection
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// Campaigns reads and creates campaigns.
type Campaigns interface {
	Get(ctx context.Context, id string) (Campaign, error)
	Create(ctx context.Context, campaign Campaign) (Campaign, error)
}

// Bots reads, creates and removes bots and records their webhook
// registration.
type Bots interface {
	Get(ctx context.Context, id string) (Bot, error)
	Create(ctx context.Context, bot Bot) (Bot, error)
	SetWebhookURL(ctx context.Context, id, url string) error
	Delete(ctx context.Context, id string) error
}

// InviteLinks persists captured clicks and resolves them by code.
type InviteLinks interface {
	Create(ctx context.Context, link InviteLink) (InviteLink, error)
	AttachURL(ctx context.Context, id, url string) error
	Delete(ctx context.Context, id string) error
	FindUsableByCode(ctx context.Context, campaignID, code string) (InviteLink, error)
}

// Leads persists joined users, one per campaign and Telegram ID.
type Leads interface {
	FindByTelegramID(ctx context.Context, campaignID, telegramID string) (Lead, error)
	Create(ctx context.Context, lead Lead) (Lead, error)
	MarkRejoined(ctx context.Context, id string, at time.Time) error
}

// Repositories bundles the storage backends used by the tracker.
type Repositories struct {
	Campaigns   Campaigns
	Bots        Bots
	InviteLinks InviteLinks
	Leads       Leads
}

// Now returns the current UTC time at the precision storage keeps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// NewID returns a fresh record identifier.
func NewID() string {
	return uuid.NewString()
}

func findOne(ctx context.Context, coll findCollection, filter bson.M, noun string, out interface{}) error {
	result := coll.FindOne(ctx, filter)
	if result == nil {
		return fmt.Errorf("find %s returned no result", noun)
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("find %s: %w", noun, ErrNotFound)
		}
		return fmt.Errorf("find %s: %w", noun, err)
	}
	if err := result.Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", noun, err)
	}

	return nil
}

func insertOne(ctx context.Context, coll insertFindCollection, document interface{}, noun string) error {
	if _, err := coll.InsertOne(ctx, document); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert %s: %w", noun, ErrDuplicate)
		}
		return fmt.Errorf("insert %s: %w", noun, err)
	}

	return nil
}

func updateOne(ctx context.Context, coll updateCollection, filter, update bson.M, noun string) error {
	result, err := coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("update %s: %w", noun, err)
	}
	if result == nil || result.MatchedCount == 0 {
		return fmt.Errorf("update %s: %w", noun, ErrNotFound)
	}

	return nil
}

func guard(ctx context.Context, initialized bool, noun string) error {
	if !initialized {
		return fmt.Errorf("%s repository is not initialized", noun)
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}

// CampaignRepository persists campaigns in MongoDB.
type CampaignRepository struct {
	collection insertFindCollection
}

// NewCampaignRepository constructs a CampaignRepository.
func NewCampaignRepository(collection insertFindCollection) *CampaignRepository {
	return &CampaignRepository{collection: collection}
}

// Get fetches a campaign by id.
func (r *CampaignRepository) Get(ctx context.Context, id string) (Campaign, error) {
	if err := guard(ctx, r != nil && r.collection != nil, "campaign"); err != nil {
		return Campaign{}, err
	}
	if id == "" {
		return Campaign{}, errors.New("campaign id is required")
	}

	var campaign Campaign
	if err := findOne(ctx, r.collection, bson.M{"_id": id}, "campaign", &campaign); err != nil {
		return Campaign{}, err
	}

	return campaign, nil
}

// Create inserts a campaign, assigning an id and timestamps when missing.
func (r *CampaignRepository) Create(ctx context.Context, campaign Campaign) (Campaign, error) {
	if err := guard(ctx, r != nil && r.collection != nil, "campaign"); err != nil {
		return Campaign{}, err
	}
	if campaign.TelegramBotID == "" {
		return Campaign{}, errors.New("telegram_bot_id is required")
	}
	if campaign.ID == "" {
		campaign.ID = NewID()
	}

	now := Now()
	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = now
	}
	campaign.UpdatedAt = now

	if err := insertOne(ctx, r.collection, campaign, "campaign"); err != nil {
		return Campaign{}, err
	}

	return campaign, nil
}

// BotRepository persists bots in MongoDB.
type BotRepository struct {
	collection documentCollection
}

// NewBotRepository constructs a BotRepository.
func NewBotRepository(collection documentCollection) *BotRepository {
	return &BotRepository{collection: collection}
}

// Get fetches a bot by id.
func (r *BotRepository) Get(ctx context.Context, id string) (Bot, error) {
	if err := guard(ctx, r != nil && r.collection != nil, "bot"); err != nil {
		return Bot{}, err
	}
	if id == "" {
		return Bot{}, errors.New("bot id is required")
	}

	var bot Bot
	if err := findOne(ctx, r.collection, bson.M{"_id": id}, "bot", &bot); err != nil {
		return Bot{}, err
	}

	return bot, nil
}

// Create inserts a bot, assigning an id and timestamps when missing.
func (r *BotRepository) Create(ctx context.Context, bot Bot) (Bot, error) {
	if err := guard(ctx, r != nil && r.collection != nil, "bot"); err != nil {
		return Bot{}, err
	}
	if bot.BotToken == "" {
		return Bot{}, errors.New("bot_token is required")
	}
	if bot.ChatID == "" {
		return Bot{}, errors.New("chat_id is required")
	}
	if bot.ID == "" {
		bot.ID = NewID()
	}

	now := Now()
	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = now
	}
	bot.UpdatedAt = now

	if err := insertOne(ctx, r.collection, bot, "bot"); err != nil {
		return Bot{}, err
	}

	return bot, nil
}

// SetWebhookURL records the registered webhook URL; an empty url clears it.
func (r *BotRepository) SetWebhookURL(ctx context.Context, id, url string) error {
	if err := guard(ctx, r != nil && r.collection != nil, "bot"); err != nil {
		return err
	}
	if id == "" {
		return errors.New("bot id is required")
	}

	update := bson.M{"$set": bson.M{"webhook_url": url, "updated_at": Now()}}
	return updateOne(ctx, r.collection, bson.M{"_id": id}, update, "bot webhook")
}

// Delete removes a bot by id. Missing bots are not an error.
func (r *BotRepository) Delete(ctx context.Context, id string) error {
	if err := guard(ctx, r != nil && r.collection != nil, "bot"); err != nil {
		return err
	}
	if id == "" {
		return errors.New("bot id is required")
	}

	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}

	return nil
}

// InviteLinkRepository persists captured clicks in MongoDB.
type InviteLinkRepository struct {
	collection documentCollection
}

// NewInviteLinkRepository constructs an InviteLinkRepository.
func NewInviteLinkRepository(collection documentCollection) *InviteLinkRepository {
	return &InviteLinkRepository{collection: collection}
}

// Create inserts a link without a Telegram URL. A code collision returns
// ErrDuplicate.
func (r *InviteLinkRepository) Create(ctx context.Context, link InviteLink) (InviteLink, error) {
	if err := guard(ctx, r != nil && r.collection != nil, "invite link"); err != nil {
		return InviteLink{}, err
	}
	if link.CampaignID == "" {
		return InviteLink{}, errors.New("campaign_id is required")
	}
	if link.Code == "" {
		return InviteLink{}, errors.New("code is required")
	}
	if link.ID == "" {
		link.ID = NewID()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = Now()
	}

	if err := insertOne(ctx, r.collection, link, "invite link"); err != nil {
		return InviteLink{}, err
	}

	return link, nil
}

// AttachURL stores the Telegram URL on a link that does not have one yet.
func (r *InviteLinkRepository) AttachURL(ctx context.Context, id, url string) error {
	if err := guard(ctx, r != nil && r.collection != nil, "invite link"); err != nil {
		return err
	}
	if id == "" || url == "" {
		return errors.New("invite link id and url are required")
	}

	filter := bson.M{"_id": id, "invite_link_url": ""}
	update := bson.M{"$set": bson.M{"invite_link_url": url}}
	return updateOne(ctx, r.collection, filter, update, "invite link url")
}

// Delete removes a link by id. Missing links are not an error.
func (r *InviteLinkRepository) Delete(ctx context.Context, id string) error {
	if err := guard(ctx, r != nil && r.collection != nil, "invite link"); err != nil {
		return err
	}
	if id == "" {
		return errors.New("invite link id is required")
	}

	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete invite link: %w", err)
	}

	return nil
}

// FindUsableByCode resolves a code within a campaign, ignoring links that
// never received a Telegram URL.
func (r *InviteLinkRepository) FindUsableByCode(ctx context.Context, campaignID, code string) (InviteLink, error) {
	if err := guard(ctx, r != nil && r.collection != nil, "invite link"); err != nil {
		return InviteLink{}, err
	}
	if campaignID == "" || code == "" {
		return InviteLink{}, fmt.Errorf("find invite link: %w", ErrNotFound)
	}

	filter := bson.M{
		"campaign_id":     campaignID,
		"code":            code,
		"invite_link_url": bson.M{"$ne": ""},
	}

	var link InviteLink
	if err := findOne(ctx, r.collection, filter, "invite link", &link); err != nil {
		return InviteLink{}, err
	}

	return link, nil
}

// LeadRepository persists leads in MongoDB.
type LeadRepository struct {
	collection updateCollection
}

// NewLeadRepository constructs a LeadRepository.
func NewLeadRepository(collection updateCollection) *LeadRepository {
	return &LeadRepository{collection: collection}
}

// FindByTelegramID fetches the lead for a Telegram user within a campaign.
func (r *LeadRepository) FindByTelegramID(ctx context.Context, campaignID, telegramID string) (Lead, error) {
	if err := guard(ctx, r != nil && r.collection != nil, "lead"); err != nil {
		return Lead{}, err
	}
	if campaignID == "" || telegramID == "" {
		return Lead{}, errors.New("campaign_id and telegram_id are required")
	}

	var lead Lead
	filter := bson.M{"campaign_id": campaignID, "telegram_id": telegramID}
	if err := findOne(ctx, r.collection, filter, "lead", &lead); err != nil {
		return Lead{}, err
	}

	return lead, nil
}

// Create inserts a lead. A second lead for the same campaign and Telegram ID
// returns ErrDuplicate.
func (r *LeadRepository) Create(ctx context.Context, lead Lead) (Lead, error) {
	if err := guard(ctx, r != nil && r.collection != nil, "lead"); err != nil {
		return Lead{}, err
	}
	if lead.CampaignID == "" || lead.TelegramID == "" {
		return Lead{}, errors.New("campaign_id and telegram_id are required")
	}
	if lead.ID == "" {
		lead.ID = NewID()
	}
	if lead.Status == "" {
		lead.Status = StatusMember
	}

	now := Now()
	if lead.EntryDate.IsZero() {
		lead.EntryDate = now
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now

	if err := insertOne(ctx, r.collection, lead, "lead"); err != nil {
		return Lead{}, err
	}

	return lead, nil
}

// MarkRejoined resets a lead to member status with a new entry date. UTM
// attribution and the invite link reference are left untouched.
func (r *LeadRepository) MarkRejoined(ctx context.Context, id string, at time.Time) error {
	if err := guard(ctx, r != nil && r.collection != nil, "lead"); err != nil {
		return err
	}
	if id == "" {
		return errors.New("lead id is required")
	}
	if at.IsZero() {
		at = Now()
	}

	update := bson.M{"$set": bson.M{
		"status":     StatusMember,
		"entry_date": at,
		"updated_at": Now(),
	}}
	return updateOne(ctx, r.collection, bson.M{"_id": id}, update, "lead")
}
