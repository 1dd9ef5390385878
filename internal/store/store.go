// Package store encapsulates MongoDB client management and collection helpers.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"tg_utm_tracker/internal/config"
	"tg_utm_tracker/internal/domain"
)

// Collection names used by the tracker.
const (
	CollectionCampaigns   = "campaigns"
	CollectionBots        = "telegram_bots"
	CollectionInviteLinks = "invite_links"
	CollectionLeads       = "telegram_leads"
)

// mongoClient captures the subset of mongo.Client behavior we rely on to allow
// lightweight stubbing in tests without a live Mongo deployment.
type mongoClient interface {
	Ping(context.Context, *readpref.ReadPref) error
	Database(string, ...*options.DatabaseOptions) *mongo.Database
	Disconnect(context.Context) error
}

// connectMongo is overridable for tests.
var connectMongo = func(ctx context.Context, opts *options.ClientOptions) (mongoClient, error) {
	return mongo.Connect(ctx, opts)
}

// createIndexes is overridable for tests.
var createIndexes = func(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) ([]string, error) {
	return coll.Indexes().CreateMany(ctx, models)
}

// Manager owns a MongoDB client and the configured database handle.
type Manager struct {
	client mongoClient
	db     *mongo.Database
}

// NewManager initializes the Mongo client using the supplied configuration and
// verifies connectivity with a ping.
func NewManager(ctx context.Context, cfg config.Config) (*Manager, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	client, err := connectMongo(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Manager{
		client: client,
		db:     client.Database(cfg.MongoDB),
	}, nil
}

// Database returns the configured database handle.
func (m *Manager) Database() *mongo.Database {
	return m.db
}

// Collection returns a collection handle for the given name.
func (m *Manager) Collection(name string) *mongo.Collection {
	return m.db.Collection(name)
}

// Campaigns returns the campaigns collection handle.
func (m *Manager) Campaigns() *mongo.Collection {
	return m.Collection(CollectionCampaigns)
}

// Bots returns the telegram_bots collection handle.
func (m *Manager) Bots() *mongo.Collection {
	return m.Collection(CollectionBots)
}

// InviteLinks returns the invite_links collection handle.
func (m *Manager) InviteLinks() *mongo.Collection {
	return m.Collection(CollectionInviteLinks)
}

// Leads returns the telegram_leads collection handle.
func (m *Manager) Leads() *mongo.Collection {
	return m.Collection(CollectionLeads)
}

// Repositories builds the Mongo-backed repositories.
func (m *Manager) Repositories() domain.Repositories {
	return domain.Repositories{
		Campaigns:   domain.NewCampaignRepository(m.Campaigns()),
		Bots:        domain.NewBotRepository(m.Bots()),
		InviteLinks: domain.NewInviteLinkRepository(m.InviteLinks()),
		Leads:       domain.NewLeadRepository(m.Leads()),
	}
}

// Stats returns a StatsProvider over every tracker collection.
func (m *Manager) Stats() *StatsProvider {
	return NewStatsProvider(map[string]countCollection{
		CollectionCampaigns:   m.Campaigns(),
		CollectionBots:        m.Bots(),
		CollectionInviteLinks: m.InviteLinks(),
		CollectionLeads:       m.Leads(),
	})
}

// Counts reports document counts for every tracker collection.
func (m *Manager) Counts(ctx context.Context) (map[string]int64, error) {
	if m == nil || m.db == nil {
		return nil, errors.New("store manager is not initialized")
	}
	return m.Stats().Counts(ctx)
}

// Ping verifies the primary is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.client == nil {
		return errors.New("store manager is not initialized")
	}

	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}

	return nil
}

// EnsureIndexes creates the unique and lookup indexes the tracker relies on.
// Collections are created implicitly if they do not already exist.
func (m *Manager) EnsureIndexes(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.db == nil {
		return errors.New("store manager is not initialized")
	}

	specs := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{
			coll: m.Campaigns(),
			models: []mongo.IndexModel{
				{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetName("user_id")},
			},
		},
		{
			coll: m.Bots(),
			models: []mongo.IndexModel{
				{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetName("user_id")},
			},
		},
		{
			coll: m.InviteLinks(),
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "code", Value: 1}},
					Options: options.Index().SetName("code_unique").SetUnique(true),
				},
				{Keys: bson.D{{Key: "campaign_id", Value: 1}}, Options: options.Index().SetName("campaign_id")},
			},
		},
		{
			coll: m.Leads(),
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "campaign_id", Value: 1}, {Key: "telegram_id", Value: 1}},
					Options: options.Index().SetName("campaign_telegram_unique").SetUnique(true),
				},
				{Keys: bson.D{{Key: "telegram_id", Value: 1}}, Options: options.Index().SetName("telegram_id")},
			},
		},
	}

	for _, spec := range specs {
		if _, err := createIndexes(ctx, spec.coll, spec.models); err != nil {
			return fmt.Errorf("create %s indexes: %w", spec.coll.Name(), err)
		}
	}

	return nil
}

// DeleteCampaign removes a campaign together with its invite links and leads.
func (m *Manager) DeleteCampaign(ctx context.Context, campaignID string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.db == nil {
		return errors.New("store manager is not initialized")
	}

	return cascadeDelete(ctx, campaignID, m.Campaigns(), m.InviteLinks(), m.Leads())
}

type deleteOneCollection interface {
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

type deleteManyCollection interface {
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// cascadeDelete clears children before the parent so a failure never leaves
// orphans behind a deleted campaign.
func cascadeDelete(ctx context.Context, campaignID string, campaigns deleteOneCollection, children ...deleteManyCollection) error {
	if campaignID == "" {
		return errors.New("campaign id is required")
	}

	for _, child := range children {
		if _, err := child.DeleteMany(ctx, bson.M{"campaign_id": campaignID}); err != nil {
			return fmt.Errorf("delete campaign children: %w", err)
		}
	}

	result, err := campaigns.DeleteOne(ctx, bson.M{"_id": campaignID})
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if result == nil || result.DeletedCount == 0 {
		return fmt.Errorf("delete campaign: %w", domain.ErrNotFound)
	}

	return nil
}

// Close disconnects the Mongo client.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return m.client.Disconnect(ctx)
}
