// Package sqlstore is the relational storage backend built on gorm. It serves
// sqlite for local runs and tests, and postgres for deployments without Mongo.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tg_utm_tracker/internal/config"
	"tg_utm_tracker/internal/domain"
)

// Store owns the gorm handle.
type Store struct {
	db *gorm.DB
}

// dialectorFor is overridable for tests.
var dialectorFor = func(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case config.DriverSQLite:
		return sqlite.Open(dsn), nil
	case config.DriverPostgres:
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
}

// Open connects to the configured SQL database.
func Open(driver, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database url is required")
	}

	dialector, err := dialectorFor(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	return &Store{db: db}, nil
}

// Migrate creates or updates the tracker tables and their unique indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if s == nil || s.db == nil {
		return errors.New("sql store is not initialized")
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&domain.Campaign{},
		&domain.Bot{},
		&domain.InviteLink{},
		&domain.Lead{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	return nil
}

// Repositories builds the gorm-backed repositories.
func (s *Store) Repositories() domain.Repositories {
	return domain.Repositories{
		Campaigns:   &CampaignRepository{db: s.db},
		Bots:        &BotRepository{db: s.db},
		InviteLinks: &InviteLinkRepository{db: s.db},
		Leads:       &LeadRepository{db: s.db},
	}
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if s == nil || s.db == nil {
		return errors.New("sql store is not initialized")
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	return nil
}

// Counts returns the number of rows in each tracker table.
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if s == nil || s.db == nil {
		return nil, errors.New("sql store is not initialized")
	}

	tables := []string{
		domain.Campaign{}.TableName(),
		domain.Bot{}.TableName(),
		domain.InviteLink{}.TableName(),
		domain.Lead{}.TableName(),
	}

	counts := make(map[string]int64, len(tables))
	for _, table := range tables {
		var count int64
		if err := s.db.WithContext(ctx).Table(table).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = count
	}

	return counts, nil
}

// DeleteCampaign removes a campaign together with its invite links and leads
// in one transaction.
func (s *Store) DeleteCampaign(ctx context.Context, campaignID string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if s == nil || s.db == nil {
		return errors.New("sql store is not initialized")
	}
	if campaignID == "" {
		return errors.New("campaign id is required")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("campaign_id = ?", campaignID).Delete(&domain.Lead{}).Error; err != nil {
			return fmt.Errorf("delete leads: %w", err)
		}
		if err := tx.Where("campaign_id = ?", campaignID).Delete(&domain.InviteLink{}).Error; err != nil {
			return fmt.Errorf("delete invite links: %w", err)
		}

		result := tx.Where("id = ?", campaignID).Delete(&domain.Campaign{})
		if result.Error != nil {
			return fmt.Errorf("delete campaign: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("delete campaign: %w", domain.ErrNotFound)
		}
		return nil
	})
}

// Close releases the underlying connection pool.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}

	return sqlDB.Close()
}

// translate maps gorm failures onto the domain sentinels. Drivers that do not
// translate unique violations are caught by their message text.
func translate(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, domain.ErrDuplicate)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
