package domain

import "time"

// Campaign groups the invite links and leads produced for one marketing effort
// and binds them to the Telegram bot that mints the links.
type Campaign struct {
	ID                string    `bson:"_id" json:"id" gorm:"primaryKey;size:36"`
	UserID            string    `bson:"user_id" json:"user_id" gorm:"size:36;index;not null"`
	TelegramBotID     string    `bson:"telegram_bot_id" json:"telegram_bot_id" gorm:"size:36;not null"`
	Name              string    `bson:"name" json:"name" gorm:"size:255;not null"`
	Description       string    `bson:"description" json:"description"`
	CaptureWebhookURL string    `bson:"capture_webhook_url" json:"capture_webhook_url" gorm:"size:500"`
	MemberWebhookURL  string    `bson:"member_webhook_url" json:"member_webhook_url" gorm:"size:500"`
	IsActive          bool      `bson:"is_active" json:"is_active"`
	CreatedAt         time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at" json:"updated_at"`
}

// TableName pins the SQL table name.
func (Campaign) TableName() string { return "campaigns" }
