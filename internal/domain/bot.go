package domain

import "time"

// Chat types reported by getChat.
const (
	ChatTypeChannel    = "channel"
	ChatTypeGroup      = "group"
	ChatTypeSupergroup = "supergroup"
)

// Bot is a Telegram bot credential bound to the channel or group it manages.
// The token is never serialized to JSON.
type Bot struct {
	ID          string    `bson:"_id" json:"id" gorm:"primaryKey;size:36"`
	UserID      string    `bson:"user_id" json:"user_id" gorm:"size:36;index;not null"`
	BotToken    string    `bson:"bot_token" json:"-" gorm:"size:255;not null"`
	BotUsername string    `bson:"bot_username" json:"bot_username" gorm:"size:255"`
	ChatID      string    `bson:"chat_id" json:"chat_id" gorm:"size:255;not null"`
	ChatName    string    `bson:"chat_name" json:"chat_name" gorm:"size:255"`
	ChatType    string    `bson:"chat_type" json:"chat_type" gorm:"size:50"`
	IsPrivate   bool      `bson:"is_private" json:"is_private"`
	WebhookURL  string    `bson:"webhook_url" json:"webhook_url" gorm:"size:500"`
	IsActive    bool      `bson:"is_active" json:"is_active"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"`
}

// TableName pins the SQL table name.
func (Bot) TableName() string { return "telegram_bots" }
