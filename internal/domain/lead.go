package domain

import "time"

// Lead statuses. Only StatusMember is produced by join handling.
const (
	StatusMember = "member"
	StatusLeft   = "left"
	StatusBanned = "banned"
)

// Lead is one Telegram user that joined one campaign's chat. UTM values are
// copied from the matching invite link when the lead is created and never
// rewritten afterwards.
type Lead struct {
	ID           string    `bson:"_id" json:"id" gorm:"primaryKey;size:36"`
	CampaignID   string    `bson:"campaign_id" json:"campaign_id" gorm:"size:36;not null;uniqueIndex:unique_campaign_telegram_id,priority:1"`
	InviteLinkID *string   `bson:"invite_link_id" json:"invite_link_id" gorm:"size:36"`
	TelegramID   string    `bson:"telegram_id" json:"telegram_id" gorm:"size:50;not null;index;uniqueIndex:unique_campaign_telegram_id,priority:2"`
	Username     string    `bson:"username" json:"username" gorm:"size:255"`
	FirstName    string    `bson:"first_name" json:"first_name" gorm:"size:255"`
	LastName     string    `bson:"last_name" json:"last_name" gorm:"size:255"`
	GroupName    string    `bson:"group_name" json:"group_name" gorm:"size:255"`
	EntryDate    time.Time `bson:"entry_date" json:"entry_date"`
	UTM          `bson:",inline" gorm:"embedded"`
	Status       string    `bson:"status" json:"status" gorm:"size:50;default:member"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

// TableName pins the SQL table name.
func (Lead) TableName() string { return "telegram_leads" }
