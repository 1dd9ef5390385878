package domain

import (
	"net/url"
	"time"
)

// UTM carries the five campaign tagging parameters. Absent parameters are
// stored as empty strings; absent and blank are indistinguishable.
type UTM struct {
	Source   string `bson:"utm_source" json:"utm_source" gorm:"column:utm_source;size:255"`
	Medium   string `bson:"utm_medium" json:"utm_medium" gorm:"column:utm_medium;size:255"`
	Campaign string `bson:"utm_campaign" json:"utm_campaign" gorm:"column:utm_campaign;size:255"`
	Content  string `bson:"utm_content" json:"utm_content" gorm:"column:utm_content;size:255"`
	Term     string `bson:"utm_term" json:"utm_term" gorm:"column:utm_term;size:255"`
}

// UTMFromQuery reads the utm_* parameters from a query string.
func UTMFromQuery(values url.Values) UTM {
	return UTM{
		Source:   values.Get("utm_source"),
		Medium:   values.Get("utm_medium"),
		Campaign: values.Get("utm_campaign"),
		Content:  values.Get("utm_content"),
		Term:     values.Get("utm_term"),
	}
}

// InviteLink records one click: the generated code used as the Telegram
// invite link name and the UTM payload captured with it.
type InviteLink struct {
	ID            string    `bson:"_id" json:"id" gorm:"primaryKey;size:36"`
	CampaignID    string    `bson:"campaign_id" json:"campaign_id" gorm:"size:36;index;not null"`
	Code          string    `bson:"code" json:"code" gorm:"size:100;uniqueIndex;not null"`
	UTM           `bson:",inline" gorm:"embedded"`
	InviteLinkURL string    `bson:"invite_link_url" json:"invite_link_url" gorm:"size:500"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
}

// TableName pins the SQL table name.
func (InviteLink) TableName() string { return "invite_links" }

// Usable reports whether the gateway minted a Telegram URL for this link.
func (l InviteLink) Usable() bool {
	return l.InviteLinkURL != ""
}
