package models

import "time"

// UserSentiment is one classified guild message.
type UserSentiment struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	UserID         string    `gorm:"size:64;not null;index:idx_sentiment_user_guild,priority:1"`
	GuildID        string    `gorm:"size:64;not null;index:idx_sentiment_user_guild,priority:2"`
	MessageID      string    `gorm:"size:64;not null"`
	MessageContent string    `gorm:"type:text"`
	Username       string    `gorm:"size:128"`
	GuildName      string    `gorm:"size:128"`
	ChannelName    string    `gorm:"size:128"`
	IsToxic        bool      `gorm:"default:false"`
	Alignment      int       `gorm:"default:5"`
	IsSummarized   bool      `gorm:"default:false;index"`
	CreatedAt      time.Time `gorm:"not null;index"`
}

// UserSentimentScore aggregates toxicity per user and guild.
type UserSentimentScore struct {
	UserID             string  `gorm:"primaryKey;size:64"`
	GuildID            string  `gorm:"primaryKey;size:64"`
	Username           string  `gorm:"size:128"`
	GuildName          string  `gorm:"size:128"`
	TotalMessages      int     `gorm:"default:0"`
	ToxicMessages      int     `gorm:"default:0"`
	NonToxicMessages   int     `gorm:"default:0"`
	ToxicityPercentage float64 `gorm:"default:0"`
	SummarizedAt       time.Time
}

// UserAlignmentScore counts classified messages per alignment for a user in
// a guild.
type UserAlignmentScore struct {
	UserID            string `gorm:"primaryKey;size:64"`
	GuildID           string `gorm:"primaryKey;size:64"`
	Username          string `gorm:"size:128"`
	LawfulGood        int    `gorm:"default:0"`
	NeutralGood       int    `gorm:"default:0"`
	ChaoticGood       int    `gorm:"default:0"`
	LawfulNeutral     int    `gorm:"default:0"`
	TrueNeutral       int    `gorm:"default:0"`
	ChaoticNeutral    int    `gorm:"default:0"`
	LawfulEvil        int    `gorm:"default:0"`
	NeutralEvil       int    `gorm:"default:0"`
	ChaoticEvil       int    `gorm:"default:0"`
	DominantAlignment int    `gorm:"default:5"`
	SummarizedAt      time.Time
}

// UserOptOut records whether a user has opted out of sentiment tracking.
type UserOptOut struct {
	UserID        string `gorm:"primaryKey;size:64"`
	IsOptedOut    bool   `gorm:"default:false"`
	LastChangedAt time.Time
}
