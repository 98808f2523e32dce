package models

import "time"

// FeedbackBridge links one user to one admin for private feedback relay.
// A bridge is active while ExpiresAt is after the current time; activity is
// never stored, it is always derived.
type FeedbackBridge struct {
	ID                    uint      `gorm:"primaryKey;autoIncrement"`
	UserID                string    `gorm:"size:64;not null;index:idx_bridge_user_expires,priority:1"`
	AdminID               string    `gorm:"size:64;not null;index:idx_bridge_admin_message,priority:1"`
	AdminEmbedMessageID   string    `gorm:"size:64;not null;index:idx_bridge_admin_message,priority:2"`
	LatestFeedbackContent string    `gorm:"type:text"`
	CreatedAt             time.Time `gorm:"not null"`
	ExpiresAt             time.Time `gorm:"not null;index:idx_bridge_user_expires,priority:2;index:idx_bridge_expires"`
	LastMessageAt         *time.Time
}

// IsActive reports whether the bridge has not yet expired at now.
func (b FeedbackBridge) IsActive(now time.Time) bool {
	return b.ExpiresAt.After(now)
}
