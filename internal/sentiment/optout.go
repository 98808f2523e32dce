package sentiment

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/toxbot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SetOptOut records the user's preference. Opting out also deletes every
// stored sentiment row and score for the user.
func SetOptOut(ctx context.Context, db *gorm.DB, userID string, out bool, now time.Time) error {
	if userID == "" {
		return fmt.Errorf("sentiment: opt-out: user id is required")
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pref := models.UserOptOut{UserID: userID, IsOptedOut: out, LastChangedAt: now.UTC()}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_opted_out", "last_changed_at"}),
		}).Create(&pref).Error; err != nil {
			return err
		}
		if !out {
			return nil
		}
		for _, m := range []any{&models.UserSentiment{}, &models.UserSentimentScore{}, &models.UserAlignmentScore{}} {
			if err := tx.Where("user_id = ?", userID).Delete(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sentiment: opt-out %s: %w", userID, err)
	}
	return nil
}

// IsOptedOut reports whether userID has opted out. Users with no record are
// opted in.
func IsOptedOut(ctx context.Context, db *gorm.DB, userID string) (bool, error) {
	var prefs []models.UserOptOut
	if err := db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&prefs).Error; err != nil {
		return false, fmt.Errorf("sentiment: check opt-out %s: %w", userID, err)
	}
	return len(prefs) > 0 && prefs[0].IsOptedOut, nil
}
