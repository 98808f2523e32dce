package sentiment

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/toxbot/internal/models"
	"gorm.io/gorm"
)

// Purge deletes sentiment rows created before now-retention and returns the
// number removed. Aggregated scores are kept.
func Purge(ctx context.Context, db *gorm.DB, now time.Time, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("sentiment: purge: retention must be positive")
	}
	cutoff := now.UTC().Add(-retention)
	result := db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.UserSentiment{})
	if result.Error != nil {
		return 0, fmt.Errorf("sentiment: purge: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		log.Info().Int64("deleted", result.RowsAffected).Time("cutoff", cutoff).Msg("sentiment: purged old messages")
	}
	return result.RowsAffected, nil
}
