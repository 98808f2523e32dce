package sentiment

import (
	"context"
	"fmt"

	"github.com/zulandar/toxbot/internal/models"
	"gorm.io/gorm"
)

// Totals are table-wide row counts. They carry no per-user data.
type Totals struct {
	Sentiments     int64 `json:"sentiments"`
	ScoredUsers    int64 `json:"scored_users"`
	AlignmentUsers int64 `json:"alignment_users"`
	OptOuts        int64 `json:"opt_outs"`
}

// CountTotals counts stored sentiments, scored users, alignment users and
// active opt-outs.
func CountTotals(ctx context.Context, db *gorm.DB) (Totals, error) {
	var t Totals
	db = db.WithContext(ctx)
	counts := []struct {
		name  string
		query *gorm.DB
		dst   *int64
	}{
		{"sentiments", db.Model(&models.UserSentiment{}), &t.Sentiments},
		{"scores", db.Model(&models.UserSentimentScore{}), &t.ScoredUsers},
		{"alignments", db.Model(&models.UserAlignmentScore{}), &t.AlignmentUsers},
		{"opt-outs", db.Model(&models.UserOptOut{}).Where("is_opted_out = ?", true), &t.OptOuts},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dst).Error; err != nil {
			return Totals{}, fmt.Errorf("sentiment: count %s: %w", c.name, err)
		}
	}
	return t, nil
}
