package sentiment

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/toxbot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const markBatchSize = 500

// SummaryResult reports what one Summarize pass folded in.
type SummaryResult struct {
	Messages int // sentiment rows marked summarized
	Users    int // (user, guild) pairs updated
}

type pairKey struct{ userID, guildID string }

type pairBatch struct {
	rows   []models.UserSentiment
	latest models.UserSentiment
}

// Summarize folds every unsummarized UserSentiment row into the per-user,
// per-guild score tables and marks the rows summarized, all in one
// transaction.
func Summarize(ctx context.Context, db *gorm.DB, now time.Time) (SummaryResult, error) {
	var result SummaryResult
	now = now.UTC()

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending []models.UserSentiment
		if err := tx.Where("is_summarized = ?", false).Order("id").Find(&pending).Error; err != nil {
			return fmt.Errorf("load pending: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		batches := make(map[pairKey]*pairBatch)
		var order []pairKey
		ids := make([]uint, 0, len(pending))
		for _, row := range pending {
			k := pairKey{row.UserID, row.GuildID}
			b, ok := batches[k]
			if !ok {
				b = &pairBatch{}
				batches[k] = b
				order = append(order, k)
			}
			b.rows = append(b.rows, row)
			b.latest = row
			ids = append(ids, row.ID)
		}

		for _, k := range order {
			b := batches[k]
			if err := foldScore(tx, k, b, now); err != nil {
				return err
			}
			if err := foldAlignment(tx, k, b, now); err != nil {
				return err
			}
		}

		for start := 0; start < len(ids); start += markBatchSize {
			end := min(start+markBatchSize, len(ids))
			if err := tx.Model(&models.UserSentiment{}).
				Where("id IN ?", ids[start:end]).
				Update("is_summarized", true).Error; err != nil {
				return fmt.Errorf("mark summarized: %w", err)
			}
		}

		result = SummaryResult{Messages: len(ids), Users: len(order)}
		return nil
	})
	if err != nil {
		return SummaryResult{}, fmt.Errorf("sentiment: summarize: %w", err)
	}

	if result.Messages > 0 {
		log.Info().Int("messages", result.Messages).Int("users", result.Users).Msg("sentiment: summarized")
	}
	return result, nil
}

func foldScore(tx *gorm.DB, k pairKey, b *pairBatch, now time.Time) error {
	var existing []models.UserSentimentScore
	if err := tx.Where("user_id = ? AND guild_id = ?", k.userID, k.guildID).
		Limit(1).Find(&existing).Error; err != nil {
		return fmt.Errorf("load score %s/%s: %w", k.userID, k.guildID, err)
	}
	score := models.UserSentimentScore{UserID: k.userID, GuildID: k.guildID}
	if len(existing) > 0 {
		score = existing[0]
	}

	for _, row := range b.rows {
		score.TotalMessages++
		if row.IsToxic {
			score.ToxicMessages++
		} else {
			score.NonToxicMessages++
		}
	}
	score.ToxicityPercentage = ToxicityPercentage(score.ToxicMessages, score.TotalMessages)
	if b.latest.Username != "" {
		score.Username = b.latest.Username
	}
	if b.latest.GuildName != "" {
		score.GuildName = b.latest.GuildName
	}
	score.SummarizedAt = now

	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "guild_id"}},
		UpdateAll: true,
	}).Create(&score).Error; err != nil {
		return fmt.Errorf("save score %s/%s: %w", k.userID, k.guildID, err)
	}
	return nil
}

func foldAlignment(tx *gorm.DB, k pairKey, b *pairBatch, now time.Time) error {
	var existing []models.UserAlignmentScore
	if err := tx.Where("user_id = ? AND guild_id = ?", k.userID, k.guildID).
		Limit(1).Find(&existing).Error; err != nil {
		return fmt.Errorf("load alignment %s/%s: %w", k.userID, k.guildID, err)
	}
	score := models.UserAlignmentScore{UserID: k.userID, GuildID: k.guildID}
	if len(existing) > 0 {
		score = existing[0]
	}

	for _, row := range b.rows {
		if n := alignmentCounter(&score, Alignment(row.Alignment)); n != nil {
			*n++
		}
	}
	score.DominantAlignment = int(DominantAlignment(&score))
	if b.latest.Username != "" {
		score.Username = b.latest.Username
	}
	score.SummarizedAt = now

	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "guild_id"}},
		UpdateAll: true,
	}).Create(&score).Error; err != nil {
		return fmt.Errorf("save alignment %s/%s: %w", k.userID, k.guildID, err)
	}
	return nil
}

// ToxicityPercentage returns toxic/total as a percentage, 0 when total is 0.
func ToxicityPercentage(toxic, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(toxic) / float64(total) * 100
}

// DominantAlignment returns the alignment with the highest count. Ties go to
// the better alignment; an empty score is TrueNeutral.
func DominantAlignment(s *models.UserAlignmentScore) Alignment {
	best, bestCount := TrueNeutral, 0
	for _, a := range AllAlignments() {
		if n := *alignmentCounter(s, a); n > bestCount {
			best, bestCount = a, n
		}
	}
	return best
}

// AlignmentCount returns how many messages of alignment a the score holds.
func AlignmentCount(s *models.UserAlignmentScore, a Alignment) int {
	if n := alignmentCounter(s, a); n != nil {
		return *n
	}
	return 0
}

func alignmentCounter(s *models.UserAlignmentScore, a Alignment) *int {
	switch a {
	case LawfulGood:
		return &s.LawfulGood
	case NeutralGood:
		return &s.NeutralGood
	case ChaoticGood:
		return &s.ChaoticGood
	case LawfulNeutral:
		return &s.LawfulNeutral
	case TrueNeutral:
		return &s.TrueNeutral
	case ChaoticNeutral:
		return &s.ChaoticNeutral
	case LawfulEvil:
		return &s.LawfulEvil
	case NeutralEvil:
		return &s.NeutralEvil
	case ChaoticEvil:
		return &s.ChaoticEvil
	}
	return nil
}
