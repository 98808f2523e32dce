package sentiment

import (
	"context"
	"fmt"

	"github.com/zulandar/toxbot/internal/models"
	"gorm.io/gorm"
)

// Leaderboard sort orders.
const (
	SortToxicity  = "toxicity"
	SortAlignment = "alignment"
)

// Leaderboard size defaults.
const (
	DefaultGuildLimit  = 10
	DefaultGlobalLimit = 50
)

// Summary is a user's aggregated statistics in one guild. Alignment is nil
// when no message has been summarized yet.
type Summary struct {
	Score     models.UserSentimentScore
	Alignment *models.UserAlignmentScore
}

// Dominant returns the user's dominant alignment, or AlignmentUnknown.
func (s *Summary) Dominant() Alignment {
	if s.Alignment == nil {
		return AlignmentUnknown
	}
	return Alignment(s.Alignment.DominantAlignment)
}

// UserStats returns the summary for userID in guildID, or nil when the user
// has no summarized messages there.
func UserStats(ctx context.Context, db *gorm.DB, userID, guildID string) (*Summary, error) {
	var scores []models.UserSentimentScore
	if err := db.WithContext(ctx).Where("user_id = ? AND guild_id = ?", userID, guildID).
		Limit(1).Find(&scores).Error; err != nil {
		return nil, fmt.Errorf("sentiment: stats %s/%s: %w", userID, guildID, err)
	}
	if len(scores) == 0 {
		return nil, nil
	}

	sum := &Summary{Score: scores[0]}
	var aligns []models.UserAlignmentScore
	if err := db.WithContext(ctx).Where("user_id = ? AND guild_id = ?", userID, guildID).
		Limit(1).Find(&aligns).Error; err != nil {
		return nil, fmt.Errorf("sentiment: alignment stats %s/%s: %w", userID, guildID, err)
	}
	if len(aligns) > 0 {
		sum.Alignment = &aligns[0]
	}
	return sum, nil
}

// LeaderboardQuery holds the leaderboard filters. An empty GuildID ranks
// across all guilds.
type LeaderboardQuery struct {
	GuildID string
	Sort    string // toxicity (default) or alignment
	Limit   int    // defaults to 10 per guild, 50 global
}

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	Rank               int       `json:"rank"`
	UserID             string    `json:"user_id"`
	Username           string    `json:"username"`
	GuildID            string    `json:"guild_id"`
	GuildName          string    `json:"guild_name,omitempty"`
	TotalMessages      int       `json:"total_messages"`
	ToxicMessages      int       `json:"toxic_messages"`
	ToxicityPercentage float64   `json:"toxicity_percentage"`
	Alignment          Alignment `json:"-"`
	AlignmentName      string    `json:"alignment,omitempty"`
}

// Leaderboard ranks users. The toxicity board orders by message count, then
// toxicity percentage; the alignment board orders from most evil to most
// good.
func Leaderboard(ctx context.Context, db *gorm.DB, q LeaderboardQuery) ([]LeaderboardEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultGuildLimit
		if q.GuildID == "" {
			limit = DefaultGlobalLimit
		}
	}

	switch q.Sort {
	case "", SortToxicity:
		return toxicityBoard(ctx, db, q.GuildID, limit)
	case SortAlignment:
		return alignmentBoard(ctx, db, q.GuildID, limit)
	default:
		return nil, fmt.Errorf("sentiment: leaderboard: unknown sort %q (toxicity, alignment)", q.Sort)
	}
}

func toxicityBoard(ctx context.Context, db *gorm.DB, guildID string, limit int) ([]LeaderboardEntry, error) {
	query := db.WithContext(ctx).Model(&models.UserSentimentScore{})
	if guildID != "" {
		query = query.Where("guild_id = ?", guildID)
	}
	var scores []models.UserSentimentScore
	if err := query.Order("total_messages DESC, toxicity_percentage DESC, user_id").
		Limit(limit).Find(&scores).Error; err != nil {
		return nil, fmt.Errorf("sentiment: leaderboard: %w", err)
	}

	entries := make([]LeaderboardEntry, len(scores))
	for i, s := range scores {
		entries[i] = LeaderboardEntry{
			Rank:               i + 1,
			UserID:             s.UserID,
			Username:           s.Username,
			GuildID:            s.GuildID,
			GuildName:          s.GuildName,
			TotalMessages:      s.TotalMessages,
			ToxicMessages:      s.ToxicMessages,
			ToxicityPercentage: s.ToxicityPercentage,
		}
	}
	return entries, nil
}

func alignmentBoard(ctx context.Context, db *gorm.DB, guildID string, limit int) ([]LeaderboardEntry, error) {
	query := db.WithContext(ctx).Model(&models.UserAlignmentScore{})
	if guildID != "" {
		query = query.Where("guild_id = ?", guildID)
	}
	var scores []models.UserAlignmentScore
	if err := query.Order("dominant_alignment ASC, user_id").Limit(limit).Find(&scores).Error; err != nil {
		return nil, fmt.Errorf("sentiment: alignment leaderboard: %w", err)
	}

	entries := make([]LeaderboardEntry, len(scores))
	for i := range scores {
		s := &scores[i]
		total := 0
		for _, a := range AllAlignments() {
			total += AlignmentCount(s, a)
		}
		dom := Alignment(s.DominantAlignment)
		entries[i] = LeaderboardEntry{
			Rank:          i + 1,
			UserID:        s.UserID,
			Username:      s.Username,
			GuildID:       s.GuildID,
			TotalMessages: total,
			Alignment:     dom,
			AlignmentName: dom.DisplayName(),
		}
	}
	return entries, nil
}
