package sentiment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/toxbot/internal/models"
	"gorm.io/gorm"
)

// GuildMessage is a guild (non-direct) chat message eligible for scoring.
type GuildMessage struct {
	MessageID   string
	UserID      string
	Username    string
	GuildID     string
	GuildName   string
	ChannelName string
	Content     string
	Timestamp   time.Time
}

// Recorder classifies guild messages and stores the verdicts.
type Recorder struct {
	db         *gorm.DB
	classifier Classifier
}

// NewRecorder creates a Recorder.
func NewRecorder(db *gorm.DB, classifier Classifier) (*Recorder, error) {
	if db == nil {
		return nil, fmt.Errorf("sentiment: db is required")
	}
	if classifier == nil {
		return nil, fmt.Errorf("sentiment: classifier is required")
	}
	return &Recorder{db: db, classifier: classifier}, nil
}

// Record classifies msg and inserts a UserSentiment row. It returns false
// without error for blank messages and for users who opted out.
func (r *Recorder) Record(ctx context.Context, msg GuildMessage) (bool, error) {
	if strings.TrimSpace(msg.Content) == "" || msg.UserID == "" {
		return false, nil
	}

	out, err := IsOptedOut(ctx, r.db, msg.UserID)
	if err != nil {
		return false, err
	}
	if out {
		log.Debug().Str("user_id", msg.UserID).Msg("sentiment: skipping opted-out user")
		return false, nil
	}

	res, err := r.classifier.Classify(ctx, msg.Content)
	if err != nil {
		return false, fmt.Errorf("sentiment: record %s: %w", msg.MessageID, err)
	}
	alignment := res.Alignment
	if alignment == AlignmentUnknown {
		alignment = TrueNeutral
	}

	created := msg.Timestamp
	if created.IsZero() {
		created = time.Now()
	}
	row := models.UserSentiment{
		UserID:         msg.UserID,
		GuildID:        msg.GuildID,
		MessageID:      msg.MessageID,
		MessageContent: msg.Content,
		Username:       msg.Username,
		GuildName:      msg.GuildName,
		ChannelName:    msg.ChannelName,
		IsToxic:        res.IsToxic,
		Alignment:      int(alignment),
		CreatedAt:      created.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return false, fmt.Errorf("sentiment: record %s: %w", msg.MessageID, err)
	}

	log.Debug().Str("user_id", msg.UserID).Str("guild_id", msg.GuildID).
		Bool("toxic", res.IsToxic).Stringer("alignment", alignment).
		Msg("sentiment: message recorded")
	return true, nil
}
