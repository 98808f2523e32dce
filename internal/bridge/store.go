// Package bridge relays private feedback conversations between ordinary
// users and administrators over direct messages. Conversations are tracked
// only through persisted, time-bounded FeedbackBridge records.
package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/toxbot/internal/models"
	"gorm.io/gorm"
)

// Store persists bridge records. Every read that answers "what is active"
// filters on expires_at > now in the query itself.
type Store interface {
	Create(ctx context.Context, b *models.FeedbackBridge, now time.Time) (uint, error)
	FindByAdminMessage(ctx context.Context, adminID, messageID string, now time.Time) (*models.FeedbackBridge, error)
	FindActiveByUser(ctx context.Context, userID string, now time.Time) ([]models.FeedbackBridge, error)
	FindActivePair(ctx context.Context, userID, adminID string, now time.Time) (*models.FeedbackBridge, error)
	Update(ctx context.Context, b models.FeedbackBridge) error
	Renew(ctx context.Context, b models.FeedbackBridge) error
	UpdateAll(ctx context.Context, bs []models.FeedbackBridge) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	ListActive(ctx context.Context, now time.Time) ([]models.FeedbackBridge, error)
}

// mutableColumns are the fields Update replaces. ID, UserID, AdminID and
// CreatedAt never change after creation.
var mutableColumns = []string{"AdminEmbedMessageID", "LatestFeedbackContent", "ExpiresAt", "LastMessageAt"}

// renewalColumns are the fields Renew replaces.
var renewalColumns = []string{"ExpiresAt", "LastMessageAt"}

// GormStore implements Store on gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore returns a Store backed by db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Create inserts b and returns its ID. The active-pair check and the insert
// share one transaction.
func (s *GormStore) Create(ctx context.Context, b *models.FeedbackBridge, now time.Time) (uint, error) {
	now = now.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	b.ExpiresAt = b.ExpiresAt.UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []models.FeedbackBridge
		if err := tx.Where("user_id = ? AND admin_id = ? AND expires_at > ?", b.UserID, b.AdminID, now).
			Limit(1).Find(&existing).Error; err != nil {
			return err
		}
		if len(existing) > 0 {
			return &ConflictError{UserID: b.UserID, AdminID: b.AdminID, ExistingID: existing[0].ID}
		}
		return tx.Create(b).Error
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return 0, conflict
		}
		return 0, storeErr("create", err)
	}
	return b.ID, nil
}

// FindByAdminMessage returns the active bridge whose admin and admin-side
// message match, or nil when there is none.
func (s *GormStore) FindByAdminMessage(ctx context.Context, adminID, messageID string, now time.Time) (*models.FeedbackBridge, error) {
	var found []models.FeedbackBridge
	err := s.db.WithContext(ctx).
		Where("admin_id = ? AND admin_embed_message_id = ? AND expires_at > ?", adminID, messageID, now.UTC()).
		Order("expires_at DESC, id DESC").
		Limit(2).
		Find(&found).Error
	if err != nil {
		return nil, storeErr("find by admin message", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	if len(found) > 1 {
		log.Warn().Str("admin_id", adminID).Str("message_id", messageID).
			Uint("bridge_id", found[0].ID).Uint("other_bridge_id", found[1].ID).
			Msg("bridge: admin message matches more than one active bridge; using the most recent")
	}
	return &found[0], nil
}

// FindActiveByUser returns every active bridge for userID, one per admin.
func (s *GormStore) FindActiveByUser(ctx context.Context, userID string, now time.Time) ([]models.FeedbackBridge, error) {
	var found []models.FeedbackBridge
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, now.UTC()).
		Order("id").
		Find(&found).Error
	if err != nil {
		return nil, storeErr("find active by user", err)
	}
	return found, nil
}

// FindActivePair returns the active bridge between userID and adminID, or nil.
func (s *GormStore) FindActivePair(ctx context.Context, userID, adminID string, now time.Time) (*models.FeedbackBridge, error) {
	var found []models.FeedbackBridge
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND admin_id = ? AND expires_at > ?", userID, adminID, now.UTC()).
		Order("expires_at DESC, id DESC").
		Limit(1).
		Find(&found).Error
	if err != nil {
		return nil, storeErr("find active pair", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// Update replaces the mutable fields of b. A row removed by a concurrent
// sweep is not an error.
func (s *GormStore) Update(ctx context.Context, b models.FeedbackBridge) error {
	return storeErr("update", updateRow(s.db.WithContext(ctx), b, mutableColumns))
}

// Renew writes only the expiry and last-activity time of b, leaving the
// admin-side message and feedback text as they are in the store.
func (s *GormStore) Renew(ctx context.Context, b models.FeedbackBridge) error {
	return storeErr("renew", updateRow(s.db.WithContext(ctx), b, renewalColumns))
}

// UpdateAll writes every bridge in one transaction.
func (s *GormStore) UpdateAll(ctx context.Context, bs []models.FeedbackBridge) error {
	if len(bs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, b := range bs {
			if err := updateRow(tx, b, mutableColumns); err != nil {
				return err
			}
		}
		return nil
	})
	return storeErr("update all", err)
}

func updateRow(db *gorm.DB, b models.FeedbackBridge, columns []string) error {
	b.ExpiresAt = b.ExpiresAt.UTC()
	if b.LastMessageAt != nil {
		t := b.LastMessageAt.UTC()
		b.LastMessageAt = &t
	}
	result := db.Model(&models.FeedbackBridge{}).
		Where("id = ?", b.ID).
		Select(columns).
		Updates(&b)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		log.Debug().Uint("bridge_id", b.ID).Msg("bridge: update matched no row (swept concurrently)")
	}
	return nil
}

// DeleteExpired removes every bridge with expires_at <= now in one
// statement and returns how many were removed.
func (s *GormStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Delete(&models.FeedbackBridge{})
	if result.Error != nil {
		return 0, storeErr("delete expired", result.Error)
	}
	return result.RowsAffected, nil
}

// ListActive returns all active bridges ordered by ID.
func (s *GormStore) ListActive(ctx context.Context, now time.Time) ([]models.FeedbackBridge, error) {
	var found []models.FeedbackBridge
	if err := s.db.WithContext(ctx).Where("expires_at > ?", now.UTC()).Order("id").Find(&found).Error; err != nil {
		return nil, storeErr("list active", err)
	}
	return found, nil
}
