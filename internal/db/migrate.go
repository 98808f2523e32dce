package db

import (
	"context"
	"fmt"

	"github.com/zulandar/toxbot/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every gorm model owned by toxbot.
func AllModels() []interface{} {
	return []interface{}{
		&models.FeedbackBridge{},
		&models.UserSentiment{},
		&models.UserSentimentScore{},
		&models.UserAlignmentScore{},
		&models.UserOptOut{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Reset drops every toxbot table and migrates again. All data is lost.
func Reset(db *gorm.DB) error {
	if err := db.Migrator().DropTable(AllModels()...); err != nil {
		return fmt.Errorf("db: drop tables: %w", err)
	}
	return AutoMigrate(db)
}

// Size returns the space the database occupies, in bytes.
func Size(ctx context.Context, db *gorm.DB) (int64, error) {
	var query string
	switch name := db.Dialector.Name(); name {
	case "sqlite":
		query = "SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()"
	case "mysql":
		query = "SELECT COALESCE(SUM(data_length + index_length), 0) FROM information_schema.tables WHERE table_schema = DATABASE()"
	default:
		return 0, fmt.Errorf("db: size: unsupported dialect %q", name)
	}
	var n int64
	if err := db.WithContext(ctx).Raw(query).Scan(&n).Error; err != nil {
		return 0, fmt.Errorf("db: size: %w", err)
	}
	return n, nil
}
