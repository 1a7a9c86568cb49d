package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// entry is the row layout shared by the SQL backends.
type entry struct {
	CacheKey  string `gorm:"primaryKey"`
	Payload   []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (entry) TableName() string { return "cache_entries" }

// SQLite is a Cache backed by a single SQLite file through gorm.
type SQLite struct {
	db *gorm.DB
}

// NewSQLite opens (or creates) the database at path and migrates the schema.
func NewSQLite(path string) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite cache: %w", err)
	}
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite cache schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Get implements Cache.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var e entry
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache key %q: %w", key, err)
	}
	return e.Payload, nil
}

// Set implements Cache.
func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	e := entry{CacheKey: key, Payload: value, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("failed to write cache key %q: %w", key, err)
	}
	return nil
}

// Delete implements Cache.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&entry{}).Error; err != nil {
		return fmt.Errorf("failed to delete cache key %q: %w", key, err)
	}
	return nil
}

// Close implements Cache.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
