// Package sqlstore persists chat messages with GORM on SQLite.
package sqlstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Tyrowin/gochat/internal/chat"
)

// Store is a chat.MessageStore backed by a GORM database.
type Store struct {
	db *gorm.DB
}

var _ chat.MessageStore = (*Store)(nil)

// Open opens (and migrates) the SQLite database at path. Use ":memory:" for
// an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// SQLite serializes writers; a single connection also keeps ":memory:"
	// databases shared across calls.
	sqlDB.SetMaxOpenConns(1)

	return New(db)
}

// New wraps an existing GORM handle and migrates the messages table.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&messageRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Append inserts msg.
func (s *Store) Append(ctx context.Context, msg chat.Message) error {
	record := toRecord(msg)
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// QueryRoom returns the room's messages created after since in timestamp
// then insertion order.
func (s *Store) QueryRoom(ctx context.Context, room string, since *time.Time) ([]chat.Message, error) {
	query := s.db.WithContext(ctx).Where("room = ?", room)
	if since != nil {
		query = query.Where("created_at > ?", since.UTC())
	}

	var records []messageRecord
	if err := query.Order("created_at ASC").Order("seq ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	messages := make([]chat.Message, 0, len(records))
	for _, r := range records {
		messages = append(messages, r.toMessage())
	}
	return messages, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	return sqlDB.Close()
}
