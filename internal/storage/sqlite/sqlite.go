package sqlite

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/fenggwsx/RoomChat/internal/config"
	"github.com/fenggwsx/RoomChat/internal/storage"
)

// Store is a GORM-backed SQLite implementation of storage.MessageStore.
type Store struct {
	db *gorm.DB
}

type messageModel struct {
	ID         string `gorm:"primaryKey;size:26"`
	RoomID     string `gorm:"index:idx_room_created,priority:1;size:128;not null"`
	SenderID   string `gorm:"size:128;not null"`
	SenderRole string `gorm:"size:16;not null"`
	Body       string `gorm:"not null"`
	Seq        uint64
	CreatedAt  time.Time `gorm:"index:idx_room_created,priority:2"`
}

func (messageModel) TableName() string { return "messages" }

// NewStore opens a SQLite database at the provided path.
func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate applies schema updates.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&messageModel{})
}

// AppendMessage stores a message, assigning a ULID when it has no id yet.
// The id is written back to msg.
func (s *Store) AppendMessage(ctx context.Context, msg *storage.Message) (string, error) {
	if msg == nil {
		return "", errors.New("nil message")
	}
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	id, createdAt := msg.ID, msg.CreatedAt
	model := messageModel{
		ID:         id,
		RoomID:     msg.RoomID,
		SenderID:   msg.SenderID,
		SenderRole: msg.SenderRole,
		Body:       msg.Body,
		Seq:        msg.Seq,
		CreatedAt:  createdAt.UTC(),
	}
	// A retried write of a committed message is a no-op.
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
		return "", err
	}
	return id, nil
}

// FetchHistory retrieves the latest messages of a room in chronological order.
func (s *Store) FetchHistory(ctx context.Context, roomID string, limit int) ([]storage.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []messageModel
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Order("seq DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	slices.Reverse(models)

	messages := make([]storage.Message, 0, len(models))
	for _, m := range models {
		messages = append(messages, storage.Message{
			ID:         m.ID,
			RoomID:     m.RoomID,
			SenderID:   m.SenderID,
			SenderRole: m.SenderRole,
			Body:       m.Body,
			Seq:        m.Seq,
			CreatedAt:  m.CreatedAt,
		})
	}
	return messages, nil
}
