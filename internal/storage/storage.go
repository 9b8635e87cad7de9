//go:generate go run go.uber.org/mock/mockgen -source=storage.go -destination=../mocks/mock_storage.go -package=mocks
package storage

import (
	"context"
	"time"
)

// Message represents a persisted chat message.
type Message struct {
	ID         string
	RoomID     string
	SenderID   string
	SenderRole string
	Body       string
	Seq        uint64
	CreatedAt  time.Time
}

// MessageStore defines persistence operations used by the chat core.
type MessageStore interface {
	Close() error
	Migrate(ctx context.Context) error

	// AppendMessage stores msg and returns the id it was assigned.
	AppendMessage(ctx context.Context, msg *Message) (string, error)
	// FetchHistory returns up to limit of the most recent messages of a room, oldest first.
	FetchHistory(ctx context.Context, roomID string, limit int) ([]Message, error)
}
