package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/fenggwsx/RoomChat/internal/config"
	"github.com/fenggwsx/RoomChat/internal/storage"
)

// Store keeps each room's messages in a sorted set scored by creation time.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

type record struct {
	ID         string `json:"id"`
	RoomID     string `json:"roomId"`
	SenderID   string `json:"senderId"`
	SenderRole string `json:"senderRole"`
	Body       string `json:"body"`
	Seq        uint64 `json:"seq"`
	CreatedAt  int64  `json:"createdAt"`
}

// NewStore connects to the Redis instance named by cfg.RedisURL.
func NewStore(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Store{client: client, ttl: cfg.MessageTTL}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Migrate only verifies connectivity; sorted sets need no schema.
func (s *Store) Migrate(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func roomMessagesKey(roomID string) string {
	return fmt.Sprintf("room:%s:messages", roomID)
}

// AppendMessage adds msg to its room's sorted set and refreshes the set TTL.
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

	data, err := json.Marshal(record{
		ID:         id,
		RoomID:     msg.RoomID,
		SenderID:   msg.SenderID,
		SenderRole: msg.SenderRole,
		Body:       msg.Body,
		Seq:        msg.Seq,
		CreatedAt:  createdAt.UnixMicro(),
	})
	if err != nil {
		return "", err
	}

	key := roomMessagesKey(msg.RoomID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(createdAt.UnixMicro()),
			Member: string(data),
		})
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// FetchHistory returns the newest limit messages of a room, oldest first.
func (s *Store) FetchHistory(ctx context.Context, roomID string, limit int) ([]storage.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	results, err := s.client.ZRevRange(ctx, roomMessagesKey(roomID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]storage.Message, 0, len(results))
	for _, data := range results {
		var rec record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			continue
		}
		messages = append(messages, storage.Message{
			ID:         rec.ID,
			RoomID:     rec.RoomID,
			SenderID:   rec.SenderID,
			SenderRole: rec.SenderRole,
			Body:       rec.Body,
			Seq:        rec.Seq,
			CreatedAt:  time.UnixMicro(rec.CreatedAt).UTC(),
		})
	}
	slices.Reverse(messages)
	return messages, nil
}
