// Package kvstate mirrors the in-memory reply state into Redis so a
// crashed orchestrator leaves a short-lived trail for operators. The
// relational store stays authoritative; these keys are forensic only.
package kvstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agentstudio/studio/internal/chat/models"
	"github.com/agentstudio/studio/internal/common/config"
	"github.com/agentstudio/studio/internal/common/logger"
)

const replyTTL = time.Hour

// ReplySnapshot is the state mirrored per reply.
type ReplySnapshot struct {
	ReplyID        string             `json:"reply_id"`
	ConversationID string             `json:"conversation_id"`
	UserID         string             `json:"user_id"`
	Status         models.ReplyStatus `json:"status"`
	PID            int                `json:"pid"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Store writes reply snapshots. A nil Store is valid and drops every
// write, so Redis stays optional.
type Store struct {
	client *redis.Client
	log    *logger.Logger
}

// New connects to Redis using cfg. An empty address yields a nil store.
func New(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*Store, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Store{client: client, log: log}, nil
}

func replyKey(replyID string) string {
	return "agent:reply:" + replyID
}

// SnapshotReply records the current reply state with a 1 hour TTL.
// Failures are logged, never returned.
func (s *Store) SnapshotReply(ctx context.Context, snap ReplySnapshot) {
	if s == nil {
		return
	}
	snap.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(snap)
	if err != nil {
		s.log.WithReplyID(snap.ReplyID).Error("Failed to encode reply snapshot", zap.Error(err))
		return
	}
	if err := s.client.Set(ctx, replyKey(snap.ReplyID), data, replyTTL).Err(); err != nil {
		s.log.WithReplyID(snap.ReplyID).Warn("Failed to write reply snapshot", zap.Error(err))
	}
}

// GetReply reads a snapshot back, mainly for diagnostics and tests.
func (s *Store) GetReply(ctx context.Context, replyID string) (*ReplySnapshot, error) {
	if s == nil {
		return nil, nil
	}
	data, err := s.client.Get(ctx, replyKey(replyID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var snap ReplySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.client.Close()
}
