// Package repository defines durable storage for conversations,
// messages, agent sessions and coordinator plans.
package repository

import (
	"context"

	"github.com/agentstudio/studio/internal/chat/models"
)

// Repository provides chat storage operations.
type Repository interface {
	// Users
	EnsureUser(ctx context.Context, id string) error

	// Conversations
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	TouchConversation(ctx context.Context, id string) error

	// Messages. CreateMessage silently ignores a duplicate id so the
	// finished handler can replay safely.
	CreateMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error)

	// Agent sessions
	CreateAgentSession(ctx context.Context, session *models.AgentSession) error
	GetAgentSessionByReply(ctx context.Context, replyID string) (*models.AgentSession, error)
	UpdateAgentSessionStatus(ctx context.Context, replyID string, status models.ReplyStatus) error
	RecordAgentSessionExit(ctx context.Context, replyID string, exitCode int, errMsg string) error

	// Coordinator plans
	GetPlanByConversation(ctx context.Context, conversationID string) (*models.Plan, error)
	UpsertPlan(ctx context.Context, plan *models.Plan) error

	Close() error
}
