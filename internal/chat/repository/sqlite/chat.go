package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentstudio/studio/internal/chat/models"
)

// User operations

// EnsureUser inserts a user row if it does not exist yet.
func (r *Repository) EnsureUser(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (id, name, created_at) VALUES (?, ?, ?)
	`, id, id, time.Now().UTC())
	return err
}

// Conversation operations

// CreateConversation creates a new conversation.
func (r *Repository) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, conv.ID, conv.UserID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	return err
}

// GetConversation retrieves a conversation by ID.
func (r *Repository) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := r.db.GetContext(ctx, conv, `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation not found: %s", id)
	}
	return conv, err
}

// ListConversations returns a user's conversations, newest first.
func (r *Repository) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	var result []*models.Conversation
	err := r.db.SelectContext(ctx, &result, `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations WHERE user_id = ? ORDER BY updated_at DESC
	`, userID)
	return result, err
}

// DeleteConversation deletes a conversation and its messages.
func (r *Repository) DeleteConversation(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("conversation not found: %s", id)
	}
	return nil
}

// TouchConversation bumps the conversation's updated_at.
func (r *Repository) TouchConversation(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	return err
}

// Message operations

// CreateMessage creates a new message. A duplicate id is silently
// ignored so the same assistant message can be flushed more than once.
func (r *Repository) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Role == "" {
		msg.Role = models.RoleUser
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (id, conversation_id, user_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.UserID, msg.Role, msg.Content, msg.CreatedAt)
	return err
}

// ListMessages returns all messages for a conversation ordered by
// creation time.
func (r *Repository) ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	var result []*models.Message
	err := r.db.SelectContext(ctx, &result, `
		SELECT id, conversation_id, user_id, role, content, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC
	`, conversationID)
	return result, err
}

// Agent session operations

// CreateAgentSession creates a new agent session record.
func (r *Repository) CreateAgentSession(ctx context.Context, session *models.AgentSession) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	if session.Status == "" {
		session.Status = models.ReplyStatusStarting
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agent_sessions (id, reply_id, conversation_id, user_id, status, pid, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, session.ID, session.ReplyID, session.ConversationID, session.UserID, session.Status, session.PID, session.StartedAt)
	return err
}

// GetAgentSessionByReply retrieves the session for a reply id.
func (r *Repository) GetAgentSessionByReply(ctx context.Context, replyID string) (*models.AgentSession, error) {
	session := &models.AgentSession{}
	err := r.db.GetContext(ctx, session, `
		SELECT id, reply_id, conversation_id, user_id, status, pid, started_at, finished_at, error_message, exit_code
		FROM agent_sessions WHERE reply_id = ?
	`, replyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent session not found for reply: %s", replyID)
	}
	return session, err
}

// UpdateAgentSessionStatus moves the session for replyID to status,
// stamping finished_at on terminal transitions.
func (r *Repository) UpdateAgentSessionStatus(ctx context.Context, replyID string, status models.ReplyStatus) error {
	var finishedAt interface{}
	if status.IsTerminal() {
		finishedAt = time.Now().UTC()
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE agent_sessions SET status = ?, finished_at = COALESCE(?, finished_at)
		WHERE reply_id = ?
	`, status, finishedAt, replyID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("agent session not found for reply: %s", replyID)
	}
	return nil
}

// RecordAgentSessionExit stores the subprocess exit code and failure
// message for a reply.
func (r *Repository) RecordAgentSessionExit(ctx context.Context, replyID string, exitCode int, errMsg string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE agent_sessions SET exit_code = ?, error_message = ? WHERE reply_id = ?
	`, exitCode, errMsg, replyID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("agent session not found for reply: %s", replyID)
	}
	return nil
}

// Plan operations

// GetPlanByConversation retrieves the plan for a conversation, or nil
// when none exists.
func (r *Repository) GetPlanByConversation(ctx context.Context, conversationID string) (*models.Plan, error) {
	plan := &models.Plan{}
	err := r.db.GetContext(ctx, plan, `
		SELECT id, conversation_id, objective, plan, active_phase, completed_phases, phase_outputs, status, created_at, updated_at
		FROM coordinator_plans WHERE conversation_id = ?
	`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return plan, err
}

// UpsertPlan inserts or fully replaces the plan row for the plan's
// conversation.
func (r *Repository) UpsertPlan(ctx context.Context, plan *models.Plan) error {
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO coordinator_plans (id, conversation_id, objective, plan, active_phase, completed_phases, phase_outputs, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			objective = excluded.objective,
			plan = excluded.plan,
			active_phase = excluded.active_phase,
			completed_phases = excluded.completed_phases,
			phase_outputs = excluded.phase_outputs,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, plan.ID, plan.ConversationID, plan.Objective, plan.PlanDoc, plan.ActivePhase,
		plan.CompletedPhases, plan.PhaseOutputs, plan.Status, plan.CreatedAt, plan.UpdatedAt)
	return err
}
