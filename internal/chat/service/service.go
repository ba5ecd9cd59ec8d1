// Package service implements the chat orchestration facade: it spawns
// agent replies, routes their callback events into per-reply hubs and
// the broadcast bus, and owns the reply state machine.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	chatevents "github.com/agentstudio/studio/internal/chat/events"
	"github.com/agentstudio/studio/internal/chat/kvstate"
	"github.com/agentstudio/studio/internal/chat/models"
	"github.com/agentstudio/studio/internal/chat/plan"
	"github.com/agentstudio/studio/internal/chat/repository"
	"github.com/agentstudio/studio/internal/chat/settings"
	"github.com/agentstudio/studio/internal/chat/streamhub"
	"github.com/agentstudio/studio/internal/chat/supervisor"
	"github.com/agentstudio/studio/internal/chat/transcript"
	"github.com/agentstudio/studio/internal/common/config"
	"github.com/agentstudio/studio/internal/common/logger"
	"github.com/agentstudio/studio/internal/events/bus"
)

const (
	titleMaxRunes    = 50
	cancelledMessage = "用户终止了请求"
	crashMessage     = "agent exited unexpectedly"
)

// reply is the in-memory state of one agent turn. All mutations happen
// under mu so callback handlers, interrupts and the exit watcher are
// mutually exclusive per reply.
type reply struct {
	mu             sync.Mutex
	id             string
	conversationID string
	userID         string
	status         models.ReplyStatus
	cancelled      bool
	acc            *transcript.Accumulator
	hub            *streamhub.Hub
}

// Service is the orchestrator facade.
type Service struct {
	cfg       *config.Config
	repo      repository.Repository
	sup       *supervisor.Supervisor
	parser    *chatevents.Parser
	filter    *settings.ToolFilter
	projector *plan.Projector
	hubs      *streamhub.Registry
	bus       bus.EventBus
	kv        *kvstate.Store
	logger    *logger.Logger

	mu      sync.Mutex
	replies map[string]*reply
}

// New wires the facade. The supervisor's exit handler is installed
// here; callers must not install their own.
func New(
	cfg *config.Config,
	repo repository.Repository,
	sup *supervisor.Supervisor,
	filter *settings.ToolFilter,
	eventBus bus.EventBus,
	kv *kvstate.Store,
	log *logger.Logger,
) *Service {
	s := &Service{
		cfg:       cfg,
		repo:      repo,
		sup:       sup,
		parser:    chatevents.NewParser(log),
		filter:    filter,
		projector: plan.NewProjector(repo, log),
		hubs:      streamhub.NewRegistry(log),
		bus:       eventBus,
		kv:        kv,
		logger:    log.WithFields(zap.String("component", "chat-service")),
		replies:   make(map[string]*reply),
	}
	sup.SetExitHandler(s.handleExit)
	return s
}

// Hubs exposes the hub registry for stream adapters.
func (s *Service) Hubs() *streamhub.Registry {
	return s.hubs
}

// SendRequest carries one user turn into the orchestrator.
type SendRequest struct {
	UserID         string
	ConversationID string
	Message        string
	UploadedFiles  []string
	Mode           string
}

// SendResult identifies the spawned reply. Subscription is non-nil
// only when the caller asked to stream.
type SendResult struct {
	ConversationID string
	ReplyID        string
	Subscription   *streamhub.Subscription
}

// Send persists the user turn and spawns an agent reply. When stream
// is true the returned subscription is opened before the subprocess
// starts, so no event can precede it.
func (s *Service) Send(ctx context.Context, req SendRequest, stream bool) (*SendResult, error) {
	if err := s.repo.EnsureUser(ctx, req.UserID); err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conv := &models.Conversation{
			UserID: req.UserID,
			Title:  conversationTitle(req.Message),
		}
		if err := s.repo.CreateConversation(ctx, conv); err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		conversationID = conv.ID
	} else if _, err := s.repo.GetConversation(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("conversation lookup failed: %w", err)
	}

	if err := s.repo.CreateMessage(ctx, &models.Message{
		ConversationID: conversationID,
		UserID:         req.UserID,
		Role:           models.RoleUser,
		Content:        req.Message,
	}); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}
	if err := s.repo.TouchConversation(ctx, conversationID); err != nil {
		s.logger.WithConversationID(conversationID).Warn("Failed to touch conversation", zap.Error(err))
	}

	replyID := uuid.NewString()
	log := s.logger.WithReplyID(replyID).WithConversationID(conversationID)

	r := &reply{
		id:             replyID,
		conversationID: conversationID,
		userID:         req.UserID,
		status:         models.ReplyStatusStarting,
		acc:            transcript.NewAccumulator(replyID, s.filter, s.logger),
		hub:            s.hubs.Create(replyID, conversationID),
	}
	s.mu.Lock()
	s.replies[replyID] = r
	s.mu.Unlock()

	var sub *streamhub.Subscription
	if stream {
		sub = r.hub.Subscribe()
	}

	if err := s.repo.CreateAgentSession(ctx, &models.AgentSession{
		ReplyID:        replyID,
		ConversationID: conversationID,
		UserID:         req.UserID,
	}); err != nil {
		log.Error("Failed to create agent session record", zap.Error(err))
	}

	query, err := buildQueryPayload(req.UserID, conversationID, req.Message, req.UploadedFiles)
	if err != nil {
		s.failSpawn(ctx, r, sub)
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	pid, err := s.sup.Spawn(supervisor.SpawnParams{
		ReplyID:        replyID,
		ConversationID: conversationID,
		UserID:         req.UserID,
		Query:          query,
		Mode:           req.Mode,
	}, s.cfg.ResolvedCallbackURL())
	if err != nil {
		log.Error("Agent spawn failed", zap.Error(err))
		s.failSpawn(ctx, r, sub)
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	// The exit watcher can beat us here when the agent dies instantly.
	// Terminal states absorb; never move one back to running. The
	// session update and broadcasts stay under r.mu so they cannot
	// interleave with a concurrent terminal transition's writes.
	r.mu.Lock()
	if r.status.IsTerminal() {
		r.mu.Unlock()
		log.Warn("Agent exited before reply could start", zap.Int("pid", pid))
		return &SendResult{
			ConversationID: conversationID,
			ReplyID:        replyID,
			Subscription:   sub,
		}, nil
	}
	r.status = models.ReplyStatusRunning
	if err := s.repo.UpdateAgentSessionStatus(ctx, replyID, models.ReplyStatusRunning); err != nil {
		log.Error("Failed to mark session running", zap.Error(err))
	}
	s.kv.SnapshotReply(ctx, kvstate.ReplySnapshot{
		ReplyID:        replyID,
		ConversationID: conversationID,
		UserID:         req.UserID,
		Status:         models.ReplyStatusRunning,
		PID:            pid,
	})
	s.broadcastReplyingState(ctx, conversationID, true)
	r.mu.Unlock()

	log.Info("Reply started", zap.Int("pid", pid))
	return &SendResult{
		ConversationID: conversationID,
		ReplyID:        replyID,
		Subscription:   sub,
	}, nil
}

// failSpawn rolls a reply back after the subprocess could not start.
func (s *Service) failSpawn(ctx context.Context, r *reply, sub *streamhub.Subscription) {
	r.mu.Lock()
	r.status = models.ReplyStatusFailed
	r.mu.Unlock()

	if err := s.repo.UpdateAgentSessionStatus(ctx, r.id, models.ReplyStatusFailed); err != nil {
		s.logger.WithReplyID(r.id).Warn("Failed to mark session failed", zap.Error(err))
	}
	if sub != nil {
		sub.Close()
	}
	r.hub.Close(streamhub.ReasonFailed)
	s.forget(r.id)
}

// Interrupt cancels a running reply on behalf of its owner. It reports
// whether a live agent process was found.
func (s *Service) Interrupt(ctx context.Context, userID, replyID string) (bool, error) {
	r := s.lookup(replyID)
	if r == nil {
		return false, ErrUnknownReply
	}
	if r.userID != userID {
		return false, ErrNotOwner
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.IsTerminal() {
		return false, nil
	}

	found := s.sup.Terminate(replyID)
	r.cancelled = true
	r.status = models.ReplyStatusCancelled

	log := s.logger.WithReplyID(replyID)
	s.flushTranscriptLocked(ctx, r, log)
	if err := s.repo.UpdateAgentSessionStatus(ctx, replyID, models.ReplyStatusCancelled); err != nil {
		log.Error("Failed to mark session cancelled", zap.Error(err))
	}
	s.kv.SnapshotReply(ctx, kvstate.ReplySnapshot{
		ReplyID:        replyID,
		ConversationID: r.conversationID,
		UserID:         r.userID,
		Status:         models.ReplyStatusCancelled,
	})

	cancelEv := chatevents.Event{Type: chatevents.TypeCancelled, Content: cancelledMessage}
	r.hub.Publish(cancelEv)
	s.broadcastEvent(ctx, r, cancelEv)
	r.hub.Close(streamhub.ReasonCancelled)

	s.broadcastInterrupt(ctx, r)
	s.broadcastCancelled(ctx, r)
	s.broadcastReplyingState(ctx, r.conversationID, false)
	s.forget(replyID)

	log.Info("Reply cancelled", zap.Bool("agent_found", found))
	return found, nil
}

// InterruptConversation cancels every live reply of a conversation.
func (s *Service) InterruptConversation(ctx context.Context, userID, conversationID string) int {
	count := 0
	for _, replyID := range s.sup.ActiveReplies(conversationID) {
		if found, err := s.Interrupt(ctx, userID, replyID); err == nil && found {
			count++
		}
	}
	return count
}

// Shutdown cancels all live replies and kills their processes.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	live := make([]*reply, 0, len(s.replies))
	for _, r := range s.replies {
		live = append(live, r)
	}
	s.mu.Unlock()

	for _, r := range live {
		r.mu.Lock()
		if !r.status.IsTerminal() {
			r.status = models.ReplyStatusCancelled
			s.flushTranscriptLocked(ctx, r, s.logger.WithReplyID(r.id))
			if err := s.repo.UpdateAgentSessionStatus(ctx, r.id, models.ReplyStatusCancelled); err != nil {
				s.logger.WithReplyID(r.id).Warn("Failed to mark session cancelled", zap.Error(err))
			}
			r.hub.Close(streamhub.ReasonCancelled)
		}
		r.mu.Unlock()
		s.forget(r.id)
	}
	return s.sup.Cleanup(ctx)
}

func (s *Service) lookup(replyID string) *reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replies[replyID]
}

func (s *Service) forget(replyID string) {
	s.mu.Lock()
	delete(s.replies, replyID)
	s.mu.Unlock()
	s.hubs.Remove(replyID)
}

// flushTranscriptLocked persists the accumulated text as an assistant
// message. Best effort; the caller holds r.mu.
func (s *Service) flushTranscriptLocked(ctx context.Context, r *reply, log *logger.Logger) {
	text := r.acc.Text()
	if text == "" {
		return
	}
	err := s.repo.CreateMessage(ctx, &models.Message{
		ID:             assistantMessageID(r.id),
		ConversationID: r.conversationID,
		UserID:         r.userID,
		Role:           models.RoleAssistant,
		Content:        text,
	})
	if err != nil {
		log.Error("Failed to persist assistant message",
			zap.Error(err), zap.String("content", text))
	}
}

// assistantMessageID derives a stable message id from the reply so a
// repeated flush hits the duplicate-ignore path instead of forking the
// transcript.
func assistantMessageID(replyID string) string {
	return "reply-" + replyID
}

func conversationTitle(message string) string {
	runes := []rune(message)
	if len(runes) > titleMaxRunes {
		return string(runes[:titleMaxRunes])
	}
	return message
}

// buildQueryPayload serializes the agent query: a system context block
// followed by the raw user message.
func buildQueryPayload(userID, conversationID, message string, files []string) (string, error) {
	var b strings.Builder
	b.WriteString("[SYSTEM CONTEXT]\n")
	b.WriteString("user_id: " + userID + "\n")
	b.WriteString("conversation_id: " + conversationID + "\n")
	if len(files) > 0 {
		b.WriteString("uploaded_files: " + strings.Join(files, ", ") + "\n")
	}

	payload, err := json.Marshal([]string{b.String(), message})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// Conversation history surface, passed straight through to the store.

func (s *Service) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	return s.repo.ListConversations(ctx, userID)
}

func (s *Service) ListMessages(ctx context.Context, userID, conversationID string) ([]*models.Message, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, ErrNotOwner
	}
	return s.repo.ListMessages(ctx, conversationID)
}

func (s *Service) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.UserID != userID {
		return ErrNotOwner
	}
	s.InterruptConversation(ctx, userID, conversationID)
	return s.repo.DeleteConversation(ctx, conversationID)
}

// GetPlan returns the coordinator plan for a conversation, or nil.
func (s *Service) GetPlan(ctx context.Context, userID, conversationID string) (*models.Plan, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, ErrNotOwner
	}
	return s.repo.GetPlanByConversation(ctx, conversationID)
}
