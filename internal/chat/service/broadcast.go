package service

import (
	"context"

	"go.uber.org/zap"

	chatevents "github.com/agentstudio/studio/internal/chat/events"
	"github.com/agentstudio/studio/internal/events"
	"github.com/agentstudio/studio/internal/events/bus"
)

const busSource = "chat-service"

// Broadcast failures are logged and absorbed; the SSE stream to the
// originating client has priority over room fan-out.

func (s *Service) broadcastEvent(ctx context.Context, r *reply, ev chatevents.Event) {
	err := s.bus.Publish(ctx, events.ReplyEvent, bus.NewEvent("pushReplies", busSource, map[string]interface{}{
		"reply_id":        r.id,
		"conversation_id": r.conversationID,
		"message":         ev,
	}))
	if err != nil {
		s.logger.WithReplyID(r.id).Warn("Failed to broadcast reply event", zap.Error(err))
	}
}

func (s *Service) broadcastReplyingState(ctx context.Context, conversationID string, replying bool) {
	err := s.bus.Publish(ctx, events.ReplyState, bus.NewEvent("pushReplyingState", busSource, map[string]interface{}{
		"conversation_id": conversationID,
		"replying":        replying,
	}))
	if err != nil {
		s.logger.WithConversationID(conversationID).Warn("Failed to broadcast replying state", zap.Error(err))
	}
}

func (s *Service) broadcastFinished(ctx context.Context, r *reply) {
	err := s.bus.Publish(ctx, events.ReplyFinished, bus.NewEvent("pushFinished", busSource, map[string]interface{}{
		"reply_id":        r.id,
		"conversation_id": r.conversationID,
	}))
	if err != nil {
		s.logger.WithReplyID(r.id).Warn("Failed to broadcast finished signal", zap.Error(err))
	}
}

// broadcastInterrupt tells agent-side listeners to stop work for the
// reply. The local subprocess is terminated directly; this covers
// agents attached over the socket gateway.
func (s *Service) broadcastInterrupt(ctx context.Context, r *reply) {
	err := s.bus.Publish(ctx, events.AgentInterrupt, bus.NewEvent("interrupt", busSource, map[string]interface{}{
		"reply_id":        r.id,
		"conversation_id": r.conversationID,
	}))
	if err != nil {
		s.logger.WithReplyID(r.id).Warn("Failed to broadcast interrupt", zap.Error(err))
	}
}

func (s *Service) broadcastCancelled(ctx context.Context, r *reply) {
	err := s.bus.Publish(ctx, events.ReplyCancelled, bus.NewEvent("pushCancelled", busSource, map[string]interface{}{
		"reply_id":        r.id,
		"conversation_id": r.conversationID,
	}))
	if err != nil {
		s.logger.WithReplyID(r.id).Warn("Failed to broadcast cancel signal", zap.Error(err))
	}
}
