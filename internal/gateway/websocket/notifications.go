package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentstudio/studio/internal/common/logger"
	"github.com/agentstudio/studio/internal/events"
	"github.com/agentstudio/studio/internal/events/bus"
	ws "github.com/agentstudio/studio/pkg/websocket"
)

// ChatEventBroadcaster bridges the event bus into socket rooms. Reply
// events are routed to the room of their conversation; interrupts go
// to agent connections.
type ChatEventBroadcaster struct {
	hub           *Hub
	subscriptions []bus.Subscription
	logger        *logger.Logger
}

func RegisterChatNotifications(ctx context.Context, eventBus bus.EventBus, hub *Hub, log *logger.Logger) *ChatEventBroadcaster {
	b := &ChatEventBroadcaster{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws-chat-broadcaster")),
	}
	if eventBus == nil {
		return b
	}

	b.subscribeRoom(eventBus, events.ReplyEvent, ws.ActionPushReplies)
	b.subscribeRoom(eventBus, events.ReplyState, ws.ActionPushReplyingState)
	b.subscribeRoom(eventBus, events.ReplyFinished, ws.ActionPushFinished)
	b.subscribeRoom(eventBus, events.ReplyCancelled, ws.ActionPushCancelled)
	b.subscribeAgents(eventBus, events.AgentInterrupt, ws.ActionInterrupt)

	go func() {
		<-ctx.Done()
		b.Close()
	}()

	return b
}

func (b *ChatEventBroadcaster) Close() {
	for _, sub := range b.subscriptions {
		if sub != nil && sub.IsValid() {
			_ = sub.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

// subscribeRoom fans a subject out to the room of the event's
// conversation. Events without a conversation_id fall back to a global
// broadcast.
func (b *ChatEventBroadcaster) subscribeRoom(eventBus bus.EventBus, subject, action string) {
	sub, err := eventBus.Subscribe(subject, func(ctx context.Context, event *bus.Event) error {
		msg, err := ws.NewNotification(action, event.Data)
		if err != nil {
			b.logger.Error("Failed to build socket notification",
				zap.String("action", action), zap.Error(err))
			return nil
		}

		conversationID, _ := event.Data["conversation_id"].(string)
		if conversationID != "" {
			b.hub.BroadcastToRoom(ws.ChatRoom(conversationID), msg)
			return nil
		}
		b.hub.Broadcast(msg)
		return nil
	})
	if err != nil {
		b.logger.Error("Failed to subscribe to events",
			zap.String("subject", subject), zap.Error(err))
		return
	}
	b.subscriptions = append(b.subscriptions, sub)
}

func (b *ChatEventBroadcaster) subscribeAgents(eventBus bus.EventBus, subject, action string) {
	sub, err := eventBus.Subscribe(subject, func(ctx context.Context, event *bus.Event) error {
		msg, err := ws.NewNotification(action, event.Data)
		if err != nil {
			b.logger.Error("Failed to build socket notification",
				zap.String("action", action), zap.Error(err))
			return nil
		}
		b.hub.BroadcastToAgents(msg)
		return nil
	})
	if err != nil {
		b.logger.Error("Failed to subscribe to events",
			zap.String("subject", subject), zap.Error(err))
		return
	}
	b.subscriptions = append(b.subscriptions, sub)
}
