// Package sse drives a Server-Sent Events response from a stream
// subscription.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentstudio/studio/internal/chat/events"
	"github.com/agentstudio/studio/internal/chat/streamhub"
	"github.com/agentstudio/studio/internal/common/logger"
)

// heartbeatInterval keeps proxies from reaping idle streams.
const heartbeatInterval = 30 * time.Second

// StartPayload is the first frame on every stream.
type StartPayload struct {
	ConversationID string `json:"conversation_id"`
	ReplyID        string `json:"reply_id"`
}

// Writer emits SSE frames for one subscription until the terminal
// event, a write failure, or client disconnect.
type Writer struct {
	heartbeat time.Duration
	log       *logger.Logger
}

func NewWriter(log *logger.Logger) *Writer {
	return &Writer{heartbeat: heartbeatInterval, log: log}
}

// Stream writes the event stream to the client. It returns once the
// stream is finished; the subscription is always closed on return.
// Client disconnect stops the stream but never cancels the reply.
func (w *Writer) Stream(c *gin.Context, conversationID, replyID string, sub *streamhub.Subscription) {
	defer sub.Close()
	log := w.log.WithReplyID(replyID)

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	// Tell nginx-style proxies not to buffer the response.
	header.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	if err := writeFrame(c, events.TypeStart, StartPayload{
		ConversationID: conversationID,
		ReplyID:        replyID,
	}); err != nil {
		log.Debug("Client gone before start frame", zap.Error(err))
		return
	}

	ticker := time.NewTicker(w.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				if sub.Dropped() {
					log.Warn("Stream subscriber dropped for backpressure")
				}
				return
			}
			name, payload := framePayload(ev, conversationID)
			if err := writeFrame(c, name, payload); err != nil {
				log.Debug("Client disconnected mid stream", zap.Error(err))
				return
			}
			if name == events.TypeDone {
				return
			}
			ticker.Reset(w.heartbeat)

		case <-ticker.C:
			if err := writeFrame(c, events.TypeHeartbeat, struct{}{}); err != nil {
				log.Debug("Client disconnected on heartbeat", zap.Error(err))
				return
			}

		case <-c.Request.Context().Done():
			log.Debug("Client closed the stream")
			return
		}
	}
}

// framePayload maps a hub event to its wire name and JSON body.
func framePayload(ev events.Event, conversationID string) (string, interface{}) {
	switch ev.Type {
	case events.TypeChunk, events.TypeThinking:
		return ev.Type, gin.H{"content": ev.Content}
	case events.TypeToolCall:
		return ev.Type, gin.H{"id": ev.ID, "name": ev.Name, "input": ev.Input}
	case events.TypeToolResult:
		return ev.Type, gin.H{"id": ev.ID, "name": ev.Name, "output": ev.Output, "success": ev.Success}
	case events.TypeCoordinatorEvent:
		return ev.Type, gin.H{"event_type": ev.EventType, "data": ev.Data}
	case events.TypeTestcases:
		return ev.Type, gin.H{"data": ev.Data}
	case events.TypeCancelled, events.TypeError:
		return ev.Type, gin.H{"message": ev.Content}
	case events.TypeDone:
		return ev.Type, streamhub.NewDonePayload(conversationID)
	}
	return ev.Type, gin.H{}
}

func writeFrame(c *gin.Context, name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}
