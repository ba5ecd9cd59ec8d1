package sse

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstudio/studio/internal/chat/events"
	"github.com/agentstudio/studio/internal/chat/streamhub"
	"github.com/agentstudio/studio/internal/common/logger"
)

type frame struct {
	event string
	data  string
}

func parseFrames(t *testing.T, body string) []frame {
	t.Helper()
	var out []frame
	for _, block := range strings.Split(body, "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		var f frame
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				f.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				f.data = strings.TrimPrefix(line, "data: ")
			}
		}
		require.NotEmpty(t, f.event, "frame without event name: %q", block)
		out = append(out, f)
	}
	return out
}

func setupStream(t *testing.T) (*Writer, *streamhub.Hub) {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return NewWriter(log), streamhub.New("r1", "c1", log)
}

func runStream(t *testing.T, w *Writer, hub *streamhub.Hub) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest("POST", "/api/chat/stream", nil)

	done := make(chan struct{})
	sub := hub.Subscribe()
	go func() {
		w.Stream(c, "c1", "r1", sub)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not finish")
	}
	return rec
}

func TestStream(t *testing.T) {
	t.Run("start frame precedes agent events and done closes", func(t *testing.T) {
		w, hub := setupStream(t)

		go func() {
			hub.Publish(events.Chunk("Hello"))
			hub.Publish(events.Chunk(" world"))
			hub.Close(streamhub.ReasonDone)
		}()
		rec := runStream(t, w, hub)

		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
		assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

		frames := parseFrames(t, rec.Body.String())
		require.Len(t, frames, 4)
		assert.Equal(t, "start", frames[0].event)
		assert.JSONEq(t, `{"conversation_id":"c1","reply_id":"r1"}`, frames[0].data)
		assert.Equal(t, "chunk", frames[1].event)
		assert.JSONEq(t, `{"content":"Hello"}`, frames[1].data)
		assert.Equal(t, "chunk", frames[2].event)
		assert.Equal(t, "done", frames[3].event)

		var donePayload struct {
			ConversationID string `json:"conversation_id"`
			Timestamp      string `json:"timestamp"`
		}
		require.NoError(t, json.Unmarshal([]byte(frames[3].data), &donePayload))
		assert.Equal(t, "c1", donePayload.ConversationID)
		assert.NotEmpty(t, donePayload.Timestamp)
	})

	t.Run("event payloads match their wire shapes", func(t *testing.T) {
		w, hub := setupStream(t)

		go func() {
			hub.Publish(events.Thinking("pondering"))
			hub.Publish(events.Event{Type: events.TypeToolCall, ID: "t1", Name: "fetch", Input: json.RawMessage(`{"url":"x"}`)})
			hub.Publish(events.Event{Type: events.TypeToolResult, ID: "t1", Name: "fetch", Output: "body", Success: true})
			hub.Publish(events.Event{Type: events.TypeCoordinatorEvent, EventType: "phase_started", Data: json.RawMessage(`{"phase":1}`)})
			hub.Publish(events.Event{Type: events.TypeCancelled, Content: "stopped"})
			hub.Close(streamhub.ReasonCancelled)
		}()
		rec := runStream(t, w, hub)

		frames := parseFrames(t, rec.Body.String())
		require.Len(t, frames, 7)
		assert.Equal(t, "thinking", frames[1].event)
		assert.JSONEq(t, `{"content":"pondering"}`, frames[1].data)
		assert.Equal(t, "tool_call", frames[2].event)
		assert.JSONEq(t, `{"id":"t1","name":"fetch","input":{"url":"x"}}`, frames[2].data)
		assert.Equal(t, "tool_result", frames[3].event)
		assert.JSONEq(t, `{"id":"t1","name":"fetch","output":"body","success":true}`, frames[3].data)
		assert.Equal(t, "coordinator_event", frames[4].event)
		assert.JSONEq(t, `{"event_type":"phase_started","data":{"phase":1}}`, frames[4].data)
		assert.Equal(t, "cancelled", frames[5].event)
		assert.JSONEq(t, `{"message":"stopped"}`, frames[5].data)
		assert.Equal(t, "done", frames[6].event)
	})

	t.Run("heartbeat fires on idle streams", func(t *testing.T) {
		w, hub := setupStream(t)
		w.heartbeat = 50 * time.Millisecond

		go func() {
			time.Sleep(200 * time.Millisecond)
			hub.Close(streamhub.ReasonDone)
		}()
		rec := runStream(t, w, hub)

		frames := parseFrames(t, rec.Body.String())
		heartbeats := 0
		for _, f := range frames {
			if f.event == "heartbeat" {
				heartbeats++
				assert.JSONEq(t, `{}`, f.data)
			}
		}
		assert.GreaterOrEqual(t, heartbeats, 1)
	})
}
