package transcript

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstudio/studio/internal/chat/events"
	"github.com/agentstudio/studio/internal/chat/settings"
	"github.com/agentstudio/studio/internal/common/logger"
)

func setupAccumulator(t *testing.T, filter *settings.ToolFilter) *Accumulator {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	if filter == nil {
		filter = settings.NewToolFilter(nil, nil)
	}
	return NewAccumulator("r1", filter, log)
}

func TestAccumulateText(t *testing.T) {
	t.Run("text events append and emit chunk deltas", func(t *testing.T) {
		acc := setupAccumulator(t, nil)

		out := acc.Process(events.Text("Hello"))
		require.Len(t, out, 1)
		assert.Equal(t, events.TypeChunk, out[0].Type)
		assert.Equal(t, "Hello", out[0].Content)

		out = acc.Process(events.Text(" world"))
		require.Len(t, out, 1)
		assert.Equal(t, " world", out[0].Content)

		assert.Equal(t, "Hello world", acc.Text())
	})

	t.Run("thinking passes through without accumulating", func(t *testing.T) {
		acc := setupAccumulator(t, nil)

		out := acc.Process(events.Thinking("pondering"))
		require.Len(t, out, 1)
		assert.Equal(t, events.TypeThinking, out[0].Type)
		assert.Empty(t, acc.Text())
	})

	t.Run("coordinator events pass through", func(t *testing.T) {
		acc := setupAccumulator(t, nil)

		ev := events.Event{Type: events.TypeCoordinatorEvent, EventType: "phase_started", Data: json.RawMessage(`{"phase":1}`)}
		out := acc.Process(ev)
		require.Len(t, out, 1)
		assert.Equal(t, events.TypeCoordinatorEvent, out[0].Type)
	})

	t.Run("unknown types are dropped", func(t *testing.T) {
		acc := setupAccumulator(t, nil)
		assert.Empty(t, acc.Process(events.Event{Type: "mystery"}))
	})
}

func TestHiddenToolFiltering(t *testing.T) {
	filter := settings.NewToolFilter([]string{"internal_ping"}, map[string]string{"web_fetch": "Fetch"})

	t.Run("hidden tool_call and its paired result are dropped", func(t *testing.T) {
		acc := setupAccumulator(t, filter)

		out := acc.Process(events.Event{Type: events.TypeToolCall, ID: "t1", Name: "internal_ping"})
		assert.Empty(t, out)

		// Paired result is dropped by id even though name matches too.
		out = acc.Process(events.Event{Type: events.TypeToolResult, ID: "t1", Name: "internal_ping", Output: "ok", Success: true})
		assert.Empty(t, out)
	})

	t.Run("result is dropped by id when name is not hidden", func(t *testing.T) {
		acc := setupAccumulator(t, filter)

		acc.Process(events.Event{Type: events.TypeToolCall, ID: "t1", Name: "internal_ping"})
		out := acc.Process(events.Event{Type: events.TypeToolResult, ID: "t1", Name: "renamed_later", Output: "ok", Success: true})
		assert.Empty(t, out)
	})

	t.Run("visible tools are renamed for display", func(t *testing.T) {
		acc := setupAccumulator(t, filter)

		out := acc.Process(events.Event{Type: events.TypeToolCall, ID: "t2", Name: "web_fetch"})
		require.Len(t, out, 1)
		assert.Equal(t, "Fetch", out[0].Name)
		assert.Equal(t, "t2", out[0].ID)

		out = acc.Process(events.Event{Type: events.TypeToolResult, ID: "t2", Name: "web_fetch", Output: "body", Success: true})
		require.Len(t, out, 1)
		assert.Equal(t, "Fetch", out[0].Name)
	})
}

func TestTestcaseExtraction(t *testing.T) {
	doc := `{"interface_name":"CreateOrder","testcases":[{"name":"ok"},{"name":"missing field"}]}`

	t.Run("extracts once when text is long and hinted", func(t *testing.T) {
		acc := setupAccumulator(t, nil)

		padding := strings.Repeat("analysis ", 15)
		out := acc.Process(events.Text(padding + doc))
		require.Len(t, out, 2)
		assert.Equal(t, events.TypeChunk, out[0].Type)
		assert.Equal(t, events.TypeTestcases, out[1].Type)

		var payload TestcasePayload
		require.NoError(t, json.Unmarshal(out[1].Data, &payload))
		assert.Equal(t, "unknown", payload.Status)
		assert.Equal(t, 2, payload.Count)
		assert.Len(t, payload.Testcases, 2)
	})

	t.Run("status and count in the document are preserved", func(t *testing.T) {
		acc := setupAccumulator(t, nil)

		annotated := `{"interface_name":"CreateOrder","status":"partial","count":5,"testcases":[{"name":"ok"},{"name":"missing field"}]}`
		padding := strings.Repeat("analysis ", 15)
		out := acc.Process(events.Text(padding + annotated))
		require.Len(t, out, 2)

		var payload TestcasePayload
		require.NoError(t, json.Unmarshal(out[1].Data, &payload))
		assert.Equal(t, "partial", payload.Status)
		assert.Equal(t, 5, payload.Count)
		assert.Len(t, payload.Testcases, 2)
	})

	t.Run("never extracts twice for one reply", func(t *testing.T) {
		acc := setupAccumulator(t, nil)

		padding := strings.Repeat("analysis ", 15)
		out := acc.Process(events.Text(padding + doc))
		require.Len(t, out, 2)

		out = acc.Process(events.Text(" and more " + doc))
		require.Len(t, out, 1)
		assert.Equal(t, events.TypeChunk, out[0].Type)
	})

	t.Run("short text is not scanned", func(t *testing.T) {
		acc := setupAccumulator(t, nil)

		out := acc.Process(events.Text(`{"testcases":[{"n":1}]}`))
		require.Len(t, out, 1)
		assert.Equal(t, events.TypeChunk, out[0].Type)
	})

	t.Run("hint without parseable document does not extract", func(t *testing.T) {
		acc := setupAccumulator(t, nil)

		text := strings.Repeat("x", 120) + ` the word testcases appears but there is no JSON here`
		out := acc.Process(events.Text(text))
		require.Len(t, out, 1)
	})

	t.Run("empty testcases array does not extract", func(t *testing.T) {
		acc := setupAccumulator(t, nil)

		text := strings.Repeat("x", 120) + `{"testcases":[]}`
		out := acc.Process(events.Text(text))
		require.Len(t, out, 1)
	})
}
