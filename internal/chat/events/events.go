// Package events defines the typed agent event union and the parser for
// inbound agent callback payloads.
package events

import "encoding/json"

// Event type tags as sent by the agent and forwarded downstream.
const (
	TypeText             = "text"
	TypeThinking         = "thinking"
	TypeToolCall         = "tool_call"
	TypeToolResult       = "tool_result"
	TypeCoordinatorEvent = "coordinator_event"

	// Synthetic downstream-only types.
	TypeChunk     = "chunk"
	TypeTestcases = "testcases"
	TypeCancelled = "cancelled"
	TypeError     = "error"
	TypeDone      = "done"
	TypeStart     = "start"
	TypeHeartbeat = "heartbeat"
)

// Coordinator event subtypes.
const (
	CoordPlanCreated     = "plan_created"
	CoordPhaseStarted    = "phase_started"
	CoordPhaseCompleted  = "phase_completed"
	CoordTaskCompleted   = "task_completed"
	CoordTaskFailed      = "task_failed"
	CoordExecutionFailed = "execution_failed"
)

// Event is the discriminated union of agent events. Exactly the fields
// relevant to Type are populated; the rest stay zero.
type Event struct {
	Type string `json:"type"`

	// text / thinking / chunk / cancelled / error
	Content string `json:"content,omitempty"`

	// tool_call / tool_result
	ID      string          `json:"id,omitempty"`
	Name    string          `json:"name,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
	Output  string          `json:"output,omitempty"`
	Success bool            `json:"success,omitempty"`

	// coordinator_event
	EventType string          `json:"event_type,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Text builds a text event.
func Text(content string) Event { return Event{Type: TypeText, Content: content} }

// Thinking builds a thinking event.
func Thinking(content string) Event { return Event{Type: TypeThinking, Content: content} }

// Chunk builds a downstream text-delta event.
func Chunk(content string) Event { return Event{Type: TypeChunk, Content: content} }
