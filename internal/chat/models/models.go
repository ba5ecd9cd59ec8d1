package models

import "time"

// ReplyStatus tracks the lifecycle of a single agent turn.
// Transitions are monotonic: starting -> running -> terminal.
type ReplyStatus string

const (
	ReplyStatusStarting  ReplyStatus = "starting"
	ReplyStatusRunning   ReplyStatus = "running"
	ReplyStatusCompleted ReplyStatus = "completed"
	ReplyStatusCancelled ReplyStatus = "cancelled"
	ReplyStatusFailed    ReplyStatus = "failed"
)

// IsTerminal reports whether the status absorbs further transitions.
func (s ReplyStatus) IsTerminal() bool {
	switch s {
	case ReplyStatusCompleted, ReplyStatusCancelled, ReplyStatusFailed:
		return true
	}
	return false
}

// PlanStatus is the lifecycle of a coordinator plan projection.
type PlanStatus string

const (
	PlanStatusRunning   PlanStatus = "running"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusFailed    PlanStatus = "failed"
)

// User is a registered account. Authentication is out of scope; the
// dev header middleware resolves a user id per request.
type User struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Conversation groups messages and replies under one thread.
type Conversation struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Message is one durable turn in a conversation.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	UserID         string    `db:"user_id" json:"user_id"`
	Role           string    `db:"role" json:"role"`
	Content        string    `db:"content" json:"content"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// AgentSession is the durable record of one spawned agent subprocess.
type AgentSession struct {
	ID             string      `db:"id" json:"id"`
	ReplyID        string      `db:"reply_id" json:"reply_id"`
	ConversationID string      `db:"conversation_id" json:"conversation_id"`
	UserID         string      `db:"user_id" json:"user_id"`
	Status         ReplyStatus `db:"status" json:"status"`
	PID            int         `db:"pid" json:"pid"`
	StartedAt      time.Time   `db:"started_at" json:"started_at"`
	FinishedAt     *time.Time  `db:"finished_at" json:"finished_at,omitempty"`
	ErrorMessage   string      `db:"error_message" json:"error_message,omitempty"`
	ExitCode       *int        `db:"exit_code" json:"exit_code,omitempty"`
}

// Plan is the persisted projection of coordinator events, one row per
// conversation. PlanDoc, CompletedPhases and PhaseOutputs are stored as
// JSON text columns.
type Plan struct {
	ID              string     `db:"id" json:"id"`
	ConversationID  string     `db:"conversation_id" json:"conversation_id"`
	Objective       string     `db:"objective" json:"objective"`
	PlanDoc         string     `db:"plan" json:"plan"`
	ActivePhase     *int       `db:"active_phase" json:"active_phase"`
	CompletedPhases string     `db:"completed_phases" json:"completed_phases"`
	PhaseOutputs    string     `db:"phase_outputs" json:"phase_outputs"`
	Status          PlanStatus `db:"status" json:"status"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}
