package websocket

// Client actions.
const (
	ActionHealthCheck   = "healthCheck"
	ActionJoinChatRoom  = "joinChatRoom"
	ActionLeaveChatRoom = "leaveChatRoom"
)

// Server push actions, fanned out to the members of a chat room.
const (
	ActionPushReplies       = "pushReplies"
	ActionPushReplyingState = "pushReplyingState"
	ActionPushFinished      = "pushFinished"
	ActionPushCancelled     = "pushCancelled"
)

// ActionInterrupt is pushed to agent-side connections only.
const ActionInterrupt = "interrupt"

// Error codes.
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeInternalError = "INTERNAL_ERROR"
)

// ChatRoom returns the room name for a conversation.
func ChatRoom(conversationID string) string {
	return "chat-" + conversationID
}
