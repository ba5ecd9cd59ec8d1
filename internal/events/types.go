// Package events provides event types and utilities for the studio event system.
package events

// Event types for replies. Published by the chat service and consumed by the
// websocket gateway, which fans them out to chat rooms.
const (
	ReplyEvent     = "chat.reply.event"
	ReplyState     = "chat.reply.state"
	ReplyFinished  = "chat.reply.finished"
	ReplyCancelled = "chat.reply.cancelled"
	AgentInterrupt = "chat.agent.interrupt"
)
