package events

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/agentstudio/studio/internal/common/logger"
)

// CallbackPayload is the body of POST /trpc/pushMessageToChatAgent.
// Exactly one of Events or Msg is expected; when both are present the
// structured form wins.
type CallbackPayload struct {
	ReplyID string            `json:"replyId"`
	Events  []json.RawMessage `json:"events,omitempty"`
	Msg     *LegacyMessage    `json:"msg,omitempty"`
}

// LegacyMessage is the older callback shape where a single message
// carries content blocks instead of a flat event list.
type LegacyMessage struct {
	ID      string          `json:"id,omitempty"`
	Content json.RawMessage `json:"content"`
}

type legacyBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

// Parser decodes raw callback payloads into typed events. Malformed
// individual events are logged and skipped; a batch never fails as a
// whole.
type Parser struct {
	log *logger.Logger
}

func NewParser(log *logger.Logger) *Parser {
	return &Parser{log: log}
}

// ParsePayload decodes a raw request body. It returns the reply id and
// the typed events, in payload order.
func (p *Parser) ParsePayload(body []byte) (string, []Event, error) {
	var payload CallbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil, fmt.Errorf("failed to decode callback payload: %w", err)
	}
	if payload.ReplyID == "" {
		return "", nil, fmt.Errorf("callback payload missing replyId")
	}

	if len(payload.Events) > 0 {
		return payload.ReplyID, p.parseEvents(payload.ReplyID, payload.Events), nil
	}
	if payload.Msg != nil {
		return payload.ReplyID, p.parseLegacy(payload.ReplyID, payload.Msg), nil
	}
	return payload.ReplyID, nil, nil
}

func (p *Parser) parseEvents(replyID string, raw []json.RawMessage) []Event {
	out := make([]Event, 0, len(raw))
	for i, r := range raw {
		var ev Event
		if err := json.Unmarshal(r, &ev); err != nil {
			p.log.WithReplyID(replyID).Warn("Skipping malformed event",
				zap.Int("index", i), zap.Error(err))
			continue
		}
		switch ev.Type {
		case TypeText, TypeThinking, TypeToolCall, TypeToolResult, TypeCoordinatorEvent:
			out = append(out, ev)
		default:
			p.log.WithReplyID(replyID).Warn("Skipping event with unknown type",
				zap.Int("index", i), zap.String("type", ev.Type))
		}
	}
	return out
}

// parseLegacy synthesizes text/thinking events from a legacy message.
// The content field is either a plain string or an array of blocks.
func (p *Parser) parseLegacy(replyID string, msg *LegacyMessage) []Event {
	if len(msg.Content) == 0 {
		return nil
	}

	var asString string
	if err := json.Unmarshal(msg.Content, &asString); err == nil {
		if asString == "" {
			return nil
		}
		return []Event{Text(asString)}
	}

	var blocks []legacyBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		p.log.WithReplyID(replyID).Warn("Skipping legacy message with unrecognized content", zap.Error(err))
		return nil
	}

	out := make([]Event, 0, len(blocks))
	for i, b := range blocks {
		switch b.Type {
		case "text":
			out = append(out, Text(b.Text))
		case "thinking":
			out = append(out, Thinking(b.Thinking))
		default:
			p.log.WithReplyID(replyID).Warn("Skipping legacy content block with unknown type",
				zap.Int("index", i), zap.String("type", b.Type))
		}
	}
	return out
}
