// Package transcript maintains the per-reply streaming state: the
// accumulated assistant text, the hidden-tool pairing set, and the
// one-shot testcase extraction guard.
package transcript

import (
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/agentstudio/studio/internal/chat/events"
	"github.com/agentstudio/studio/internal/chat/settings"
	"github.com/agentstudio/studio/internal/common/logger"
)

// Extraction fires only once text is long enough to plausibly hold a
// generated testcase document and mentions one of these markers.
var testcaseHints = []string{
	"testcases",
	"interface_name",
	"generate_positive_cases",
	"generate_negative_cases",
	"generate_security_cases",
}

var testcaseBlockRe = regexp.MustCompile(`(?s)\{.*"testcases".*\}`)

const testcaseMinLength = 100

type testcaseDoc struct {
	Status    string            `json:"status"`
	Count     int               `json:"count"`
	Testcases []json.RawMessage `json:"testcases"`
}

// TestcasePayload is the data carried by a downstream testcases event.
type TestcasePayload struct {
	Status    string            `json:"status"`
	Count     int               `json:"count"`
	Testcases []json.RawMessage `json:"testcases"`
}

// Accumulator owns one reply's transient transcript state. Callers
// serialize access per reply; the accumulator itself is not locked.
type Accumulator struct {
	replyID       string
	filter        *settings.ToolFilter
	log           *logger.Logger
	accumulated   strings.Builder
	hiddenToolIDs map[string]struct{}
	extracted     bool
}

func NewAccumulator(replyID string, filter *settings.ToolFilter, log *logger.Logger) *Accumulator {
	return &Accumulator{
		replyID:       replyID,
		filter:        filter,
		log:           log.WithReplyID(replyID),
		hiddenToolIDs: make(map[string]struct{}),
	}
}

// Text returns the full accumulated assistant text so far.
func (a *Accumulator) Text() string {
	return a.accumulated.String()
}

// Process applies one agent event and returns the downstream events to
// publish, in order. A text event yields a chunk and possibly a
// testcases event; hidden tool traffic yields nothing.
func (a *Accumulator) Process(ev events.Event) []events.Event {
	switch ev.Type {
	case events.TypeText:
		a.accumulated.WriteString(ev.Content)
		out := []events.Event{events.Chunk(ev.Content)}
		if tc, ok := a.tryExtractTestcases(); ok {
			out = append(out, tc)
		}
		return out

	case events.TypeThinking:
		return []events.Event{ev}

	case events.TypeToolCall:
		if a.filter.IsHidden(ev.Name) {
			if ev.ID != "" {
				a.hiddenToolIDs[ev.ID] = struct{}{}
			}
			return nil
		}
		ev.Name = a.filter.Display(ev.Name)
		return []events.Event{ev}

	case events.TypeToolResult:
		if a.filter.IsHidden(ev.Name) {
			return nil
		}
		if _, hidden := a.hiddenToolIDs[ev.ID]; hidden {
			return nil
		}
		ev.Name = a.filter.Display(ev.Name)
		return []events.Event{ev}

	case events.TypeCoordinatorEvent:
		return []events.Event{ev}
	}

	a.log.Warn("Dropping event with unexpected type", zap.String("type", ev.Type))
	return nil
}

// tryExtractTestcases scans the accumulated text for an embedded
// testcase JSON document. It succeeds at most once per reply.
func (a *Accumulator) tryExtractTestcases() (events.Event, bool) {
	if a.extracted {
		return events.Event{}, false
	}
	text := a.accumulated.String()
	if len(text) <= testcaseMinLength {
		return events.Event{}, false
	}
	hinted := false
	for _, h := range testcaseHints {
		if strings.Contains(text, h) {
			hinted = true
			break
		}
	}
	if !hinted {
		return events.Event{}, false
	}

	block := testcaseBlockRe.FindString(text)
	if block == "" {
		return events.Event{}, false
	}
	var doc testcaseDoc
	if err := json.Unmarshal([]byte(block), &doc); err != nil {
		return events.Event{}, false
	}
	if len(doc.Testcases) == 0 {
		return events.Event{}, false
	}

	a.extracted = true
	// Status and count come from the document itself when present.
	if doc.Status == "" {
		doc.Status = "unknown"
	}
	if doc.Count == 0 {
		doc.Count = len(doc.Testcases)
	}
	payload, err := json.Marshal(TestcasePayload{
		Status:    doc.Status,
		Count:     doc.Count,
		Testcases: doc.Testcases,
	})
	if err != nil {
		a.log.Error("Failed to encode testcase payload", zap.Error(err))
		return events.Event{}, false
	}
	a.log.Info("Extracted testcases from reply", zap.Int("count", len(doc.Testcases)))
	return events.Event{Type: events.TypeTestcases, Data: payload}, true
}
