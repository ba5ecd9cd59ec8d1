package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Scenarios are selected by keywords in the query, so e2e tests can
// drive them through the normal /api/chat endpoints.

func runScenario(c *callbackClient, flags *agentFlags) {
	query := strings.ToLower(flags.Query)

	switch {
	case flags.Mode == "coordinator":
		scenarioCoordinator(c, flags.ConversationID)
	case strings.Contains(query, "mock:error"):
		scenarioCrash(c)
	case strings.Contains(query, "mock:tools"):
		scenarioTools(c)
	case strings.Contains(query, "mock:testcases"):
		scenarioTestcases(c)
	case strings.Contains(query, "mock:slow"):
		scenarioSlow(c)
	default:
		scenarioSimpleMessage(c)
	}
}

// scenarioSimpleMessage: thinking then text deltas with fixed 100ms delays.
func scenarioSimpleMessage(c *callbackClient) {
	fixedDelay(100)
	c.pushEvents(map[string]any{"type": "thinking", "content": "Considering the question..."})

	for _, delta := range []string{"This is a ", "simple mock ", "response for ", "e2e testing."} {
		fixedDelay(100)
		c.pushEvents(map[string]any{"type": "text", "content": delta})
	}

	c.pushFinished()
}

// scenarioTools: a visible tool call and its result around a text answer.
func scenarioTools(c *callbackClient) {
	fixedDelay(100)
	input, _ := json.Marshal(map[string]any{"path": "README.md"})
	c.pushEvents(map[string]any{
		"type":  "tool_call",
		"id":    "tool-1",
		"name":  "read_file",
		"input": json.RawMessage(input),
	})

	fixedDelay(100)
	c.pushEvents(map[string]any{
		"type":    "tool_result",
		"id":      "tool-1",
		"name":    "read_file",
		"output":  "# Mock project",
		"success": true,
	})

	fixedDelay(100)
	c.pushEvents(map[string]any{"type": "text", "content": "Read the file successfully."})
	c.pushFinished()
}

// scenarioTestcases: a long answer embedding a testcase document.
func scenarioTestcases(c *callbackClient) {
	fixedDelay(100)
	doc := map[string]any{
		"interface_name": "POST /api/login",
		"testcases": []map[string]any{
			{"name": "valid credentials", "kind": "generate_positive_cases"},
			{"name": "wrong password", "kind": "generate_negative_cases"},
			{"name": "sql injection in username", "kind": "generate_security_cases"},
		},
	}
	encoded, _ := json.Marshal(doc)

	text := "Here are the generated testcases for the interface. " +
		"Each case covers a distinct branch of the login flow.\n" + string(encoded)
	c.pushEvents(map[string]any{"type": "text", "content": text})
	c.pushFinished()
}

// scenarioCoordinator: a two phase plan run to completion.
func scenarioCoordinator(c *callbackClient, conversationID string) {
	coord := func(eventType string, data map[string]any) map[string]any {
		encoded, _ := json.Marshal(data)
		return map[string]any{
			"type":       "coordinator_event",
			"event_type": eventType,
			"data":       json.RawMessage(encoded),
		}
	}

	fixedDelay(100)
	c.pushEvents(coord("plan_created", map[string]any{
		"conversation_id": conversationID,
		"plan": map[string]any{
			"phases": []map[string]any{
				{"number": 1, "title": "Analyze the interface"},
				{"number": 2, "title": "Generate testcases"},
			},
		},
	}))

	for phase := 1; phase <= 2; phase++ {
		fixedDelay(100)
		c.pushEvents(coord("phase_started", map[string]any{"phase": phase}))
		fixedDelay(100)
		c.pushEvents(coord("task_completed", map[string]any{
			"phase":      phase,
			"evaluation": fmt.Sprintf("phase %d finished cleanly", phase),
		}))
		c.pushEvents(coord("phase_completed", map[string]any{"phase": phase}))
	}

	fixedDelay(100)
	c.pushEvents(map[string]any{"type": "text", "content": "Plan executed."})
	c.pushFinished()
}

// scenarioSlow: drips text for a while, useful for interrupt testing.
func scenarioSlow(c *callbackClient) {
	for i := 0; i < 30; i++ {
		fixedDelay(1000)
		c.pushEvents(map[string]any{
			"type":    "text",
			"content": fmt.Sprintf("still working (%d)... ", i+1),
		})
	}
	c.pushFinished()
}

// scenarioCrash: emits partial output then exits without finishing.
func scenarioCrash(c *callbackClient) {
	fixedDelay(100)
	c.pushEvents(map[string]any{"type": "text", "content": "About to fail..."})
	fixedDelay(100)
	os.Exit(1)
}

func fixedDelay(ms int) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}
