// Package main implements a mock agent binary that speaks the studio
// callback protocol over HTTP. It generates simulated replies for rapid
// feature testing and e2e web app tests.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// agentFlags mirrors the command line the supervisor passes to the real
// agent binary.
type agentFlags struct {
	Query          string
	LLMProvider    string
	ModelName      string
	APIKey         string
	Workspace      string
	ConversationID string
	ReplyID        string
	StudioURL      string
	Mode           string
}

func parseFlags() *agentFlags {
	f := &agentFlags{}
	flag.StringVar(&f.Query, "query", "", "query payload (JSON array of message blocks)")
	flag.StringVar(&f.LLMProvider, "llmProvider", "", "LLM provider name")
	flag.StringVar(&f.ModelName, "modelName", "", "model name")
	flag.StringVar(&f.APIKey, "apiKey", "", "provider API key")
	flag.StringVar(&f.Workspace, "workspace", ".", "working directory")
	flag.StringVar(&f.ConversationID, "conversation_id", "", "conversation id")
	flag.StringVar(&f.ReplyID, "reply_id", "", "reply id")
	flag.StringVar(&f.StudioURL, "studio_url", "http://localhost:8000", "callback base URL")
	flag.StringVar(&f.Mode, "mode", "direct", "agent mode: direct or coordinator")
	flag.Parse()
	return f
}

func main() {
	flags := parseFlags()
	if flags.ReplyID == "" {
		fmt.Fprintln(os.Stderr, "mock-agent: --reply_id is required")
		os.Exit(2)
	}

	c := &callbackClient{
		baseURL: strings.TrimRight(flags.StudioURL, "/"),
		replyID: flags.ReplyID,
		token:   os.Getenv("STUDIO_AGENT_CALLBACKTOKEN"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}

	runScenario(c, flags)
}

// callbackClient posts event batches back to the studio backend.
type callbackClient struct {
	baseURL string
	replyID string
	token   string
	http    *http.Client
}

// pushEvents delivers one batch to /trpc/pushMessageToChatAgent.
func (c *callbackClient) pushEvents(events ...map[string]any) {
	c.post("/trpc/pushMessageToChatAgent", map[string]any{
		"replyId": c.replyID,
		"events":  events,
	})
}

// pushFinished signals the end of the reply.
func (c *callbackClient) pushFinished() {
	c.post("/trpc/pushFinishedSignalToChatAgent", map[string]any{
		"replyId": c.replyID,
	})
}

func (c *callbackClient) post(path string, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mock-agent: marshal error: %v\n", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "mock-agent: request error: %v\n", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("X-Agent-Token", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mock-agent: post %s failed: %v\n", path, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "mock-agent: post %s status %d\n", path, resp.StatusCode)
	}
}
