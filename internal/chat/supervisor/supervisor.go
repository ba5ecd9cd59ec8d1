// Package supervisor spawns, tracks and terminates agent subprocesses.
// The child never talks to us over pipes; its channel back to the
// server is the HTTP callback surface.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentstudio/studio/internal/common/config"
	"github.com/agentstudio/studio/internal/common/logger"
)

// shutdownGrace bounds how long Cleanup waits for children to exit
// before hard-killing them.
const shutdownGrace = 3 * time.Second

// SpawnParams carries everything the agent binary needs on its command
// line.
type SpawnParams struct {
	ReplyID        string
	ConversationID string
	UserID         string
	Query          string // serialized query payload
	Mode           string // direct or coordinator
}

// ExitHandler is invoked from the exit watcher goroutine after the
// process entry has been removed from the maps.
type ExitHandler func(replyID string, exitCode int)

type process struct {
	replyID        string
	conversationID string
	cmd            *exec.Cmd

	mu         sync.Mutex
	exited     bool
	terminated bool
	done       chan struct{}
}

// Supervisor owns the process map and the conversation reply index.
type Supervisor struct {
	cfg    config.AgentConfig
	logger *logger.Logger

	mu     sync.Mutex
	procs  map[string]*process
	byConv map[string]map[string]struct{}
	onExit ExitHandler
}

// New creates a supervisor for the configured agent binary.
func New(cfg config.AgentConfig, log *logger.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		logger: log.WithFields(zap.String("component", "agent-supervisor")),
		procs:  make(map[string]*process),
		byConv: make(map[string]map[string]struct{}),
	}
}

// SetExitHandler registers the callback fired when a child exits. Must
// be called before the first Spawn.
func (s *Supervisor) SetExitHandler(h ExitHandler) {
	s.onExit = h
}

// Spawn forks the agent binary for a reply and begins watching it.
// It returns the child pid.
func (s *Supervisor) Spawn(params SpawnParams, callbackURL string) (int, error) {
	mode := params.Mode
	if mode == "" {
		mode = s.cfg.Mode
	}
	args := []string{
		"--query", params.Query,
		"--llmProvider", s.cfg.LLMProvider,
		"--modelName", s.cfg.ModelName,
		"--apiKey", s.cfg.APIKey,
		"--workspace", s.cfg.Workspace,
		"--conversation_id", params.ConversationID,
		"--reply_id", params.ReplyID,
		"--studio_url", callbackURL,
		"--mode", mode,
	}

	// Not exec.CommandContext: the caller's request context must not
	// kill the agent when the HTTP request completes.
	cmd := exec.Command(s.cfg.Binary, args...)
	// The callback token travels over the environment, never argv.
	cmd.Env = append(os.Environ(), "STUDIO_AGENT_CALLBACKTOKEN="+s.cfg.CallbackToken)
	// Stdio stays detached. The agent reports through HTTP callbacks.
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start agent process: %w", err)
	}

	proc := &process{
		replyID:        params.ReplyID,
		conversationID: params.ConversationID,
		cmd:            cmd,
		done:           make(chan struct{}),
	}

	s.mu.Lock()
	s.procs[params.ReplyID] = proc
	replies, ok := s.byConv[params.ConversationID]
	if !ok {
		replies = make(map[string]struct{})
		s.byConv[params.ConversationID] = replies
	}
	replies[params.ReplyID] = struct{}{}
	s.mu.Unlock()

	pid := cmd.Process.Pid
	s.logger.WithReplyID(params.ReplyID).Info("Agent process started",
		zap.Int("pid", pid), zap.String("mode", mode))

	go s.waitForExit(proc)
	return pid, nil
}

// waitForExit reaps the child and notifies the exit handler. The map
// entry is removed before the handler runs, so the handler observes a
// supervisor that no longer knows the reply.
func (s *Supervisor) waitForExit(proc *process) {
	err := proc.cmd.Wait()

	exitCode := 0
	if err != nil {
		exitCode = -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		s.logger.WithReplyID(proc.replyID).Info("Agent process exited with error",
			zap.Int("exit_code", exitCode), zap.Error(err))
	} else {
		s.logger.WithReplyID(proc.replyID).Info("Agent process exited")
	}

	proc.mu.Lock()
	proc.exited = true
	proc.mu.Unlock()
	close(proc.done)

	s.remove(proc)

	if s.onExit != nil {
		s.onExit(proc.replyID, exitCode)
	}
}

func (s *Supervisor) remove(proc *process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.procs, proc.replyID)
	if replies, ok := s.byConv[proc.conversationID]; ok {
		delete(replies, proc.replyID)
		if len(replies) == 0 {
			delete(s.byConv, proc.conversationID)
		}
	}
}

// Terminate soft-kills the child for replyID and schedules a hard kill
// after the configured grace period. It reports whether a live process
// was found. Repeated calls are no-ops.
func (s *Supervisor) Terminate(replyID string) bool {
	s.mu.Lock()
	proc, ok := s.procs[replyID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	proc.mu.Lock()
	if proc.exited || proc.terminated {
		proc.mu.Unlock()
		return false
	}
	proc.terminated = true
	proc.mu.Unlock()

	log := s.logger.WithReplyID(replyID)
	log.Info("Terminating agent process", zap.Int("pid", proc.cmd.Process.Pid))

	if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.Warn("Failed to signal agent process", zap.Error(err))
	}

	grace := s.cfg.KillGraceDuration()
	go func() {
		select {
		case <-proc.done:
		case <-time.After(grace):
			log.Warn("Agent ignored soft kill, force killing")
			_ = proc.cmd.Process.Kill()
		}
	}()
	return true
}

// TerminateConversation terminates every live reply of a conversation
// and returns the reply ids it acted on.
func (s *Supervisor) TerminateConversation(conversationID string) []string {
	s.mu.Lock()
	var replyIDs []string
	for replyID := range s.byConv[conversationID] {
		replyIDs = append(replyIDs, replyID)
	}
	s.mu.Unlock()

	var terminated []string
	for _, replyID := range replyIDs {
		if s.Terminate(replyID) {
			terminated = append(terminated, replyID)
		}
	}
	return terminated
}

// IsRunning reports whether the child for replyID exists and has not
// exited.
func (s *Supervisor) IsRunning(replyID string) bool {
	s.mu.Lock()
	proc, ok := s.procs[replyID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	proc.mu.Lock()
	defer proc.mu.Unlock()
	return !proc.exited
}

// ActiveReplies returns the live reply ids for a conversation.
func (s *Supervisor) ActiveReplies(conversationID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for replyID := range s.byConv[conversationID] {
		out = append(out, replyID)
	}
	return out
}

// Cleanup terminates every live child on shutdown, hard-killing any
// that outlive the grace period.
func (s *Supervisor) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	procs := make([]*process, 0, len(s.procs))
	for _, proc := range s.procs {
		procs = append(procs, proc)
	}
	s.mu.Unlock()

	if len(procs) == 0 {
		return nil
	}
	s.logger.Info("Terminating live agent processes", zap.Int("count", len(procs)))

	g, _ := errgroup.WithContext(ctx)
	for _, proc := range procs {
		proc := proc
		g.Go(func() error {
			proc.mu.Lock()
			alreadyDown := proc.exited
			proc.terminated = true
			proc.mu.Unlock()
			if alreadyDown {
				return nil
			}

			_ = proc.cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-proc.done:
			case <-time.After(shutdownGrace):
				_ = proc.cmd.Process.Kill()
			case <-ctx.Done():
				_ = proc.cmd.Process.Kill()
			}
			return nil
		})
	}
	return g.Wait()
}
