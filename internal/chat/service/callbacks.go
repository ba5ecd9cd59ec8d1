package service

import (
	"context"

	"go.uber.org/zap"

	chatevents "github.com/agentstudio/studio/internal/chat/events"
	"github.com/agentstudio/studio/internal/chat/kvstate"
	"github.com/agentstudio/studio/internal/chat/models"
	"github.com/agentstudio/studio/internal/chat/streamhub"
)

// PushEvents ingests one raw callback body from the agent. Events flow
// accumulator -> projector -> hub -> broadcast, in payload order.
func (s *Service) PushEvents(ctx context.Context, body []byte) error {
	replyID, evs, err := s.parser.ParsePayload(body)
	if err != nil {
		return err
	}

	r := s.lookup(replyID)
	if r == nil {
		s.logger.WithReplyID(replyID).Warn("Dropping callback for unknown reply")
		return ErrUnknownReply
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.IsTerminal() {
		s.logger.WithReplyID(replyID).Debug("Dropping callback after terminal state")
		return nil
	}

	for _, ev := range evs {
		downstream := r.acc.Process(ev)
		if ev.Type == chatevents.TypeCoordinatorEvent {
			s.projector.Apply(ctx, r.conversationID, ev)
		}
		for _, out := range downstream {
			r.hub.Publish(out)
			s.broadcastEvent(ctx, r, out)
		}
	}
	return nil
}

// PushFinished handles the agent's terminal callback: flush the
// transcript, complete the durable record and close the hub.
func (s *Service) PushFinished(ctx context.Context, replyID string) error {
	r := s.lookup(replyID)
	if r == nil {
		s.logger.WithReplyID(replyID).Warn("Dropping finished signal for unknown reply")
		return ErrUnknownReply
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.IsTerminal() {
		return nil
	}
	r.status = models.ReplyStatusCompleted

	log := s.logger.WithReplyID(replyID)
	s.flushTranscriptLocked(ctx, r, log)
	if err := s.repo.UpdateAgentSessionStatus(ctx, replyID, models.ReplyStatusCompleted); err != nil {
		log.Error("Failed to mark session completed", zap.Error(err))
	}
	s.kv.SnapshotReply(ctx, kvstate.ReplySnapshot{
		ReplyID:        replyID,
		ConversationID: r.conversationID,
		UserID:         r.userID,
		Status:         models.ReplyStatusCompleted,
	})

	r.hub.Close(streamhub.ReasonDone)
	s.broadcastFinished(ctx, r)
	s.broadcastReplyingState(ctx, r.conversationID, false)
	s.forget(replyID)

	log.Info("Reply completed")
	return nil
}

// handleExit runs on the supervisor's exit watcher goroutine. A child
// that dies without a finished callback becomes a failed reply with
// its partial transcript preserved.
func (s *Service) handleExit(replyID string, exitCode int) {
	ctx := context.Background()
	r := s.lookup(replyID)
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.IsTerminal() {
		return
	}
	r.status = models.ReplyStatusFailed

	log := s.logger.WithReplyID(replyID)
	log.Warn("Agent exited without finished signal", zap.Int("exit_code", exitCode))

	s.flushTranscriptLocked(ctx, r, log)
	if err := s.repo.UpdateAgentSessionStatus(ctx, replyID, models.ReplyStatusFailed); err != nil {
		log.Error("Failed to mark session failed", zap.Error(err))
	}
	if err := s.repo.RecordAgentSessionExit(ctx, replyID, exitCode, crashMessage); err != nil {
		log.Error("Failed to record exit code", zap.Error(err))
	}
	s.kv.SnapshotReply(ctx, kvstate.ReplySnapshot{
		ReplyID:        replyID,
		ConversationID: r.conversationID,
		UserID:         r.userID,
		Status:         models.ReplyStatusFailed,
	})

	errEv := chatevents.Event{
		Type:    chatevents.TypeError,
		Content: crashMessage,
	}
	r.hub.Publish(errEv)
	s.broadcastEvent(ctx, r, errEv)
	r.hub.Close(streamhub.ReasonFailed)

	s.broadcastReplyingState(ctx, r.conversationID, false)
	s.forget(replyID)
}
