// Package plan projects coordinator events into the persisted plan row
// for a conversation.
package plan

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentstudio/studio/internal/chat/events"
	"github.com/agentstudio/studio/internal/chat/models"
	"github.com/agentstudio/studio/internal/common/logger"
)

// Store is the slice of the repository the projector needs.
type Store interface {
	GetPlanByConversation(ctx context.Context, conversationID string) (*models.Plan, error)
	UpsertPlan(ctx context.Context, plan *models.Plan) error
}

// Projector applies coordinator events to plan rows. Updates are
// idempotent and completed phases only ever grow; persistence failures
// are logged and never propagate to the event stream.
type Projector struct {
	store Store
	log   *logger.Logger
}

func NewProjector(store Store, log *logger.Logger) *Projector {
	return &Projector{store: store, log: log}
}

type planDoc struct {
	Objective string          `json:"objective"`
	Phases    json.RawMessage `json:"phases,omitempty"`
}

type planCreatedData struct {
	Plan json.RawMessage `json:"plan"`
}

type phaseData struct {
	Phase      int             `json:"phase"`
	Evaluation json.RawMessage `json:"evaluation,omitempty"`
}

// Apply processes one coordinator event for a conversation.
func (p *Projector) Apply(ctx context.Context, conversationID string, ev events.Event) {
	if ev.Type != events.TypeCoordinatorEvent {
		return
	}
	log := p.log.WithConversationID(conversationID)

	switch ev.EventType {
	case events.CoordPlanCreated:
		p.applyPlanCreated(ctx, conversationID, ev.Data, log)
	case events.CoordPhaseStarted:
		p.applyPhaseStarted(ctx, conversationID, ev.Data, log)
	case events.CoordPhaseCompleted:
		p.applyPhaseCompleted(ctx, conversationID, ev.Data, log)
	case events.CoordTaskCompleted:
		p.applyStatus(ctx, conversationID, models.PlanStatusCompleted, log)
	case events.CoordTaskFailed, events.CoordExecutionFailed:
		p.applyStatus(ctx, conversationID, models.PlanStatusFailed, log)
	default:
		log.Debug("Ignoring coordinator event with unknown type", zap.String("event_type", ev.EventType))
	}
}

func (p *Projector) applyPlanCreated(ctx context.Context, conversationID string, data json.RawMessage, log *logger.Logger) {
	var payload planCreatedData
	if err := json.Unmarshal(data, &payload); err != nil || len(payload.Plan) == 0 {
		log.Warn("Dropping plan_created with unreadable plan", zap.Error(err))
		return
	}
	var doc planDoc
	if err := json.Unmarshal(payload.Plan, &doc); err != nil {
		log.Warn("Dropping plan_created with unreadable plan document", zap.Error(err))
		return
	}

	row := &models.Plan{
		ID:              uuid.NewString(),
		ConversationID:  conversationID,
		Objective:       doc.Objective,
		PlanDoc:         string(payload.Plan),
		ActivePhase:     nil,
		CompletedPhases: "[]",
		PhaseOutputs:    "{}",
		Status:          models.PlanStatusRunning,
	}
	if err := p.store.UpsertPlan(ctx, row); err != nil {
		log.Error("Failed to persist created plan", zap.Error(err))
	}
}

func (p *Projector) applyPhaseStarted(ctx context.Context, conversationID string, data json.RawMessage, log *logger.Logger) {
	var payload phaseData
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Warn("Dropping phase_started with unreadable data", zap.Error(err))
		return
	}
	row := p.load(ctx, conversationID, log)
	if row == nil {
		return
	}

	phase := payload.Phase
	row.ActivePhase = &phase
	row.Status = models.PlanStatusRunning
	p.save(ctx, row, log)
}

func (p *Projector) applyPhaseCompleted(ctx context.Context, conversationID string, data json.RawMessage, log *logger.Logger) {
	var payload phaseData
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Warn("Dropping phase_completed with unreadable data", zap.Error(err))
		return
	}
	row := p.load(ctx, conversationID, log)
	if row == nil {
		return
	}

	completed, err := decodePhases(row.CompletedPhases)
	if err != nil {
		log.Error("Resetting corrupt completed_phases column", zap.Error(err))
		completed = nil
	}
	found := false
	for _, ph := range completed {
		if ph == payload.Phase {
			found = true
			break
		}
	}
	if !found {
		completed = append(completed, payload.Phase)
	}
	row.CompletedPhases = encodePhases(completed)

	if len(payload.Evaluation) > 0 {
		outputs, err := decodeOutputs(row.PhaseOutputs)
		if err != nil {
			log.Error("Resetting corrupt phase_outputs column", zap.Error(err))
			outputs = map[string]json.RawMessage{}
		}
		outputs[phaseKey(payload.Phase)] = payload.Evaluation
		row.PhaseOutputs = encodeOutputs(outputs)
	}

	if row.ActivePhase != nil && *row.ActivePhase == payload.Phase {
		row.ActivePhase = nil
	}
	p.save(ctx, row, log)
}

func (p *Projector) applyStatus(ctx context.Context, conversationID string, status models.PlanStatus, log *logger.Logger) {
	row := p.load(ctx, conversationID, log)
	if row == nil {
		return
	}
	row.Status = status
	if status == models.PlanStatusCompleted {
		row.ActivePhase = nil
	}
	p.save(ctx, row, log)
}

func (p *Projector) load(ctx context.Context, conversationID string, log *logger.Logger) *models.Plan {
	row, err := p.store.GetPlanByConversation(ctx, conversationID)
	if err != nil {
		log.Error("Failed to load plan for conversation", zap.Error(err))
		return nil
	}
	if row == nil {
		log.Warn("Dropping coordinator event for conversation without a plan")
		return nil
	}
	return row
}

func (p *Projector) save(ctx context.Context, row *models.Plan, log *logger.Logger) {
	if err := p.store.UpsertPlan(ctx, row); err != nil {
		log.Error("Failed to persist plan update", zap.Error(err))
	}
}
