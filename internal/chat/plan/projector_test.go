package plan

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstudio/studio/internal/chat/events"
	"github.com/agentstudio/studio/internal/chat/models"
	"github.com/agentstudio/studio/internal/common/logger"
)

type memStore struct {
	plans   map[string]*models.Plan
	failGet bool
	failPut bool
}

func newMemStore() *memStore {
	return &memStore{plans: make(map[string]*models.Plan)}
}

func (s *memStore) GetPlanByConversation(_ context.Context, conversationID string) (*models.Plan, error) {
	if s.failGet {
		return nil, errors.New("store down")
	}
	row, ok := s.plans[conversationID]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (s *memStore) UpsertPlan(_ context.Context, plan *models.Plan) error {
	if s.failPut {
		return errors.New("store down")
	}
	cp := *plan
	s.plans[plan.ConversationID] = &cp
	return nil
}

func setupProjector(t *testing.T) (*Projector, *memStore) {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	store := newMemStore()
	return NewProjector(store, log), store
}

func coord(eventType, data string) events.Event {
	return events.Event{
		Type:      events.TypeCoordinatorEvent,
		EventType: eventType,
		Data:      json.RawMessage(data),
	}
}

func TestPlanLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("full run reaches completed with ordered phases", func(t *testing.T) {
		p, store := setupProjector(t)

		p.Apply(ctx, "c1", coord("plan_created", `{"plan":{"objective":"O","phases":[{"phase":1,"name":"A"},{"phase":2,"name":"B"}]}}`))
		p.Apply(ctx, "c1", coord("phase_started", `{"phase":1}`))
		p.Apply(ctx, "c1", coord("phase_completed", `{"phase":1,"evaluation":{"ok":true}}`))
		p.Apply(ctx, "c1", coord("phase_started", `{"phase":2}`))
		p.Apply(ctx, "c1", coord("phase_completed", `{"phase":2}`))
		p.Apply(ctx, "c1", coord("task_completed", `{}`))

		row := store.plans["c1"]
		require.NotNil(t, row)
		assert.Equal(t, "O", row.Objective)
		assert.Nil(t, row.ActivePhase)
		assert.Equal(t, "[1,2]", row.CompletedPhases)
		assert.Equal(t, models.PlanStatusCompleted, row.Status)

		outputs, err := decodeOutputs(row.PhaseOutputs)
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, string(outputs["phase_1"]))
		_, hasPhase2 := outputs["phase_2"]
		assert.False(t, hasPhase2)
	})

	t.Run("task_failed marks the plan failed", func(t *testing.T) {
		p, store := setupProjector(t)

		p.Apply(ctx, "c1", coord("plan_created", `{"plan":{"objective":"O"}}`))
		p.Apply(ctx, "c1", coord("task_failed", `{}`))

		assert.Equal(t, models.PlanStatusFailed, store.plans["c1"].Status)
	})

	t.Run("execution_failed marks the plan failed", func(t *testing.T) {
		p, store := setupProjector(t)

		p.Apply(ctx, "c1", coord("plan_created", `{"plan":{"objective":"O"}}`))
		p.Apply(ctx, "c1", coord("execution_failed", `{"error":"boom"}`))

		assert.Equal(t, models.PlanStatusFailed, store.plans["c1"].Status)
	})

	t.Run("plan_created overwrites the previous plan for the conversation", func(t *testing.T) {
		p, store := setupProjector(t)

		p.Apply(ctx, "c1", coord("plan_created", `{"plan":{"objective":"first"}}`))
		p.Apply(ctx, "c1", coord("phase_started", `{"phase":1}`))
		p.Apply(ctx, "c1", coord("plan_created", `{"plan":{"objective":"second"}}`))

		row := store.plans["c1"]
		assert.Equal(t, "second", row.Objective)
		assert.Nil(t, row.ActivePhase)
		assert.Equal(t, "[]", row.CompletedPhases)
	})
}

func TestOutOfOrderPhases(t *testing.T) {
	ctx := context.Background()

	t.Run("completed phases only grow and active phase follows starts", func(t *testing.T) {
		p, store := setupProjector(t)

		p.Apply(ctx, "c1", coord("plan_created", `{"plan":{"objective":"O","phases":[{"phase":1},{"phase":2}]}}`))
		p.Apply(ctx, "c1", coord("phase_started", `{"phase":2}`))
		require.NotNil(t, store.plans["c1"].ActivePhase)
		assert.Equal(t, 2, *store.plans["c1"].ActivePhase)

		p.Apply(ctx, "c1", coord("phase_started", `{"phase":1}`))
		assert.Equal(t, 1, *store.plans["c1"].ActivePhase)

		// Completing a phase other than the active one keeps it active.
		p.Apply(ctx, "c1", coord("phase_completed", `{"phase":2}`))
		row := store.plans["c1"]
		require.NotNil(t, row.ActivePhase)
		assert.Equal(t, 1, *row.ActivePhase)
		assert.Equal(t, "[2]", row.CompletedPhases)

		p.Apply(ctx, "c1", coord("phase_completed", `{"phase":1}`))
		row = store.plans["c1"]
		assert.Nil(t, row.ActivePhase)
		assert.Equal(t, "[2,1]", row.CompletedPhases)
	})

	t.Run("repeated completion does not duplicate the phase", func(t *testing.T) {
		p, store := setupProjector(t)

		p.Apply(ctx, "c1", coord("plan_created", `{"plan":{"objective":"O"}}`))
		p.Apply(ctx, "c1", coord("phase_completed", `{"phase":1}`))
		p.Apply(ctx, "c1", coord("phase_completed", `{"phase":1}`))

		assert.Equal(t, "[1]", store.plans["c1"].CompletedPhases)
	})

	t.Run("phase events without a plan row are dropped", func(t *testing.T) {
		p, store := setupProjector(t)

		p.Apply(ctx, "c1", coord("phase_started", `{"phase":1}`))
		assert.Empty(t, store.plans)
	})
}

func TestProjectorResilience(t *testing.T) {
	ctx := context.Background()

	t.Run("store failures never panic or propagate", func(t *testing.T) {
		p, store := setupProjector(t)
		store.failGet = true
		store.failPut = true

		p.Apply(ctx, "c1", coord("plan_created", `{"plan":{"objective":"O"}}`))
		p.Apply(ctx, "c1", coord("phase_started", `{"phase":1}`))
		p.Apply(ctx, "c1", coord("task_completed", `{}`))
	})

	t.Run("non-coordinator events are ignored", func(t *testing.T) {
		p, store := setupProjector(t)

		p.Apply(ctx, "c1", events.Text("hello"))
		assert.Empty(t, store.plans)
	})

	t.Run("unreadable payload is dropped", func(t *testing.T) {
		p, store := setupProjector(t)

		p.Apply(ctx, "c1", coord("plan_created", `"not an object"`))
		assert.Empty(t, store.plans)
	})
}
