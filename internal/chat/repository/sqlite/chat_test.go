package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstudio/studio/internal/chat/models"
)

func setupRepo(t *testing.T) *Repository {
	repo, err := New(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedConversation(t *testing.T, repo *Repository, userID string) *models.Conversation {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.EnsureUser(ctx, userID))
	conv := &models.Conversation{UserID: userID, Title: "first question"}
	require.NoError(t, repo.CreateConversation(ctx, conv))
	return conv
}

func TestConversations(t *testing.T) {
	ctx := context.Background()

	t.Run("create and get round trip", func(t *testing.T) {
		repo := setupRepo(t)
		conv := seedConversation(t, repo, "u1")

		got, err := repo.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, conv.ID, got.ID)
		assert.Equal(t, "u1", got.UserID)
		assert.Equal(t, "first question", got.Title)
	})

	t.Run("list is scoped to the user", func(t *testing.T) {
		repo := setupRepo(t)
		seedConversation(t, repo, "u1")
		seedConversation(t, repo, "u2")

		convs, err := repo.ListConversations(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, convs, 1)
	})

	t.Run("delete removes messages too", func(t *testing.T) {
		repo := setupRepo(t)
		conv := seedConversation(t, repo, "u1")
		require.NoError(t, repo.CreateMessage(ctx, &models.Message{
			ConversationID: conv.ID, UserID: "u1", Role: models.RoleUser, Content: "hi",
		}))

		require.NoError(t, repo.DeleteConversation(ctx, conv.ID))
		msgs, err := repo.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("deleting an unknown conversation fails", func(t *testing.T) {
		repo := setupRepo(t)
		assert.Error(t, repo.DeleteConversation(ctx, "absent"))
	})
}

func TestMessages(t *testing.T) {
	ctx := context.Background()

	t.Run("messages are listed in creation order", func(t *testing.T) {
		repo := setupRepo(t)
		conv := seedConversation(t, repo, "u1")

		for _, content := range []string{"one", "two", "three"} {
			require.NoError(t, repo.CreateMessage(ctx, &models.Message{
				ConversationID: conv.ID, UserID: "u1", Role: models.RoleUser, Content: content,
			}))
		}

		msgs, err := repo.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "one", msgs[0].Content)
		assert.Equal(t, "three", msgs[2].Content)
	})

	t.Run("duplicate message id is silently ignored", func(t *testing.T) {
		repo := setupRepo(t)
		conv := seedConversation(t, repo, "u1")

		msg := &models.Message{
			ID: "m1", ConversationID: conv.ID, UserID: "u1",
			Role: models.RoleAssistant, Content: "answer",
		}
		require.NoError(t, repo.CreateMessage(ctx, msg))
		require.NoError(t, repo.CreateMessage(ctx, &models.Message{
			ID: "m1", ConversationID: conv.ID, UserID: "u1",
			Role: models.RoleAssistant, Content: "changed",
		}))

		msgs, err := repo.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "answer", msgs[0].Content)
	})
}

func TestAgentSessions(t *testing.T) {
	ctx := context.Background()

	t.Run("create, lookup by reply and status transitions", func(t *testing.T) {
		repo := setupRepo(t)
		conv := seedConversation(t, repo, "u1")

		session := &models.AgentSession{
			ReplyID: "r1", ConversationID: conv.ID, UserID: "u1", PID: 1234,
		}
		require.NoError(t, repo.CreateAgentSession(ctx, session))

		got, err := repo.GetAgentSessionByReply(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, models.ReplyStatusStarting, got.Status)
		assert.Equal(t, 1234, got.PID)
		assert.Nil(t, got.FinishedAt)

		require.NoError(t, repo.UpdateAgentSessionStatus(ctx, "r1", models.ReplyStatusRunning))
		got, err = repo.GetAgentSessionByReply(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, models.ReplyStatusRunning, got.Status)
		assert.Nil(t, got.FinishedAt)

		require.NoError(t, repo.UpdateAgentSessionStatus(ctx, "r1", models.ReplyStatusCompleted))
		got, err = repo.GetAgentSessionByReply(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, models.ReplyStatusCompleted, got.Status)
		assert.NotNil(t, got.FinishedAt)
	})

	t.Run("exit code is recorded", func(t *testing.T) {
		repo := setupRepo(t)
		conv := seedConversation(t, repo, "u1")

		require.NoError(t, repo.CreateAgentSession(ctx, &models.AgentSession{
			ReplyID: "r1", ConversationID: conv.ID, UserID: "u1",
		}))

		got, err := repo.GetAgentSessionByReply(ctx, "r1")
		require.NoError(t, err)
		assert.Nil(t, got.ExitCode)

		require.NoError(t, repo.RecordAgentSessionExit(ctx, "r1", 137, "killed by signal"))
		got, err = repo.GetAgentSessionByReply(ctx, "r1")
		require.NoError(t, err)
		require.NotNil(t, got.ExitCode)
		assert.Equal(t, 137, *got.ExitCode)
		assert.Equal(t, "killed by signal", got.ErrorMessage)

		assert.Error(t, repo.RecordAgentSessionExit(ctx, "absent", 0, ""))
	})

	t.Run("duplicate reply_id is rejected", func(t *testing.T) {
		repo := setupRepo(t)
		conv := seedConversation(t, repo, "u1")

		require.NoError(t, repo.CreateAgentSession(ctx, &models.AgentSession{
			ReplyID: "r1", ConversationID: conv.ID, UserID: "u1",
		}))
		assert.Error(t, repo.CreateAgentSession(ctx, &models.AgentSession{
			ReplyID: "r1", ConversationID: conv.ID, UserID: "u1",
		}))
	})

	t.Run("unknown reply lookup fails", func(t *testing.T) {
		repo := setupRepo(t)
		_, err := repo.GetAgentSessionByReply(ctx, "absent")
		assert.Error(t, err)
	})
}

func TestPlans(t *testing.T) {
	ctx := context.Background()

	t.Run("missing plan returns nil without error", func(t *testing.T) {
		repo := setupRepo(t)
		conv := seedConversation(t, repo, "u1")

		plan, err := repo.GetPlanByConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Nil(t, plan)
	})

	t.Run("upsert replaces the row for the conversation", func(t *testing.T) {
		repo := setupRepo(t)
		conv := seedConversation(t, repo, "u1")

		first := &models.Plan{
			ConversationID:  conv.ID,
			Objective:       "first",
			PlanDoc:         `{"objective":"first"}`,
			CompletedPhases: "[]",
			PhaseOutputs:    "{}",
			Status:          models.PlanStatusRunning,
		}
		require.NoError(t, repo.UpsertPlan(ctx, first))

		phase := 2
		second := &models.Plan{
			ConversationID:  conv.ID,
			Objective:       "second",
			PlanDoc:         `{"objective":"second"}`,
			ActivePhase:     &phase,
			CompletedPhases: "[1]",
			PhaseOutputs:    `{"phase_1":{"ok":true}}`,
			Status:          models.PlanStatusRunning,
		}
		require.NoError(t, repo.UpsertPlan(ctx, second))

		got, err := repo.GetPlanByConversation(ctx, conv.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "second", got.Objective)
		require.NotNil(t, got.ActivePhase)
		assert.Equal(t, 2, *got.ActivePhase)
		assert.Equal(t, "[1]", got.CompletedPhases)
	})
}
