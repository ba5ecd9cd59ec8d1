package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstudio/studio/internal/chat/repository/sqlite"
	"github.com/agentstudio/studio/internal/chat/service"
	"github.com/agentstudio/studio/internal/chat/settings"
	"github.com/agentstudio/studio/internal/chat/supervisor"
	"github.com/agentstudio/studio/internal/common/config"
	"github.com/agentstudio/studio/internal/common/logger"
	"github.com/agentstudio/studio/internal/events/bus"
	"github.com/agentstudio/studio/internal/storage"
)

const testUserHeader = "X-Dev-User"

type webFixture struct {
	router *gin.Engine
	svc    *service.Service
	cfg    *config.Config
}

func setupRouter(t *testing.T, callbackToken string) *webFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	binary := filepath.Join(t.TempDir(), "agent.sh")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\nsleep 30\n"), 0o755))

	repo, err := sqlite.New(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	cfg := &config.Config{}
	cfg.Server.Port = 8000
	cfg.Agent = config.AgentConfig{
		Binary:        binary,
		LLMProvider:   "test",
		ModelName:     "test-model",
		Workspace:     t.TempDir(),
		Mode:          "direct",
		KillGrace:     1,
		CallbackToken: callbackToken,
	}
	cfg.Storage = config.StorageConfig{UploadRoot: t.TempDir(), RetentionDays: 7}
	cfg.Auth.DevUserHeader = testUserHeader

	memBus := bus.NewMemoryEventBus(log)
	sup := supervisor.New(cfg.Agent, log)
	svc := service.New(cfg, repo, sup, settings.NewToolFilter(nil, nil), memBus, nil, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	uploads, err := storage.NewFileStore(cfg.Storage, log)
	require.NoError(t, err)

	router := gin.New()
	NewChatHandlers(svc, uploads, cfg, log).RegisterRoutes(router)
	return &webFixture{router: router, svc: svc, cfg: cfg}
}

func doJSON(f *webFixture, method, path, user string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestSendEndpoint(t *testing.T) {
	f := setupRouter(t, "")

	t.Run("starts a reply", func(t *testing.T) {
		w := doJSON(f, http.MethodPost, "/api/chat/send", "alice",
			gin.H{"message": "hello there"}, nil)

		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "processing", body["status"])
		assert.NotEmpty(t, body["conversation_id"])
		assert.NotEmpty(t, body["reply_id"])
	})

	t.Run("rejects missing message", func(t *testing.T) {
		w := doJSON(f, http.MethodPost, "/api/chat/send", "alice", gin.H{}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestInterruptEndpoint(t *testing.T) {
	f := setupRouter(t, "")

	w := doJSON(f, http.MethodPost, "/api/chat/send", "alice",
		gin.H{"message": "long running task"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	replyID := decode(t, w)["reply_id"].(string)

	t.Run("forbids another user", func(t *testing.T) {
		w := doJSON(f, http.MethodPost, "/api/chat/interrupt", "mallory",
			gin.H{"reply_id": replyID}, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("cancels the owner's reply", func(t *testing.T) {
		w := doJSON(f, http.MethodPost, "/api/chat/interrupt", "alice",
			gin.H{"reply_id": replyID}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, decode(t, w)["success"])
	})

	t.Run("unknown reply reports failure without error", func(t *testing.T) {
		w := doJSON(f, http.MethodPost, "/api/chat/interrupt", "alice",
			gin.H{"reply_id": "nope"}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, false, decode(t, w)["success"])
	})
}

func TestCallbackEndpoints(t *testing.T) {
	t.Run("orphan event batch answers success", func(t *testing.T) {
		f := setupRouter(t, "")
		payload := gin.H{"replyId": "ghost", "events": []gin.H{{"type": "text", "content": "hi"}}}
		w := doJSON(f, http.MethodPost, "/trpc/pushMessageToChatAgent", "", payload, nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, decode(t, w)["success"])
	})

	t.Run("orphan finished signal answers success", func(t *testing.T) {
		f := setupRouter(t, "")
		w := doJSON(f, http.MethodPost, "/trpc/pushFinishedSignalToChatAgent", "",
			gin.H{"replyId": "ghost"}, nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, decode(t, w)["success"])
	})

	t.Run("rejects body without replyId", func(t *testing.T) {
		f := setupRouter(t, "")
		w := doJSON(f, http.MethodPost, "/trpc/pushMessageToChatAgent", "",
			gin.H{"events": []gin.H{}}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCallbackToken(t *testing.T) {
	f := setupRouter(t, "secret-token")
	payload := gin.H{"replyId": "ghost", "events": []gin.H{}}

	t.Run("rejects missing token", func(t *testing.T) {
		w := doJSON(f, http.MethodPost, "/trpc/pushMessageToChatAgent", "", payload, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects wrong token", func(t *testing.T) {
		w := doJSON(f, http.MethodPost, "/trpc/pushMessageToChatAgent", "", payload,
			map[string]string{"X-Agent-Token": "wrong"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("accepts matching token", func(t *testing.T) {
		w := doJSON(f, http.MethodPost, "/trpc/pushMessageToChatAgent", "", payload,
			map[string]string{"X-Agent-Token": "secret-token"})
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestConversationEndpoints(t *testing.T) {
	f := setupRouter(t, "")

	w := doJSON(f, http.MethodPost, "/api/chat/send", "alice",
		gin.H{"message": "first question"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	convID := decode(t, w)["conversation_id"].(string)

	t.Run("lists own conversations", func(t *testing.T) {
		w := doJSON(f, http.MethodGet, "/api/conversations", "alice", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(1), decode(t, w)["total"])
	})

	t.Run("other users see nothing", func(t *testing.T) {
		w := doJSON(f, http.MethodGet, "/api/conversations", "bob", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(0), decode(t, w)["total"])
	})

	t.Run("messages are owner scoped", func(t *testing.T) {
		path := fmt.Sprintf("/api/conversations/%s/messages", convID)

		w := doJSON(f, http.MethodGet, path, "alice", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(1), decode(t, w)["total"])

		w = doJSON(f, http.MethodGet, path, "bob", nil, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("plan is absent before any coordinator run", func(t *testing.T) {
		w := doJSON(f, http.MethodGet, fmt.Sprintf("/api/conversations/%s/plan", convID), "alice", nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("delete removes the conversation", func(t *testing.T) {
		w := doJSON(f, http.MethodDelete, "/api/conversations/"+convID, "alice", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = doJSON(f, http.MethodGet, "/api/conversations", "alice", nil, nil)
		assert.Equal(t, float64(0), decode(t, w)["total"])
	})
}

func TestUploadEndpoint(t *testing.T) {
	f := setupRouter(t, "")

	multipartReq := func(conversationID string, files map[string]string) *http.Request {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		if conversationID != "" {
			_ = mw.WriteField("conversation_id", conversationID)
		}
		for name, content := range files {
			part, _ := mw.CreateFormFile("files", name)
			_, _ = part.Write([]byte(content))
		}
		mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/api/chat/upload", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set(testUserHeader, "alice")
		return req
	}

	t.Run("stores files and returns their paths", func(t *testing.T) {
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, multipartReq("conv-1", map[string]string{
			"a.txt": "alpha",
			"b.txt": "beta",
		}))

		require.Equal(t, http.StatusOK, w.Code)
		var out uploadResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		assert.True(t, out.Success)
		require.Len(t, out.Files, 2)
		for _, path := range out.Files {
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.NotEmpty(t, data)
		}
	})

	t.Run("requires conversation_id", func(t *testing.T) {
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, multipartReq("", map[string]string{"a.txt": "alpha"}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("requires at least one file", func(t *testing.T) {
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, multipartReq("conv-1", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
