// Package handlers exposes the chat HTTP surface: the client API, the
// SSE stream, and the agent callback endpoints.
package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentstudio/studio/internal/chat/service"
	"github.com/agentstudio/studio/internal/chat/sse"
	"github.com/agentstudio/studio/internal/common/config"
	"github.com/agentstudio/studio/internal/common/logger"
	"github.com/agentstudio/studio/internal/storage"
)

// ChatHandlers wires the chat service into gin.
type ChatHandlers struct {
	service *service.Service
	uploads *storage.FileStore
	sse     *sse.Writer
	cfg     *config.Config
	logger  *logger.Logger
}

func NewChatHandlers(svc *service.Service, uploads *storage.FileStore, cfg *config.Config, log *logger.Logger) *ChatHandlers {
	return &ChatHandlers{
		service: svc,
		uploads: uploads,
		sse:     sse.NewWriter(log),
		cfg:     cfg,
		logger:  log.WithFields(zap.String("component", "chat-handlers")),
	}
}

// RegisterRoutes mounts the client API and agent callback routes.
func (h *ChatHandlers) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		chat := api.Group("/chat")
		chat.POST("/send", h.send)
		chat.POST("/stream", h.stream)
		chat.POST("/interrupt", h.interrupt)
		chat.POST("/upload", h.upload)

		conversations := api.Group("/conversations")
		conversations.GET("", h.listConversations)
		conversations.GET("/:id/messages", h.listMessages)
		conversations.GET("/:id/plan", h.getPlan)
		conversations.DELETE("/:id", h.deleteConversation)
	}

	// Agent callbacks. Authenticated by shared secret when configured,
	// otherwise trusted to be network-isolated.
	trpc := router.Group("/trpc", h.requireCallbackToken)
	trpc.POST("/pushMessageToChatAgent", h.pushMessage)
	trpc.POST("/pushFinishedSignalToChatAgent", h.pushFinished)
}

// userID resolves the request's authenticated user. Authentication
// terminates upstream; in development the id arrives in a header.
func (h *ChatHandlers) userID(c *gin.Context) string {
	if id := c.GetHeader(h.cfg.Auth.DevUserHeader); id != "" {
		return id
	}
	return "anonymous"
}
