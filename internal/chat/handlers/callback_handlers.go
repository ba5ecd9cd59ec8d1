package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentstudio/studio/internal/chat/service"
)

const callbackTokenHeader = "X-Agent-Token"

// requireCallbackToken enforces the shared callback secret when one is
// configured. Without a token the endpoints rely on network isolation.
func (h *ChatHandlers) requireCallbackToken(c *gin.Context) {
	token := h.cfg.Agent.CallbackToken
	if token == "" {
		c.Next()
		return
	}
	if c.GetHeader(callbackTokenHeader) != token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid agent token"})
		return
	}
	c.Next()
}

// pushMessage ingests an event batch from the agent. Orphan callbacks
// still answer success so the agent never retries into the void.
func (h *ChatHandlers) pushMessage(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unreadable body"})
		return
	}

	if err := h.service.PushEvents(c.Request.Context(), body); err != nil {
		if errors.Is(err, service.ErrUnknownReply) {
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}
		h.logger.Warn("Rejected agent callback", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "malformed payload"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type finishedRequest struct {
	ReplyID string `json:"replyId" binding:"required"`
}

func (h *ChatHandlers) pushFinished(c *gin.Context) {
	var req finishedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "replyId is required"})
		return
	}

	if err := h.service.PushFinished(c.Request.Context(), req.ReplyID); err != nil {
		if errors.Is(err, service.ErrUnknownReply) {
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}
		h.logger.Warn("Rejected finished signal", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
