package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentstudio/studio/internal/chat/service"
)

type sendRequest struct {
	Message        string   `json:"message" binding:"required"`
	ConversationID string   `json:"conversation_id"`
	UploadedFiles  []string `json:"uploaded_files"`
	Mode           string   `json:"mode"`
}

type interruptRequest struct {
	ReplyID string `json:"reply_id" binding:"required"`
}

// send starts a reply without streaming; clients follow progress over
// the socket gateway.
func (h *ChatHandlers) send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	res, err := h.service.Send(c.Request.Context(), service.SendRequest{
		UserID:         h.userID(c),
		ConversationID: req.ConversationID,
		Message:        req.Message,
		UploadedFiles:  req.UploadedFiles,
		Mode:           req.Mode,
	}, false)
	if err != nil {
		h.logger.Error("Send failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start reply"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": res.ConversationID,
		"reply_id":        res.ReplyID,
		"status":          "processing",
	})
}

// stream starts a reply and plays it back as SSE. The subscription is
// opened before the subprocess starts, so the start frame precedes any
// agent event.
func (h *ChatHandlers) stream(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	res, err := h.service.Send(c.Request.Context(), service.SendRequest{
		UserID:         h.userID(c),
		ConversationID: req.ConversationID,
		Message:        req.Message,
		UploadedFiles:  req.UploadedFiles,
		Mode:           req.Mode,
	}, true)
	if err != nil {
		h.logger.Error("Stream send failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start reply"})
		return
	}

	h.sse.Stream(c, res.ConversationID, res.ReplyID, res.Subscription)
}

func (h *ChatHandlers) interrupt(c *gin.Context) {
	var req interruptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reply_id is required"})
		return
	}

	found, err := h.service.Interrupt(c.Request.Context(), h.userID(c), req.ReplyID)
	switch {
	case errors.Is(err, service.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "not your reply"})
		return
	case errors.Is(err, service.ErrUnknownReply):
		c.JSON(http.StatusOK, gin.H{"success": false})
		return
	case err != nil:
		h.logger.Error("Interrupt failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to interrupt"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": found})
}

func (h *ChatHandlers) listConversations(c *gin.Context) {
	convs, err := h.service.ListConversations(c.Request.Context(), h.userID(c))
	if err != nil {
		h.logger.Error("Failed to list conversations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs, "total": len(convs)})
}

func (h *ChatHandlers) listMessages(c *gin.Context) {
	msgs, err := h.service.ListMessages(c.Request.Context(), h.userID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrNotOwner) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your conversation"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "total": len(msgs)})
}

func (h *ChatHandlers) getPlan(c *gin.Context) {
	plan, err := h.service.GetPlan(c.Request.Context(), h.userID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrNotOwner) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your conversation"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if plan == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no plan for conversation"})
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (h *ChatHandlers) deleteConversation(c *gin.Context) {
	err := h.service.DeleteConversation(c.Request.Context(), h.userID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrNotOwner) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your conversation"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
