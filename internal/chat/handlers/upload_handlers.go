package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type uploadResponse struct {
	Success bool     `json:"success"`
	Files   []string `json:"files"`
}

// upload accepts a multipart form with one or more "files" parts and
// stores them for the given conversation. The returned paths are what
// clients pass back as uploaded_files on /chat/send.
func (h *ChatHandlers) upload(c *gin.Context) {
	conversationID := c.PostForm("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files provided"})
		return
	}

	uid := h.userID(c)
	stored := make([]string, 0, len(files))
	for _, fh := range files {
		src, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
			return
		}
		path, err := h.uploads.Save(uid, conversationID, fh.Filename, src)
		src.Close()
		if err != nil {
			h.logger.Error("Failed to store upload",
				zap.String("filename", fh.Filename), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
			return
		}
		stored = append(stored, path)
	}

	h.logger.Info("Stored uploads",
		zap.String("conversation_id", conversationID),
		zap.Int("count", len(stored)))

	c.JSON(http.StatusOK, uploadResponse{Success: true, Files: stored})
}
