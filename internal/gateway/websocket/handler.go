package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentstudio/studio/internal/common/logger"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: In production, validate origin
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws_handler")),
	}
}

// HandleClient upgrades a browser connection and serves chat rooms.
func (h *Handler) HandleClient(c *gin.Context) {
	h.serve(c, false)
}

// HandleAgent upgrades an agent-side connection. Agent connections
// additionally receive interrupt notifications.
func (h *Handler) HandleAgent(c *gin.Context) {
	h.serve(c, true)
}

func (h *Handler) serve(c *gin.Context, agent bool) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	h.logger.Debug("WebSocket connection established",
		zap.String("client_id", clientID),
		zap.Bool("agent", agent),
		zap.String("remote_addr", c.Request.RemoteAddr),
	)

	client := NewClient(clientID, conn, h.hub, agent, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump()
}
