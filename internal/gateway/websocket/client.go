package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentstudio/studio/internal/common/logger"
	ws "github.com/agentstudio/studio/pkg/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB
)

// Client represents a single WebSocket connection
type Client struct {
	ID     string
	conn   *websocket.Conn
	hub    *Hub
	send   chan []byte
	rooms  map[string]bool
	agent  bool
	logger *logger.Logger
}

// NewClient creates a new WebSocket client. Agent clients additionally
// receive interrupt notifications.
func NewClient(id string, conn *websocket.Conn, hub *Hub, agent bool, log *logger.Logger) *Client {
	return &Client{
		ID:     id,
		conn:   conn,
		hub:    hub,
		send:   make(chan []byte, 256),
		rooms:  make(map[string]bool),
		agent:  agent,
		logger: log.WithFields(zap.String("client_id", id)),
	}
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg ws.Message
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Error("Failed to parse message", zap.Error(err))
			c.sendError("", "", ws.ErrorCodeBadRequest, "Invalid message format")
			continue
		}

		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *ws.Message) {
	c.logger.Debug("Received message",
		zap.String("action", msg.Action),
		zap.String("id", msg.ID))

	switch msg.Action {
	case ws.ActionJoinChatRoom:
		c.handleJoin(msg)
	case ws.ActionLeaveChatRoom:
		c.handleLeave(msg)
	case ws.ActionHealthCheck:
		resp, _ := ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
			"status":  "ok",
			"service": "studio",
		})
		c.sendMessage(resp)
	default:
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Unknown action: "+msg.Action)
	}
}

// RoomRequest is the payload for joinChatRoom and leaveChatRoom.
type RoomRequest struct {
	ConversationID string `json:"conversation_id"`
}

func (c *Client) handleJoin(msg *ws.Message) {
	var req RoomRequest
	if err := msg.ParsePayload(&req); err != nil {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error())
		return
	}
	if req.ConversationID == "" {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeValidation, "conversation_id is required")
		return
	}

	c.hub.JoinRoom(c, ws.ChatRoom(req.ConversationID))

	resp, _ := ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"success":         true,
		"conversation_id": req.ConversationID,
	})
	c.sendMessage(resp)
}

func (c *Client) handleLeave(msg *ws.Message) {
	var req RoomRequest
	if err := msg.ParsePayload(&req); err != nil {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error())
		return
	}
	if req.ConversationID == "" {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeValidation, "conversation_id is required")
		return
	}

	c.hub.LeaveRoom(c, ws.ChatRoom(req.ConversationID))

	resp, _ := ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"success":         true,
		"conversation_id": req.ConversationID,
	})
	c.sendMessage(resp)
}

func (c *Client) sendMessage(msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	select {
	case c.send <- data:
	default:
		c.logger.Warn("Client send buffer full")
	}
}

func (c *Client) sendError(id, action, code, message string) {
	msg, err := ws.NewError(id, action, code, message)
	if err != nil {
		c.logger.Error("Failed to create error message", zap.Error(err))
		return
	}
	c.sendMessage(msg)
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Batch additional queued messages
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
