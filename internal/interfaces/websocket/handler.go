// Package websocket implements the single-connection streaming adapter
// spec.md §6 calls for: a client opens one websocket, sends a chat
// message, and receives the normalized reply — either as one "chat"
// frame or a sequence of "stream" frames — driven by the same
// request.Processor (C11) the HTTP handlers use. The hub/broadcast
// plumbing (SendToSession) is kept from the teacher's multi-client
// pattern, but nothing here calls it: each reply goes only to the
// connection whose chat frame produced it.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/chatmsg"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/request"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/resolve"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// MessageType labels one WSMessage frame.
type MessageType string

const (
	MessageTypeChat   MessageType = "chat"
	MessageTypeStream MessageType = "stream"
	MessageTypeDone   MessageType = "done"
	MessageTypeError  MessageType = "error"
	MessageTypePing   MessageType = "ping"
	MessageTypePong   MessageType = "pong"
)

// WSMessage is one frame exchanged over the connection.
type WSMessage struct {
	Type      MessageType            `json:"type"`
	ID        string                 `json:"id,omitempty"`
	Content   string                 `json:"content,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// Client is one connected websocket, bound to at most one session.
type Client struct {
	ID        string
	SessionID string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	logger    *zap.Logger
}

// Hub tracks connected clients and drives each one's chat traffic
// through the request processor.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	Processor *request.Processor
	Resolver  *resolve.Resolver
	logger    *zap.Logger
}

// NewHub constructs a Hub bound to the shared request processor.
func NewHub(proc *request.Processor, resolver *resolve.Resolver, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		Processor:  proc,
		Resolver:   resolver,
		logger:     logger,
	}
}

// Run processes register/unregister events until the channels are
// abandoned by process shutdown; it never returns on its own.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.logger.Info("websocket client connected", zap.String("client_id", client.ID), zap.String("session_id", client.SessionID))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("websocket client disconnected", zap.String("client_id", client.ID))
		}
	}
}

// SendToSession relays a frame to every client currently bound to the
// given session (spec.md's multi-tab observer use case).
func (h *Hub) SendToSession(sessionID string, msg *WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msg.Timestamp = time.Now().Unix()
	data, _ := json.Marshal(msg)
	for _, client := range h.clients {
		if client.SessionID == sessionID {
			select {
			case client.send <- data:
			default:
			}
		}
	}
}

// ClientCount reports the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the connection and starts its read/write pumps.
// Session binding follows the same resolver priority C13 uses for HTTP
// (query param here stands in for header/cookie).
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	sessionID := c.Query("session_id")
	if sessionID == "" && h.Resolver != nil {
		id, _ := h.Resolver.Resolve(resolve.Request{Header: c.Request.Header, Cookies: c.Request.Cookies()})
		sessionID = id
	}
	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = sessionID + "_" + time.Now().Format("20060102150405.000000000")
	}

	client := &Client{
		ID:        clientID,
		SessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, 256),
		hub:       h,
		logger:    h.logger,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump consumes one chat message at a time and drives it through
// the request processor, relaying the reply back on this connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", zap.Error(err))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Error("websocket message parse failed", zap.Error(err))
			continue
		}

		switch msg.Type {
		case MessageTypePing:
			c.sendFrame(&WSMessage{Type: MessageTypePong})
		case MessageTypeChat:
			c.handleChat(&msg)
		}
	}
}

// handleChat wraps the incoming text as a single-user-message
// ChatRequest, calls the processor, and relays the result as either one
// "chat" frame (non-streaming) or a sequence of "stream"+"done" frames.
func (c *Client) handleChat(msg *WSMessage) {
	sessionID := c.SessionID
	if msg.SessionID != "" {
		sessionID = msg.SessionID
	}

	canonical := request.ChatRequest{
		Messages:  []chatmsg.Message{{Role: chatmsg.RoleUser, Content: msg.Content}},
		Stream:    true,
		SessionID: sessionID,
	}
	in := request.Incoming{Resolve: resolve.Request{SessionID: sessionID}}

	envelope, err := c.hub.Processor.Process(context.Background(), in, canonical)
	if err != nil {
		c.sendFrame(&WSMessage{Type: MessageTypeError, ID: msg.ID, Content: err.Error(), SessionID: sessionID})
		return
	}

	if envelope.Stream == nil {
		c.sendFrame(&WSMessage{Type: MessageTypeChat, ID: msg.ID, Content: envelope.Content, SessionID: sessionID})
		return
	}

	for item := range envelope.Stream {
		if item.IsDone {
			break
		}
		if item.Text != "" {
			c.sendFrame(&WSMessage{Type: MessageTypeStream, ID: msg.ID, Content: item.Text, SessionID: sessionID})
		}
	}
	c.sendFrame(&WSMessage{Type: MessageTypeDone, ID: msg.ID, SessionID: sessionID})
}

func (c *Client) sendFrame(msg *WSMessage) {
	msg.Timestamp = time.Now().Unix()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump relays queued frames and keepalive pings to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
