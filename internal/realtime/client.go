package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // token query param authenticates the socket
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type topicFrame struct {
	Topic string `json:"topic"`
}

// Authorizer decides which rooms a user joins and may subscribe to.
type Authorizer interface {
	InitialTopics(ctx context.Context, userID uuid.UUID) ([]string, error)
	CanSubscribe(ctx context.Context, userID uuid.UUID, topic string) bool
}

// Client represents a single WebSocket connection.
type Client struct {
	ID     string
	UserID uuid.UUID
	topics map[string]bool // guarded by hub.mu
	hub    *Hub
	authz  Authorizer
	conn   *websocket.Conn
	send   chan WSMessage
	logger *zap.Logger
}

func newClient(hub *Hub, userID uuid.UUID, conn *websocket.Conn, authz Authorizer, logger *zap.Logger) *Client {
	return &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		topics: make(map[string]bool),
		hub:    hub,
		authz:  authz,
		conn:   conn,
		send:   make(chan WSMessage, 256),
		logger: logger,
	}
}

// deliver queues msg without blocking; a slow client drops events.
func (c *Client) deliver(msg WSMessage) {
	select {
	case c.send <- msg:
	default:
		c.logger.Debug("client buffer full, dropping event", zap.String("client_id", c.ID), zap.String("event", msg.Event))
	}
}

// close drops the connection; readPump then unregisters the client.
func (c *Client) close() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) reply(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.deliver(WSMessage{Event: event, Data: data})
}

// ServeWs handles GET /ws?token=<jwt>: upgrades, joins the user's default rooms and runs the client loop.
func ServeWs(hub *Hub, authz Authorizer, logger *zap.Logger, jwtValidate func(token string) (uuid.UUID, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "token required"})
			return
		}
		userID, err := jwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
			return
		}
		topics, err := authz.InitialTopics(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "account not allowed"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := newClient(hub, userID, conn, authz, logger)
		hub.Register(client, topics...)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) handle(msg WSMessage) {
	switch msg.Event {
	case "ping":
		c.reply("pong", map[string]int64{"at": time.Now().Unix()})
	case "subscribe":
		var f topicFrame
		if err := json.Unmarshal(msg.Data, &f); err != nil || f.Topic == "" {
			c.reply("error", map[string]string{"error": "topic required"})
			return
		}
		if !c.authz.CanSubscribe(context.Background(), c.UserID, f.Topic) {
			c.reply("error", map[string]string{"error": "not allowed", "topic": f.Topic})
			return
		}
		c.hub.Join(c, f.Topic)
		c.reply("subscribed", f)
	case "unsubscribe":
		var f topicFrame
		if err := json.Unmarshal(msg.Data, &f); err != nil || f.Topic == "" {
			return
		}
		c.hub.Leave(c, f.Topic)
		c.reply("unsubscribed", f)
	default:
		// ignore
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.handle(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
