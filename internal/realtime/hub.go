package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// PresenceHandler is called when a user's first connection opens and when their last one closes.
type PresenceHandler func(userID uuid.UUID, online bool)

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishTopicEvent(topic, event string, payload []byte) error
}

// RedisSubscriber receives the events of every topic over one subscription and blocks until
// ctx is done or the subscription fails.
type RedisSubscriber interface {
	SubscribeAll(ctx context.Context, handler func(topic, event string, payload []byte)) error
}

// Hub maintains topic -> set of connections and broadcasts events.
// With Redis configured, events are published to Redis only and delivered locally by Run,
// so every instance (this one included) delivers each event once.
type Hub struct {
	topics     map[string]map[string]*Client
	online     map[uuid.UUID]int
	mu         sync.RWMutex
	logger     *zap.Logger
	redis      RedisPublisher
	redisSub   RedisSubscriber
	pool       *ants.Pool
	onPresence PresenceHandler
}

// NewHub creates a new WebSocket hub. pool may be nil, in which case publishing runs inline.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber, pool *ants.Pool) *Hub {
	return &Hub{
		topics:   make(map[string]map[string]*Client),
		online:   make(map[uuid.UUID]int),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
		pool:     pool,
	}
}

// SetPresenceHandler sets the callback for presence changes (e.g. last_online tracking).
func (h *Hub) SetPresenceHandler(fn PresenceHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onPresence = fn
}

// Register adds a client and joins it to topics.
func (h *Hub) Register(c *Client, topics ...string) {
	h.mu.Lock()
	h.online[c.UserID]++
	first := h.online[c.UserID] == 1
	for _, t := range topics {
		h.joinLocked(c, t)
	}
	onPresence := h.onPresence
	h.mu.Unlock()
	if first && onPresence != nil {
		onPresence(c.UserID, true)
	}
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()), zap.Strings("topics", topics))
}

// Unregister removes a client from every topic it joined.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	for t := range c.topics {
		h.leaveLocked(c, t)
	}
	last := false
	if n, ok := h.online[c.UserID]; ok {
		if n <= 1 {
			delete(h.online, c.UserID)
			last = true
		} else {
			h.online[c.UserID] = n - 1
		}
	}
	onPresence := h.onPresence
	h.mu.Unlock()
	if last && onPresence != nil {
		onPresence(c.UserID, false)
	}
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// Join subscribes a connected client to one more topic.
func (h *Hub) Join(c *Client, topic string) {
	h.mu.Lock()
	h.joinLocked(c, topic)
	h.mu.Unlock()
}

// Leave unsubscribes a client from a topic.
func (h *Hub) Leave(c *Client, topic string) {
	h.mu.Lock()
	h.leaveLocked(c, topic)
	h.mu.Unlock()
}

func (h *Hub) joinLocked(c *Client, topic string) {
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[string]*Client)
	}
	h.topics[topic][c.ID] = c
	c.topics[topic] = true
}

func (h *Hub) leaveLocked(c *Client, topic string) {
	delete(c.topics, topic)
	m, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(m, c.ID)
	if len(m) == 0 {
		delete(h.topics, topic)
	}
}

// Run delivers events arriving from Redis to local clients until ctx is done,
// resubscribing after failures. It returns at once when the hub has no subscriber.
func (h *Hub) Run(ctx context.Context) {
	if h.redisSub == nil {
		return
	}
	for {
		err := h.redisSub.SubscribeAll(ctx, h.dispatch)
		if ctx.Err() != nil {
			return
		}
		h.logger.Warn("redis subscription lost, retrying", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// Revoke takes userID's connections out of topic on every instance.
func (h *Hub) Revoke(userID uuid.UUID, topic string) {
	h.Publish(UserTopic(userID), EventTopicRevoked, topicFrame{Topic: topic})
}

// CloseTopic removes every connection from topic on every instance.
func (h *Hub) CloseTopic(topic string) {
	h.Publish(topic, EventTopicClosed, topicFrame{Topic: topic})
}

// Disconnect closes every connection of userID on every instance.
func (h *Hub) Disconnect(userID uuid.UUID) {
	h.Publish(UserTopic(userID), EventSessionRevoked, struct{}{})
}

// dispatch delivers an event to local clients and applies room control events.
func (h *Hub) dispatch(topic, event string, data []byte) {
	h.BroadcastLocal(topic, event, json.RawMessage(data))
	switch event {
	case EventTopicRevoked:
		kind, userID, ok := ParseTopic(topic)
		var f topicFrame
		if !ok || kind != "user" || json.Unmarshal(data, &f) != nil || f.Topic == "" {
			return
		}
		h.mu.Lock()
		for _, c := range h.topics[f.Topic] {
			if c.UserID == userID {
				h.leaveLocked(c, f.Topic)
			}
		}
		h.mu.Unlock()
	case EventTopicClosed:
		h.mu.Lock()
		for _, c := range h.topics[topic] {
			h.leaveLocked(c, topic)
		}
		h.mu.Unlock()
	case EventSessionRevoked:
		kind, userID, ok := ParseTopic(topic)
		if !ok || kind != "user" {
			return
		}
		h.mu.Lock()
		var conns []*Client
		for _, c := range h.topics[topic] {
			if c.UserID == userID {
				conns = append(conns, c)
			}
		}
		for _, c := range conns {
			for t := range c.topics {
				h.leaveLocked(c, t)
			}
		}
		h.mu.Unlock()
		for _, c := range conns {
			c.close()
		}
	}
}

// BroadcastLocal sends an event to the clients of a topic on this instance only.
func (h *Hub) BroadcastLocal(topic, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			h.logger.Warn("marshal event failed", zap.String("event", event), zap.Error(err))
			return
		}
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.topics[topic]))
	for _, c := range h.topics[topic] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.deliver(msg)
	}
}

// Publish delivers an event to every subscriber of topic across instances.
// It does not block the caller on Redis; the work runs on the dispatch pool.
func (h *Hub) Publish(topic, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("marshal event failed", zap.String("event", event), zap.Error(err))
		return
	}
	task := func() {
		if h.redis != nil {
			err := h.redis.PublishTopicEvent(topic, event, data)
			if err == nil {
				return
			}
			h.logger.Warn("redis publish failed, delivering locally", zap.String("topic", topic), zap.Error(err))
		}
		h.dispatch(topic, event, data)
	}
	if h.pool == nil {
		task()
		return
	}
	if err := h.pool.Submit(task); err != nil {
		task()
	}
}

// Subscribers returns the number of local clients in a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Online reports whether the user has a connection on this instance.
func (h *Hub) Online(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.online[userID] > 0
}
