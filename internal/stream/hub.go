package stream

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "events:"

// Event is a change notification pushed to map clients so they can reconcile
// optimistic updates.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
	At   int64  `json:"at"`
}

// envelope is the Redis wire form. Origin lets an instance skip its own
// messages, which it has already delivered locally.
type envelope struct {
	Origin  string          `json:"origin"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Publisher is the narrow interface domain services depend on.
type Publisher interface {
	Publish(topic string, ev Event)
}

type Hub struct {
	id      string
	redis   *redis.Client
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
	cancel  context.CancelFunc
	ready   chan struct{}
}

type Client struct {
	Topic string
	Send  chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		id:      uuid.NewString(),
		redis:   redisClient,
		clients: map[string]map[*Client]struct{}{},
		ready:   make(chan struct{}),
	}

	if redisClient != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		go h.subscribeRedis(ctx)
	} else {
		close(h.ready)
	}
	return h
}

func (h *Hub) Register(topic string) *Client {
	client := &Client{
		Topic: topic,
		Send:  make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[topic] == nil {
		h.clients[topic] = map[*Client]struct{}{}
	}
	h.clients[topic][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if topicClients, ok := h.clients[client.Topic]; ok {
		if _, registered := topicClients[client]; !registered {
			return
		}
		delete(topicClients, client)
		if len(topicClients) == 0 {
			delete(h.clients, client.Topic)
		}
		close(client.Send)
	}
}

// Publish delivers ev to local subscribers of topic and fans it out to other
// instances through Redis. Slow clients drop messages instead of blocking.
func (h *Hub) Publish(topic string, ev Event) {
	if ev.At == 0 {
		ev.At = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		zap.L().Warn("stream: encode event", zap.String("topic", topic), zap.Error(err))
		return
	}

	h.deliver(topic, payload)

	if h.redis != nil {
		raw, _ := json.Marshal(envelope{Origin: h.id, Topic: topic, Payload: payload})
		if err := h.redis.Publish(context.Background(), channelPrefix+topic, raw).Err(); err != nil {
			zap.L().Warn("stream: redis publish", zap.String("topic", topic), zap.Error(err))
		}
	}
}

// Ready is closed once the Redis subscription is live.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *Hub) deliver(topic string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis(ctx context.Context) {
	pubsub := h.redis.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		zap.L().Warn("stream: redis subscribe", zap.Error(err))
		close(h.ready)
		return
	}
	close(h.ready)

	for msg := range pubsub.Channel() {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			continue
		}
		if env.Origin == h.id {
			continue
		}
		topic := env.Topic
		if topic == "" {
			topic = topicFromChannel(msg.Channel)
		}
		h.deliver(topic, env.Payload)
	}
}

func topicFromChannel(ch string) string {
	if !strings.HasPrefix(ch, channelPrefix) {
		return ""
	}
	return ch[len(channelPrefix):]
}

// PointsTopic carries every map-wide change.
const PointsTopic = "points"

func MeetupTopic(id string) string { return "meetup:" + id }
