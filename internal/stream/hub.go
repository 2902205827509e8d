package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Message types published on a tracker topic.
const (
	TypeState             = "state"
	TypePersisted         = "persisted"
	TypePersistenceFailed = "persistence_failed"
	TypeFault             = "fault"
	TypeForeground        = "foreground"
)

// Envelope is the JSON shape every observer receives.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Hub struct {
	redis   *redis.Client
	origin  string
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
	cancel  context.CancelFunc
	done    chan struct{}
}

type Client struct {
	Topic string
	Send  chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		origin:  uuid.NewString(),
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		h.done = make(chan struct{})

		pubsub := redisClient.PSubscribe(ctx, redisPattern)
		waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
		if _, err := pubsub.Receive(waitCtx); err != nil {
			slog.Error("redis subscribe failed", "action", "hub_subscribe_failed", "error", err.Error())
		}
		waitCancel()
		go h.subscribeRedis(ctx, pubsub)
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

// Broadcast fans payload out to local observers of topic and relays it to other hubs over redis.
func (h *Hub) Broadcast(topic string, payload []byte) {
	h.deliver(topic, payload)

	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(topic), h.frame(payload)).Err()
		if err != nil {
			slog.Error("redis publish error", "action", "hub_publish_failed", "topic", topic, "error", err.Error())
		}
	}
}

// Publish wraps data in an Envelope and broadcasts it.
func (h *Hub) Publish(topic, typ string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(Envelope{Type: typ, Data: raw})
	if err != nil {
		return err
	}
	h.Broadcast(topic, payload)
	return nil
}

// Close stops the redis relay.
func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
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

func (h *Hub) subscribeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer close(h.done)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			origin, payload := unframe([]byte(msg.Payload))
			if origin == h.origin {
				continue
			}
			topic := topicFromChannel(msg.Channel)
			if topic == "" {
				continue
			}
			h.deliver(topic, payload)
		}
	}
}

// frame prefixes payload with the hub origin so a hub skips its own relayed messages.
func (h *Hub) frame(payload []byte) []byte {
	out := make([]byte, 0, len(h.origin)+1+len(payload))
	out = append(out, h.origin...)
	out = append(out, '\n')
	return append(out, payload...)
}

func unframe(msg []byte) (string, []byte) {
	i := bytes.IndexByte(msg, '\n')
	if i < 0 {
		return "", msg
	}
	return string(msg[:i]), msg[i+1:]
}

const redisPattern = "tracking:*:broadcast"

func redisChannel(topic string) string {
	return "tracking:" + topic + ":broadcast"
}

func topicFromChannel(ch string) string {
	// tracking:{topic}:broadcast
	const prefix = "tracking:"
	const suffix = ":broadcast"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
