package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"curriculum-qa-be/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const clusterChannel = "curriculum-qa:thread_events"

const (
	FrameProgress = "progress"
	FrameAnswer   = "answer"
)

// Frame is the JSON message written to a thread's sockets
type Frame struct {
	Type     string    `json:"type"`
	ThreadID string    `json:"thread_id"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

type clusterMessage struct {
	Origin   string          `json:"origin"`
	ThreadID string          `json:"thread_id"`
	Message  json.RawMessage `json:"message"`
}

// Hub streams progress lines and answers to the sockets watching a thread.
// With redis, frames are relayed to the sockets held by other instances.
type Hub struct {
	// Registered clients: thread id -> sockets (several tabs may watch one thread)
	clients map[string][]*Client

	register   chan *Client
	unregister chan *Client

	// done is closed when Run returns
	done     chan struct{}
	stopOnce sync.Once

	mu sync.RWMutex

	rdb *redis.Client
	// instance marks our own cluster messages so they are not delivered twice
	instance string

	logger logger.ILogger
	now    func() time.Time
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[string][]*Client),
		rdb:        rdb,
		instance:   uuid.NewString(),
		logger:     log,
		now:        time.Now,
	}
}

// Run owns client registration until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })

	if h.rdb != nil {
		go h.subscribeToRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ThreadID] = append(h.clients[client.ThreadID], client)
			h.mu.Unlock()
			h.logger.Debug("Hub", "Client registered", map[string]interface{}{"thread_id": client.ThreadID})

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

// join hands a client to Run. It reports false once the hub has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// drop hands a client back to Run for removal; a stopped hub ignores it
func (h *Hub) drop(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[client.ThreadID]
	for i, c := range clients {
		if c == client {
			h.clients[client.ThreadID] = append(clients[:i], clients[i+1:]...)
			close(client.Send)
			break
		}
	}
	if len(h.clients[client.ThreadID]) == 0 {
		delete(h.clients, client.ThreadID)
	}
}

// Clients reports how many sockets watch threadID
func (h *Hub) Clients(threadID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[threadID])
}

func (h *Hub) Notify(ctx context.Context, threadID, status string) error {
	return h.send(ctx, Frame{Type: FrameProgress, ThreadID: threadID, Text: status, At: h.now()})
}

func (h *Hub) Deliver(ctx context.Context, threadID, text string) error {
	return h.send(ctx, Frame{Type: FrameAnswer, ThreadID: threadID, Text: text, At: h.now()})
}

func (h *Hub) send(ctx context.Context, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	h.local(frame.ThreadID, data)

	if h.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(clusterMessage{Origin: h.instance, ThreadID: frame.ThreadID, Message: data})
	if err != nil {
		return err
	}
	return h.rdb.Publish(ctx, clusterChannel, payload).Err()
}

// local writes to this instance's sockets. A client whose buffer is full is
// dropped rather than blocking the pipeline.
func (h *Hub) local(threadID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients[threadID] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("Hub", "Client send buffer full, dropping client", map[string]interface{}{"thread_id": threadID})
			go h.drop(client)
		}
	}
}

func (h *Hub) subscribeToRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, clusterChannel)
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		var payload clusterMessage
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			h.logger.Warn("Hub", "Redis message parse error", map[string]interface{}{"error": err.Error()})
			continue
		}
		if payload.Origin == h.instance {
			continue
		}
		h.local(payload.ThreadID, payload.Message)
	}
}
