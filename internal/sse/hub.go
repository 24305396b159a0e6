package sse

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/loom-backend/internal/logger"
)

type Event string

const (
	EventLearnStateRepaired   Event = "LearnStateRepaired"
	EventCourseGenerated      Event = "CourseGenerated"
	EventCoursePrefetched     Event = "CoursePrefetched"
	EventSuggestionsRefreshed Event = "SuggestionsRefreshed"
	EventGoalsRegrouped       Event = "GoalsRegrouped"
	EventStatusChanged        Event = "StatusChanged"
)

type Message struct {
	Event Event `json:"event"`
	Data  any   `json:"data,omitempty"`
}

type Client struct {
	ID       uuid.UUID
	Outbound chan Message
}

// Hub fans learn-state change events out to connected UI clients. The UI
// polls stores for content; these events only tell it when to re-read.
type Hub struct {
	mu      sync.RWMutex
	log     *logger.Logger
	clients map[*Client]bool
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:     log.With("component", "sse.Hub"),
		clients: make(map[*Client]bool),
	}
}

func (h *Hub) Subscribe() *Client {
	client := &Client{
		ID:       uuid.New(),
		Outbound: make(chan Message, 16),
	}
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	h.log.Debug("SSE client subscribed", "clientID", client.ID)
	return client
}

func (h *Hub) Unsubscribe(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	close(client.Outbound)
	h.log.Debug("SSE client unsubscribed", "clientID", client.ID)
}

// Broadcast never blocks: a client whose buffer is full misses the event and
// catches up on its next poll.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.Outbound <- msg:
		default:
			h.log.Debug("SSE client buffer full, dropping event", "clientID", client.ID, "event", msg.Event)
		}
	}
}

// FormatEvent renders a message as an SSE wire frame.
func FormatEvent(msg Message, payload []byte) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", msg.Event, payload)
}

// Heartbeat returns a comment frame used to keep idle connections open.
func Heartbeat() string {
	return fmt.Sprintf(": ping %d\n\n", time.Now().Unix())
}
