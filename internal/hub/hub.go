package hub

import (
	"encoding/json"
	"sync"
)

// UsersTopic carries user lifecycle events.
const UsersTopic = "users"

const (
	EventUserCreated = "user-created"
	EventUserUpdated = "user-updated"
	EventUserDeleted = "user-deleted"
)

type Writer interface {
	Write(message []byte) error
	Close() error
}

// sendBuffer is how many messages may queue for one subscriber before it is
// dropped as too slow.
const sendBuffer = 16

type Connection struct {
	Topic  string
	Writer Writer

	send  chan []byte
	close sync.Once
}

// Message is the envelope sent to subscribers.
type Message struct {
	Type  string      `json:"type"`
	Event string      `json:"event,omitempty"`
	Body  interface{} `json:"body,omitempty"`
}

type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{connections: make(map[string]map[*Connection]struct{})}
}

// Register subscribes conn to its topic and starts its writer goroutine.
func (h *Hub) Register(conn *Connection) {
	conn.send = make(chan []byte, sendBuffer)

	h.mu.Lock()
	if h.connections[conn.Topic] == nil {
		h.connections[conn.Topic] = make(map[*Connection]struct{})
	}
	h.connections[conn.Topic][conn] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(conn)
}

// Unregister removes conn and stops its writer goroutine. Safe to call twice.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.connections[conn.Topic]
	if _, ok := set[conn]; !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.connections, conn.Topic)
	}
	close(conn.send)
}

func (h *Hub) subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[topic])
}

func (h *Hub) writeLoop(conn *Connection) {
	for message := range conn.send {
		if err := conn.Writer.Write(message); err != nil {
			h.drop(conn)
			for range conn.send {
			}
			return
		}
	}
}

// drop unregisters conn and closes its writer.
func (h *Hub) drop(conn *Connection) {
	h.Unregister(conn)
	conn.close.Do(func() { _ = conn.Writer.Close() })
}

// Broadcast queues message for every subscriber of topic without waiting on
// any of them. Subscribers whose queue is full are dropped.
func (h *Hub) Broadcast(topic string, message []byte) {
	var slow []*Connection

	h.mu.RLock()
	for c := range h.connections[topic] {
		select {
		case c.send <- message:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.drop(c)
	}
}

// Publish wraps body in an update envelope and broadcasts it. A nil hub is a no-op.
func (h *Hub) Publish(topic, event string, body interface{}) error {
	if h == nil {
		return nil
	}
	out, err := json.Marshal(Message{Type: "update", Event: event, Body: body})
	if err != nil {
		return err
	}
	h.Broadcast(topic, out)
	return nil
}
