package exchange

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/cashxhq/cashx/internal/metrics"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow non-browser clients
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// RoomName is the fan-out group for one transaction's two connections.
func RoomName(requestID string) string {
	return "transaction_" + requestID
}

// Publisher is the fan-out surface other packages publish through.
type Publisher interface {
	Publish(room string, env Envelope)
}

type outbound struct {
	room    string
	payload []byte
}

// Hub manages the realtime rooms. Each open transaction maps to one
// room holding at most the customer's and the agent's connections;
// every published envelope fans out to all members, at most once, no
// replay.
type Hub struct {
	rooms      map[string]map[*session]bool
	register   chan *session
	unregister chan *session
	broadcast  chan outbound
	closeRoom  chan string
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; prevents upgrade race
}

// NewHub creates a realtime hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*session]bool),
		register:   make(chan *session),
		unregister: make(chan *session),
		broadcast:  make(chan outbound, 256),
		closeRoom:  make(chan string, 16),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("exchange hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("exchange hub shutting down, closing connections")
			h.mu.Lock()
			for room, members := range h.rooms {
				for sess := range members {
					close(sess.send)
				}
				delete(h.rooms, room)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			return

		case sess := <-h.register:
			h.mu.Lock()
			if h.rooms[sess.room] == nil {
				h.rooms[sess.room] = make(map[*session]bool)
			}
			h.rooms[sess.room][sess] = true
			n := h.clientCount()
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("client joined room", "room", sess.room, "role", sess.role)

		case sess := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(sess)
			n := h.clientCount()
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("client left room", "room", sess.room, "role", sess.role)

		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*session
			for sess := range h.rooms[msg.room] {
				select {
				case sess.send <- msg.payload:
				default:
					slow = append(slow, sess)
				}
			}
			h.mu.RUnlock()
			if len(slow) > 0 {
				h.mu.Lock()
				for _, sess := range slow {
					h.removeLocked(sess)
				}
				h.mu.Unlock()
			}

		case room := <-h.closeRoom:
			h.mu.Lock()
			for sess := range h.rooms[room] {
				h.removeLocked(sess)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(h.clientCount()))
			h.logger.Info("room closed", "room", room)
		}
	}
}

// drop unregisters a session, giving up once the hub has stopped. Run
// closes done after draining, so a late read error must not block here.
func (h *Hub) drop(sess *session) {
	select {
	case h.unregister <- sess:
	case <-h.done:
	}
}

// removeLocked drops a session; caller holds h.mu.
func (h *Hub) removeLocked(sess *session) {
	members, ok := h.rooms[sess.room]
	if !ok {
		return
	}
	if _, ok := members[sess]; ok {
		delete(members, sess)
		close(sess.send)
	}
	if len(members) == 0 {
		delete(h.rooms, sess.room)
	}
}

func (h *Hub) clientCount() int {
	n := 0
	for _, members := range h.rooms {
		n += len(members)
	}
	return n
}

// Publish fans an envelope out to every member of a room.
func (h *Hub) Publish(room string, env Envelope) {
	metrics.RealtimeEventsTotal.WithLabelValues(env.Event).Inc()
	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to marshal envelope", "event", env.Event, "error", err)
		return
	}
	select {
	case h.broadcast <- outbound{room: room, payload: payload}:
	default:
		h.logger.Warn("broadcast channel full, dropping event", "event", env.Event)
	}
}

// CloseRoom disconnects every member of a room.
func (h *Hub) CloseRoom(room string) {
	select {
	case h.closeRoom <- room:
	default:
		h.logger.Warn("closeRoom channel full", "room", room)
	}
}

var _ Publisher = (*Hub)(nil)
