// Package ws is the realtime fan-out channel: one room per meeting, joined
// explicitly, fed by the session facade after durable writes. Delivery is
// at-least-once while connected; a slow or dead connection is dropped from
// delivery, never awaited.
package ws

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yasarts/reunion-live/internal/metrics"
)

// Hub maintains the set of active clients and the per-meeting rooms.
// Rooms are created lazily on first join and removed when the last member
// leaves; an empty room holds no state.
type Hub struct {
	// clients is the set of all registered clients.
	clients map[*Client]bool

	// rooms maps meeting ids to sets of joined clients.
	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	// broadcast receives a room-scoped message to be fanned out.
	broadcast chan broadcastMsg

	log *logrus.Logger
	mu  sync.RWMutex
}

// broadcastMsg pairs a meeting room with the raw JSON payload to deliver.
// A non-nil exclude connection is skipped (the originator of an agenda
// update already holds the optimistic local result).
type broadcastMsg struct {
	meetingID string
	data      []byte
	exclude   *Client
}

// NewHub creates a Hub. Run must be started in a goroutine before use.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMsg, 256),
		log:        log,
	}
}

// Run starts the hub's main event loop. It must be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			metrics.WSConnections.Inc()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.dropLocked(client)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// deliver fans a message out to the room. Clients whose send buffer is full
// are dropped entirely; a consumer that cannot keep up stops being a member.
func (h *Hub) deliver(msg broadcastMsg) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[msg.meetingID]
	if !ok {
		return
	}
	var stalled []*Client
	for client := range members {
		if client == msg.exclude {
			continue
		}
		select {
		case client.send <- msg.data:
		default:
			stalled = append(stalled, client)
		}
	}
	for _, client := range stalled {
		h.log.WithField("conn", client.id).Warn("ws: dropping slow client")
		h.dropLocked(client)
	}
}

// dropLocked removes a client from the hub and its room. Callers hold h.mu.
func (h *Hub) dropLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	metrics.WSConnections.Dec()
	h.leaveLocked(client)
}

// leaveLocked detaches a client from its current room, tearing the room
// down when it empties. Callers hold h.mu.
func (h *Hub) leaveLocked(client *Client) {
	if client.meetingID == "" {
		return
	}
	if members, ok := h.rooms[client.meetingID]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, client.meetingID)
		}
	}
	client.meetingID = ""
}

// join moves a client into the given meeting room, leaving any previous
// room first. A connection is a member of at most one room.
func (h *Hub) join(client *Client, meetingID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(client)
	if h.rooms[meetingID] == nil {
		h.rooms[meetingID] = make(map[*Client]bool)
	}
	h.rooms[meetingID][client] = true
	client.meetingID = meetingID
}

// inRoom reports whether the client currently belongs to the meeting room.
func (h *Hub) inRoom(client *Client, meetingID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return client.meetingID == meetingID && h.rooms[meetingID][client]
}

// Broadcast sends a message to every connection in the meeting's room,
// the originator included.
func (h *Hub) Broadcast(meetingID string, msg []byte) {
	metrics.BroadcastsSent.Inc()
	h.broadcast <- broadcastMsg{meetingID: meetingID, data: msg}
}

// BroadcastExcept sends a message to every connection in the meeting's room
// except the given one.
func (h *Hub) BroadcastExcept(meetingID string, msg []byte, exclude *Client) {
	metrics.BroadcastsSent.Inc()
	h.broadcast <- broadcastMsg{meetingID: meetingID, data: msg, exclude: exclude}
}
