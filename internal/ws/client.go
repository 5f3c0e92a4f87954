package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/time/rate"

	"github.com/yasarts/reunion-live/internal/identity"
	"github.com/yasarts/reunion-live/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // The UI is served from arbitrary origins during development.
	},
}

// TallyProvider recomputes a vote's current tally. Satisfied by the vote
// engine.
type TallyProvider interface {
	Tally(ctx context.Context, voteID primitive.ObjectID) (*models.Tally, error)
}

// clientMessage is the envelope for everything a client sends.
type clientMessage struct {
	Type       string          `json:"type"`
	MeetingID  string          `json:"meetingId,omitempty"`
	VoteID     string          `json:"voteId,omitempty"`
	AgendaItem json.RawMessage `json:"agendaItem,omitempty"`
}

// VoteUpdate is the server->client message carrying a fresh tally.
type VoteUpdate struct {
	Type    string        `json:"type"`
	VoteID  string        `json:"voteId"`
	Results *models.Tally `json:"results"`
}

// AgendaUpdate is the server->client message carrying a changed agenda item.
type AgendaUpdate struct {
	Type       string `json:"type"`
	AgendaItem any    `json:"agendaItem"`
}

// Client represents a single WebSocket connection. A client belongs to at
// most one meeting room, entered through an explicit join_meeting message.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	id       string
	identity *identity.Identity
	tallies  TallyProvider
	limiter  *rate.Limiter

	// meetingID is the joined room; guarded by hub.mu.
	meetingID string
}

// ServeWs upgrades the request and registers the connection with the hub.
// The identity must already be resolved; an unidentified connection never
// reaches this point.
func ServeWs(hub *Hub, tallies TallyProvider, ident *identity.Identity, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.WithError(err).Warn("ws: upgrade failed")
		return
	}

	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		id:       uuid.NewString(),
		identity: ident,
		tallies:  tallies,
		limiter:  rate.NewLimiter(rate.Limit(10), 20),
	}

	hub.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump pumps messages from the connection into the hub. Messages beyond
// the per-connection rate limit are discarded.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.WithError(err).WithField("conn", c.id).Warn("ws: unexpected close")
			}
			return
		}
		if !c.limiter.Allow() {
			c.hub.log.WithField("conn", c.id).Warn("ws: rate limit exceeded, message dropped")
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.log.WithField("conn", c.id).Warn("ws: invalid message")
			continue
		}
		c.handle(msg, message)
	}
}

// handle routes one inbound message. Room membership is checked on every
// room-scoped message; there is no implicit membership.
func (c *Client) handle(msg clientMessage, raw []byte) {
	switch msg.Type {
	case "join_meeting":
		if msg.MeetingID == "" {
			return
		}
		// Joining is bound to the identity's meeting access.
		if !c.identity.Can(identity.CanView) {
			c.hub.log.WithFields(map[string]any{
				"conn": c.id,
				"user": c.identity.UserID,
			}).Warn("ws: join refused")
			return
		}
		c.hub.join(c, msg.MeetingID)

	case "vote_cast":
		if msg.MeetingID == "" || !c.hub.inRoom(c, msg.MeetingID) {
			return
		}
		voteID, err := primitive.ObjectIDFromHex(msg.VoteID)
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		tally, err := c.tallies.Tally(ctx, voteID)
		cancel()
		if err != nil {
			c.hub.log.WithError(err).WithField("vote", msg.VoteID).Warn("ws: tally failed")
			return
		}
		payload, err := json.Marshal(VoteUpdate{Type: "vote_update", VoteID: msg.VoteID, Results: tally})
		if err != nil {
			return
		}
		// The caster waits for the same broadcast as everyone else.
		c.hub.Broadcast(msg.MeetingID, payload)

	case "agenda_update":
		if msg.MeetingID == "" || !c.hub.inRoom(c, msg.MeetingID) {
			return
		}
		if len(msg.AgendaItem) == 0 {
			return
		}
		payload, err := json.Marshal(AgendaUpdate{Type: "agenda_update", AgendaItem: msg.AgendaItem})
		if err != nil {
			return
		}
		// The originator already holds the optimistic local result.
		c.hub.BroadcastExcept(msg.MeetingID, payload, c)

	default:
		c.hub.log.WithField("type", msg.Type).Debug("ws: unknown message type")
	}
}

// writePump pumps messages from the hub to the connection.
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		w, err := c.conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		w.Write(message)
		if err := w.Close(); err != nil {
			return
		}
	}

	// Channel closed; write a close message.
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
