package websocket

import (
	"context"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	EventCertificateIssued = "certificate.issued"
	EventCertificateFailed = "certificate.failed"

	// UserIDLocal is the fiber local the upgrade route stores the caller's id in.
	UserIDLocal = "user_id"

	eventBuffer = 256
)

type Event struct {
	Type               string    `json:"type"`
	CourseID           string    `json:"course_id"`
	AuthenticationCode string    `json:"authentication_code,omitempty"`
	At                 time.Time `json:"at"`
}

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

type Client struct {
	UserID uuid.UUID
	Conn   Conn
}

type delivery struct {
	userID uuid.UUID
	event  Event
}

// Hub pushes certificate events to the connected sockets of a user. All
// writes happen on the Run goroutine.
type Hub struct {
	clients    map[uuid.UUID]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	events     chan delivery
	done       chan struct{}
	log        zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan delivery, eventBuffer),
		done:       make(chan struct{}),
		log:        logger.With().Str("component", "websocket-hub").Logger(),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for client := range set {
					_ = client.Conn.Close()
				}
			}
			h.clients = map[uuid.UUID]map[*Client]struct{}{}
			return
		case client := <-h.register:
			set, ok := h.clients[client.UserID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.UserID] = set
			}
			set[client] = struct{}{}
			h.log.Debug().Str("user_id", client.UserID.String()).Msg("client registered")
		case client := <-h.unregister:
			h.remove(client)
		case d := <-h.events:
			for client := range h.clients[d.userID] {
				if err := client.Conn.WriteJSON(d.event); err != nil {
					h.log.Warn().Err(err).Str("user_id", d.userID.String()).Msg("websocket write failed")
					_ = client.Conn.Close()
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	set, ok := h.clients[client.UserID]
	if !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.UserID)
	}
}

// Register adds a connection for userID. It returns nil once the hub has stopped.
func (h *Hub) Register(userID uuid.UUID, conn Conn) *Client {
	client := &Client{UserID: userID, Conn: conn}
	select {
	case h.register <- client:
		return client
	case <-h.done:
		return nil
	}
}

func (h *Hub) Unregister(client *Client) {
	if client == nil {
		return
	}
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) CertificateIssued(userID uuid.UUID, courseID, code string) {
	h.publish(userID, Event{Type: EventCertificateIssued, CourseID: courseID, AuthenticationCode: code, At: time.Now().UTC()})
}

func (h *Hub) CertificateFailed(userID uuid.UUID, courseID string) {
	h.publish(userID, Event{Type: EventCertificateFailed, CourseID: courseID, At: time.Now().UTC()})
}

// publish never blocks the issuer; events are dropped when the buffer is full.
func (h *Hub) publish(userID uuid.UUID, ev Event) {
	select {
	case h.events <- delivery{userID: userID, event: ev}:
	default:
		h.log.Warn().Str("user_id", userID.String()).Str("type", ev.Type).Msg("websocket event dropped")
	}
}

// Handler serves the socket after the upgrade route has authenticated the
// caller. Incoming frames are read only to notice the disconnect.
func (h *Hub) Handler() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		userID, ok := c.Locals(UserIDLocal).(uuid.UUID)
		if !ok {
			_ = c.WriteJSON(fiber.Map{"status": "error", "message": "Invalid user ID"})
			_ = c.Close()
			return
		}

		client := h.Register(userID, c)
		defer func() {
			h.Unregister(client)
			_ = c.Close()
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.log.Debug().Err(err).Str("user_id", userID.String()).Msg("websocket read ended")
				}
				return
			}
		}
	})
}
