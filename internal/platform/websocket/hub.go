// Package websocket is the dashboard change feed. Screens subscribe to store
// topics and receive an event after every committed mutation, so they can
// re-render from a consistent snapshot without polling.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/emr-dashboard/internal/platform/auth"
)

// Topics published by the domain stores.
const (
	TopicBeds          = "beds"
	TopicClinical      = "clinical"
	TopicPharmacy      = "pharmacy"
	TopicQueue         = "queue"
	TopicNotifications = "notifications"
	TopicAudit         = "audit"
	TopicToasts        = "toasts"
)

// Event types.
const (
	EventStoreChanged = "store.changed"
	EventToast        = "toast"
	EventAuditAppend  = "audit.appended"
	EventNotification = "notification.created"
)

// topicRoles restricts topics to the roles that may read the same records
// over HTTP. Topics not listed are open to every authenticated user.
var topicRoles = map[string][]string{
	TopicClinical: {auth.RoleDoctor, auth.RoleNurse, auth.RoleLabTechnician},
	TopicQueue:    {auth.RoleDoctor, auth.RoleNurse},
}

// CanSubscribe reports whether u may receive events on topic.
func CanSubscribe(u auth.User, topic string) bool {
	roles, ok := topicRoles[topic]
	if !ok {
		return true
	}
	return u.HasRole(roles...)
}

// Event is one message on the feed. Version is the publishing store's
// mutation counter and lets clients discard stale snapshots. A non-empty
// Recipient limits delivery to that user's connections.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Version   uint64          `json:"version,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Recipient string          `json:"-"`
}

// NewEvent marshals payload into an Event stamped with the current time.
func NewEvent(eventType, topic string, version uint64, payload any) (Event, error) {
	ev := Event{Type: eventType, Topic: topic, Version: version, Timestamp: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		ev.Data = data
	}
	return ev, nil
}

// ClientMessage is an inbound subscribe/unsubscribe request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Publisher is implemented by Hub and by test doubles.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one connected dashboard. User is the staff member who opened
// the connection.
type Client struct {
	ID     string
	User   auth.User
	Topics []string
	Send   chan []byte
	hub    *Hub
	conn   Conn
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> subscribers
	all     map[*Client]struct{}
	logger  zerolog.Logger
	dropped atomic.Uint64

	// OnClientsChanged, when set, is called with the new client count after
	// every register/unregister.
	OnClientsChanged func(int)
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "ws-hub").Logger(),
	}
}

// Register adds a client and subscribes it to the initial topics its role
// may read. The rest are dropped.
func (h *Hub) Register(client *Client) {
	client.Topics = h.permitted(client, client.Topics)

	h.mu.Lock()
	h.all[client] = struct{}{}
	h.subscribeLocked(client, client.Topics)
	n := len(h.all)
	h.mu.Unlock()

	h.logger.Debug().Str("client_id", client.ID).Int("clients", n).Msg("client registered")
	if h.OnClientsChanged != nil {
		h.OnClientsChanged(n)
	}
}

// Unregister removes a client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.all[client]; !ok {
		h.mu.Unlock()
		return
	}
	h.unsubscribeLocked(client, client.Topics)
	delete(h.all, client)
	close(client.Send)
	n := len(h.all)
	h.mu.Unlock()

	h.logger.Debug().Str("client_id", client.ID).Int("clients", n).Msg("client unregistered")
	if h.OnClientsChanged != nil {
		h.OnClientsChanged(n)
	}
}

func (h *Hub) permitted(client *Client, topics []string) []string {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if !CanSubscribe(client.User, t) {
			h.logger.Warn().Str("client_id", client.ID).Str("user_id", client.User.ID).
				Str("role", client.User.Role).Str("topic", t).Msg("subscription denied")
			continue
		}
		out = append(out, t)
	}
	return out
}

func (h *Hub) subscribeLocked(client *Client, topics []string) {
	for _, topic := range topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
	}
}

func (h *Hub) unsubscribeLocked(client *Client, topics []string) {
	for _, topic := range topics {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}
}

// Subscribe adds topics to a registered client. Duplicates and topics the
// client's role may not read are ignored.
func (h *Hub) Subscribe(client *Client, topics []string) {
	topics = h.permitted(client, topics)

	h.mu.Lock()
	defer h.mu.Unlock()

	have := make(map[string]struct{}, len(client.Topics))
	for _, t := range client.Topics {
		have[t] = struct{}{}
	}
	var added []string
	for _, t := range topics {
		if _, ok := have[t]; ok {
			continue
		}
		have[t] = struct{}{}
		added = append(added, t)
	}
	h.subscribeLocked(client, added)
	client.Topics = append(client.Topics, added...)
}

// Unsubscribe removes topics from a registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.unsubscribeLocked(client, topics)

	removeSet := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		removeSet[t] = struct{}{}
	}
	remaining := make([]string, 0, len(client.Topics))
	for _, t := range client.Topics {
		if _, rm := removeSet[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

// ProcessMessage dispatches an inbound client message.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	default:
		h.logger.Debug().Str("client_id", client.ID).Str("action", msg.Action).Msg("ignoring unknown action")
	}
}

// Broadcast sends event to the subscribers of topic, or only to the
// recipient's connections when one is set. A subscriber whose buffer is
// full misses the event; mutations never wait on the feed.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		if event.Recipient != "" && client.User.ID != event.Recipient {
			continue
		}
		select {
		case client.Send <- data:
		default:
			h.dropped.Add(1)
			h.logger.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("client buffer full, event dropped")
		}
	}
}

// Publish broadcasts event on its own topic.
func (h *Hub) Publish(_ context.Context, event Event) error {
	if event.Topic == "" {
		return fmt.Errorf("event %q has no topic", event.Type)
	}
	h.Broadcast(event.Topic, event)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced by the HTTP middleware
	},
}

// Handler upgrades HTTP connections and pumps messages for the hub.
type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

func (wsh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wsh.HandleConnect)
}

// HandleConnect upgrades the connection. Initial topics may be passed as
// repeated ?topic= query parameters. The client inherits the user the auth
// middleware attached to the upgrade request.
func (wsh *Handler) HandleConnect(c echo.Context) error {
	user, _ := auth.UserFromContext(c.Request().Context())

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	topics := c.QueryParams()["topic"]
	if topics == nil {
		topics = []string{}
	}
	client := &Client{
		ID:     uuid.New().String(),
		User:   user,
		Topics: topics,
		Send:   make(chan []byte, 256),
		hub:    wsh.hub,
		conn:   &gorillaConnAdapter{ws},
	}

	wsh.hub.Register(client)

	go wsh.writePump(client)
	go wsh.readPump(client)

	return nil
}

func (wsh *Handler) readPump(client *Client) {
	defer func() {
		wsh.hub.Unregister(client)
		client.conn.Close()
	}()

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		wsh.hub.ProcessMessage(client, msg)
	}
}

func (wsh *Handler) writePump(client *Client) {
	defer client.conn.Close()

	for message := range client.Send {
		if err := client.conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
}

type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
