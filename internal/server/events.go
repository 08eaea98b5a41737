package server

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/joshp123/gohome-melcloud/internal/host"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPongWait     = 2 * time.Minute
	wsPingPeriod   = 50 * time.Second
	wsReadLimit    = 64 * 1024
	wsSendBuffer   = 64

	propertyWriteTimeout = 30 * time.Second
)

// Event is one message pushed to websocket clients.
type Event struct {
	Type      string            `json:"type"`
	ID        string            `json:"id,omitempty"`
	Accessory *host.Description `json:"accessory,omitempty"`
	Values    map[string]any    `json:"values,omitempty"`
	Property  string            `json:"property,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Event types.
const (
	EventRegister   = "register"
	EventUpdate     = "update"
	EventUnregister = "unregister"
	EventAck        = "ack"
	EventError      = "error"
)

// Request is a client message. Only "set" is understood.
type Request struct {
	Type     string          `json:"type"`
	ID       string          `json:"id"`
	Property string          `json:"property"`
	Value    json.RawMessage `json:"value"`
}

// EventHub is a host.Host that streams accessories to websocket clients
// and accepts property writes from them.
type EventHub struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu          sync.Mutex
	accessories map[string]*host.Accessory
	values      map[string]map[string]any
	clients     map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan Event
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

func NewEventHub(log zerolog.Logger) *EventHub {
	return &EventHub{
		log:         log,
		upgrader:    websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		accessories: make(map[string]*host.Accessory),
		values:      make(map[string]map[string]any),
		clients:     make(map[*wsClient]struct{}),
	}
}

func (h *EventHub) Register(_ context.Context, acc *host.Accessory) error {
	desc := acc.Describe()
	h.mu.Lock()
	h.accessories[acc.ID] = acc
	if h.values[acc.ID] == nil {
		h.values[acc.ID] = make(map[string]any)
	}
	h.mu.Unlock()
	h.broadcast(Event{Type: EventRegister, ID: acc.ID, Accessory: &desc})
	return nil
}

func (h *EventHub) Update(_ context.Context, accessoryID string, values map[string]any) error {
	h.mu.Lock()
	current, ok := h.values[accessoryID]
	if ok {
		maps.Copy(current, values)
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", host.ErrUnknownAccessory, accessoryID)
	}
	h.broadcast(Event{Type: EventUpdate, ID: accessoryID, Values: maps.Clone(values)})
	return nil
}

func (h *EventHub) Unregister(_ context.Context, accessoryID string) error {
	h.mu.Lock()
	_, ok := h.accessories[accessoryID]
	delete(h.accessories, accessoryID)
	delete(h.values, accessoryID)
	h.mu.Unlock()
	if ok {
		h.broadcast(Event{Type: EventUnregister, ID: accessoryID})
	}
	return nil
}

// snapshotLocked lists the register events a new client starts with.
func (h *EventHub) snapshotLocked() []Event {
	ids := make([]string, 0, len(h.accessories))
	for id := range h.accessories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Event, 0, len(ids))
	for _, id := range ids {
		desc := h.accessories[id].Describe()
		out = append(out, Event{Type: EventRegister, ID: id, Accessory: &desc, Values: maps.Clone(h.values[id])})
	}
	return out
}

// broadcast queues ev for every client. Clients that fall behind are
// dropped.
func (h *EventHub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.log.Warn().Msg("dropping slow websocket client")
			delete(h.clients, c)
			c.close()
		}
	}
}

// Clients is the number of connected websocket clients.
func (h *EventHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	h.mu.Lock()
	snapshot := h.snapshotLocked()
	client := &wsClient{conn: conn, send: make(chan Event, len(snapshot)+wsSendBuffer)}
	for _, ev := range snapshot {
		client.send <- ev
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(client)
	h.readLoop(r.Context(), client)

	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.close()
	}
	h.mu.Unlock()
}

func (h *EventHub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *EventHub) readLoop(ctx context.Context, c *wsClient) {
	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var req Request
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
		h.reply(c, h.handle(ctx, req))
	}
}

func (h *EventHub) handle(ctx context.Context, req Request) Event {
	if req.Type != "set" {
		return Event{Type: EventError, ID: req.ID, Error: fmt.Sprintf("unknown request type %q", req.Type)}
	}
	h.mu.Lock()
	acc, ok := h.accessories[req.ID]
	h.mu.Unlock()
	if !ok {
		return Event{Type: EventError, ID: req.ID, Property: req.Property, Error: host.ErrUnknownAccessory.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, propertyWriteTimeout)
	defer cancel()
	if err := acc.Write(ctx, req.Property, req.Value); err != nil {
		h.log.Warn().Err(err).Str("accessory", req.ID).Str("property", req.Property).Msg("websocket write failed")
		return Event{Type: EventError, ID: req.ID, Property: req.Property, Error: err.Error()}
	}
	return Event{Type: EventAck, ID: req.ID, Property: req.Property}
}

func (h *EventHub) reply(c *wsClient, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- ev:
	default:
	}
}
