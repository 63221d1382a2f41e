// Package network carries actions between websocket clients and the
// dispatcher, and delivers per-user pushes back to every socket a user has
// open.
package network

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"

	"queue-system/internal/services"
	"queue-system/models"
	"queue-system/monitoring"
)

const tooManyRequests = "Too many requests"

type Dispatcher interface {
	Handle(ctx context.Context, action *models.Action, userID string) models.Message
}

type Limiter interface {
	Allow(ctx context.Context, userID string) bool
	Forget(userID string)
}

// Mirror receives a copy of every per-user push.
type Mirror interface {
	Publish(userID string, msg models.Message)
}

type client struct {
	userID string
	conn   *websocket.Conn
	outbox chan models.Message
	done   chan struct{}
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// enqueue never blocks; false means the outbox is full.
func (c *client) enqueue(msg models.Message) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.outbox <- msg:
		return true
	default:
		return false
	}
}

// Hub tracks open sockets per user.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}

	sessions   *Sessions
	limiter    Limiter
	mirror     Mirror
	outboxSize int
}

type HubOption func(*Hub)

func WithLimiter(l Limiter) HubOption {
	return func(h *Hub) { h.limiter = l }
}

func WithMirror(m Mirror) HubOption {
	return func(h *Hub) { h.mirror = m }
}

func WithOutboxSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.outboxSize = n
		}
	}
}

func NewHub(sessions *Sessions, opts ...HubOption) *Hub {
	h := &Hub{
		clients:    make(map[string]map[*client]struct{}),
		sessions:   sessions,
		outboxSize: 64,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NotifyUser queues msg on every socket of userID. Sockets that cannot keep
// up are closed.
func (h *Hub) NotifyUser(userID string, msg models.Message) {
	var slow []*client
	h.mu.RLock()
	for c := range h.clients[userID] {
		if !c.enqueue(msg) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("Dropping slow client", "userId", userID)
		monitoring.ClientDropped()
		c.close()
	}
	if h.mirror != nil {
		h.mirror.Publish(userID, msg)
	}
}

func (h *Hub) HasUser(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Clients reports how many sockets userID has open.
func (h *Hub) Clients(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	monitoring.ClientConnected()
}

// unregister returns how many sockets the user still has.
func (h *Hub) unregister(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.userID]
	if _, ok := set[c]; !ok {
		return len(set)
	}
	delete(set, c)
	monitoring.ClientDisconnected()
	if len(set) == 0 {
		delete(h.clients, c.userID)
		return 0
	}
	return len(set)
}

type sessionKey struct{}

type session struct {
	userID string
	token  string
}

// Handler upgrades the request to a websocket. The session token is read
// from the cookie or ?token= and a new identity is minted when it is
// missing or invalid.
func (h *Hub) Handler(d Dispatcher) http.Handler {
	ws := websocket.Handler(func(conn *websocket.Conn) {
		h.serve(conn, d)
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		userID, token, err := h.sessions.Resolve(TokenFromRequest(r))
		if err != nil {
			slog.Error("Failed to issue session", "error", err)
			http.Error(w, "session unavailable", http.StatusInternalServerError)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, session{userID: userID, token: token})
		ws.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Hub) serve(conn *websocket.Conn, d Dispatcher) {
	r := conn.Request()
	sess, _ := r.Context().Value(sessionKey{}).(session)
	if sess.userID == "" {
		_ = conn.Close()
		return
	}
	ctx := context.WithoutCancel(r.Context())

	c := &client{
		userID: sess.userID,
		conn:   conn,
		outbox: make(chan models.Message, h.outboxSize),
		done:   make(chan struct{}),
	}
	h.register(c)
	go h.writeLoop(c)

	defer func() {
		remaining := h.unregister(c)
		c.close()
		payload, _ := json.Marshal(services.DisconnectPayload{RemainingClients: remaining})
		d.Handle(ctx, &models.Action{Type: models.ActionDisconnect, Payload: payload}, c.userID)
		if remaining == 0 && h.limiter != nil {
			h.limiter.Forget(c.userID)
		}
	}()

	hello := d.Handle(ctx, &models.Action{Type: models.ActionConnect}, c.userID)
	if hs, ok := hello.Payload.(*services.Handshake); ok {
		hs.Token = sess.token
		hello.Type = models.TypeResponseHandshake
	}
	c.enqueue(hello)

	for {
		var action models.Action
		if err := websocket.JSON.Receive(conn, &action); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.enqueue(services.ErrorMessage("malformed frame", nil))
				continue
			}
			if !errors.Is(err, io.EOF) {
				slog.Debug("Websocket read failed", "userId", c.userID, "error", err)
			}
			return
		}

		if !clientAction(action.Type) {
			slog.Debug("Dropping frame", "userId", c.userID, "type", action.Type)
			continue
		}
		if h.limiter != nil && !h.limiter.Allow(ctx, c.userID) {
			var meta *models.Meta
			if ref := action.RequestOf(); ref != "" {
				meta = &models.Meta{ResponseOf: ref}
			}
			c.enqueue(services.ErrorMessage(tooManyRequests, meta))
			continue
		}

		if !c.enqueue(d.Handle(ctx, &action, c.userID)) {
			c.close()
			return
		}
	}
}

// clientAction filters frames clients may not send: typeless, reserved and
// connection lifecycle types.
func clientAction(t models.ActionType) bool {
	switch {
	case t == "", t.Reserved():
		return false
	case t == models.ActionConnect, t == models.ActionDisconnect:
		return false
	}
	return true
}

func (h *Hub) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.outbox:
			if err := websocket.JSON.Send(c.conn, msg); err != nil {
				slog.Debug("Websocket write failed", "userId", c.userID, "error", err)
				c.close()
				return
			}
		}
	}
}
