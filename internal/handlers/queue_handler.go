// Package handlers exposes the queue server over the PocketBase router.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"queue-system/internal/network"
	"queue-system/internal/services"
	"queue-system/internal/status"
	"queue-system/internal/storage"
)

type QueueHandler struct {
	queues   *services.QueueService
	sessions *network.Sessions
	socket   http.Handler
	backend  storage.Pinger
	secure   bool
}

// NewQueueHandler wires the HTTP surface. backend may be nil when queues
// only live in memory.
func NewQueueHandler(queues *services.QueueService, hub *network.Hub, dispatcher network.Dispatcher, sessions *network.Sessions, backend storage.Pinger, secure bool) *QueueHandler {
	return &QueueHandler{
		queues:   queues,
		sessions: sessions,
		socket:   hub.Handler(dispatcher),
		backend:  backend,
		secure:   secure,
	}
}

// Socket upgrades GET /ws to a websocket connection.
func (h *QueueHandler) Socket(e *core.RequestEvent) error {
	w, ok := hijackable(e.Response)
	if !ok {
		slog.Error("Websocket upgrade unavailable", "path", e.Request.URL.Path)
		return apis.NewInternalServerError("Websocket upgrade unavailable", nil)
	}
	h.socket.ServeHTTP(w, e.Request)
	return nil
}

// Session mints or refreshes the session cookie.
func (h *QueueHandler) Session(e *core.RequestEvent) error {
	userID, token, err := h.sessions.Resolve(network.TokenFromRequest(e.Request))
	if err != nil {
		slog.Error("Failed to issue session", "error", err)
		return apis.NewInternalServerError("Failed to issue session", nil)
	}
	http.SetCookie(e.Response, h.sessions.Cookie(token, h.secure))
	return e.JSON(http.StatusOK, map[string]string{"id": userID, "token": token})
}

// GetQueue returns the caller's participant view. Callers without a valid
// session see the queue as a non-participant.
func (h *QueueHandler) GetQueue(e *core.RequestEvent) error {
	queueID := e.Request.PathValue("queueId")
	if queueID == "" {
		return apis.NewBadRequestError("Queue ID required", nil)
	}

	userID, _ := h.sessions.Parse(network.TokenFromRequest(e.Request))

	view, err := h.queues.View(e.Request.Context(), queueID, userID)
	switch {
	case status.KindOf(err) == status.KindNotFound:
		return apis.NewNotFoundError(status.ErrQueueNotFound.Message, nil)
	case err != nil:
		slog.Error("Failed to load queue", "queueId", queueID, "error", err)
		return apis.NewInternalServerError(status.InternalMessage, nil)
	}
	return e.JSON(http.StatusOK, view)
}

// Dashboard summarizes the live queues for operators.
func (h *QueueHandler) Dashboard(e *core.RequestEvent) error {
	stats := h.queues.Stats()
	return e.JSON(http.StatusOK, map[string]any{
		"queues":  stats.Queues,
		"users":   stats.Users,
		"waiting": stats.Waiting,
	})
}

func (h *QueueHandler) Health(e *core.RequestEvent) error {
	if h.backend != nil {
		if err := h.backend.Ping(e.Request.Context()); err != nil {
			return e.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
	}
	return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// hijackable finds a writer that can hand over the connection. The router
// wraps the server's writer, so wrappers are peeled until a Hijacker turns
// up.
func hijackable(w http.ResponseWriter) (http.ResponseWriter, bool) {
	for w != nil {
		if _, ok := w.(http.Hijacker); ok {
			return w, true
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			break
		}
		w = u.Unwrap()
	}
	return nil, false
}
