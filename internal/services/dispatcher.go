package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"queue-system/internal/status"
	"queue-system/models"
	"queue-system/monitoring"
)

const tracerName = "queue-system/internal/services"

// HandlerFunc runs one action kind for userID with the raw payload.
type HandlerFunc func(ctx context.Context, userID string, payload json.RawMessage) (any, error)

// Dispatcher is the entry point for inbound actions.
type Dispatcher struct {
	queues   *QueueService
	handlers map[models.ActionType]HandlerFunc
	tracer   trace.Tracer
	debug    bool
}

// NewDispatcher routes every action kind to the engine. With debug set,
// internal error details are echoed to clients.
func NewDispatcher(queues *QueueService, debug bool) *Dispatcher {
	d := &Dispatcher{
		queues: queues,
		tracer: otel.Tracer(tracerName),
		debug:  debug,
	}
	d.handlers = map[models.ActionType]HandlerFunc{
		models.ActionConnect: func(ctx context.Context, userID string, _ json.RawMessage) (any, error) {
			return queues.Connect(ctx, userID)
		},
		models.ActionDisconnect: handle(func(ctx context.Context, userID string, p DisconnectPayload) (any, error) {
			slog.Info("User disconnected", "userId", userID, "remainingClients", p.RemainingClients)
			return nil, nil
		}),
		models.ActionCreate: handle(func(ctx context.Context, userID string, p CreatePayload) (any, error) {
			return queues.Create(ctx, userID, p)
		}),
		models.ActionDelete: handle(func(ctx context.Context, userID string, p QueuePayload) (any, error) {
			return nil, queues.Delete(ctx, userID, p)
		}),
		models.ActionUpdate: handle(func(ctx context.Context, userID string, p UpdatePayload) (any, error) {
			return queues.Update(ctx, userID, p)
		}),
		models.ActionJoin: handle(func(ctx context.Context, userID string, p JoinPayload) (any, error) {
			return queues.Join(ctx, userID, p)
		}),
		models.ActionLeave: handle(func(ctx context.Context, userID string, p QueuePayload) (any, error) {
			return queues.Leave(ctx, userID, p)
		}),
		models.ActionJoinManager: handle(func(ctx context.Context, userID string, p JoinManagerPayload) (any, error) {
			return queues.JoinManager(ctx, userID, p)
		}),
		models.ActionLeaveManager: handle(func(ctx context.Context, userID string, p QueuePayload) (any, error) {
			return nil, queues.LeaveManager(ctx, userID, p)
		}),
		models.ActionCreateLane: handle(func(ctx context.Context, userID string, p CreateLanePayload) (any, error) {
			return queues.CreateLane(ctx, userID, p)
		}),
		models.ActionRenameLane: handle(func(ctx context.Context, userID string, p RenameLanePayload) (any, error) {
			return queues.RenameLane(ctx, userID, p)
		}),
		models.ActionDeleteLane: handle(func(ctx context.Context, userID string, p LanePayload) (any, error) {
			return queues.DeleteLane(ctx, userID, p)
		}),
		models.ActionNext: handle(func(ctx context.Context, userID string, p LanePayload) (any, error) {
			return queues.Next(ctx, userID, p)
		}),
		models.ActionConfirm: handle(func(ctx context.Context, userID string, p ConfirmPayload) (any, error) {
			return queues.Confirm(ctx, userID, p)
		}),
		models.ActionConfirmBell: handle(func(ctx context.Context, userID string, p ConfirmBellPayload) (any, error) {
			return queues.ConfirmBell(ctx, userID, p)
		}),
	}
	return d
}

// handle decodes the payload into T before calling fn.
func handle[T any](fn func(ctx context.Context, userID string, p T) (any, error)) HandlerFunc {
	return func(ctx context.Context, userID string, payload json.RawMessage) (any, error) {
		var p T
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, status.Validation("malformed payload: %v", err)
		}
		return fn(ctx, userID, p)
	}
}

// Handles reports whether t has a registered handler.
func (d *Dispatcher) Handles(t models.ActionType) bool {
	_, ok := d.handlers[t]
	return ok
}

// Dispatch validates action and runs its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, action *models.Action, userID string) (any, error) {
	if action == nil || action.Type == "" {
		return nil, status.Validation("action type is required")
	}
	if action.Type.Reserved() {
		return nil, status.Validation("action type %q is reserved", action.Type)
	}
	h, ok := d.handlers[action.Type]
	if !ok {
		return nil, status.Validation("unknown action type %q", action.Type)
	}

	ctx, span := d.tracer.Start(ctx, "queue.action.dispatch",
		trace.WithAttributes(
			attribute.String("queue.action.type", string(action.Type)),
			attribute.String("queue.user.id", userID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	start := time.Now()
	result, err := h(ctx, userID, action.PayloadOrEmpty())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		monitoring.TrackQueueOperation(string(action.Type), string(status.KindOf(err)), time.Since(start))
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	monitoring.TrackQueueOperation(string(action.Type), "ok", time.Since(start))
	return result, nil
}

// Handle dispatches action and wraps the outcome in a response envelope
// correlated through meta.responseOf.
func (d *Dispatcher) Handle(ctx context.Context, action *models.Action, userID string) models.Message {
	var meta *models.Meta
	if ref := action.RequestOf(); ref != "" {
		meta = &models.Meta{ResponseOf: ref}
	}

	result, err := d.Dispatch(ctx, action, userID)
	if err != nil {
		if !status.IsVisible(err) {
			slog.Error("Action failed", "type", actionType(action), "userId", userID, "error", err)
		}
		return ErrorMessage(status.PublicMessage(err, d.debug), meta)
	}
	return models.Message{Type: models.TypeResponseOK, Payload: result, Meta: meta}
}

// ErrorMessage builds a response/error envelope.
func ErrorMessage(message string, meta *models.Meta) models.Message {
	return models.Message{
		Type:    models.TypeResponseError,
		Payload: map[string]string{"message": message},
		Meta:    meta,
	}
}

func actionType(action *models.Action) string {
	if action == nil {
		return ""
	}
	return string(action.Type)
}
