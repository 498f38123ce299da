// Package broadcast propagates domain events to role dashboards. Every event
// is persisted before any delivery is attempted; realtime fan-out and the
// per-user notification sink are best-effort on top of that.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auraflow/auraflow/pkg/metrics"
	"github.com/auraflow/auraflow/pkg/model"
)

// EventStore persists and replays events.
type EventStore interface {
	Insert(ctx context.Context, event *model.WorkflowEvent) error
	History(ctx context.Context, workflowID uuid.UUID, types []model.EventType, limit int) ([]model.WorkflowEvent, error)
	MarkProcessed(ctx context.Context, ids []uuid.UUID) error
}

// Publisher is the realtime channel. Failures are logged and swallowed.
type Publisher interface {
	Publish(ctx context.Context, payload *model.EventPayload) error
}

// NotificationSink receives fire-and-forget per-user inbox writes.
type NotificationSink interface {
	Notify(ctx context.Context, notification *model.Notification) error
}

// Listener is an in-process hook invoked synchronously after an event is
// persisted, used by the engine and task queue to react to each other without
// a network round trip.
type Listener func(payload *model.EventPayload)

type Broadcaster struct {
	store  EventStore
	bus    Publisher
	sink   NotificationSink
	logger *zap.Logger

	mu            sync.RWMutex
	subscriptions map[string]model.DashboardSubscription
	listeners     map[model.EventType]map[int]Listener
	nextListener  int
}

// NewBroadcaster wires the durable store with the best-effort delivery paths.
// bus and sink may be nil (tests, single-process deployments).
func NewBroadcaster(store EventStore, bus Publisher, sink NotificationSink, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		store:         store,
		bus:           bus,
		sink:          sink,
		logger:        logger,
		subscriptions: make(map[string]model.DashboardSubscription),
		listeners:     make(map[model.EventType]map[int]Listener),
	}
}

// BroadcastEvent persists the payload, then attempts realtime delivery, then
// invokes local listeners. Persistence failure aborts the whole call; an
// unpersisted event is never delivered. Everything after the persist is
// best-effort.
func (b *Broadcaster) BroadcastEvent(ctx context.Context, payload *model.EventPayload) error {
	if payload.EventID == uuid.Nil {
		payload.EventID = uuid.New()
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}

	if err := b.store.Insert(ctx, payload.Record()); err != nil {
		return &model.PersistenceError{Op: "insert event", Err: err}
	}
	metrics.EventsBroadcast.WithLabelValues(string(payload.EventType)).Inc()

	if b.bus != nil {
		if err := b.bus.Publish(ctx, payload); err != nil {
			b.logger.Warn("realtime publish failed, event persisted",
				zap.String("event_id", payload.EventID.String()),
				zap.String("event_type", string(payload.EventType)),
				zap.Error(err),
			)
		}
	}

	b.notifyTargets(ctx, payload)
	b.triggerListeners(payload)

	return nil
}

// notifyTargets writes an inbox notification for each explicit target.
func (b *Broadcaster) notifyTargets(ctx context.Context, payload *model.EventPayload) {
	if b.sink == nil {
		return
	}
	for _, userID := range payload.TargetUsers {
		notification := &model.Notification{
			ID:       uuid.New(),
			UserID:   userID,
			Type:     string(payload.EventType),
			Title:    payload.Data.Message,
			Message:  payload.Data.ActionRequired,
			Priority: payload.Data.Priority,
			Metadata: model.JSONB{"workflowId": payload.WorkflowID.String()},
		}
		if err := b.sink.Notify(ctx, notification); err != nil {
			b.logger.Warn("notification sink write failed",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
	}
}

// Subscribe registers a process-local routing entry for an observer
// connection. It does not affect persisted event history.
func (b *Broadcaster) Subscribe(subscription model.DashboardSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions[subscription.UserID] = subscription
}

func (b *Broadcaster) Unsubscribe(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscriptions, userID)
}

// Subscribers returns the user ids subscribed to an event type.
func (b *Broadcaster) Subscribers(eventType model.EventType) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var users []string
	for userID, sub := range b.subscriptions {
		if !sub.IsActive {
			continue
		}
		for _, t := range sub.EventTypes {
			if t == eventType {
				users = append(users, userID)
				break
			}
		}
	}
	return users
}

// AddEventListener registers an in-process hook and returns an id for
// RemoveEventListener.
func (b *Broadcaster) AddEventListener(eventType model.EventType, listener Listener) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.listeners[eventType] == nil {
		b.listeners[eventType] = make(map[int]Listener)
	}
	b.nextListener++
	b.listeners[eventType][b.nextListener] = listener
	return b.nextListener
}

func (b *Broadcaster) RemoveEventListener(eventType model.EventType, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners[eventType], id)
}

func (b *Broadcaster) triggerListeners(payload *model.EventPayload) {
	b.mu.RLock()
	registered := make([]Listener, 0, len(b.listeners[payload.EventType]))
	for _, listener := range b.listeners[payload.EventType] {
		registered = append(registered, listener)
	}
	b.mu.RUnlock()

	for _, listener := range registered {
		listener(payload)
	}
}

// GetEventHistory replays persisted events for a workflow, newest first.
func (b *Broadcaster) GetEventHistory(ctx context.Context, workflowID uuid.UUID, types []model.EventType, limit int) ([]*model.EventPayload, error) {
	if limit <= 0 {
		limit = 50
	}
	events, err := b.store.History(ctx, workflowID, types, limit)
	if err != nil {
		return nil, &model.PersistenceError{Op: "event history", Err: err}
	}

	payloads := make([]*model.EventPayload, 0, len(events))
	for i := range events {
		payloads = append(payloads, events[i].Payload())
	}
	return payloads, nil
}

// MarkEventsProcessed flags events as consumed by a dashboard.
func (b *Broadcaster) MarkEventsProcessed(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.store.MarkProcessed(ctx, ids); err != nil {
		return &model.PersistenceError{Op: "mark events processed", Err: err}
	}
	return nil
}
