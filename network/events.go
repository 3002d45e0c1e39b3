package network

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventType identifies a coordination event.
type EventType string

const (
	EventAgentRegistered   EventType = "agent:registered"
	EventAgentUnregistered EventType = "agent:unregistered"
	EventAgentUnhealthy    EventType = "agent:unhealthy"
	EventAgentRecovered    EventType = "agent:recovered"
	EventAgentError        EventType = "agent:error"
	EventTaskCompleted     EventType = "task:completed"
	EventTaskFailed        EventType = "task:failed"
	EventMessageBroadcast  EventType = "message:broadcast"
	EventMessageSent       EventType = "message:sent"
	EventMessageReceived   EventType = "message:received"
	EventDiscovery         EventType = "discovery"
	EventNetworkShutdown   EventType = "network:shutdown"

	// EventAny subscribes a handler to every event type.
	EventAny EventType = "*"
)

// Event is a fire-and-forget notification for host observability.
type Event struct {
	Type      EventType      `json:"type"`
	Worker    string         `json:"worker,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Error     string         `json:"error,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventHandler handles a published event.
type EventHandler func(Event)

// subscriptionCounter generates unique subscription IDs; an atomic counter
// avoids collisions under concurrent Subscribe calls.
var subscriptionCounter int64

// EventBus is an explicit observer list with asynchronous delivery.
// Delivery is best-effort: events are dropped when the buffer is full or
// the bus has stopped.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType]map[string]EventHandler

	eventCh  chan Event
	done     chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

// NewEventBus creates a running event bus.
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := &EventBus{
		handlers: make(map[EventType]map[string]EventHandler),
		eventCh:  make(chan Event, 100),
		done:     make(chan struct{}),
		logger:   logger,
	}
	go bus.processEvents()
	return bus
}

// Publish delivers an event to subscribers. Never blocks.
func (b *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case b.eventCh <- event:
	case <-b.done:
	default:
		// Buffer full: the event is dropped.
	}
}

// Subscribe registers a handler for an event type. Use EventAny to receive
// every event. Returns a subscription ID for Unsubscribe.
func (b *EventBus) Subscribe(eventType EventType, handler EventHandler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]EventHandler)
	}

	id := fmt.Sprintf("%s-%d", eventType, atomic.AddInt64(&subscriptionCounter, 1))
	b.handlers[eventType][id] = handler
	return id
}

// Unsubscribe removes a subscription.
func (b *EventBus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, handlers := range b.handlers {
		if _, ok := handlers[subscriptionID]; ok {
			delete(handlers, subscriptionID)
			if len(handlers) == 0 {
				delete(b.handlers, eventType)
			}
			return
		}
	}
}

func (b *EventBus) processEvents() {
	for {
		select {
		case event := <-b.eventCh:
			b.mu.RLock()
			handlers := make([]EventHandler, 0, len(b.handlers[event.Type])+len(b.handlers[EventAny]))
			for _, h := range b.handlers[event.Type] {
				handlers = append(handlers, h)
			}
			for _, h := range b.handlers[EventAny] {
				handlers = append(handlers, h)
			}
			b.mu.RUnlock()

			for _, handler := range handlers {
				h := handler
				go func() {
					defer func() {
						if r := recover(); r != nil {
							b.logger.Error("event handler panicked", zap.Any("recover", r))
						}
					}()
					h(event)
				}()
			}
		case <-b.done:
			return
		}
	}
}

// Stop terminates event delivery.
func (b *EventBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
}
