// internal/handler/event_bus.go
package handler

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"link-service/internal/model"
)

// EventBus decouples link state listeners from WebSocket fan-out. Publish
// never blocks, so it is safe to call from the link worker.
type EventBus struct {
	subscribers map[string][]chan Event
	events      chan Event
	mutex       sync.RWMutex
	closed      bool
	logger      *zap.Logger
}

// Event represents a system event
type Event struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventStateChanged is published on every link state transition
const EventStateChanged = "state_changed"

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan Event),
		events:      make(chan Event, 1000),
		logger:      logger,
	}
}

// Start distributes events until Close is called
func (eb *EventBus) Start() {
	for event := range eb.events {
		eb.distributeEvent(event)
	}

	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	for _, subs := range eb.subscribers {
		for _, sub := range subs {
			close(sub)
		}
	}
	eb.subscribers = make(map[string][]chan Event)
}

// Close stops the bus and closes every subscriber channel
func (eb *EventBus) Close() {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	if !eb.closed {
		eb.closed = true
		close(eb.events)
	}
}

// Publish publishes an event
func (eb *EventBus) Publish(event Event) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	if eb.closed {
		return
	}

	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event", zap.String("event_type", event.Type))
	}
}

// PublishState publishes a state transition
func (eb *EventBus) PublishState(state model.ConnectionState) {
	eb.Publish(Event{
		Type:      EventStateChanged,
		Data:      map[string]interface{}{"state": state},
		Timestamp: time.Now(),
	})
}

// Subscribe subscribes to events of a specific type
func (eb *EventBus) Subscribe(eventType string) <-chan Event {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan Event, 100)
	if eb.closed {
		close(subscriber)
		return subscriber
	}
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
	return subscriber
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event Event) {
	eb.mutex.RLock()
	subscribers := eb.subscribers[event.Type]
	eb.mutex.RUnlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			eb.logger.Warn("Event subscriber is slow, skipping", zap.String("event_type", event.Type))
		}
	}
}
