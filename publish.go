package stoporder

import (
	"sync"
	"time"
)

// EventType categorizes stop-order lifecycle events.
type EventType string

const (
	EventSubmitted EventType = "submitted"
	EventTriggered EventType = "triggered"
	EventRejected  EventType = "rejected"
	EventCancelled EventType = "cancelled"
	EventExpired   EventType = "expired"
	EventStopped   EventType = "stopped" // forced terminal state of an OCO sibling
)

// StopOrderEvent is published on every stop-order status transition.
// Downstream consumers (a console's stop-orders grid, an audit trail) rebuild
// order state from this stream.
type StopOrderEvent struct {
	Type             EventType `json:"type"`
	StopOrderID      string    `json:"stop_order_id"`
	MarketID         string    `json:"market_id"`
	Party            string    `json:"party"`
	Status           Status    `json:"status"`
	Reason           string    `json:"reason,omitempty"`
	ResultingOrderID string    `json:"resulting_order_id,omitempty"`
	OCOLinkID        string    `json:"oco_link_id,omitempty"`
	At               time.Time `json:"at"`
}

// Publisher is an interface for publishing stop-order lifecycle events.
//
// Publish is called from inside a market's evaluation loop; implementations
// that do slow I/O should hand the events off asynchronously rather than
// block the loop.
type Publisher interface {
	Publish(...*StopOrderEvent)
}

// MemoryPublisher stores events in memory, useful for testing.
type MemoryPublisher struct {
	mu     sync.RWMutex
	events []*StopOrderEvent
}

// NewMemoryPublisher creates a new MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{
		events: make([]*StopOrderEvent, 0),
	}
}

// Publish appends events to the in-memory slice.
func (m *MemoryPublisher) Publish(events ...*StopOrderEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
}

// Count returns the number of events stored.
func (m *MemoryPublisher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Get returns the event at the specified index.
func (m *MemoryPublisher) Get(index int) *StopOrderEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.events[index]
}

// Events returns a copy of all events stored.
func (m *MemoryPublisher) Events() []*StopOrderEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]*StopOrderEvent, len(m.events))
	copy(events, m.events)
	return events
}

// DiscardPublisher discards all events, useful for benchmarking.
type DiscardPublisher struct{}

// NewDiscardPublisher creates a new DiscardPublisher.
func NewDiscardPublisher() *DiscardPublisher {
	return &DiscardPublisher{}
}

// Publish does nothing.
func (p *DiscardPublisher) Publish(events ...*StopOrderEvent) {
}
