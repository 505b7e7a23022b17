package engine

import (
	"sync"
	"time"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 16

// EventRemoved is the status carried by the final event of a task that left
// the registry without reaching a terminal state through execution.
const EventRemoved = "removed"

// Removal reasons carried on EventRemoved events and eviction metrics.
const (
	ReasonCancelled = "cancelled"
	ReasonExpired   = "expired"
	ReasonAbandoned = "abandoned"
)

// Event is a status change of one task.
type Event struct {
	TaskID string    `json:"task_id"`
	Status string    `json:"status"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Broker fans out task status events to per-task subscribers.
// It is safe for concurrent use.
//
// Unlike a general pub/sub, a topic is dropped entirely on Close; the queue
// only subscribes to tasks it has verified are still live.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	subs   map[int]chan Event
	nextID int
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]*topic),
	}
}

// Subscribe returns a channel that receives events for the given task and an
// unsubscribe function. initial events are queued on the channel before any
// later publication.
func (b *Broker) Subscribe(taskID string, initial ...Event) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok {
		t = &topic{subs: make(map[int]chan Event)}
		b.topics[taskID] = t
	}

	ch := make(chan Event, subscriberBufferSize)
	for _, ev := range initial {
		select {
		case ch <- ev:
		default:
		}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends an event to all subscribers of its task.
// Events are dropped for subscribers whose buffers are full.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[ev.TaskID]
	if !ok {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// Drop for slow subscribers to avoid blocking the scheduler.
		}
	}
}

// Close signals that no more events will be published for the given task.
// All subscriber channels are closed and the topic is forgotten.
func (b *Broker) Close(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok {
		return
	}

	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
	delete(b.topics, taskID)
}

// Topics returns the number of tasks with open subscriptions.
func (b *Broker) Topics() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}
