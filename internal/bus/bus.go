// Package bus provides the in-process publish/subscribe hub that connects
// the stagehand services. Topics are event types; every subscriber of a
// topic receives its own copy of each published event.
package bus

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// EventType identifies the topic an event is published under.
type EventType string

const (
	// EventSequenceStarted indicates a workflow sequence began executing.
	EventSequenceStarted EventType = "sequence_started"
	// EventStepStarted indicates a workflow step began executing.
	EventStepStarted EventType = "step_started"
	// EventStepCompleted indicates a workflow step completed successfully.
	EventStepCompleted EventType = "step_completed"
	// EventStepFailed indicates one failed attempt of a workflow step.
	EventStepFailed EventType = "step_failed"
	// EventSequenceCompleted indicates every step of a sequence succeeded.
	EventSequenceCompleted EventType = "sequence_completed"
	// EventSequenceFailed indicates a sequence stopped at a failed step.
	EventSequenceFailed EventType = "sequence_failed"
	// EventStoryCreated indicates a new story was persisted.
	EventStoryCreated EventType = "story_created"
	// EventStoryStateTransitioned indicates a story changed lifecycle state.
	EventStoryStateTransitioned EventType = "story_state_transitioned"
	// EventValidationCompleted indicates a quality gate run finished.
	EventValidationCompleted EventType = "validation_completed"
	// EventTaskStarted indicates an agent task started executing.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates an agent task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates an agent task failed.
	EventTaskFailed EventType = "task_failed"
)

// AllEventTypes lists the full event vocabulary. This set is the wire
// contract for observers and must remain stable across versions.
func AllEventTypes() []EventType {
	return []EventType{
		EventSequenceStarted,
		EventStepStarted,
		EventStepCompleted,
		EventStepFailed,
		EventSequenceCompleted,
		EventSequenceFailed,
		EventStoryCreated,
		EventStoryStateTransitioned,
		EventValidationCompleted,
		EventTaskStarted,
		EventTaskCompleted,
		EventTaskFailed,
	}
}

// Event is an immutable record published on the bus.
type Event struct {
	// Type is the topic the event is delivered under.
	Type EventType
	// Data holds the event's payload fields.
	Data map[string]any
	// Timestamp is when the event was published.
	Timestamp time.Time
}

// DefaultBufferSize is the per-subscriber queue capacity used when a bus is
// created with a non-positive size.
const DefaultBufferSize = 256

// Bus is a topic-keyed publish/subscribe hub. Publish never blocks: when a
// subscriber's buffer is full the oldest buffered event for that subscriber
// is dropped to admit the new one.
type Bus struct {
	mu         sync.RWMutex
	subs       map[EventType][]*Subscription
	bufferSize int
}

// New creates a Bus with the given per-subscriber buffer capacity.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subs:       make(map[EventType][]*Subscription),
		bufferSize: bufferSize,
	}
}

// Subscribe registers a new subscriber for the given topics and returns its
// receive handle. Each subscriber owns an independent bounded FIFO buffer.
func (b *Bus) Subscribe(types ...EventType) *Subscription {
	sub := &Subscription{
		bus:   b,
		types: append([]EventType{}, types...),
		ch:    make(chan Event, b.bufferSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.subs[t] = append(b.subs[t], sub)
	}
	return sub
}

// Publish delivers the event to every subscription currently registered for
// its type. Publishing to a topic with no subscribers is a no-op. The
// publisher is never blocked by a slow subscriber.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	// Delivery happens under the read lock so a concurrent Close (which
	// takes the write lock before closing the channel) cannot interleave
	// with an in-flight send. deliver never blocks, so holding the lock
	// here is cheap.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[evt.Type] {
		sub.deliver(evt)
	}
}

// SubscriberCount returns the number of subscriptions for a topic.
func (b *Bus) SubscriberCount(t EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[t])
}

// remove unregisters a subscription from every topic it was subscribed to.
func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range sub.types {
		list := b.subs[t]
		for i, s := range list {
			if s == sub {
				b.subs[t] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// Subscription is one subscriber's receive handle. Events arrive on Events()
// in publish order; consuming them is the subscriber's responsibility.
type Subscription struct {
	bus     *Bus
	types   []EventType
	ch      chan Event
	dropped atomic.Uint64
	closed  atomic.Bool
}

// Events returns the read-only channel of delivered events.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events were discarded because this subscriber's
// buffer overflowed.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes the handle from every topic and closes its channel.
func (s *Subscription) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.bus.remove(s)
	close(s.ch)
}

// deliver enqueues the event, dropping the oldest buffered event if the
// buffer is full. The newest event is never dropped.
func (s *Subscription) deliver(evt Event) {
	if s.closed.Load() {
		return
	}
	for {
		select {
		case s.ch <- evt:
			return
		default:
		}
		// Buffer full: drop the oldest entry and retry. The select pair can
		// race with a concurrent receiver draining the channel; the loop
		// converges either way.
		select {
		case <-s.ch:
			count := s.dropped.Add(1)
			if count%100 == 1 {
				log.Printf("[bus] subscriber buffer full, dropped oldest event (total dropped: %d): type=%s", count, evt.Type)
			}
		default:
		}
	}
}
