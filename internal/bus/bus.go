// Package bus provides a minimal in-process publish/subscribe registry used
// to fan speculative events out to active subscriptions, keyed by topic
// (the engine uses the shared link as the topic).
//
// Delivery never blocks the publisher: each subscriber owns an unbounded
// queue drained at its own pace through a notification channel.
package bus

import "sync"

// Bus fans published values out to every subscriber of a topic.
// The zero value is not usable; call New.
type Bus[T any] struct {
	mu     sync.Mutex
	topics map[string]map[*Subscriber[T]]struct{}
}

// New returns an empty bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{topics: make(map[string]map[*Subscriber[T]]struct{})}
}

// Subscriber receives values published to one topic. Wait on C, then drain
// with Pop until it reports empty.
type Subscriber[T any] struct {
	bus   *Bus[T]
	topic string

	mu     sync.Mutex
	queue  []T
	notify chan struct{}
}

// Subscribe registers a new subscriber on topic.
func (b *Bus[T]) Subscribe(topic string) *Subscriber[T] {
	sub := &Subscriber[T]{
		bus:    b,
		topic:  topic,
		notify: make(chan struct{}, 1),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*Subscriber[T]]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Publish enqueues v for every current subscriber of topic and returns once
// each of them holds the value. It never waits for consumers.
func (b *Bus[T]) Publish(topic string, v T) {
	b.mu.Lock()
	subs := make([]*Subscriber[T], 0, len(b.topics[topic]))
	for sub := range b.topics[topic] {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.push(v)
	}
}

func (s *Subscriber[T]) push(v T) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// C signals that the queue may be non-empty. After receiving, drain with Pop.
func (s *Subscriber[T]) C() <-chan struct{} {
	return s.notify
}

// Pop removes and returns the oldest queued value. The second result is
// false when the queue is empty.
func (s *Subscriber[T]) Pop() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		var zero T
		return zero, false
	}
	v := s.queue[0]
	s.queue = s.queue[1:]
	return v, true
}

// Unsubscribe removes the subscriber from its topic. Values already queued
// remain poppable; no new values arrive. Safe to call more than once.
func (s *Subscriber[T]) Unsubscribe() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.topics[s.topic]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(b.topics, s.topic)
		}
	}
}
