// Package bus is the in-process event bus between the store, the connection
// state machines and the notifier.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
// Delivery never blocks the publisher: events for a full subscriber are
// dropped and counted, except for queued subscribers, which buffer without
// bound.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	next   int
	closed bool

	dropped atomic.Uint64
}

type subscription struct {
	namespace string
	ch        chan Event
	dropped   atomic.Uint64

	// Set for queued subscriptions only; a forwarder owns ch.
	mu    sync.Mutex
	queue []Event
	wake  chan struct{}
	done  chan struct{}
}

func (s *subscription) deliver(evt Event) bool {
	if s.wake == nil {
		select {
		case s.ch <- evt:
			return true
		default:
			return false
		}
	}
	s.mu.Lock()
	s.queue = append(s.queue, evt)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *subscription) stop() {
	if s.done != nil {
		close(s.done)
		return
	}
	close(s.ch)
}

// forward moves queued events to ch in publish order until stopped.
func (s *subscription) forward() {
	defer close(s.ch)
	for {
		select {
		case <-s.wake:
		case <-s.done:
			return
		}
		for {
			s.mu.Lock()
			batch := s.queue
			s.queue = nil
			s.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, evt := range batch {
				select {
				case s.ch <- evt:
				case <-s.done:
					return
				}
			}
		}
	}
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix of
// event.Kind. A zero Timestamp is set to now.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.namespace) {
			continue
		}
		if !sub.deliver(evt) {
			sub.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer. The channel is closed by the returned
// unsubscribe function or by Close.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	return b.subscribe(&subscription{namespace: namespace, ch: make(chan Event, bufSize)})
}

// SubscribeQueued is like Subscribe but never drops: events the reader has not
// taken yet are queued in memory. It suits a consumer that must see every
// event and can fall behind during bursts.
func (b *Bus) SubscribeQueued(namespace string) (<-chan Event, func()) {
	sub := &subscription{
		namespace: namespace,
		ch:        make(chan Event),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go sub.forward()
	return b.subscribe(sub)
}

func (b *Bus) subscribe(sub *subscription) (<-chan Event, func()) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.stop()
		return sub.ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	return sub.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			sub.stop()
		}
	}
}

// Close closes every subscription. Later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.stop()
		delete(b.subs, id)
	}
}

// Dropped returns how many deliveries were dropped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// DroppedFor returns the drops of the current subscribers of namespace.
func (b *Bus) DroppedFor(namespace string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var n uint64
	for _, sub := range b.subs {
		if sub.namespace == namespace {
			n += sub.dropped.Load()
		}
	}
	return n
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
