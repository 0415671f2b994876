// Package events provides the in-process broadcast bus that carries
// application events from the engine to every interested consumer. Envelopes
// get monotonically increasing ids so late subscribers can replay the recent
// backlog and then follow live traffic without gaps or duplicates.
package events

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"torrentd/internal/domain"
)

// DefaultReplayCapacity bounds the replay buffer unless overridden.
const DefaultReplayCapacity = 1024

// subscriberBuffer is the per-subscriber queue depth before lag kicks in.
const subscriberBuffer = 64

var ErrBusClosed = errors.New("event bus closed")

// LaggedError tells a slow subscriber how many envelopes it missed. The
// subscription stays usable; delivery continues with newer envelopes.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("subscriber lagged, missed %d events", e.Missed)
}

// Envelope wraps an event with its bus-assigned id and publish time.
type Envelope struct {
	ID        uint64       `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	Event     domain.Event `json:"event"`
}

// Stats is a point-in-time snapshot of bus counters, exported as metrics by
// the composition root.
type Stats struct {
	Published   uint64
	Dropped     uint64
	Subscribers int
}

// Bus is a broadcast channel with a bounded FIFO replay buffer. Publish
// never blocks: subscribers that fall behind lose their oldest queued
// envelopes and learn about it through LaggedError.
type Bus struct {
	mu        sync.Mutex
	lastID    uint64
	ring      []Envelope
	head      int
	count     int
	subs      map[*Subscription]struct{}
	closed    bool
	published uint64
	dropped   atomic.Uint64
}

// NewBus creates a bus with the default replay capacity.
func NewBus() *Bus {
	return NewBusWithCapacity(DefaultReplayCapacity)
}

// NewBusWithCapacity creates a bus whose replay buffer holds up to capacity
// envelopes. Non-positive capacities fall back to the default.
func NewBusWithCapacity(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultReplayCapacity
	}
	return &Bus{
		ring: make([]Envelope, capacity),
		subs: make(map[*Subscription]struct{}),
	}
}

// Publish assigns the next id, records the envelope in the replay buffer,
// and fans it out to live subscribers. The first envelope gets id 1; the
// counter saturates at the maximum instead of wrapping back.
func (b *Bus) Publish(event domain.Event) Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastID < math.MaxUint64 {
		b.lastID++
	}
	env := Envelope{ID: b.lastID, Timestamp: time.Now().UTC(), Event: event}

	if b.count == len(b.ring) {
		b.head = (b.head + 1) % len(b.ring)
		b.count--
	}
	b.ring[(b.head+b.count)%len(b.ring)] = env
	b.count++
	b.published++

	for sub := range b.subs {
		sub.offer(env)
	}
	return env
}

// Subscribe registers a live-only subscriber: it sees envelopes published
// after this call.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribeLocked(b.lastID)
}

// SubscribeFrom registers a subscriber that first replays every buffered
// envelope with id greater than lastID, then follows live traffic. The
// snapshot and the registration happen under one lock, so nothing published
// in between is missed or duplicated. SubscribeFrom(0) replays the whole
// buffer.
func (b *Bus) SubscribeFrom(lastID uint64) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribeLocked(lastID)
}

func (b *Bus) subscribeLocked(lastID uint64) *Subscription {
	sub := &Subscription{
		bus:     b,
		ch:      make(chan Envelope, subscriberBuffer),
		backlog: b.backlogLocked(lastID),
		done:    make(chan struct{}),
	}
	if b.closed {
		close(sub.done)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// BacklogSince returns buffered envelopes with id greater than lastID, in
// publish order.
func (b *Bus) BacklogSince(lastID uint64) []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backlogLocked(lastID)
}

func (b *Bus) backlogLocked(lastID uint64) []Envelope {
	var out []Envelope
	for i := 0; i < b.count; i++ {
		env := b.ring[(b.head+i)%len(b.ring)]
		if env.ID > lastID {
			out = append(out, env)
		}
	}
	return out
}

// LastEventID returns the id of the most recently published envelope, or 0
// when nothing has been published yet.
func (b *Bus) LastEventID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastID
}

// Stats snapshots the bus counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Published:   b.published,
		Dropped:     b.dropped.Load(),
		Subscribers: len(b.subs),
	}
}

// Close terminates every subscription. Subsequent Next calls drain whatever
// was already queued, then report ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.done)
	}
	b.subs = make(map[*Subscription]struct{})
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.done)
	}
}

// Subscription is a single consumer's view of the bus. Not safe for
// concurrent Next calls.
type Subscription struct {
	bus     *Bus
	ch      chan Envelope
	backlog []Envelope
	missed  atomic.Uint64
	done    chan struct{}
}

// offer delivers without ever blocking the publisher: a full queue loses its
// oldest entry and the miss is counted.
func (s *Subscription) offer(env Envelope) {
	select {
	case s.ch <- env:
		return
	default:
	}
	select {
	case <-s.ch:
		s.missed.Add(1)
		s.bus.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- env:
	default:
		s.missed.Add(1)
		s.bus.dropped.Add(1)
	}
}

// Next returns the next envelope: replayed backlog first, then live
// delivery. When the subscriber has fallen behind it first returns a
// *LaggedError describing how many envelopes were lost; the subscription
// remains usable. After the bus closes, queued envelopes are drained before
// ErrBusClosed is reported.
func (s *Subscription) Next(ctx context.Context) (Envelope, error) {
	if n := s.missed.Swap(0); n > 0 {
		return Envelope{}, &LaggedError{Missed: n}
	}
	if len(s.backlog) > 0 {
		env := s.backlog[0]
		s.backlog = s.backlog[1:]
		return env, nil
	}
	select {
	case env := <-s.ch:
		return env, nil
	default:
	}
	select {
	case env := <-s.ch:
		return env, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	case <-s.done:
		select {
		case env := <-s.ch:
			return env, nil
		default:
			return Envelope{}, ErrBusClosed
		}
	}
}

// Cancel detaches the subscription from the bus. Safe to call more than
// once.
func (s *Subscription) Cancel() {
	s.bus.remove(s)
}
