// Package pubsub fans values out to live subscribers without ever blocking
// the publisher.
//
// Every subscription owns a buffered channel. Publish does a non-blocking send
// to each one; a subscriber whose buffer is full misses that value and the
// failure is logged and counted for that subscriber only. Values reach a single
// subscriber in the order Publish was called.
package pubsub

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	ErrSubscriberFull   = errors.New("subscriber buffer full")
	ErrSubscriberClosed = errors.New("subscriber closed")
	ErrHubClosed        = errors.New("hub closed")
)

// DefaultBuffer is used when Subscribe is given a non-positive buffer size.
const DefaultBuffer = 16

// Recorder receives fan-out accounting. *metrics.Metrics implements it.
type Recorder interface {
	DeliveryDropped(subscriber string)
	Subscribers(n int)
}

// Delivery reports the outcome of one Publish call.
type Delivery struct {
	Delivered int
	Dropped   int
}

type Subscription[T any] struct {
	id      string
	name    string
	ch      chan T
	closed  bool // guarded by Hub.mu
	dropped atomic.Uint64
}

func (s *Subscription[T]) ID() string { return s.id }

func (s *Subscription[T]) Name() string { return s.name }

// C is closed when the subscription is removed or the hub is closed.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Dropped is the number of values this subscriber missed.
func (s *Subscription[T]) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription[T]) label() string {
	return s.name + ":" + s.id[:8]
}

type Hub[T any] struct {
	mu       sync.RWMutex
	subs     map[string]*Subscription[T]
	closed   bool
	logger   *slog.Logger
	recorder Recorder
}

// NewHub returns an empty hub. recorder may be nil.
func NewHub[T any](logger *slog.Logger, recorder Recorder) *Hub[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub[T]{
		subs:     make(map[string]*Subscription[T]),
		logger:   logger.With("component", "fanout"),
		recorder: recorder,
	}
}

// Subscribe registers a new subscriber with a channel of the given depth.
func (h *Hub[T]) Subscribe(name string, buffer int) (*Subscription[T], error) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &Subscription[T]{
		id:   uuid.NewString(),
		name: name,
		ch:   make(chan T, buffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.subs[sub.id] = sub
	n := len(h.subs)
	h.mu.Unlock()

	h.record(func(r Recorder) { r.Subscribers(n) })
	h.logger.Debug("subscriber added", "subscriber", sub.name, "id", sub.id, "buffer", buffer)
	return sub, nil
}

// Unsubscribe removes sub and closes its channel. Safe to call more than once.
func (h *Hub[T]) Unsubscribe(sub *Subscription[T]) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	if _, ok := h.subs[sub.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, sub.id)
	closeLocked(sub)
	n := len(h.subs)
	h.mu.Unlock()

	h.record(func(r Recorder) { r.Subscribers(n) })
	h.logger.Debug("subscriber removed", "subscriber", sub.name, "id", sub.id, "dropped", sub.Dropped())
}

// Publish offers v to every current subscriber and returns immediately.
func (h *Hub[T]) Publish(v T) Delivery {
	var d Delivery

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if err := deliver(sub, v); err != nil {
			d.Dropped++
			sub.dropped.Add(1)
			h.record(func(r Recorder) { r.DeliveryDropped(sub.name) })
			h.logger.Warn("delivery failed",
				"subscriber", sub.label(),
				"dropped_total", sub.Dropped(),
				"error", err,
			)
			continue
		}
		d.Delivered++
	}
	return d
}

// Len returns the number of live subscribers.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close removes every subscriber. Later Subscribe calls fail with ErrHubClosed
// and Publish becomes a no-op.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		closeLocked(sub)
		delete(h.subs, id)
	}
	h.mu.Unlock()

	h.record(func(r Recorder) { r.Subscribers(0) })
}

func (h *Hub[T]) record(fn func(Recorder)) {
	if h.recorder != nil {
		fn(h.recorder)
	}
}

// deliver must be called with the hub read lock held so that the channel
// cannot be closed underneath the send.
func deliver[T any](sub *Subscription[T], v T) (err error) {
	if sub.closed {
		return ErrSubscriberClosed
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	select {
	case sub.ch <- v:
		return nil
	default:
		return ErrSubscriberFull
	}
}

func closeLocked[T any](sub *Subscription[T]) {
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}
