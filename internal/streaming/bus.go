// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package streaming delivers engine events to handlers and stream
// subscribers in the order they were produced, keeping a bounded history
// per session for replay.
package streaming

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/metrics"
	"github.com/pdiddy/deep-research/pkg/types"
)

const (
	defaultHistory = 1024
	defaultBuffer  = 256
)

// Handler receives events synchronously from Publish.
type Handler func(types.EngineEvent)

// Bus is an in-memory pub/sub keyed by session ID.
type Bus struct {
	logger   *zap.Logger
	capacity int
	buffer   int

	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	// pub serializes Publish for one session so handlers and subscribers
	// observe generation order.
	pub sync.Mutex

	mu       sync.Mutex
	history  *ring
	nextSeq  uint64
	handlers map[uint64]Handler
	hOrder   []uint64
	subs     map[chan types.EngineEvent]struct{}
	nextID   uint64
	joined   chan struct{}
}

// NewBus returns a Bus keeping historySize events per session and giving
// each subscriber a channel of subscriberBuffer events. Zero values pick
// the defaults.
func NewBus(historySize, subscriberBuffer int, logger *zap.Logger) *Bus {
	if historySize <= 0 {
		historySize = defaultHistory
	}
	if subscriberBuffer <= 0 {
		subscriberBuffer = defaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger:   logger,
		capacity: historySize,
		buffer:   subscriberBuffer,
		topics:   make(map[string]*topic),
	}
}

func (b *Bus) topic(id string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topics[id]
	if t == nil {
		t = &topic{
			history:  newRing(b.capacity),
			nextSeq:  1,
			handlers: make(map[uint64]Handler),
			subs:     make(map[chan types.EngineEvent]struct{}),
			joined:   make(chan struct{}),
		}
		b.topics[id] = t
	}
	return t
}

// lookup returns the topic of id without creating it.
func (b *Bus) lookup(id string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topics[id]
}

// Publish assigns the next sequence number to evt, records it, runs the
// handlers in registration order and then offers it to every subscriber.
// A subscriber whose buffer is full is closed and dropped. The published
// event is returned.
func (b *Bus) Publish(evt types.EngineEvent) types.EngineEvent {
	t := b.topic(evt.SessionID)
	t.pub.Lock()
	defer t.pub.Unlock()

	t.mu.Lock()
	evt.Seq = t.nextSeq
	t.nextSeq++
	t.history.push(evt)
	handlers := make([]Handler, 0, len(t.hOrder))
	for _, id := range t.hOrder {
		handlers = append(handlers, t.handlers[id])
	}
	t.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(string(evt.Type)).Inc()

	for _, h := range handlers {
		b.invoke(h, evt)
	}

	t.mu.Lock()
	for ch := range t.subs {
		select {
		case ch <- evt:
		default:
			b.logger.Warn("dropping lagging stream subscriber",
				zap.String("session_id", evt.SessionID),
				zap.Uint64("seq", evt.Seq))
			delete(t.subs, ch)
			close(ch)
		}
	}
	t.mu.Unlock()
	return evt
}

// invoke isolates the bus from a panicking handler.
func (b *Bus) invoke(h Handler, evt types.EngineEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("session_id", evt.SessionID),
				zap.Any("panic", r))
		}
	}()
	h(evt)
}

// OnEvent registers a synchronous handler for sessionID. The returned
// function unregisters it and is safe to call more than once.
func (b *Bus) OnEvent(sessionID string, h Handler) func() {
	t := b.topic(sessionID)
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.handlers[id] = h
	t.hOrder = append(t.hOrder, id)
	t.notifyJoinLocked()
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.handlers, id)
			for i, v := range t.hOrder {
				if v == id {
					t.hOrder = append(t.hOrder[:i], t.hOrder[i+1:]...)
					break
				}
			}
		})
	}
}

// Subscribe returns a channel of future events for sessionID.
func (b *Bus) Subscribe(sessionID string) (<-chan types.EngineEvent, func()) {
	_, ch, cancel := b.subscribe(sessionID, false)
	return ch, cancel
}

// Replay atomically snapshots the history of sessionID and subscribes to
// the events that follow it, so no event is missed or repeated.
func (b *Bus) Replay(sessionID string) ([]types.EngineEvent, <-chan types.EngineEvent, func()) {
	return b.subscribe(sessionID, true)
}

func (b *Bus) subscribe(sessionID string, withHistory bool) ([]types.EngineEvent, <-chan types.EngineEvent, func()) {
	t := b.topic(sessionID)
	ch := make(chan types.EngineEvent, b.buffer)

	t.mu.Lock()
	var hist []types.EngineEvent
	if withHistory {
		hist = t.history.all()
	}
	t.subs[ch] = struct{}{}
	t.notifyJoinLocked()
	t.mu.Unlock()

	var once sync.Once
	return hist, ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if _, ok := t.subs[ch]; ok {
				delete(t.subs, ch)
				close(ch)
			}
		})
	}
}

func (t *topic) notifyJoinLocked() {
	close(t.joined)
	t.joined = make(chan struct{})
}

// History returns the retained events of sessionID, oldest first.
func (b *Bus) History(sessionID string) []types.EngineEvent {
	t := b.lookup(sessionID)
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.history.all()
}

// ListenerCount returns the number of handlers and subscribers of sessionID.
func (b *Bus) ListenerCount(sessionID string) int {
	t := b.lookup(sessionID)
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handlers) + len(t.subs)
}

// WaitListener blocks until sessionID has at least one listener or ctx is
// done.
func (b *Bus) WaitListener(ctx context.Context, sessionID string) error {
	t := b.topic(sessionID)
	for {
		t.mu.Lock()
		n := len(t.handlers) + len(t.subs)
		joined := t.joined
		t.mu.Unlock()
		if n > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-joined:
		}
	}
}

// Forget closes every subscriber of sessionID and drops its history.
func (b *Bus) Forget(sessionID string) {
	b.mu.Lock()
	t := b.topics[sessionID]
	delete(b.topics, sessionID)
	b.mu.Unlock()
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.subs {
		delete(t.subs, ch)
		close(ch)
	}
	t.handlers = make(map[uint64]Handler)
	t.hOrder = nil
}

// ring is a fixed-capacity buffer of the most recent events.
type ring struct {
	buf   []types.EngineEvent
	start int
	count int
}

func newRing(capacity int) *ring { return &ring{buf: make([]types.EngineEvent, capacity)} }

func (r *ring) push(e types.EngineEvent) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) all() []types.EngineEvent {
	out := make([]types.EngineEvent, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}
