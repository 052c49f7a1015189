// Package eventbus implements the event bus and the in-process half of
// the broker bridge: in-process pub/sub with a bounded ring buffer, a
// persistence hook, and non-blocking fan-out to streaming clients.
package eventbus

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"docpipe/internal/logging"
	"docpipe/pkg/models"
)

var (
	idEntropyMu sync.Mutex
	idEntropy   = ulid.Monotonic(rand.Reader, 0)
)

// newEventID generates a lexicographically sortable event ID whose order
// matches emit order. The ring buffer itself trims by slice position and
// Timestamp, not by ID.
func newEventID() string {
	idEntropyMu.Lock()
	defer idEntropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
}

// Handler processes one event. Handlers run synchronously with respect
// to emit: each is invoked and, if it returns an error, the error is
// caught and logged but never aborts the emit.
type Handler func(ctx context.Context, e models.Event) error

// EventPersister is the external collaborator that durably stores
// events; in this repo it is internal/db/repositories.EventRepo, but the
// bus depends only on this interface.
type EventPersister interface {
	Insert(ctx context.Context, e models.Event) error
}

// Bus is the event bus. All handler registration, emit, and fan-out
// happen on the same goroutine that calls Emit, except the
// fire-and-forget persistence hook, which runs on its own goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler // event type -> handlers, in subscription order
	wildcard []Handler

	ring *ringBuffer

	persister EventPersister

	clientsMu sync.Mutex
	clients   map[string]*streamClient

	inboxSize int
}

type Option func(*Bus)

func WithPersister(p EventPersister) Option {
	return func(b *Bus) { b.persister = p }
}

// New constructs a Bus with the given ring-buffer bounds and per-client
// inbox size.
func New(ringCount int, ringAge time.Duration, clientInboxSize int, opts ...Option) *Bus {
	b := &Bus{
		handlers:  make(map[string][]Handler),
		ring:      newRingBuffer(ringCount, ringAge),
		clients:   make(map[string]*streamClient),
		inboxSize: clientInboxSize,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe appends handler to the list for eventType ("*" subscribes to
// every type). Handlers for a single event type fire in subscription
// order.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if eventType == "*" {
		b.wildcard = append(b.wildcard, h)
		return
	}
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Emit builds an event, runs every handler for its type then the
// wildcard handlers, pushes it to the ring buffer, optionally persists it
// asynchronously, and fans it out to streaming clients.
func (b *Bus) Emit(ctx context.Context, eventType, origin string, payload map[string]any, userID *string, severity models.Severity, persist bool) models.Event {
	e := models.Event{
		ID:        newEventID(),
		Type:      eventType,
		Origin:    origin,
		Severity:  severity,
		Payload:   payload,
		UserID:    userID,
		Timestamp: time.Now(),
	}

	b.mu.RLock()
	direct := append([]Handler(nil), b.handlers[eventType]...)
	wild := append([]Handler(nil), b.wildcard...)
	b.mu.RUnlock()

	for _, h := range direct {
		b.invoke(ctx, h, e)
	}
	for _, h := range wild {
		b.invoke(ctx, h, e)
	}

	b.ring.push(e)

	if persist && b.persister != nil {
		go b.persistAsync(e)
	}

	b.fanOut(e)
	return e
}

func (b *Bus) invoke(ctx context.Context, h Handler, e models.Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("event bus: handler panicked for event %s (type=%s): %v", e.ID, e.Type, r)
		}
	}()
	if err := h(ctx, e); err != nil {
		logging.Error("event bus: handler failed for event %s (type=%s): %v", e.ID, e.Type, err)
	}
}

// persistAsync retries a bounded number of times with linear backoff,
// logging attempt number and duration on each failure so operators can
// see how persistence is failing rather than just that it did.
func (b *Bus) persistAsync(e models.Event) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := b.persister.Insert(ctx, e)
		cancel()
		if err == nil {
			return
		}
		logging.Error("event bus: persistence attempt %d/%d failed for event %s after %s: %v", attempt, maxAttempts, e.ID, time.Since(start), err)
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
		}
	}
}

// Recent returns a newest-first slice of the ring buffer.
func (b *Bus) Recent(minutes int, types []string, originSubstring string) []models.Event {
	var typeSet map[string]bool
	if len(types) > 0 {
		typeSet = make(map[string]bool, len(types))
		for _, t := range types {
			typeSet[t] = true
		}
	}
	return b.ring.recent(minutes, typeSet, originSubstring)
}

// RingSize reports the current ring buffer length, for bound checks in
// tests.
func (b *Bus) RingSize() int { return b.ring.len() }
