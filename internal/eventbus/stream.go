package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"docpipe/internal/logging"
	"docpipe/pkg/models"
)

// streamClient is a subscribed streaming client's bounded inbox: a
// bounded channel with non-blocking send and drop-on-full.
type streamClient struct {
	id        string
	inbox     chan models.Event
	types     map[string]bool
	evicted   bool
	closeOnce sync.Once
}

// close closes the client's inbox exactly once, whether it is triggered
// by fanOut evicting a full client or by the subscriber unsubscribing —
// the two can race, and closing a channel twice panics.
func (c *streamClient) close() {
	c.closeOnce.Do(func() { close(c.inbox) })
}

// SubscribeStream registers a new streaming client, replays the last
// `minutes` of the ring buffer (filtered by types, in monotonic
// timestamp order), then returns the client's id and inbox for the
// caller to drain live events from.
func (b *Bus) SubscribeStream(minutes int, types []string) (clientID string, inbox <-chan models.Event, unsubscribe func()) {
	var typeSet map[string]bool
	if len(types) > 0 {
		typeSet = make(map[string]bool, len(types))
		for _, t := range types {
			typeSet[t] = true
		}
	}

	c := &streamClient{
		id:    uuid.NewString(),
		inbox: make(chan models.Event, b.inboxSize),
		types: typeSet,
	}

	since := time.Now().Add(-time.Duration(minutes) * time.Minute)
	for _, e := range b.ring.replaySince(since, typeSet) {
		// Replay uses a non-blocking send: no live events have started
		// arriving for this client yet, so the channel can only fill up
		// from the replay slice itself exceeding capacity, in which case
		// the newest replay events are dropped rather than blocking.
		select {
		case c.inbox <- e:
		default:
			logging.Debug("eventbus: client %s inbox full during replay, dropping event %s", c.id, e.ID)
		}
	}

	b.clientsMu.Lock()
	b.clients[c.id] = c
	b.clientsMu.Unlock()

	unsub := func() {
		b.clientsMu.Lock()
		delete(b.clients, c.id)
		b.clientsMu.Unlock()
		c.close()
	}

	return c.id, c.inbox, unsub
}

// fanOut pushes e non-blockingly to every subscribed client whose type
// filter matches; a client whose inbox is full is evicted rather than
// allowed to stall the emitter.
func (b *Bus) fanOut(e models.Event) {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()

	for id, c := range b.clients {
		if c.evicted {
			continue
		}
		if len(c.types) > 0 && !c.types[e.Type] {
			continue
		}
		select {
		case c.inbox <- e:
		default:
			logging.Error("eventbus: client %s inbox full, evicting", id)
			c.evicted = true
			c.close()
			delete(b.clients, id)
		}
	}
}

// ClientCount reports the number of currently subscribed streaming
// clients, for tests and operational visibility.
func (b *Bus) ClientCount() int {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()
	return len(b.clients)
}
