package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"docpipe/internal/logging"
	"docpipe/pkg/models"
)

// envelope is the wire shape of a broker-delivered event.
type envelope struct {
	Type     string         `json:"type"`
	Origin   string         `json:"origin"`
	Payload  map[string]any `json:"payload"`
	Severity string         `json:"severity,omitempty"`
	UserID   *string        `json:"user_id,omitempty"`
}

const eventsSubject = "events"

// BrokerBridge subscribes to the broker's "events" subject and re-emits
// each delivered message into the Bus with persist=false, since the
// original emitter (typically a worker) is responsible for its own
// persistence.
type BrokerBridge struct {
	bus  *Bus
	conn *nats.Conn
	sub  *nats.Subscription

	mu       sync.Mutex
	stopped  bool
	malformed int
}

// NewBrokerBridge connects to natsURL and subscribes to the events
// subject. On connect failure it returns an error; once subscribed, NATS'
// own client handles reconnect-with-backoff for us.
func NewBrokerBridge(bus *Bus, natsURL string) (*BrokerBridge, error) {
	conn, err := nats.Connect(natsURL,
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Error("broker bridge: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logging.Info("broker bridge: reconnected to %s", natsURL)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("broker bridge: connect: %w", err)
	}

	br := &BrokerBridge{bus: bus, conn: conn}

	sub, err := conn.Subscribe(eventsSubject, br.onMessage)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker bridge: subscribe: %w", err)
	}
	br.sub = sub
	return br, nil
}

func (br *BrokerBridge) onMessage(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		br.mu.Lock()
		br.malformed++
		br.mu.Unlock()
		logging.Error("broker bridge: malformed event frame, skipping: %v", err)
		return
	}
	if env.Type == "" {
		logging.Error("broker bridge: event frame missing type, skipping")
		return
	}

	severity := models.Severity(env.Severity)
	if severity == "" {
		severity = models.SeverityInfo
	}

	br.bus.Emit(context.Background(), env.Type, env.Origin, env.Payload, env.UserID, severity, false)
}

// MalformedCount reports how many frames failed to parse, for
// operational visibility.
func (br *BrokerBridge) MalformedCount() int {
	br.mu.Lock()
	defer br.mu.Unlock()
	return br.malformed
}

// Publish sends an event envelope to the broker, used by worker
// processes that do not share memory with the in-process Bus.
func (br *BrokerBridge) Publish(eventType, origin string, payload map[string]any, severity models.Severity, userID *string) error {
	env := envelope{Type: eventType, Origin: origin, Payload: payload, Severity: string(severity), UserID: userID}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("broker bridge: marshal envelope: %w", err)
	}
	if err := br.conn.Publish(eventsSubject, data); err != nil {
		return fmt.Errorf("broker bridge: publish: %w", err)
	}
	return nil
}

// Stop unsubscribes and closes the connection cleanly.
func (br *BrokerBridge) Stop() {
	br.mu.Lock()
	if br.stopped {
		br.mu.Unlock()
		return
	}
	br.stopped = true
	br.mu.Unlock()

	if br.sub != nil {
		_ = br.sub.Unsubscribe()
	}
	br.conn.Close()
}
