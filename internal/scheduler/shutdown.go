package scheduler

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docpipe/internal/eventbus"
	"docpipe/internal/logging"
	"docpipe/internal/plugin"
	"docpipe/pkg/models"
)

// Coordinator is the shutdown coordinator: it waits for a termination
// signal, then runs a seven-step graceful drain built on a
// signal.Notify + context.WithTimeout shutdown sequence.
type Coordinator struct {
	dispatcher *Dispatcher
	broker     *eventbus.BrokerBridge
	registry   *plugin.Registry
	bus        *eventbus.Bus

	gracefulWindow time.Duration
	pollInterval   time.Duration

	startedAt time.Time
}

func NewCoordinator(dispatcher *Dispatcher, broker *eventbus.BrokerBridge, registry *plugin.Registry, bus *eventbus.Bus, gracefulWindow, pollInterval time.Duration) *Coordinator {
	return &Coordinator{
		dispatcher:     dispatcher,
		broker:         broker,
		registry:       registry,
		bus:            bus,
		gracefulWindow: gracefulWindow,
		pollInterval:   pollInterval,
		startedAt:      time.Now(),
	}
}

// Run blocks until SIGTERM or SIGINT is received (or ctx is done), then
// drains and returns. cmd/docpipe runs it on its own goroutine and exits
// once it returns.
func (c *Coordinator) Run(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	c.Drain(context.Background())
}

// Drain executes the seven shutdown steps directly, useful for tests
// that want to trigger shutdown without a real signal.
func (c *Coordinator) Drain(ctx context.Context) {
	uptime := time.Since(c.startedAt)

	// 1. Refuse new submissions; routing filter consults the same flag via
	// Submit's own shutting-down check.
	c.dispatcher.StopAccepting()

	// 2. Announce.
	c.bus.Emit(ctx, "system.shutdown", "shutdown-coordinator", map[string]any{
		"reason": "termination signal received",
		"uptime_seconds": int(uptime.Seconds()),
	}, nil, models.SeverityWarning, true)

	// 3. Stop the broker bridge and await its drain.
	if c.broker != nil {
		brokerDone := make(chan struct{})
		go func() {
			c.broker.Stop()
			close(brokerDone)
		}()
		select {
		case <-brokerDone:
		case <-time.After(5 * time.Second):
			logging.Error("shutdown: broker bridge did not stop within 5s")
		}
	}

	// 4. Wait for in-flight jobs, up to gracefulWindow-5s, polling.
	budget := c.gracefulWindow - 5*time.Second
	if budget < 0 {
		budget = 0
	}
	deadline := time.Now().Add(budget)
	for time.Now().Before(deadline) {
		if c.dispatcher.InFlight() == 0 {
			break
		}
		time.Sleep(c.pollInterval)
	}

	// 5. Cancel anything still running.
	if c.dispatcher.InFlight() > 0 {
		c.dispatcher.CancelAll(ctx, "shutdown: graceful window elapsed")
	}
	c.dispatcher.Wait()

	// 6. Invoke each plugin's shutdown hook with a 5s per-plugin budget.
	for name, p := range c.registry.Instances() {
		func() {
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- p.Shutdown(pctx) }()
			select {
			case err := <-done:
				if err != nil {
					logging.Error("shutdown: plugin %s shutdown hook failed: %v", name, err)
				}
			case <-pctx.Done():
				logging.Error("shutdown: plugin %s shutdown hook exceeded 5s budget", name)
			}
		}()
	}

	// 7. Release of external storage/broker handles is the caller's
	// responsibility once Drain returns (they own those handles' lifetime,
	// e.g. the database connection closed in cmd/docpipe).
	logging.Info("shutdown: graceful drain complete (uptime %s)", uptime)
}
