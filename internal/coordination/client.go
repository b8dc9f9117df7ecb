package coordination

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/khive-ai/khive-gateway/internal/dispatch"
	"github.com/khive-ai/khive-gateway/internal/ingest"
	"github.com/khive-ai/khive-gateway/internal/metrics"
	"github.com/khive-ai/khive-gateway/internal/models"
	"github.com/khive-ai/khive-gateway/internal/state"
	"github.com/khive-ai/khive-gateway/internal/transport"
)

// ClientInterface defines the coordination surface the gateway handlers, the
// WebSocket hub, and the CLI consume.
type ClientInterface interface {
	State() models.StateSnapshot
	OnChange(fn func(models.StateSnapshot)) func()
	SendCommand(ctx context.Context, name string, args []string, priority models.Priority) (*models.CommandResult, error)
	ConnectionHealth() transport.Health
	PendingCommands() int
	IngestStats() ingest.Stats
	Healthy(ctx context.Context) bool
}

// Client is the single entry point for consumers of daemon coordination
// state. It supervises the event stream, keeps the local state model
// converged with the daemon across reconnects, and dispatches commands.
//
// One routing goroutine consumes everything the transport produces, so
// events apply in arrival order and change callbacks fire in that same
// order.
type Client struct {
	store      *state.Store
	transport  *transport.Manager
	dispatcher *dispatch.Dispatcher
	ingestor   *ingest.Ingestor
	daemon     DaemonClientInterface
	logger     *log.Logger
	metrics    *metrics.CoordinationMetrics

	started atomic.Bool
	stopped atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewClient wires the coordination pipeline together. The caller owns
// construction of the parts so tests can point them at fake daemons.
func NewClient(
	store *state.Store,
	mgr *transport.Manager,
	dispatcher *dispatch.Dispatcher,
	ingestor *ingest.Ingestor,
	daemon DaemonClientInterface,
	logger *log.Logger,
	m *metrics.CoordinationMetrics,
) *Client {
	return &Client{
		store:      store,
		transport:  mgr,
		dispatcher: dispatcher,
		ingestor:   ingestor,
		daemon:     daemon,
		logger:     logger,
		metrics:    m,
		done:       make(chan struct{}),
	}
}

// Start launches the transport and the routing loop. It returns immediately;
// connection and the initial state fetch happen in the background and are
// retried until Stop.
func (c *Client) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.transport.Start(runCtx)
	go c.run(runCtx)
}

// Stop closes the daemon connection and waits for the routing loop to drain.
// Safe to call more than once.
func (c *Client) Stop() {
	if !c.started.Load() || !c.stopped.CompareAndSwap(false, true) {
		return
	}
	c.transport.Close()
	<-c.done
	c.cancel()
}

// State returns the current reconciled snapshot.
func (c *Client) State() models.StateSnapshot {
	return c.store.Snapshot()
}

// OnChange registers a callback invoked with the post-apply snapshot after
// every state change, in apply order. The returned function unsubscribes.
func (c *Client) OnChange(fn func(models.StateSnapshot)) func() {
	return c.store.Subscribe(fn)
}

// SendCommand dispatches one command to the daemon and blocks until it
// resolves. See dispatch.Dispatcher for the error contract.
func (c *Client) SendCommand(ctx context.Context, name string, args []string, priority models.Priority) (*models.CommandResult, error) {
	return c.dispatcher.Dispatch(ctx, name, args, priority)
}

// ConnectionHealth reports the state of the daemon event stream.
func (c *Client) ConnectionHealth() transport.Health {
	return c.transport.Health()
}

// PendingCommands reports how many commands await a daemon result.
func (c *Client) PendingCommands() int {
	return c.dispatcher.Pending()
}

// IngestStats reports the drop and processing counters of the event stream.
func (c *Client) IngestStats() ingest.Stats {
	return c.ingestor.Stats()
}

// Healthy reports whether the daemon itself answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	return c.daemon.IsHealthy(ctx)
}

// run is the routing loop, the only goroutine that mutates the store. It
// exits when the transport closes its channels.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	// Best-effort initial fetch so HTTP-reachable daemon state shows up
	// even while the event stream is still connecting.
	c.resync(ctx)

	frames := c.transport.Frames()
	notes := c.transport.Notifications()
	for {
		select {
		case raw, ok := <-frames:
			if !ok {
				return
			}
			c.handleFrame(ctx, raw)
		case note, ok := <-notes:
			if !ok {
				notes = nil
				continue
			}
			c.handleNotification(ctx, note)
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, raw []byte) {
	if models.ClassifyInbound(raw) == models.InboundCommandResult {
		var res models.CommandResult
		if err := json.Unmarshal(raw, &res); err != nil {
			c.logger.Warn("dropping malformed command result frame", "error", err)
			c.metrics.RecordEventDropped(ctx, "malformed")
			return
		}
		// Pending commands resolve before the state merge so a caller
		// blocked in SendCommand never waits on store work.
		c.dispatcher.Resolve(ctx, &res)
		if err := c.store.ApplyCommandResult(ctx, &res); err != nil {
			c.logger.Warn("failed to merge command result state",
				"correlation_id", res.CorrelationID, "error", err)
		}
		return
	}

	// Everything else goes through ingestion, which drops duplicates and
	// malformed frames and accounts for them.
	ev, err := c.ingestor.Process(ctx, raw)
	if err != nil {
		return
	}
	if err := c.store.ApplyEvent(ctx, ev); err != nil {
		c.logger.Warn("failed to apply event", "event_id", ev.ID, "error", err)
	}
}

func (c *Client) handleNotification(ctx context.Context, note transport.Notification) {
	switch note.State {
	case transport.StateConnected:
		c.logger.Info("daemon stream connected, reconciling state")
		c.resync(ctx)
	case transport.StateDisconnected, transport.StateDegraded:
		if failed := c.dispatcher.FailInFlight(ctx, note.Err); failed > 0 {
			c.logger.Warn("connection loss failed in-flight commands",
				"count", failed, "state", note.State)
		}
	}
}

// resync replaces the whole local model with a freshly fetched snapshot.
// Events received while the fetch runs sit in the frames buffer and apply on
// top of the new model afterwards, which converges because event application
// is idempotent.
func (c *Client) resync(ctx context.Context) {
	snap, err := c.daemon.FetchSnapshot(ctx)
	if err != nil {
		c.logger.Error("failed to fetch daemon state", "error", err)
		return
	}
	c.store.ReplaceAll(ctx, snap)

	sessions, agents, tasks := snap.Counts()
	c.logger.Info("reconciled daemon state",
		"sessions", sessions, "agents", agents, "tasks", tasks)
}
