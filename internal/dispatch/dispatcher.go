package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/khive-ai/khive-gateway/internal/metrics"
	"github.com/khive-ai/khive-gateway/internal/models"
)

// ErrCommandTimeout is returned when the daemon produced no result within
// the command timeout. The correlation entry is gone by then; a result that
// still arrives later is ignored.
var ErrCommandTimeout = errors.New("dispatch: command timed out waiting for daemon result")

// ConnectionLostError fails an in-flight command when the daemon connection
// drops before its result arrived. The daemon may or may not have executed
// the command; resubmission is the caller's decision.
type ConnectionLostError struct {
	CorrelationID string
	Cause         error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("dispatch: connection to daemon lost before command %s resolved", e.CorrelationID)
}

func (e *ConnectionLostError) Unwrap() error {
	return e.Cause
}

// RejectedError reports that the daemon executed the command and refused it.
type RejectedError struct {
	CorrelationID string
	Reason        string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("dispatch: command %s rejected by daemon: %s", e.CorrelationID, e.Reason)
}

// Sender delivers one payload over the daemon socket.
type Sender interface {
	Send(ctx context.Context, payload interface{}) error
}

// Fallback submits a command over HTTP when the socket path is unavailable.
type Fallback interface {
	SubmitCommand(ctx context.Context, cmd *models.Command) (*models.CommandResult, error)
}

// Options configures a Dispatcher.
type Options struct {
	CommandTimeout time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration
}

type resolution struct {
	res *models.CommandResult
	err error
}

type pendingCommand struct {
	command      string
	resolve      chan resolution
	timer        *time.Timer
	dispatchedAt time.Time

	// viaFallback marks commands in the HTTP fallback path. Those no longer
	// depend on the socket, so a connection loss must not fail them.
	viaFallback atomic.Bool
}

// Dispatcher correlates outbound commands with the asynchronous results the
// daemon pushes back over the event stream. Delivery prefers the socket with
// bounded retries, then falls back to HTTP; every command resolves exactly
// once, by result, timeout, or connection loss.
type Dispatcher struct {
	sender   Sender
	fallback Fallback
	opts     Options
	logger   *log.Logger
	metrics  *metrics.CoordinationMetrics
	tracer   trace.Tracer

	mu      sync.Mutex
	pending map[string]*pendingCommand
}

// NewDispatcher creates a dispatcher sending through sender and falling back
// to fallback.
func NewDispatcher(opts Options, sender Sender, fallback Fallback, logger *log.Logger, m *metrics.CoordinationMetrics) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	return &Dispatcher{
		sender:   sender,
		fallback: fallback,
		opts:     opts,
		logger:   logger,
		metrics:  m,
		tracer:   otel.Tracer("command-dispatcher"),
		pending:  make(map[string]*pendingCommand),
	}
}

// Dispatch sends one command to the daemon and blocks until it resolves.
// A result with Success=false is returned together with a RejectedError so
// callers can inspect the daemon's payload.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args []string, priority models.Priority) (*models.CommandResult, error) {
	if priority == "" {
		priority = models.PriorityNormal
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("dispatch: invalid priority %q", priority)
	}

	cmd := &models.Command{
		CorrelationID: uuid.New().String(),
		Command:       name,
		Args:          args,
		Priority:      priority,
	}

	ctx, span := d.tracer.Start(ctx, "dispatcher.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("command.name", name),
		attribute.String("command.priority", string(priority)),
		attribute.String("correlation_id", cmd.CorrelationID),
	)

	pc := d.register(ctx, cmd)

	if err := d.sendWithRetry(ctx, cmd); err != nil {
		if ctx.Err() != nil {
			d.complete(ctx, cmd.CorrelationID, resolution{err: ctx.Err()})
			span.RecordError(ctx.Err())
			return nil, ctx.Err()
		}

		d.logger.Warn("socket dispatch failed, trying HTTP fallback",
			"command", name, "correlation_id", cmd.CorrelationID, "error", err)
		pc.viaFallback.Store(true)
		res, ferr := d.fallback.SubmitCommand(ctx, cmd)
		if ferr != nil {
			d.complete(ctx, cmd.CorrelationID, resolution{err: ferr})
			span.RecordError(ferr)
			return nil, fmt.Errorf("failed to dispatch command %s over socket and HTTP fallback: %w", name, ferr)
		}
		// Route the fallback result through the normal resolution path so a
		// duplicate result from the stream cannot resolve the command twice.
		d.Resolve(ctx, res)
	}

	select {
	case r := <-pc.resolve:
		if r.err != nil {
			span.RecordError(r.err)
			return nil, r.err
		}
		if !r.res.Success {
			rejected := &RejectedError{CorrelationID: cmd.CorrelationID, Reason: r.res.Error}
			span.RecordError(rejected)
			return r.res, rejected
		}
		return r.res, nil
	case <-ctx.Done():
		d.complete(ctx, cmd.CorrelationID, resolution{err: ctx.Err()})
		span.RecordError(ctx.Err())
		return nil, ctx.Err()
	}
}

// Resolve matches an inbound result against the pending set. It reports
// false for unknown correlation IDs, which covers results arriving after a
// timeout or a reconnect.
func (d *Dispatcher) Resolve(ctx context.Context, res *models.CommandResult) bool {
	matched := d.complete(ctx, res.CorrelationID, resolution{res: res})
	if !matched {
		d.logger.Debug("ignoring result for unknown command",
			"correlation_id", res.CorrelationID)
	}
	return matched
}

// FailInFlight resolves every command still waiting on the socket with a
// ConnectionLostError and returns how many were failed. Commands already on
// the HTTP fallback path keep waiting. Called when the daemon connection
// drops.
func (d *Dispatcher) FailInFlight(ctx context.Context, cause error) int {
	d.mu.Lock()
	ids := make([]string, 0, len(d.pending))
	for id, pc := range d.pending {
		if pc.viaFallback.Load() {
			continue
		}
		ids = append(ids, id)
	}
	d.mu.Unlock()

	failed := 0
	for _, id := range ids {
		lost := &ConnectionLostError{CorrelationID: id, Cause: cause}
		if d.complete(ctx, id, resolution{err: lost}) {
			failed++
		}
	}
	if failed > 0 {
		d.logger.Warn("failed in-flight commands after connection loss", "count", failed)
	}
	return failed
}

// Pending reports how many commands are awaiting a result.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) register(ctx context.Context, cmd *models.Command) *pendingCommand {
	pc := &pendingCommand{
		command:      cmd.Command,
		resolve:      make(chan resolution, 1),
		dispatchedAt: time.Now(),
	}
	pc.timer = time.AfterFunc(d.opts.CommandTimeout, func() {
		timeoutErr := fmt.Errorf("%w: command %s after %s",
			ErrCommandTimeout, cmd.CorrelationID, d.opts.CommandTimeout)
		d.complete(context.Background(), cmd.CorrelationID, resolution{err: timeoutErr})
	})

	d.mu.Lock()
	d.pending[cmd.CorrelationID] = pc
	d.mu.Unlock()

	d.metrics.RecordCommandDispatched(ctx, cmd.Command, string(cmd.Priority))
	return pc
}

// complete resolves one pending command. Removal under the lock is what
// guarantees exactly-once: whichever of result, timeout, connection loss, or
// cancellation gets here first wins, the rest find nothing.
func (d *Dispatcher) complete(ctx context.Context, correlationID string, r resolution) bool {
	d.mu.Lock()
	pc, ok := d.pending[correlationID]
	if ok {
		delete(d.pending, correlationID)
	}
	d.mu.Unlock()
	if !ok {
		return false
	}

	pc.timer.Stop()
	pc.resolve <- r
	d.metrics.RecordCommandCompleted(ctx, pc.command, outcome(r), time.Since(pc.dispatchedAt))
	return true
}

func outcome(r resolution) string {
	switch {
	case r.err == nil && r.res.Success:
		return "success"
	case r.err == nil:
		return "rejected"
	case errors.Is(r.err, ErrCommandTimeout):
		return "timeout"
	default:
		var lost *ConnectionLostError
		if errors.As(r.err, &lost) {
			return "connection_lost"
		}
		return "error"
	}
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, cmd *models.Command) error {
	attempts := 0
	_, err := backoff.Retry(ctx, func() (interface{}, error) {
		attempts++
		return nil, d.sender.Send(ctx, cmd)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(d.opts.RetryBackoff)),
		backoff.WithMaxTries(uint(d.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, _ time.Duration) {
			d.logger.Debug("command send failed, retrying",
				"command", cmd.Command, "attempt", attempts, "error", err)
		}),
	)
	return err
}
