package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/khive-ai/khive-gateway/internal/metrics"
)

// ErrNotConnected is returned by Send while no daemon connection is
// established. Callers own resubmission; the manager never replays
// application payloads across reconnects.
var ErrNotConnected = errors.New("transport: not connected to daemon")

// State is the connection lifecycle state of the manager.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	// StateDegraded means repeated connection attempts keep failing. The
	// manager still retries at the backoff cap until closed.
	StateDegraded State = "degraded"
)

// Health is a point-in-time view of the connection for operators.
type Health struct {
	State               State         `json:"state"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	LastContact         time.Time     `json:"lastContact"`
	RTT                 time.Duration `json:"rtt"`
	QueuedSends         int           `json:"queuedSends"`
}

// Notification announces a state transition to the coordination layer.
// Err carries the triggering error for disconnected and degraded states.
type Notification struct {
	State State
	Err   error
}

// Options configures a Manager.
type Options struct {
	// DaemonURL is the daemon base URL, http or https; the scheme is
	// rewritten to ws/wss for dialing.
	DaemonURL  string
	EventsPath string

	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration

	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	DegradedThreshold int

	SendBuffer int
}

// writeWait bounds every single WebSocket write, data and control alike.
const writeWait = 10 * time.Second

type sendReq struct {
	data []byte
	errc chan error
}

// session holds the per-connection plumbing. A fresh session is built for
// every successful dial; stop is closed exactly once when the connection is
// being torn down, which releases queued senders.
type session struct {
	sendCh chan sendReq
	stop   chan struct{}
}

// Manager owns the WebSocket connection to the daemon event stream. It keeps
// exactly one connection alive, reconnecting forever with jittered
// exponential backoff, and surfaces inbound frames and state transitions on
// channels consumed by a single routing goroutine.
type Manager struct {
	opts    Options
	logger  *log.Logger
	metrics *metrics.CoordinationMetrics
	dialer  *websocket.Dialer
	wsURL   string

	frames chan []byte
	notes  chan Notification

	mu          sync.RWMutex
	state       State
	failures    int
	lastContact time.Time
	rtt         time.Duration
	pingSentAt  time.Time
	sess        *session

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates a manager for the daemon at opts.DaemonURL. It returns
// an error when the URL cannot be rewritten to a WebSocket URL.
func NewManager(opts Options, logger *log.Logger, m *metrics.CoordinationMetrics) (*Manager, error) {
	wsURL, err := websocketURL(opts.DaemonURL, opts.EventsPath)
	if err != nil {
		return nil, err
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 16
	}

	return &Manager{
		opts:    opts,
		logger:  logger,
		metrics: m,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		wsURL:  wsURL,
		frames: make(chan []byte, 256),
		notes:  make(chan Notification, 8),
		state:  StateDisconnected,
		done:   make(chan struct{}),
	}, nil
}

// websocketURL converts the daemon's HTTP base URL into the event stream
// WebSocket URL.
func websocketURL(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse daemon URL: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported URL scheme: %s", u.Scheme)
	}

	u.Path = path
	return u.String(), nil
}

// Start launches the connection supervisor. Safe to call once; the manager
// runs until Close or until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.run(runCtx)
}

// Close tears the connection down with a close frame and stops the
// supervisor. Frames and Notifications are closed once teardown finishes.
func (m *Manager) Close() {
	if !m.started.Load() {
		return
	}
	m.cancel()
	<-m.done
}

// Frames delivers raw inbound frames in arrival order. Closed on shutdown.
func (m *Manager) Frames() <-chan []byte {
	return m.frames
}

// Notifications delivers connection state transitions. Closed on shutdown.
func (m *Manager) Notifications() <-chan Notification {
	return m.notes
}

// Health reports the current connection state.
func (m *Manager) Health() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h := Health{
		State:               m.state,
		ConsecutiveFailures: m.failures,
		LastContact:         m.lastContact,
		RTT:                 m.rtt,
	}
	if m.sess != nil {
		h.QueuedSends = len(m.sess.sendCh)
	}
	return h
}

// Send marshals payload and writes it as one text frame. It fails fast with
// ErrNotConnected while disconnected and reports the actual write error
// otherwise; it never queues across connections.
func (m *Manager) Send(ctx context.Context, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	m.mu.RLock()
	sess := m.sess
	m.mu.RUnlock()
	if sess == nil {
		return ErrNotConnected
	}

	req := sendReq{data: data, errc: make(chan error, 1)}
	select {
	case sess.sendCh <- req:
	case <-sess.stop:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.errc:
		if err != nil {
			return fmt.Errorf("failed to write frame: %w", err)
		}
		return nil
	case <-sess.stop:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the connection supervisor: dial, pump until the connection dies,
// back off, repeat. Backoff resets after every successful dial so a drop
// after a long healthy stretch retries quickly again.
func (m *Manager) run(ctx context.Context) {
	defer func() {
		m.setState(ctx, StateDisconnected, nil)
		close(m.frames)
		close(m.notes)
		close(m.done)
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.opts.ReconnectInitial
	bo.RandomizationFactor = 0.2
	bo.Multiplier = 2
	bo.MaxInterval = m.opts.ReconnectMax

	for {
		if ctx.Err() != nil {
			return
		}

		m.setState(ctx, StateConnecting, nil)
		conn, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.connectFailed(ctx, err)
			if sleepWithContext(ctx, bo.NextBackOff()) != nil {
				return
			}
			continue
		}

		bo.Reset()
		m.connected(ctx)

		err = m.pump(ctx, conn)
		if ctx.Err() != nil {
			return
		}

		m.logger.Warn("daemon connection lost", "error", err)
		m.setState(ctx, StateDisconnected, err)
		if sleepWithContext(ctx, bo.NextBackOff()) != nil {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	headers := http.Header{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))

	conn, resp, err := m.dialer.DialContext(ctx, m.wsURL, headers)
	if err != nil {
		if resp != nil {
			bodyBytes, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("failed to dial daemon WebSocket (status %d): %s, error: %w", resp.StatusCode, string(bodyBytes), err)
		}
		return nil, fmt.Errorf("failed to dial daemon WebSocket: %w", err)
	}
	return conn, nil
}

func (m *Manager) connectFailed(ctx context.Context, err error) {
	m.mu.Lock()
	m.failures++
	failures := m.failures
	m.mu.Unlock()

	m.metrics.RecordReconnect(ctx, failures)

	next := StateDisconnected
	if failures >= m.opts.DegradedThreshold {
		next = StateDegraded
	}
	m.logger.Warn("daemon connection attempt failed",
		"consecutive_failures", failures, "error", err)
	m.setState(ctx, next, err)
}

func (m *Manager) connected(ctx context.Context) {
	m.mu.Lock()
	m.failures = 0
	m.lastContact = time.Now()
	m.pingSentAt = time.Time{}
	m.rtt = 0
	m.mu.Unlock()

	m.logger.Info("connected to daemon event stream", "url", m.wsURL)
	m.setState(ctx, StateConnected, nil)
}

// pump runs the read and write loops for one connection and returns the
// error that ended it. Both loops are fully stopped before it returns, so
// nothing touches the shared channels afterwards.
func (m *Manager) pump(ctx context.Context, conn *websocket.Conn) error {
	sess := &session{
		sendCh: make(chan sendReq, m.opts.SendBuffer),
		stop:   make(chan struct{}),
	}
	m.mu.Lock()
	m.sess = sess
	m.mu.Unlock()

	errChan := make(chan error, 2)
	var wg sync.WaitGroup

	readWindow := m.opts.PingInterval + m.opts.PongTimeout
	conn.SetReadDeadline(time.Now().Add(readWindow))
	conn.SetPongHandler(func(string) error {
		m.mu.Lock()
		if !m.pingSentAt.IsZero() {
			m.rtt = time.Since(m.pingSentAt)
		}
		m.lastContact = time.Now()
		m.mu.Unlock()
		return conn.SetReadDeadline(time.Now().Add(readWindow))
	})

	// Inbound frames.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				errChan <- err
				return
			}
			m.mu.Lock()
			m.lastContact = time.Now()
			m.mu.Unlock()
			conn.SetReadDeadline(time.Now().Add(readWindow))
			m.metrics.RecordEventReceived(ctx)

			select {
			case m.frames <- message:
			case <-sess.stop:
				return
			}
		}
	}()

	// Outbound frames and pings. The single writer for this connection.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(m.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case req := <-sess.sendCh:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := conn.WriteMessage(websocket.TextMessage, req.data)
				req.errc <- err
				if err != nil {
					errChan <- err
					return
				}
			case <-ticker.C:
				m.mu.Lock()
				m.pingSentAt = time.Now()
				m.mu.Unlock()
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					errChan <- err
					return
				}
			case <-sess.stop:
				return
			}
		}
	}()

	var err error
	select {
	case err = <-errChan:
	case <-ctx.Done():
		err = ctx.Err()
		deadline := time.Now().Add(writeWait)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	}

	m.mu.Lock()
	m.sess = nil
	m.mu.Unlock()
	close(sess.stop)
	conn.Close()
	wg.Wait()
	return err
}

// setState records a transition and emits a notification when the state
// actually changed.
func (m *Manager) setState(ctx context.Context, next State, err error) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()

	if prev == next || ctx.Err() != nil {
		return
	}
	m.logger.Debug("transport state changed", "from", prev, "to", next)
	select {
	case m.notes <- Notification{State: next, Err: err}:
	case <-ctx.Done():
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
