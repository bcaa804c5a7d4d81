// Package realtime owns the single live push connection of a session: it dials,
// authenticates, reconnects with exponential backoff and fans inbound events out
// to subscribers. It knows nothing about conversations.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"wesync/infrastructure/metrics"
	"wesync/internal/event"
	"wesync/pkg/jwt"
	"wesync/pkg/logger"
)

type Status = event.ConnectionStatus

const (
	StatusDisconnected = event.StatusDisconnected
	StatusConnecting   = event.StatusConnecting
	StatusConnected    = event.StatusConnected
)

const (
	DefaultBaseDelay        = time.Second
	DefaultMaxAttempts      = 5
	DefaultHandshakeTimeout = 20 * time.Second
)

type Config struct {
	// BaseDelay is the wait before the first reconnect attempt; each further
	// attempt doubles it.
	BaseDelay time.Duration
	// MaxAttempts caps consecutive reconnect attempts before giving up.
	MaxAttempts      int
	HandshakeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return c
}

type scheduleFunc func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type Manager struct {
	dialer   Dialer
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Client
	validate func(token string) error
	schedule scheduleFunc

	registry   *registry
	dispatcher *dispatcher

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	status    Status
	conn      Conn
	creds     Credentials
	gen       uint64
	attempt   int
	backoff   backoff.BackOff
	stopRetry func() bool
	closed    bool

	writeMu sync.Mutex
}

func NewManager(dialer Dialer, cfg Config, log *zap.Logger, m *metrics.Client) *Manager {
	cfg = cfg.withDefaults()
	log = logger.OrNop(log).Named("realtime")
	if m == nil {
		m = metrics.NewClient(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	reg := newRegistry()

	return &Manager{
		dialer:  dialer,
		cfg:     cfg,
		logger:  log,
		metrics: m,
		validate: func(token string) error {
			_, err := jwt.Inspect(token)
			return err
		},
		schedule:   afterFunc,
		registry:   reg,
		dispatcher: newDispatcher(reg, log),
		ctx:        ctx,
		cancel:     cancel,
		status:     StatusDisconnected,
		backoff:    newBackOff(cfg.BaseDelay, cfg.MaxAttempts),
	}
}

// On registers h for events of kind. Handlers run on the dispatch goroutine in
// arrival order and must not block for long.
func (m *Manager) On(kind event.Kind, h event.Handler) Subscription {
	return m.registry.add(kind, h)
}

// Off removes exactly the handler registered under sub.
func (m *Manager) Off(sub Subscription) {
	m.registry.remove(sub)
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Attempt is the number of reconnect attempts scheduled since the last successful connect.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Connect opens the connection. Missing or expired credentials make it a silent
// no-op, as does calling it while already connecting or connected. A failed dial
// enters the retry path and is also returned to the caller.
func (m *Manager) Connect(ctx context.Context, creds Credentials) error {
	if creds.UserId == "" {
		m.logger.Debug("connect skipped: no user id")
		return nil
	}
	if err := m.validate(creds.Token); err != nil {
		m.logger.Debug("connect skipped: no usable token", zap.Error(err))
		return nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.status != StatusDisconnected {
		m.mu.Unlock()
		m.logger.Debug("connect ignored", zap.Stringer("status", m.Status()))
		return nil
	}
	m.creds = creds
	m.attempt = 0
	m.backoff.Reset()
	m.gen++
	gen := m.gen
	m.setStatusLocked(StatusConnecting, nil)
	m.mu.Unlock()

	return m.dial(ctx, gen)
}

// Disconnect closes the connection on purpose. No reconnect follows until the
// next Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	if m.stopRetry != nil {
		m.stopRetry()
		m.stopRetry = nil
	}
	conn := m.conn
	m.conn = nil
	m.attempt = 0
	if m.status != StatusDisconnected {
		m.setStatusLocked(StatusDisconnected, nil)
	}
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.logger.Debug("close connection", zap.Error(err))
		}
	}
	m.logger.Info("disconnected")
}

// Close disconnects and stops event dispatch. The manager cannot be reused.
func (m *Manager) Close() {
	m.Disconnect()

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.dispatcher.stop()
}

// Send writes one event to the live connection. It never queues: without a live
// connection it fails with ErrNotConnected.
func (m *Manager) Send(name event.Name, payload any) error {
	data, err := event.Encode(name, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	conn := m.conn
	connected := m.status == StatusConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteMessage(data); err != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return nil
}

func (m *Manager) dial(ctx context.Context, gen uint64) error {
	m.mu.Lock()
	creds := m.creds
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	stop := context.AfterFunc(m.ctx, cancel)
	conn, err := m.dialer.Dial(dialCtx, creds)
	stop()
	cancel()

	m.mu.Lock()
	if gen != m.gen || m.closed {
		closed := m.closed
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		if closed {
			return ErrManagerClosed
		}
		return nil
	}
	if err != nil {
		m.logger.Warn("connect failed", zap.Int("attempt", m.attempt), zap.Error(err))
		m.scheduleRetryLocked(err)
		m.mu.Unlock()
		return fmt.Errorf("realtime: connect: %w", err)
	}

	m.conn = conn
	m.attempt = 0
	m.backoff.Reset()
	m.setStatusLocked(StatusConnected, nil)
	m.mu.Unlock()

	m.logger.Info("connected", zap.String("user_id", creds.UserId))
	go m.readLoop(conn, gen)
	return nil
}

func (m *Manager) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleDrop(conn, gen, err)
			return
		}

		ev, err := event.Decode(data)
		if err != nil {
			m.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		m.metrics.Events.WithLabelValues(ev.Kind().String()).Inc()
		m.dispatcher.enqueue(ev)
	}
}

func (m *Manager) handleDrop(conn Conn, gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.closed || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.logger.Warn("connection dropped", zap.Error(cause))
	m.scheduleRetryLocked(cause)
	m.mu.Unlock()

	// the close handshake can block on a dead peer
	_ = conn.Close()
}

// scheduleRetryLocked arms the next reconnect attempt, or gives up when the
// attempt cap is reached.
func (m *Manager) scheduleRetryLocked(cause error) {
	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop {
		m.gen++
		m.stopRetry = nil
		m.metrics.GiveUps.Inc()
		m.logger.Error("giving up reconnect", zap.Int("attempts", m.attempt), zap.Error(cause))
		m.setStatusLocked(StatusDisconnected, fmt.Errorf("%w: %w", ErrReconnectExhausted, cause))
		return
	}

	m.attempt++
	m.metrics.ReconnectAttempts.Inc()
	m.logger.Info("reconnect scheduled", zap.Int("attempt", m.attempt), zap.Duration("delay", delay))
	m.setStatusLocked(StatusConnecting, fmt.Errorf("%w: %w", ErrTransportDropped, cause))

	gen := m.gen
	m.stopRetry = m.schedule(delay, func() { m.retry(gen) })
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.closed || m.status != StatusConnecting {
		m.mu.Unlock()
		return
	}
	m.stopRetry = nil
	m.mu.Unlock()

	_ = m.dial(m.ctx, gen)
}

func (m *Manager) setStatusLocked(s Status, err error) {
	m.status = s
	m.metrics.Status.Set(float64(s))
	m.dispatcher.enqueue(event.ConnectionStatusChanged{Status: s, Attempt: m.attempt, Err: err})
}
