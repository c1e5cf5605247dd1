package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/sfcalls/internal/codec"
	"github.com/rickgao/sfcalls/internal/merge"
	"github.com/rickgao/sfcalls/internal/model"
)

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for timers.
func WithClock(c Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.metrics = r
		}
	}
}

// Manager owns the live feed connection and the visible call set.
type Manager struct {
	cfg     ManagerConfig
	dialer  Dialer
	clock   Clock
	metrics Recorder
	logger  *slog.Logger

	events chan func()
	done   chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool

	// Mirrors current for lock-free reads.
	published atomic.Int32

	listenerMu     sync.RWMutex
	listeners      map[uint64]Listener
	nextListenerID uint64

	// Everything below is owned by the event loop.
	current     State
	attempt     int
	gen         uint64
	retrySeq    uint64
	sess        *session
	dialCancel  context.CancelFunc
	retryTimer  Timer
	pingTimer   Timer
	pongTimer   Timer
	sub         model.Subscription
	subscribed  bool
	visible     map[string]model.Call
	lastUpdated time.Time
}

// session is one established stream.
type session struct {
	id     string
	conn   Conn
	out    chan []byte
	logger *slog.Logger
}

// NewManager creates a Connection Manager. Call Start before any other method.
func NewManager(cfg ManagerConfig, dialer Dialer, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultManagerConfig()
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = defaults.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait <= 0 {
		cfg.ReconnectMaxWait = defaults.ReconnectMaxWait
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaults.SendBufferSize
	}

	m := &Manager{
		cfg:       cfg,
		dialer:    dialer,
		clock:     realClock{},
		metrics:   nopRecorder{},
		logger:    logger.With("component", "connection"),
		events:    make(chan func()),
		done:      make(chan struct{}),
		listeners: make(map[uint64]Listener),
		visible:   make(map[string]model.Call),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the event loop. The manager stays Disconnected until Connect.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("manager already started")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.metrics.ConnectionState(StateDisconnected.String())

	go m.run()

	m.logger.Info("connection manager started")
	return nil
}

// Stop disconnects and shuts down the event loop.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.started.Load() {
		return nil
	}
	m.logger.Info("stopping connection manager")

	if err := m.do(ctx, m.disconnect); err != nil && !errors.Is(err, ErrStopped) {
		m.logger.Warn("disconnect on stop failed", "error", err)
	}
	m.cancel()

	select {
	case <-m.done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout")
		return ctx.Err()
	}

	m.logger.Info("connection manager stopped")
	return nil
}

// Connect opens the stream. No-op while Connecting or Connected. A pending
// reconnect timer is cancelled first.
func (m *Manager) Connect(ctx context.Context) error {
	return m.do(ctx, m.connect)
}

// Disconnect closes the stream and cancels every timer. Safe in any state.
func (m *Manager) Disconnect(ctx context.Context) error {
	return m.do(ctx, m.disconnect)
}

// Subscribe stores sub and transmits it if Connected. The visible set is
// pruned to the new filter immediately. The only errors are local
// validation of the viewport and priorities, and ctx ending before the
// event loop accepts the change.
func (m *Manager) Subscribe(ctx context.Context, sub model.Subscription) error {
	if sub.Viewport != nil {
		if err := sub.Viewport.Validate(); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	for _, p := range sub.Priorities {
		if !p.Valid() {
			return fmt.Errorf("subscribe: invalid priority %q", p)
		}
	}

	sub = sub.Clone()
	return m.do(ctx, func() { m.applySubscription(sub) })
}

// Seed loads calls from a REST fetch, filtered by the current subscription.
// While Connected with a non-empty visible set the stream is authoritative:
// calls are folded in with merge.Reconcile, which keeps entries they omit.
// Otherwise the visible set is replaced.
func (m *Manager) Seed(ctx context.Context, calls []model.Call) error {
	return m.do(ctx, func() {
		f := merge.NewFilter(m.sub)
		if m.current == StateConnected && len(m.visible) > 0 {
			m.visible = merge.Reconcile(m.visible, calls, f)
			m.logger.Info("visible set reconciled", "received", len(calls), "visible", len(m.visible))
		} else {
			m.visible = merge.Apply(nil, calls, f)
			m.logger.Info("visible set seeded", "received", len(calls), "visible", len(m.visible))
		}
		m.lastUpdated = m.clock.Now()
		m.publishSnapshot()
	})
}

// Snapshot returns the current visible set.
func (m *Manager) Snapshot(ctx context.Context) (merge.Snapshot, error) {
	var snap merge.Snapshot
	err := m.do(ctx, func() {
		snap = merge.NewSnapshot(m.visible, m.lastUpdated)
	})
	return snap, err
}

// Subscription returns the stored subscription, if any.
func (m *Manager) Subscription(ctx context.Context) (model.Subscription, bool, error) {
	var (
		sub model.Subscription
		ok  bool
	)
	err := m.do(ctx, func() {
		sub, ok = m.sub.Clone(), m.subscribed
	})
	return sub, ok, err
}

// Stats returns a point-in-time view of the manager.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := m.do(ctx, func() {
		stats = Stats{
			State:         m.current,
			Attempt:       m.attempt,
			VisibleCalls:  len(m.visible),
			PendingTimers: m.pendingTimers(),
			Subscribed:    m.subscribed,
		}
		if m.sess != nil {
			stats.SessionID = m.sess.id
		}
	})
	return stats, err
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.published.Load())
}

// AddListener registers l and returns a function that removes it.
func (m *Manager) AddListener(l Listener) (remove func()) {
	m.listenerMu.Lock()
	id := m.nextListenerID
	m.nextListenerID++
	m.listeners[id] = l
	m.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.listenerMu.Lock()
			delete(m.listeners, id)
			m.listenerMu.Unlock()
		})
	}
}

// run is the event loop. It is the only goroutine that touches loop-owned state.
func (m *Manager) run() {
	defer close(m.done)

	for {
		select {
		case fn := <-m.events:
			fn()
		case <-m.ctx.Done():
			m.disconnect()
			return
		}
	}
}

// do runs fn on the event loop and waits for it to finish.
func (m *Manager) do(ctx context.Context, fn func()) error {
	if !m.started.Load() {
		return ErrNotStarted
	}

	finished := make(chan struct{})
	select {
	case m.events <- func() { fn(); close(finished) }:
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn on the event loop without waiting. Returns false once the
// loop has exited.
func (m *Manager) post(fn func()) bool {
	select {
	case m.events <- fn:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) connect() {
	switch m.current {
	case StateConnecting, StateConnected:
		m.logger.Debug("connect ignored", "state", m.current)
		return
	}

	m.cancelRetry()
	m.dial()
}

func (m *Manager) disconnect() {
	m.cancelRetry()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}

	// Invalidate any in-flight dial.
	m.gen++

	if m.sess != nil {
		m.sess.logger.Info("closing connection")
		m.closeSession()
	}

	m.attempt = 0
	m.setState(StateDisconnected)
}

func (m *Manager) dial() {
	m.gen++
	gen := m.gen

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.DialTimeout)
	m.dialCancel = cancel
	m.setState(StateConnecting)

	go func() {
		conn, err := m.dialer.Dial(ctx)
		if !m.post(func() { m.dialed(gen, conn, err) }) && conn != nil {
			conn.Close()
		}
	}()
}

func (m *Manager) dialed(gen uint64, conn Conn, err error) {
	if gen != m.gen || m.current != StateConnecting {
		if conn != nil {
			go conn.Close()
		}
		return
	}

	m.dialCancel()
	m.dialCancel = nil

	if err != nil {
		m.logger.Warn("connect failed", "error", err, "attempt", m.attempt)
		m.scheduleReconnect()
		return
	}

	s := &session{
		id:   uuid.NewString(),
		conn: conn,
		out:  make(chan []byte, m.cfg.SendBufferSize),
	}
	s.logger = m.logger.With("session_id", s.id)
	m.sess = s
	m.attempt = 0

	m.metrics.Connected()
	m.setState(StateConnected)

	go m.readLoop(s)
	go m.writeLoop(s)
	m.armPing(s)

	if m.subscribed {
		m.sendSubscription()
	}
}

func (m *Manager) scheduleReconnect() {
	delay := Backoff(m.cfg.ReconnectBaseWait, m.cfg.ReconnectMaxWait, m.attempt)
	m.attempt++
	m.setState(StateReconnecting)

	m.retrySeq++
	seq := m.retrySeq
	m.retryTimer = m.clock.AfterFunc(delay, func() {
		m.post(func() { m.retry(seq) })
	})

	m.metrics.ReconnectScheduled(delay)
	m.logger.Info("reconnect scheduled", "delay", delay, "attempt", m.attempt)
}

func (m *Manager) retry(seq uint64) {
	if seq != m.retrySeq || m.retryTimer == nil {
		return
	}
	m.retryTimer = nil
	m.dial()
}

func (m *Manager) cancelRetry() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	// A callback that already fired is discarded by the sequence check.
	m.retrySeq++
}

// failSession handles a transport error on s and schedules a reconnect.
func (m *Manager) failSession(s *session, op string, err error) {
	if m.sess != s {
		return
	}
	s.logger.Warn("connection lost", "op", op, "error", err)
	m.closeSession()
	m.scheduleReconnect()
}

func (m *Manager) closeSession() {
	s := m.sess
	m.sess = nil

	if m.pingTimer != nil {
		m.pingTimer.Stop()
		m.pingTimer = nil
	}
	if m.pongTimer != nil {
		m.pongTimer.Stop()
		m.pongTimer = nil
	}

	close(s.out)
	go s.conn.Close()
}

func (m *Manager) readLoop(s *session) {
	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			m.post(func() { m.failSession(s, "receive", err) })
			return
		}
		if !m.post(func() { m.handleFrame(s, data) }) {
			return
		}
	}
}

func (m *Manager) writeLoop(s *session) {
	for data := range s.out {
		if err := s.conn.WriteMessage(data); err != nil {
			m.post(func() { m.failSession(s, "send", err) })
			return
		}
	}
}

// send queues data on the active session. Never blocks.
func (m *Manager) send(data []byte) error {
	if m.sess == nil {
		return ErrNotConnected
	}
	select {
	case m.sess.out <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (m *Manager) sendSubscription() {
	data, err := codec.EncodeSubscribe(m.sub)
	if err != nil {
		m.logger.Error("failed to encode subscription", "error", err)
		return
	}
	if err := m.send(data); err != nil {
		m.failSession(m.sess, "send", err)
		return
	}
	m.sess.logger.Debug("subscription sent",
		"viewport", m.sub.Viewport != nil,
		"priorities", len(m.sub.Priorities),
	)
}

func (m *Manager) applySubscription(sub model.Subscription) {
	m.sub = sub
	m.subscribed = true

	before := len(m.visible)
	m.visible = merge.Prune(m.visible, merge.NewFilter(sub))
	if len(m.visible) != before {
		m.publishSnapshot()
	}

	if m.current == StateConnected {
		m.sendSubscription()
	}
}

func (m *Manager) armPing(s *session) {
	if m.cfg.PingInterval <= 0 {
		return
	}
	m.pingTimer = m.clock.AfterFunc(m.cfg.PingInterval, func() {
		m.post(func() { m.ping(s) })
	})
}

func (m *Manager) ping(s *session) {
	if m.sess != s {
		return
	}
	m.pingTimer = nil

	if err := m.send(codec.EncodePing()); err != nil {
		m.failSession(s, "keepalive", err)
		return
	}

	if m.cfg.PongTimeout > 0 && m.pongTimer == nil {
		m.pongTimer = m.clock.AfterFunc(m.cfg.PongTimeout, func() {
			m.post(func() { m.pongExpired(s) })
		})
	}

	m.armPing(s)
}

func (m *Manager) pongExpired(s *session) {
	if m.sess != s || m.pongTimer == nil {
		return
	}
	m.pongTimer = nil
	m.failSession(s, "keepalive", ErrPongTimeout)
}

func (m *Manager) handleFrame(s *session, data []byte) {
	if m.sess != s {
		return
	}

	msg := codec.Decode(data)
	m.metrics.MessageReceived(codec.Type(msg))

	switch msg := msg.(type) {
	case codec.CallUpdate:
		m.applyUpdate(msg)

	case codec.Pong:
		if m.pongTimer != nil {
			m.pongTimer.Stop()
			m.pongTimer = nil
		}
		s.logger.Debug("pong received")

	case codec.ServerError:
		m.metrics.ServerError()
		s.logger.Warn("server error", "message", msg.Message)
		m.notify(func(l Listener) { l.OnServerError(msg.Message) })

	case codec.Unknown:
		if msg.Raw != nil {
			m.metrics.DecodeFailed()
			s.logger.Warn("dropping malformed message",
				"bytes", len(msg.Raw),
				"preview", preview(msg.Raw, 120),
			)
			return
		}
		s.logger.Debug("ignoring unknown message type", "type", msg.Type)
	}
}

func (m *Manager) applyUpdate(u codec.CallUpdate) {
	m.visible = merge.Apply(m.visible, u.Calls, merge.NewFilter(m.sub))
	m.lastUpdated = u.Timestamp

	m.notify(func(l Listener) { l.OnCallUpdate(u) })
	m.publishSnapshot()
}

func (m *Manager) publishSnapshot() {
	snap := merge.NewSnapshot(m.visible, m.lastUpdated)
	m.metrics.VisibleCalls(snap.Len())
	m.notify(func(l Listener) { l.OnSnapshot(snap) })
}

func (m *Manager) setState(s State) {
	if m.current == s {
		return
	}
	prev := m.current
	m.current = s
	m.published.Store(int32(s))

	m.metrics.ConnectionState(s.String())
	m.logger.Info("connection state changed", "from", prev.String(), "to", s.String())
	m.notify(func(l Listener) { l.OnStateChange(s) })
}

func (m *Manager) pendingTimers() int {
	n := 0
	for _, t := range []Timer{m.retryTimer, m.pingTimer, m.pongTimer} {
		if t != nil {
			n++
		}
	}
	return n
}

func (m *Manager) notify(fn func(Listener)) {
	m.listenerMu.RLock()
	ls := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		ls = append(ls, l)
	}
	m.listenerMu.RUnlock()

	for _, l := range ls {
		fn(l)
	}
}

func preview(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
