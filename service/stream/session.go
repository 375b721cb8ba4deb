package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/solstream/service/metrics"
	solanago "github.com/gagliardetto/solana-go"
)

// Phase is the connection phase of the session state machine.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseConnecting   Phase = "connecting"
	PhaseStreaming    Phase = "streaming"
	PhaseReconnecting Phase = "reconnecting"
)

// BalanceFetcher provides the one-shot balance query used to seed the
// initial update at session start.
type BalanceFetcher interface {
	FetchBalance(ctx context.Context, address string) (uint64, error)
}

// Config holds the tunables for a session.
type Config struct {
	// Endpoint is the provider WebSocket URL (e.g. wss://mainnet.helius-rpc.com/?api-key=...).
	Endpoint string

	// KeepaliveInterval is how often a getHealth probe is written while
	// streaming, independent of data traffic.
	KeepaliveInterval time.Duration

	// HandshakeTimeout bounds how long Start (and each reconnect attempt)
	// waits for the subscribe ack.
	HandshakeTimeout time.Duration

	// BackoffBaseDelay and BackoffMaxDelay parameterize the reconnect
	// delay: min(base * 2^(attempt-1), max).
	BackoffBaseDelay time.Duration
	BackoffMaxDelay  time.Duration

	// MaxReconnectAttempts caps consecutive failed reconnects before the
	// session gives up and goes idle. Zero means retry forever.
	MaxReconnectAttempts int
}

func (c Config) withDefaults() Config {
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.BackoffBaseDelay <= 0 {
		c.BackoffBaseDelay = time.Second
	}
	if c.BackoffMaxDelay <= 0 {
		c.BackoffMaxDelay = 30 * time.Second
	}
	return c
}

// Session owns the lifecycle of one WebSocket subscription to a single
// account's balance-change feed: connect, subscribe, receive, reconnect
// with backoff on unintentional drops, unsubscribe, close.
//
// All state transitions are serialized under a single mutex; inbound
// messages are processed by one read goroutine per connection, so
// balance updates reach the sink in arrival order.
type Session struct {
	cfg       Config
	transport Transport
	fetcher   BalanceFetcher
	sink      Sink
	clock     Clock
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu             sync.Mutex
	phase          Phase
	address        string
	conn           Conn
	subscriptionID *uint64
	attempt        int
	closing        bool
	nextID         uint64
	ackCh          chan error
	pendingID      uint64
	reconnectTimer Timer
	keepaliveStop  chan struct{}
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewSession creates a session. The sink must be non-nil; metrics may be
// nil. A nil clock defaults to the system clock, a nil logger discards.
func NewSession(cfg Config, transport Transport, fetcher BalanceFetcher, sink Sink, clock Clock, m *metrics.Metrics, logger *slog.Logger) *Session {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{
		cfg:       cfg.withDefaults(),
		transport: transport,
		fetcher:   fetcher,
		sink:      sink,
		clock:     clock,
		metrics:   m,
		logger:    logger,
		phase:     PhaseIdle,
	}
}

// Phase returns the current connection phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Attempt returns the current reconnect attempt count.
func (s *Session) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Address returns the monitored address, empty while idle.
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// Start validates the address, fetches the seed balance, opens the
// subscription, and returns the seed update once the subscribe handshake
// completes. The session lives within ctx; cancelling it tears the
// session down the same way Stop does.
//
// Failures before streaming is reached are returned to the caller and
// leave the session idle: ErrInvalidAddress for a malformed address,
// ErrConnection if the transport cannot be established, ErrSubscription
// if the remote rejects or times out the subscribe request.
func (s *Session) Start(ctx context.Context, address string) (*BalanceUpdate, error) {
	if _, err := solanago.PublicKeyFromBase58(address); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, address, err)
	}

	s.mu.Lock()
	if s.phase != PhaseIdle {
		s.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	s.phase = PhaseConnecting
	s.address = address
	s.closing = false
	s.attempt = 0
	s.ctx, s.cancel = context.WithCancel(ctx)
	sessionCtx := s.ctx
	s.mu.Unlock()

	s.sink.OnStatusChange(StatusConnecting, 0)

	start := s.clock.Now()
	lamports, err := s.fetcher.FetchBalance(ctx, address)
	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordSeedFetch(status, time.Since(start).Seconds())
	}
	if err != nil {
		s.resetToIdle()
		s.sink.OnStatusChange(StatusDisconnected, 0)
		return nil, fmt.Errorf("seed balance fetch: %w", err)
	}

	seed := BalanceUpdate{Timestamp: s.clock.Now(), Lamports: lamports}
	s.emitUpdate(seed)

	if err := s.connect(ctx); err != nil {
		s.resetToIdle()
		s.sink.OnStatusChange(StatusDisconnected, 0)
		return nil, err
	}

	// Caller-side cancellation stops the session like an explicit Stop.
	go func() {
		<-sessionCtx.Done()
		s.Stop()
	}()

	return &seed, nil
}

// Stop tears the session down: best-effort unsubscribe if a subscription
// is active, close the transport, cancel pending keepalive and reconnect
// timers. Idempotent; safe to call from any state, including while a
// reconnect is pending or a handshake is in flight.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.phase == PhaseIdle {
		s.mu.Unlock()
		return
	}
	s.closing = true
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if s.keepaliveStop != nil {
		close(s.keepaliveStop)
		s.keepaliveStop = nil
	}
	conn := s.conn
	subID := s.subscriptionID
	cancel := s.cancel
	s.conn = nil
	s.subscriptionID = nil
	s.phase = PhaseIdle
	s.address = ""
	s.attempt = 0
	s.nextID++
	unsubID := s.nextID
	s.mu.Unlock()

	if conn != nil {
		if subID != nil {
			req, _ := json.Marshal(newAccountUnsubscribe(unsubID, *subID))
			if err := conn.WriteMessage(req); err != nil {
				// Best-effort only; the connection is going away anyway.
				s.logger.Warn("unsubscribe failed", "subscription_id", *subID, "error", err)
			}
		}
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}

	s.logger.Info("session stopped")
	s.sink.OnStatusChange(StatusDisconnected, 0)
}

// connect dials, subscribes, and waits for the ack. On success the
// session is streaming with the keepalive loop running. The caller
// decides what a failure means: Start surfaces it, reconnect reschedules.
func (s *Session) connect(ctx context.Context) error {
	conn, err := s.transport.Dial(ctx, s.cfg.Endpoint)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordConnect("dial_error")
		}
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("%w: session stopped", ErrConnection)
	}
	s.conn = conn
	s.subscriptionID = nil
	s.nextID++
	id := s.nextID
	s.pendingID = id
	ackCh := make(chan error, 1)
	s.ackCh = ackCh
	address := s.address
	s.mu.Unlock()

	req, _ := json.Marshal(newAccountSubscribe(id, address))
	if err := conn.WriteMessage(req); err != nil {
		s.dropConn(conn)
		if s.metrics != nil {
			s.metrics.RecordConnect("subscribe_write_error")
		}
		return fmt.Errorf("%w: subscribe write: %v", ErrConnection, err)
	}

	go s.readLoop(conn)

	timeout := s.clock.AfterFunc(s.cfg.HandshakeTimeout, func() {
		select {
		case ackCh <- fmt.Errorf("%w: no ack within %s", ErrSubscription, s.cfg.HandshakeTimeout):
		default:
		}
	})
	defer timeout.Stop()

	select {
	case err := <-ackCh:
		if err != nil {
			s.dropConn(conn)
			if s.metrics != nil {
				s.metrics.RecordConnect("subscribe_error")
			}
			return err
		}
	case <-ctx.Done():
		s.dropConn(conn)
		return fmt.Errorf("%w: %v", ErrConnection, ctx.Err())
	}

	s.mu.Lock()
	if s.closing || s.conn != conn {
		s.mu.Unlock()
		return fmt.Errorf("%w: session stopped", ErrConnection)
	}
	s.phase = PhaseStreaming
	s.attempt = 0
	s.ackCh = nil
	stop := make(chan struct{})
	s.keepaliveStop = stop
	subID := s.subscriptionID
	s.mu.Unlock()

	go s.keepaliveLoop(conn, stop)

	if s.metrics != nil {
		s.metrics.RecordConnect("success")
	}
	s.logger.Info("subscribed to account changes",
		"address", address,
		"subscription_id", derefUint64(subID),
	)
	s.sink.OnStatusChange(StatusConnected, 0)
	return nil
}

// readLoop is the single consumer of a connection. All inbound frames
// route through handleMessage, which preserves arrival order.
func (s *Session) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(conn, err)
			return
		}
		s.handleMessage(conn, data)
	}
}

// handleMessage classifies one inbound frame by correlation id and method.
// Unknown frames are ignored for forward compatibility; unparseable frames
// are dropped and logged.
func (s *Session) handleMessage(conn Conn, data []byte) {
	msg, err := parseInbound(data)
	if err != nil {
		s.logger.Warn("dropping malformed message", "error", err)
		if s.metrics != nil {
			s.metrics.RecordDroppedMessage("malformed")
		}
		return
	}

	switch {
	case msg.ID != nil && *msg.ID == keepaliveProbeID:
		// Keepalive probe response; discard.
		if s.metrics != nil {
			s.metrics.RecordKeepalive("ack")
		}

	case msg.ID != nil:
		s.handleAck(conn, msg)

	case msg.Method == methodAccountNotification:
		s.handleNotification(conn, msg.Params)

	default:
		s.logger.Debug("ignoring unrecognized message", "method", msg.Method)
	}
}

// handleAck resolves an in-flight subscribe handshake. Responses whose id
// does not match the pending subscribe (e.g. unsubscribe acks from a
// previous session, duplicate acks) are ignored.
func (s *Session) handleAck(conn Conn, msg *inboundMessage) {
	s.mu.Lock()
	if s.conn != conn || s.ackCh == nil || *msg.ID != s.pendingID {
		s.mu.Unlock()
		return
	}
	ackCh := s.ackCh

	if msg.Error != nil {
		s.mu.Unlock()
		select {
		case ackCh <- fmt.Errorf("%w: %v", ErrSubscription, msg.Error):
		default:
		}
		return
	}

	var subID uint64
	if err := json.Unmarshal(msg.Result, &subID); err != nil {
		s.mu.Unlock()
		select {
		case ackCh <- fmt.Errorf("%w: bad ack result: %v", ErrSubscription, err):
		default:
		}
		return
	}
	s.subscriptionID = &subID
	s.mu.Unlock()

	select {
	case ackCh <- nil:
	default:
	}
}

// handleNotification extracts lamports and slot from an account-change
// notification and emits a BalanceUpdate. A null value (account closed or
// non-existent at that slot) is treated as "no update" and suppressed.
func (s *Session) handleNotification(conn Conn, params json.RawMessage) {
	n, err := parseNotification(params)
	if err != nil {
		s.logger.Warn("dropping malformed notification", "error", err)
		if s.metrics != nil {
			s.metrics.RecordDroppedMessage("malformed")
		}
		return
	}

	if n.Result.Value == nil {
		s.logger.Debug("account has no value at slot, suppressing update",
			"slot", n.Result.Context.Slot,
			"subscription", n.Subscription,
		)
		if s.metrics != nil {
			s.metrics.RecordDroppedMessage("null_value")
		}
		return
	}

	s.mu.Lock()
	stale := s.conn != conn || s.closing
	address := s.address
	s.mu.Unlock()
	if stale {
		return
	}

	slot := n.Result.Context.Slot
	update := BalanceUpdate{
		Timestamp: s.clock.Now(),
		Lamports:  n.Result.Value.Lamports,
		Slot:      &slot,
	}
	if s.metrics != nil {
		s.metrics.RecordNotification(address)
	}
	s.logger.Debug("balance update",
		"address", address,
		"lamports", update.Lamports,
		"slot", slot,
	)
	s.emitUpdate(update)
}

// handleDisconnect routes an unintentional transport loss into the
// reconnect path. Intentional closes (Stop, superseded connections) are
// ignored. A loss during an in-flight handshake fails the handshake
// instead; the connect caller owns the retry decision there.
func (s *Session) handleDisconnect(conn Conn, cause error) {
	s.mu.Lock()
	if s.closing || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.subscriptionID = nil
	if s.keepaliveStop != nil {
		close(s.keepaliveStop)
		s.keepaliveStop = nil
	}
	conn.Close()

	if s.ackCh != nil {
		ackCh := s.ackCh
		s.mu.Unlock()
		select {
		case ackCh <- fmt.Errorf("%w: transport closed: %v", ErrConnection, cause):
		default:
		}
		return
	}

	s.phase = PhaseReconnecting
	s.attempt++
	attempt := s.attempt
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordDisconnect("transport")
	}
	s.logger.Warn("transport dropped", "error", cause, "attempt", attempt)
	s.scheduleReconnect(attempt)
}

// scheduleReconnect arms the backoff timer for the given attempt, or gives
// up if the configured cap is exhausted.
func (s *Session) scheduleReconnect(attempt int) {
	if s.cfg.MaxReconnectAttempts > 0 && attempt > s.cfg.MaxReconnectAttempts {
		s.logger.Error("reconnect attempts exhausted, giving up",
			"attempts", attempt-1,
			"max", s.cfg.MaxReconnectAttempts,
		)
		s.resetToIdle()
		s.sink.OnStatusChange(StatusDisconnected, 0)
		return
	}

	delay := backoffDelay(attempt, s.cfg.BackoffBaseDelay, s.cfg.BackoffMaxDelay)
	s.logger.Info("scheduling reconnect", "attempt", attempt, "delay", delay)
	s.sink.OnStatusChange(StatusReconnecting, attempt)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.reconnectTimer = s.clock.AfterFunc(delay, s.reconnect)
	s.mu.Unlock()
}

// reconnect fires from the backoff timer and re-runs the connect path.
func (s *Session) reconnect() {
	s.mu.Lock()
	if s.closing || s.phase != PhaseReconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnectTimer = nil
	s.phase = PhaseConnecting
	ctx := s.ctx
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordReconnectAttempt()
	}
	s.sink.OnStatusChange(StatusConnecting, 0)

	if err := s.connect(ctx); err != nil {
		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			return
		}
		s.phase = PhaseReconnecting
		s.attempt++
		attempt := s.attempt
		s.mu.Unlock()

		s.logger.Warn("reconnect failed", "error", err, "attempt", attempt)
		s.scheduleReconnect(attempt)
	}
}

// keepaliveLoop writes a getHealth probe on a fixed interval while the
// connection is up. A failed write closes the connection so the read loop
// notices and routes into reconnect.
func (s *Session) keepaliveLoop(conn Conn, stop chan struct{}) {
	ticker := s.clock.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	probe, _ := json.Marshal(newHealthProbe())
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if err := conn.WriteMessage(probe); err != nil {
				s.logger.Warn("keepalive write failed", "error", err)
				conn.Close()
				return
			}
			if s.metrics != nil {
				s.metrics.RecordKeepalive("sent")
			}
		}
	}
}

// dropConn detaches and closes a connection that failed during handshake,
// without entering the reconnect path.
func (s *Session) dropConn(conn Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.subscriptionID = nil
		s.ackCh = nil
		if s.keepaliveStop != nil {
			close(s.keepaliveStop)
			s.keepaliveStop = nil
		}
	}
	s.mu.Unlock()
	conn.Close()
}

func (s *Session) resetToIdle() {
	s.mu.Lock()
	s.phase = PhaseIdle
	s.address = ""
	s.attempt = 0
	s.ackCh = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}

func (s *Session) emitUpdate(update BalanceUpdate) {
	s.sink.OnBalanceUpdate(update)
}

func derefUint64(p *uint64) uint64 {
	if p == nil {
		return 0
	}
	return *p
}
