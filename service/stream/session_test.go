package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known valid addresses (system program, wrapped SOL mint).
const (
	testAddress      = "11111111111111111111111111111111"
	otherTestAddress = "So11111111111111111111111111111111111111112"
)

// fakeConn is a scripted in-memory connection. Inbound frames are queued
// with deliver; read errors (remote drops) are injected with failRead.
type fakeConn struct {
	transport *fakeTransport

	inbound chan []byte
	readErr chan error

	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case err := <-c.readErr:
		return nil, err
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("write on closed connection")
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	c.mu.Unlock()

	// Auto-reply to subscribe requests so the handshake completes without
	// test choreography.
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil
	}
	if req.Method == methodAccountSubscribe && c.transport.autoAck {
		if c.transport.ackErr != nil {
			c.deliver([]byte(fmt.Sprintf(
				`{"jsonrpc":"2.0","id":%d,"error":{"code":%d,"message":%q}}`,
				req.ID, c.transport.ackErr.Code, c.transport.ackErr.Message,
			)))
		} else {
			c.deliver([]byte(fmt.Sprintf(
				`{"jsonrpc":"2.0","id":%d,"result":%d}`,
				req.ID, c.transport.subID,
			)))
		}
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	select {
	case c.readErr <- errors.New("connection closed"):
	default:
	}
	return nil
}

func (c *fakeConn) deliver(frame []byte) {
	c.inbound <- frame
}

func (c *fakeConn) failRead(err error) {
	c.readErr <- err
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// writtenMethods decodes the method of every frame written so far.
func (c *fakeConn) writtenMethods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var methods []string
	for _, data := range c.writes {
		var req request
		if err := json.Unmarshal(data, &req); err == nil {
			methods = append(methods, req.Method)
		}
	}
	return methods
}

// fakeTransport hands out fakeConns and records every dial.
type fakeTransport struct {
	mu      sync.Mutex
	conns   []*fakeConn
	dialErr error

	autoAck bool
	subID   uint64
	ackErr  *rpcError
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{autoAck: true, subID: 1}
}

func (t *fakeTransport) Dial(ctx context.Context, endpoint string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	conn := &fakeConn{
		transport: t,
		inbound:   make(chan []byte, 128),
		readErr:   make(chan error, 1),
	}
	t.conns = append(t.conns, conn)
	return conn, nil
}

func (t *fakeTransport) setDialErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dialErr = err
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[i]
}

func (t *fakeTransport) openConns() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	open := 0
	for _, c := range t.conns {
		if !c.isClosed() {
			open++
		}
	}
	return open
}

// fakeClock records timers and tickers; nothing fires unless the test
// fires it.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// pendingTimers counts timers that have neither fired nor been stopped.
func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.pending() {
			n++
		}
	}
	return n
}

// fireNext runs the oldest pending timer's callback synchronously.
func (c *fakeClock) fireNext(t *testing.T) {
	t.Helper()
	c.mu.Lock()
	var target *fakeTimer
	for _, tm := range c.timers {
		if tm.pending() {
			target = tm
			break
		}
	}
	c.mu.Unlock()
	require.NotNil(t, target, "no pending timer to fire")
	target.fire()
}

// lastTimerDelay returns the duration of the most recently armed timer.
func (c *fakeClock) lastTimerDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[len(c.timers)-1].d
}

func (c *fakeClock) ticker(i int) *fakeTicker {
	// The keepalive loop arms its ticker on a goroutine after Start
	// returns, so wait briefly for it to be registered.
	deadline := time.Now().Add(time.Second)
	for {
		c.mu.Lock()
		if i < len(c.tickers) {
			t := c.tickers[i]
			c.mu.Unlock()
			return t
		}
		c.mu.Unlock()
		if time.Now().After(deadline) {
			panic(fmt.Sprintf("fakeClock: ticker %d was never created", i))
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type fakeTimer struct {
	mu      sync.Mutex
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (t *fakeTimer) pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped && !t.fired
}

func (t *fakeTimer) fire() {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	f := t.f
	t.mu.Unlock()
	f()
}

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) Chan() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()                  {}

func (t *fakeTicker) tick() {
	t.ch <- time.Now()
}

// statusChange is one OnStatusChange call as seen by the capture sink.
type statusChange struct {
	status  Status
	attempt int
}

// captureSink records everything the session emits.
type captureSink struct {
	mu       sync.Mutex
	updates  []BalanceUpdate
	statuses []statusChange
}

func (s *captureSink) OnBalanceUpdate(update BalanceUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update)
}

func (s *captureSink) OnStatusChange(status Status, attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, statusChange{status: status, attempt: attempt})
}

func (s *captureSink) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func (s *captureSink) update(i int) BalanceUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates[i]
}

func (s *captureSink) allStatuses() []statusChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]statusChange(nil), s.statuses...)
}

func (s *captureSink) lastStatus() statusChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[len(s.statuses)-1]
}

// fakeFetcher returns a fixed seed balance.
type fakeFetcher struct {
	mu       sync.Mutex
	lamports uint64
	err      error
	calls    int
}

func (f *fakeFetcher) FetchBalance(ctx context.Context, address string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.lamports, f.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// harness bundles a session and all its fakes.
type harness struct {
	session   *Session
	transport *fakeTransport
	clock     *fakeClock
	sink      *captureSink
	fetcher   *fakeFetcher
}

func newHarness(cfg Config) *harness {
	transport := newFakeTransport()
	clock := newFakeClock()
	sink := &captureSink{}
	fetcher := &fakeFetcher{lamports: 5_000_000_000}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg.Endpoint == "" {
		cfg.Endpoint = "wss://example.test/ws"
	}
	return &harness{
		session:   NewSession(cfg, transport, fetcher, sink, clock, nil, logger),
		transport: transport,
		clock:     clock,
		sink:      sink,
		fetcher:   fetcher,
	}
}

func notificationFrame(subscription, slot, lamports uint64) []byte {
	return []byte(fmt.Sprintf(
		`{"jsonrpc":"2.0","method":"accountNotification","params":{"subscription":%d,"result":{"context":{"slot":%d},"value":{"lamports":%d}}}}`,
		subscription, slot, lamports,
	))
}

func nullValueFrame(subscription, slot uint64) []byte {
	return []byte(fmt.Sprintf(
		`{"jsonrpc":"2.0","method":"accountNotification","params":{"subscription":%d,"result":{"context":{"slot":%d},"value":null}}}`,
		subscription, slot,
	))
}

func waitForPhase(t *testing.T, s *Session, phase Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Phase() == phase
	}, time.Second, 2*time.Millisecond, "expected phase %s, got %s", phase, s.Phase())
}

func waitForUpdates(t *testing.T, sink *captureSink, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return sink.updateCount() >= n
	}, time.Second, 2*time.Millisecond)
}

func TestSessionStartEmitsSeedAndStreams(t *testing.T) {
	h := newHarness(Config{})
	h.fetcher.lamports = 1_500_000_000
	h.transport.subID = 7

	seed, err := h.session.Start(context.Background(), testAddress)
	require.NoError(t, err)
	defer h.session.Stop()

	require.NotNil(t, seed)
	assert.Equal(t, uint64(1_500_000_000), seed.Lamports)
	assert.Nil(t, seed.Slot, "seed update has no slot")
	assert.Equal(t, PhaseStreaming, h.session.Phase())
	assert.Equal(t, testAddress, h.session.Address())
	assert.Equal(t, 1, h.transport.dialCount())

	// Seed reaches the sink before any notification.
	require.Equal(t, 1, h.sink.updateCount())
	assert.Equal(t, uint64(1_500_000_000), h.sink.update(0).Lamports)

	statuses := h.sink.allStatuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, StatusConnecting, statuses[0].status)
	assert.Equal(t, StatusConnected, statuses[1].status)
}

func TestSessionDeliversNotificationsInOrder(t *testing.T) {
	h := newHarness(Config{})
	h.transport.subID = 7

	_, err := h.session.Start(context.Background(), testAddress)
	require.NoError(t, err)
	defer h.session.Stop()

	const n = 50
	conn := h.transport.conn(0)
	for i := 0; i < n; i++ {
		conn.deliver(notificationFrame(7, uint64(100+i), uint64(1000+i)))
	}

	waitForUpdates(t, h.sink, n+1)

	for i := 0; i < n; i++ {
		update := h.sink.update(i + 1)
		assert.Equal(t, uint64(1000+i), update.Lamports, "update %d out of order", i)
		require.NotNil(t, update.Slot)
		assert.Equal(t, uint64(100+i), *update.Slot)
	}
}

func TestSessionInvalidAddress(t *testing.T) {
	h := newHarness(Config{})

	_, err := h.session.Start(context.Background(), "not-an-address")
	require.ErrorIs(t, err, ErrInvalidAddress)

	// Rejected locally: no balance fetch, no dial, no sink traffic.
	assert.Equal(t, 0, h.fetcher.callCount())
	assert.Equal(t, 0, h.transport.dialCount())
	assert.Equal(t, 0, h.sink.updateCount())
	assert.Empty(t, h.sink.allStatuses())
	assert.Equal(t, PhaseIdle, h.session.Phase())
}

func TestSessionStartWhileActive(t *testing.T) {
	h := newHarness(Config{})

	_, err := h.session.Start(context.Background(), testAddress)
	require.NoError(t, err)
	defer h.session.Stop()

	_, err = h.session.Start(context.Background(), otherTestAddress)
	require.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Equal(t, testAddress, h.session.Address())
}

func TestSessionSeedFetchFailure(t *testing.T) {
	h := newHarness(Config{})
	h.fetcher.err = errors.New("rpc unavailable")

	_, err := h.session.Start(context.Background(), testAddress)
	require.Error(t, err)

	assert.Equal(t, 0, h.transport.dialCount())
	assert.Equal(t, PhaseIdle, h.session.Phase())
	assert.Equal(t, StatusDisconnected, h.sink.lastStatus().status)
}

func TestSessionDialFailure(t *testing.T) {
	h := newHarness(Config{})
	h.transport.setDialErr(errors.New("connection refused"))

	_, err := h.session.Start(context.Background(), testAddress)
	require.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, PhaseIdle, h.session.Phase())
	assert.Equal(t, StatusDisconnected, h.sink.lastStatus().status)
}

func TestSessionSubscribeRejected(t *testing.T) {
	h := newHarness(Config{})
	h.transport.ackErr = &rpcError{Code: -32602, Message: "invalid params"}

	_, err := h.session.Start(context.Background(), testAddress)
	require.ErrorIs(t, err, ErrSubscription)

	assert.Equal(t, PhaseIdle, h.session.Phase())
	assert.Equal(t, 0, h.transport.openConns(), "rejected connection must be closed")
}

func TestSessionHandshakeTimeout(t *testing.T) {
	h := newHarness(Config{HandshakeTimeout: 5 * time.Second})
	h.transport.autoAck = false

	// Start blocks on the ack; fire the handshake timer from the side.
	go func() {
		for h.clock.pendingTimers() == 0 {
			time.Sleep(time.Millisecond)
		}
		h.clock.fireNext(t)
	}()

	_, err := h.session.Start(context.Background(), testAddress)
	require.ErrorIs(t, err, ErrSubscription)
	assert.Equal(t, PhaseIdle, h.session.Phase())
	assert.Equal(t, 0, h.transport.openConns())
}

func TestSessionReconnectsAfterTransportDrop(t *testing.T) {
	h := newHarness(Config{BackoffBaseDelay: time.Second, BackoffMaxDelay: 30 * time.Second})
	h.transport.subID = 7

	_, err := h.session.Start(context.Background(), testAddress)
	require.NoError(t, err)
	defer h.session.Stop()

	h.transport.conn(0).failRead(errors.New("unexpected EOF"))
	waitForPhase(t, h.session, PhaseReconnecting)

	assert.Equal(t, 1, h.session.Attempt())
	assert.Equal(t, time.Second, h.clock.lastTimerDelay(), "first attempt uses the base delay")

	reconnecting := h.sink.lastStatus()
	assert.Equal(t, StatusReconnecting, reconnecting.status)
	assert.Equal(t, 1, reconnecting.attempt)

	h.clock.fireNext(t)
	waitForPhase(t, h.session, PhaseStreaming)

	assert.Equal(t, 2, h.transport.dialCount())
	assert.Equal(t, 0, h.session.Attempt(), "attempt counter resets on success")

	// The new subscription is live.
	h.transport.conn(1).deliver(notificationFrame(7, 200, 42))
	waitForUpdates(t, h.sink, 2)
	assert.Equal(t, uint64(42), h.sink.update(1).Lamports)
}

func TestSessionBackoffGrowsAcrossFailedReconnects(t *testing.T) {
	h := newHarness(Config{BackoffBaseDelay: time.Second, BackoffMaxDelay: 30 * time.Second})

	_, err := h.session.Start(context.Background(), testAddress)
	require.NoError(t, err)
	defer h.session.Stop()

	h.transport.setDialErr(errors.New("connection refused"))
	h.transport.conn(0).failRead(errors.New("unexpected EOF"))
	waitForPhase(t, h.session, PhaseReconnecting)
	assert.Equal(t, time.Second, h.clock.lastTimerDelay())

	h.clock.fireNext(t) // attempt 1 fails to dial
	require.Eventually(t, func() bool { return h.session.Attempt() == 2 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, 2*time.Second, h.clock.lastTimerDelay())

	h.clock.fireNext(t) // attempt 2 fails to dial
	require.Eventually(t, func() bool { return h.session.Attempt() == 3 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, 4*time.Second, h.clock.lastTimerDelay())
}

func TestSessionGivesUpAfterMaxReconnectAttempts(t *testing.T) {
	h := newHarness(Config{
		BackoffBaseDelay:     time.Second,
		BackoffMaxDelay:      30 * time.Second,
		MaxReconnectAttempts: 2,
	})

	_, err := h.session.Start(context.Background(), testAddress)
	require.NoError(t, err)

	h.transport.setDialErr(errors.New("connection refused"))
	h.transport.conn(0).failRead(errors.New("unexpected EOF"))
	waitForPhase(t, h.session, PhaseReconnecting)

	h.clock.fireNext(t) // attempt 1
	require.Eventually(t, func() bool { return h.clock.pendingTimers() > 0 }, time.Second, 2*time.Millisecond)
	h.clock.fireNext(t) // attempt 2, cap exhausted

	waitForPhase(t, h.session, PhaseIdle)
	assert.Equal(t, StatusDisconnected, h.sink.lastStatus().status)
	assert.Equal(t, 0, h.clock.pendingTimers(), "no reconnect pending after giving up")
}

func TestSessionStopSuppressesPendingReconnect(t *testing.T) {
	h := newHarness(Config{})

	_, err := h.session.Start(context.Background(), testAddress)
	require.NoError(t, err)

	h.transport.conn(0).failRead(errors.New("unexpected EOF"))
	waitForPhase(t, h.session, PhaseReconnecting)

	h.session.Stop()
	assert.Equal(t, PhaseIdle, h.session.Phase())

	// Even if the timer were to fire, nothing reconnects.
	h.clock.mu.Lock()
	timers := append([]*fakeTimer(nil), h.clock.timers...)
	h.clock.mu.Unlock()
	for _, tm := range timers {
		tm.fire()
	}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.transport.dialCount(), "no dial after Stop")
	assert.Equal(t, PhaseIdle, h.session.Phase())
}

func TestSessionStopUnsubscribesAndCloses(t *testing.T) {
	h := newHarness(Config{})
	h.transport.subID = 7

	_, err := h.session.Start(context.Background(), testAddress)
	require.NoError(t, err)

	h.session.Stop()

	conn := h.transport.conn(0)
	assert.True(t, conn.isClosed())
	methods := conn.writtenMethods()
	require.NotEmpty(t, methods)
	assert.Equal(t, methodAccountSubscribe, methods[0])
	assert.Equal(t, methodAccountUnsubscribe, methods[len(methods)-1])
	assert.Equal(t, StatusDisconnected, h.sink.lastStatus().status)
	assert.Empty(t, h.session.Address())
}

func TestSessionStopIsIdempotent(t *testing.T) {
	h := newHarness(Config{})

	_, err := h.session.Start(context.Background(), testAddress)
	require.NoError(t, err)

	h.session.Stop()
	before := len(h.sink.allStatuses())

	h.session.Stop()
	h.session.Stop()

	assert.Equal(t, before, len(h.sink.allStatuses()), "repeated Stop emits nothing")
	assert.Equal(t, PhaseIdle, h.session.Phase())
}

func TestSessionRestartAfterStop(t *testing.T) {
	h := newHarness(Config{})

	_, err := h.session.Start(context.Background(), testAddress)
	require.NoError(t, err)
	h.session.Stop()

	_, err = h.session.Start(context.Background(), otherTestAddress)
	require.NoError(t, err)
	defer h.session.Stop()

	assert.Equal(t, otherTestAddress, h.session.Address())
	assert.Equal(t, 2, h.transport.dialCount())
}

func TestSessionContextCancelStopsSession(t *testing.T) {
	h := newHarness(Config{})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := h.session.Start(ctx, testAddress)
	require.NoError(t, err)

	cancel()
	waitForPhase(t, h.session, PhaseIdle)
	assert.True(t, h.transport.conn(0).isClosed())
}

func TestSessionNoConnectionLeakAcrossReconnects(t *testing.T) {
	h := newHarness(Config{})
	h.transport.subID = 7

	_, err := h.session.Start(context.Background(), testAddress)
	require.NoError(t, err)

	const cycles = 5
	for i := 0; i < cycles; i++ {
		h.transport.conn(i).failRead(errors.New("unexpected EOF"))
		waitForPhase(t, h.session, PhaseReconnecting)
		h.clock.fireNext(t)
		waitForPhase(t, h.session, PhaseStreaming)
	}

	assert.Equal(t, cycles+1, h.transport.dialCount())
	assert.Equal(t, 1, h.transport.openConns(), "exactly one live connection while streaming")

	h.session.Stop()
	assert.Equal(t, 0, h.transport.openConns(), "all connections closed after Stop")
}

func TestSessionSurvivesMalformedFrames(t *testing.T) {
	h := newHarness(Config{})
	h.transport.subID = 7

	_, err := h.session.Start(context.Background(), testAddress)
	require.NoError(t, err)
	defer h.session.Stop()

	conn := h.transport.conn(0)
	conn.deliver([]byte(`{{{not json`))
	conn.deliver([]byte(`"just a string"`))
	conn.deliver([]byte(`{"jsonrpc":"2.0","method":"someFutureNotification","params":{}}`))
	conn.deliver(notificationFrame(7, 300, 999))

	waitForUpdates(t, h.sink, 2)
	assert.Equal(t, uint64(999), h.sink.update(1).Lamports)
	assert.Equal(t, PhaseStreaming, h.session.Phase())
	assert.Equal(t, 1, h.transport.dialCount(), "malformed frames do not drop the connection")
}

func TestSessionSuppressesNullValueNotifications(t *testing.T) {
	h := newHarness(Config{})
	h.transport.subID = 7

	_, err := h.session.Start(context.Background(), testAddress)
	require.NoError(t, err)
	defer h.session.Stop()

	conn := h.transport.conn(0)
	conn.deliver(nullValueFrame(7, 400))
	conn.deliver(notificationFrame(7, 401, 123))

	waitForUpdates(t, h.sink, 2)
	assert.Equal(t, uint64(123), h.sink.update(1).Lamports)
	require.NotNil(t, h.sink.update(1).Slot)
	assert.Equal(t, uint64(401), *h.sink.update(1).Slot)
}

func TestSessionKeepaliveProbes(t *testing.T) {
	h := newHarness(Config{KeepaliveInterval: 30 * time.Second})
	h.transport.subID = 7

	_, err := h.session.Start(context.Background(), testAddress)
	require.NoError(t, err)
	defer h.session.Stop()

	conn := h.transport.conn(0)
	h.clock.ticker(0).tick()

	require.Eventually(t, func() bool {
		methods := conn.writtenMethods()
		return len(methods) == 2 && methods[1] == methodGetHealth
	}, time.Second, 2*time.Millisecond)

	// The probe response is discarded, not surfaced as an update.
	conn.deliver([]byte(`{"jsonrpc":"2.0","id":0,"result":"ok"}`))
	conn.deliver(notificationFrame(7, 500, 77))
	waitForUpdates(t, h.sink, 2)
	assert.Equal(t, uint64(77), h.sink.update(1).Lamports)
}

func TestSessionKeepaliveWriteFailureTriggersReconnect(t *testing.T) {
	h := newHarness(Config{KeepaliveInterval: 30 * time.Second})

	_, err := h.session.Start(context.Background(), testAddress)
	require.NoError(t, err)
	defer h.session.Stop()

	// Closing the connection makes the next keepalive write fail, which
	// closes the transport and routes the read loop into reconnect.
	conn := h.transport.conn(0)
	conn.mu.Lock()
	conn.closed = true
	conn.mu.Unlock()
	h.clock.ticker(0).tick()

	require.Eventually(t, func() bool {
		select {
		case conn.readErr <- errors.New("connection closed"):
		default:
		}
		return h.session.Phase() == PhaseReconnecting
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, 1, h.session.Attempt())
}

func TestSessionIgnoresStaleUnsubscribeAck(t *testing.T) {
	h := newHarness(Config{})
	h.transport.subID = 7

	_, err := h.session.Start(context.Background(), testAddress)
	require.NoError(t, err)
	defer h.session.Stop()

	// A late ack for an id that is not the pending subscribe must not
	// disturb the stream.
	conn := h.transport.conn(0)
	conn.deliver([]byte(`{"jsonrpc":"2.0","id":99,"result":true}`))
	conn.deliver(notificationFrame(7, 600, 11))

	waitForUpdates(t, h.sink, 2)
	assert.Equal(t, PhaseStreaming, h.session.Phase())
}
