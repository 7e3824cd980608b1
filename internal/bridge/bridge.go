// Package bridge drives a long-running agent daemon over a reconnectable
// control-plane link: correlated calls out, pushed events in. It composes a
// correlator, an event dispatcher, and a supervising reconnect loop over a
// pluggable transport and codec.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/twizzy/bridge/internal/logx"
	"github.com/twizzy/bridge/internal/protocol"
	"github.com/twizzy/bridge/internal/reconnect"
	"github.com/twizzy/bridge/internal/transport"
)

// ConnectionState is the externally observable link state.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// StateHandler observes connection state transitions.
type StateHandler func(ConnectionState)

// Options configures a Bridge.
type Options struct {
	Dialer transport.Dialer
	Codec  protocol.Codec
	Policy reconnect.Policy

	// CallTimeout is applied to calls whose context carries no deadline.
	// Zero means no default.
	CallTimeout time.Duration

	// WaitWhileConnecting makes Call wait for the link while a connection
	// attempt is underway instead of failing fast. Either way the policy is
	// explicit and uniform; there is no silent queueing.
	WaitWhileConnecting bool

	// ImplicitCorrelation is set for the push channel: requests carry no id,
	// at most one exchange is outstanding, and terminal frames complete it.
	ImplicitCorrelation bool
}

// Bridge is the facade the application uses: Call, On, OnStateChange,
// State. Construct with New, start with Connect, stop with Close.
type Bridge struct {
	opts Options
	log  zerolog.Logger
	corr *correlator
	disp *dispatcher

	mu       sync.Mutex
	state    ConnectionState
	conn     transport.Conn
	gaveUp   bool
	lastErr  error
	stateCh  chan struct{} // closed and replaced on every transition
	resumeCh chan struct{}
	closed   bool
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}

	notifyMu      sync.Mutex
	stateHandlers []StateHandler
}

// New builds a Bridge over the given transport dialer and codec.
func New(opts Options) *Bridge {
	return &Bridge{
		opts:    opts,
		log:     logx.With("bridge"),
		corr:    newCorrelator(opts.ImplicitCorrelation),
		disp:    newDispatcher(),
		stateCh: make(chan struct{}),
	}
}

// On registers a handler for a pushed event type. Handlers run in
// registration order, synchronously on the receive loop.
func (b *Bridge) On(eventType string, h EventHandler) {
	b.disp.on(eventType, h)
}

// OnStateChange registers an observer for connectivity transitions. This is
// deliberately separate from event handlers: connectivity is not an event
// pushed by the daemon, and a single call's failure is not a state change.
func (b *Bridge) OnStateChange(h StateHandler) {
	b.notifyMu.Lock()
	b.stateHandlers = append(b.stateHandlers, h)
	b.notifyMu.Unlock()
}

// State returns the current connection state.
func (b *Bridge) State() ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// GaveUp reports whether automatic reconnection stopped because the attempt
// limit was exceeded (or the policy forbids auto-reconnect). Resume restarts
// it.
func (b *Bridge) GaveUp() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gaveUp
}

// LastError returns the most recent connection failure, if any.
func (b *Bridge) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// Resume triggers a new connection attempt after the bridge gave up.
func (b *Bridge) Resume() {
	b.mu.Lock()
	ch := b.resumeCh
	b.resumeCh = nil
	b.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Connect starts the supervisor and waits until the link is established. If
// ctx expires first, Connect returns ctx.Err() while attempts continue in
// the background according to the policy; the caller can observe progress
// via OnStateChange. Connect returns a ConnectionError once the bridge has
// given up or been closed.
func (b *Bridge) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return &ConnectionError{Reason: "bridge closed"}
	}
	if !b.started {
		b.started = true
		runCtx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		b.done = make(chan struct{})
		go b.run(runCtx)
	}
	b.mu.Unlock()

	for {
		b.mu.Lock()
		st, gaveUp, lastErr, watch, closed := b.state, b.gaveUp, b.lastErr, b.stateCh, b.closed
		done := b.done
		b.mu.Unlock()
		switch {
		case closed:
			return &ConnectionError{Reason: "bridge closed"}
		case st == Connected:
			return nil
		case gaveUp:
			return &ConnectionError{Reason: "gave up connecting", Err: lastErr}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-watch:
		case <-done:
			return &ConnectionError{Reason: "bridge stopped", Err: lastErr}
		}
	}
}

// Close aborts any pending connection attempt, closes the live transport,
// and fails all outstanding calls before returning. Safe to call repeatedly
// and from any state.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		done := b.done
		b.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	}
	b.closed = true
	cancel := b.cancel
	conn := b.conn
	done := b.done
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
	// The supervisor fails pending calls on its way out; this covers a
	// bridge that was never started.
	b.corr.failAll(&ConnectionError{Reason: "bridge closed"})
	b.setState(Disconnected)
	return nil
}

// Call issues one correlated remote invocation and decodes the result into
// result (pass nil to discard it). The expected shape is declared by the
// caller; a bare string, a number, and a structured object are all legal
// wire results. Call never retries the connection itself.
func (b *Bridge) Call(ctx context.Context, method string, params any, result any) error {
	if b.opts.CallTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, b.opts.CallTimeout)
			defer cancel()
		}
	}

	conn, err := b.acquireConn(ctx)
	if err != nil {
		return err
	}
	cl, err := b.corr.register(method)
	if err != nil {
		return err
	}
	data, err := b.opts.Codec.EncodeRequest(cl.id, method, params)
	if err != nil {
		b.corr.cancel(cl.id)
		return err
	}

	callsInFlightGauge.Inc()
	defer callsInFlightGauge.Dec()

	if err := conn.Send(ctx, data); err != nil {
		// If a disconnect already failed the entry, its outcome is queued;
		// otherwise withdraw it so a late frame cannot complete it.
		if b.corr.cancel(cl.id) {
			callCompleted("connection_error", time.Since(cl.issuedAt))
			return &ConnectionError{Reason: "send failed", Err: err}
		}
	}

	select {
	case o := <-cl.done:
		return b.finish(cl, o, result)
	case <-ctx.Done():
		if b.corr.cancel(cl.id) {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				callCompleted("timeout", time.Since(cl.issuedAt))
				return &TimeoutError{Method: method}
			}
			callCompleted("cancelled", time.Since(cl.issuedAt))
			return ctx.Err()
		}
		// A completion raced in before the entry could be withdrawn; the
		// outcome is already buffered.
		return b.finish(cl, <-cl.done, result)
	}
}

func (b *Bridge) finish(cl *call, o outcome, result any) error {
	d := time.Since(cl.issuedAt)
	if o.err != nil {
		var ce *ConnectionError
		switch {
		case errors.As(o.err, &ce):
			callCompleted("connection_error", d)
		default:
			callCompleted("rpc_error", d)
		}
		return o.err
	}
	if result != nil && o.result != nil {
		if err := json.Unmarshal(o.result, result); err != nil {
			callCompleted("decode_error", d)
			return &DecodeError{Method: cl.method, Err: err}
		}
	}
	callCompleted("ok", d)
	return nil
}

// Notify sends a command without registering a pending call; no response is
// expected or matched. Used for push-channel commands that have no terminal
// frame, such as switching conversations.
func (b *Bridge) Notify(ctx context.Context, method string, params any) error {
	conn, err := b.acquireConn(ctx)
	if err != nil {
		return err
	}
	data, err := b.opts.Codec.EncodeRequest(0, method, params)
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, data); err != nil {
		return &ConnectionError{Reason: "send failed", Err: err}
	}
	return nil
}

// acquireConn resolves the current transport according to the configured
// while-connecting policy. Calls never trigger or wait on reconnection
// beyond that; retrying the link is the supervisor's job alone.
func (b *Bridge) acquireConn(ctx context.Context) (transport.Conn, error) {
	for {
		b.mu.Lock()
		st, conn, watch, closed := b.state, b.conn, b.stateCh, b.closed
		b.mu.Unlock()
		if closed {
			return nil, &ConnectionError{Reason: "bridge closed"}
		}
		switch st {
		case Connected:
			// The supervisor drops the transport before it publishes the
			// Disconnected transition; a call landing in that window must fail
			// like any other disconnect, not dereference a nil conn.
			if conn == nil {
				return nil, &ConnectionError{Reason: "connection lost"}
			}
			return conn, nil
		case Connecting:
			if !b.opts.WaitWhileConnecting {
				return nil, &ConnectionError{Reason: "connecting"}
			}
			select {
			case <-watch:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		default:
			return nil, &ConnectionError{Reason: "not connected"}
		}
	}
}

// run is the supervising state machine. It is the only goroutine that
// transitions connection state, so two attempts can never race to create
// two live transports.
func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		b.setState(Connecting)
		connectAttemptsCounter.Inc()
		conn, err := b.opts.Dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.setLastError(err)
			attempt++
			if b.opts.Policy.Exhausted(attempt) {
				b.log.Error().Err(err).Int("attempts", attempt).Msg("giving up; waiting for manual resume")
				if !b.park(ctx) {
					return
				}
				attempt = 0
				continue
			}
			delay := b.opts.Policy.Delay(attempt - 1)
			b.log.Warn().Dur("backoff", delay).Err(err).Msg("connect failed; retrying")
			b.setState(Disconnected)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		if !b.adoptConn(conn) {
			_ = conn.Close()
			return
		}
		attempt = 0
		b.setLastError(nil)
		b.setState(Connected)
		b.log.Info().Msg("connected to agent")

		err = b.readLoop(ctx, conn)
		b.dropConn(conn)
		_ = conn.Close()
		disconnectsCounter.Inc()

		// Fail every outstanding call exactly once, then surface the
		// transition; the pending table is empty by the time observers see
		// Disconnected.
		if n := b.corr.failAll(&ConnectionError{Reason: "connection lost", Err: err}); n > 0 {
			b.log.Warn().Int("pending", n).Msg("failed outstanding calls on disconnect")
		}
		b.setState(Disconnected)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, io.EOF) {
			b.setLastError(err)
			b.log.Error().Err(err).Msg("connection to agent lost")
		} else {
			b.log.Info().Msg("agent closed the connection")
		}

		if !b.opts.Policy.Auto {
			if !b.park(ctx) {
				return
			}
			attempt = 0
			continue
		}
		attempt++
		if b.opts.Policy.Exhausted(attempt) {
			b.log.Error().Int("attempts", attempt).Msg("giving up; waiting for manual resume")
			if !b.park(ctx) {
				return
			}
			attempt = 0
			continue
		}
		delay := b.opts.Policy.Delay(attempt - 1)
		b.log.Warn().Dur("backoff", delay).Msg("reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// readLoop is the sole reader for the lifetime of the connection and the
// only path that resolves pending entries from inbound data.
func (b *Bridge) readLoop(ctx context.Context, conn transport.Conn) error {
	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			return err
		}
		in, err := b.opts.Codec.Decode(data)
		if err != nil {
			framingDiscardsCounter.Inc()
			b.log.Warn().Err(err).Msg("discarding malformed frame")
			continue
		}
		switch in.Kind {
		case protocol.KindResponse:
			var cerr error
			if in.Err != nil {
				cerr = in.Err
			}
			if !b.corr.resolve(in.ID, in.Result, cerr) {
				b.log.Warn().Uint64("id", in.ID).Msg("response for unknown call id; discarding")
			}
		case protocol.KindEvent:
			if in.Terminal && b.opts.ImplicitCorrelation {
				var cerr error
				if in.Err != nil {
					cerr = in.Err
				}
				b.corr.resolveOldest(in.Result, cerr)
			}
			eventsCounter.WithLabelValues(in.Type).Inc()
			b.disp.dispatch(in.Type, in.Payload)
		}
	}
}

// park holds the bridge Disconnected until Resume or shutdown. Reports false
// when the supervisor should exit.
func (b *Bridge) park(ctx context.Context) bool {
	b.mu.Lock()
	b.gaveUp = true
	ch := make(chan struct{})
	b.resumeCh = ch
	b.bumpLocked()
	b.mu.Unlock()
	b.setState(Disconnected)

	select {
	case <-ctx.Done():
		return false
	case <-ch:
	}
	b.mu.Lock()
	b.gaveUp = false
	b.bumpLocked()
	b.mu.Unlock()
	return true
}

// adoptConn publishes the new transport; refuses if the bridge closed while
// dialing, so a racing Close never leaves two transports alive.
func (b *Bridge) adoptConn(conn transport.Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.conn = conn
	return true
}

func (b *Bridge) dropConn(conn transport.Conn) {
	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
	}
	b.mu.Unlock()
}

func (b *Bridge) setLastError(err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()
}

func (b *Bridge) setState(s ConnectionState) {
	b.mu.Lock()
	if b.state == s {
		b.mu.Unlock()
		return
	}
	b.state = s
	b.bumpLocked()
	b.mu.Unlock()
	setConnectedMetric(s == Connected)

	b.notifyMu.Lock()
	hs := make([]StateHandler, len(b.stateHandlers))
	copy(hs, b.stateHandlers)
	b.notifyMu.Unlock()
	for _, h := range hs {
		h(s)
	}
}

// bumpLocked wakes everyone waiting on a state change. Callers hold b.mu.
func (b *Bridge) bumpLocked() {
	close(b.stateCh)
	b.stateCh = make(chan struct{})
}
