package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/pkg/mailbox"
)

// Connection maintains at most one authenticated socket. It is an explicit
// object; independent sessions each own their own Connection.
type Connection struct {
	dialer  Dialer
	auth    AuthProvider
	handler Handler
	opts    Options
	log     zerolog.Logger

	mu     sync.Mutex
	state  State
	cycle  uint64
	outbox *mailbox.Mailbox[[]byte]
	cancel context.CancelFunc
	done   chan struct{} // identifies the active run

	// notify serializes state changes so the handler sees them in order.
	notify sync.Mutex
	runs   sync.WaitGroup
}

func New(dialer Dialer, auth AuthProvider, handler Handler, opts Options, log zerolog.Logger) *Connection {
	return &Connection{
		dialer:  dialer,
		auth:    auth,
		handler: handler,
		opts:    opts.withDefaults(),
		log:     log,
		state:   StateDisconnected,
	}
}

// State returns the current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cycle returns the number of times the connection has reached StateConnected.
func (c *Connection) Cycle() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycle
}

// Connect resolves a credential and starts the connection in the background.
// A missing credential fails synchronously with *chat.AuthError. Connect does
// not wait for the network; progress is reported through the Handler. Calling
// Connect on a running connection is a no-op.
func (c *Connection) Connect(ctx context.Context) error {
	if c.running() {
		return nil
	}

	if _, err := c.credential(ctx); err != nil {
		c.log.Error().Err(err).Msg("connect refused")
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.cancel = cancel
	c.done = done
	c.runs.Add(1)
	c.mu.Unlock()

	c.transition(done, StateChange{State: StateConnecting})
	go c.supervise(runCtx, done)
	return nil
}

// Disconnect tears down the socket and stops reconnecting. The state is
// Disconnected when it returns; the background goroutines exit on their own
// and report nothing further. Safe to call repeatedly.
func (c *Connection) Disconnect() {
	c.notify.Lock()
	defer c.notify.Unlock()

	c.mu.Lock()
	cancel := c.cancel
	if cancel == nil {
		c.mu.Unlock()
		return
	}
	c.cancel, c.done, c.outbox = nil, nil, nil
	sc := StateChange{State: StateDisconnected}
	c.apply(&sc)
	c.mu.Unlock()

	cancel()
	c.report(sc)
}

// Wait blocks until every goroutine started by Connect has exited.
func (c *Connection) Wait() {
	c.runs.Wait()
}

// Send queues an intent for the socket of the given cycle. Zero means the
// current socket. It returns chat.ErrNotConnected when there is no such live
// socket; it never blocks on the network.
func (c *Connection) Send(cycle uint64, in chat.Intent) error {
	data, err := chat.Encode(in)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected || c.outbox == nil {
		return chat.ErrNotConnected
	}
	if cycle != 0 && cycle != c.cycle {
		return fmt.Errorf("cycle %d superseded by %d: %w", cycle, c.cycle, chat.ErrNotConnected)
	}
	if !c.outbox.Push(data) {
		return chat.ErrNotConnected
	}
	return nil
}

func (c *Connection) running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

func (c *Connection) credential(ctx context.Context) (chat.Credential, error) {
	cred, err := c.auth.Credential(ctx)
	if err != nil {
		var authErr *chat.AuthError
		if errors.As(err, &authErr) {
			return chat.Credential{}, err
		}
		return chat.Credential{}, &chat.AuthError{Reason: "credential unavailable", Err: err}
	}
	if cred.Token == "" {
		return chat.Credential{}, &chat.AuthError{Reason: "empty credential", Err: chat.ErrNoCredential}
	}
	return cred, nil
}

// owns reports whether run is still the active run.
func (c *Connection) owns(run chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done == run
}

// transition records sc for run. Changes from a run that was detached by
// Disconnect are dropped.
func (c *Connection) transition(run chan struct{}, sc StateChange) {
	c.notify.Lock()
	defer c.notify.Unlock()

	c.mu.Lock()
	if c.done != run {
		c.mu.Unlock()
		return
	}
	c.apply(&sc)
	c.mu.Unlock()

	c.report(sc)
}

// apply must be called with mu held.
func (c *Connection) apply(sc *StateChange) {
	c.state = sc.State
	if sc.State == StateConnected {
		c.cycle++
	}
	sc.Cycle = c.cycle
}

func (c *Connection) report(sc StateChange) {
	evt := c.log.Debug()
	if sc.Err != nil {
		evt = c.log.Warn().Err(sc.Err)
	}
	evt.Str("state", string(sc.State)).
		Uint64("cycle", sc.Cycle).
		Int("attempt", sc.Attempt).
		Dur("delay", sc.Delay).
		Msg("connection state")

	c.handler.HandleState(sc)
}

func (c *Connection) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialDelay
	b.MaxInterval = c.opts.MaxDelay
	b.Multiplier = c.opts.Multiplier
	b.RandomizationFactor = c.opts.Jitter
	b.Reset()
	return b
}

// supervise dials, runs sessions, and retries network faults until ctx ends,
// retries are exhausted, or authentication fails.
func (c *Connection) supervise(ctx context.Context, done chan struct{}) {
	defer c.runs.Done()

	bo := c.newBackOff()
	attempt := 0

	for {
		conn, err := c.dial(ctx)
		if err == nil {
			attempt = 0
			bo.Reset()
			err = c.session(ctx, done, conn)
		}

		switch {
		case ctx.Err() != nil:
			c.finish(done, StateChange{State: StateDisconnected})
			return
		case chat.IsAuth(err):
			c.finish(done, StateChange{State: StateDisconnected, Err: err})
			return
		}

		attempt++
		if c.opts.MaxAttempts > 0 && attempt > c.opts.MaxAttempts {
			c.finish(done, StateChange{State: StateDisconnected, Attempt: attempt - 1, Err: err})
			return
		}

		// Jitter can push NextBackOff past MaxInterval; MaxDelay is a hard cap.
		delay := min(bo.NextBackOff(), c.opts.MaxDelay)
		c.transition(done, StateChange{State: StateReconnecting, Attempt: attempt, Delay: delay, Err: err})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.finish(done, StateChange{State: StateDisconnected})
			return
		case <-timer.C:
		}
	}
}

func (c *Connection) finish(run chan struct{}, sc StateChange) {
	c.notify.Lock()
	defer c.notify.Unlock()

	c.mu.Lock()
	if c.done != run {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.cancel, c.done = nil, nil
	c.apply(&sc)
	c.mu.Unlock()

	cancel()
	c.report(sc)
}

func (c *Connection) dial(ctx context.Context) (Conn, error) {
	cred, err := c.credential(ctx)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	conn, err := c.dialer.Dial(dialCtx, cred)
	if err != nil {
		return nil, classify("dial", err)
	}
	return conn, nil
}

// session runs one socket until it fails or ctx ends. The read loop runs on
// the calling goroutine so that state changes and events reach the handler in
// order.
func (c *Connection) session(ctx context.Context, run chan struct{}, conn Conn) error {
	c.transition(run, StateChange{State: StateAuthenticated})

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once  sync.Once
		cause error
	)
	fail := func(err error) {
		once.Do(func() {
			cause = err
			cancel()
		})
	}

	outbox := mailbox.New[[]byte]()
	c.mu.Lock()
	if c.done == run {
		c.outbox = outbox
	}
	c.mu.Unlock()

	c.transition(run, StateChange{State: StateConnected})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := c.writeLoop(sessCtx, conn, outbox); err != nil {
			fail(err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := c.heartbeat(sessCtx, conn); err != nil {
			fail(err)
		}
	}()

	fail(c.readLoop(sessCtx, run, conn))

	c.mu.Lock()
	if c.outbox == outbox {
		c.outbox = nil
	}
	c.mu.Unlock()
	outbox.Close()

	wg.Wait()
	if err := conn.Close(); err != nil {
		c.log.Debug().Err(err).Msg("closing socket")
	}
	return cause
}

func (c *Connection) readLoop(ctx context.Context, run chan struct{}, conn Conn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return classify("read", err)
		}

		ev := chat.Decode(data)
		if af, ok := ev.(chat.AuthFailure); ok {
			reason := af.Message
			if reason == "" {
				reason = "rejected by server"
			}
			return &chat.AuthError{Reason: reason}
		}
		if !c.owns(run) {
			return ctx.Err()
		}
		c.handler.HandleEvent(ev)
	}
}

func (c *Connection) writeLoop(ctx context.Context, conn Conn, outbox *mailbox.Mailbox[[]byte]) error {
	for {
		data, ok := outbox.Pop(ctx)
		if !ok {
			return nil
		}
		if err := conn.Write(ctx, data); err != nil {
			return classify("write", err)
		}
	}
}

func (c *Connection) heartbeat(ctx context.Context, conn Conn) error {
	if c.opts.HeartbeatInterval <= 0 {
		return nil
	}

	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.opts.HeartbeatInterval)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				return classify("ping", err)
			}
		}
	}
}

// classify maps raw socket errors onto the chat error taxonomy.
func classify(op string, err error) error {
	if chat.IsAuth(err) {
		return err
	}
	var netErr *chat.NetworkError
	if errors.As(err, &netErr) {
		return err
	}
	return &chat.NetworkError{Op: op, Err: err}
}
