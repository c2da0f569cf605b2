// Package upstream implements the Upstream Link: the single outbound
// streaming connection to the market-data provider, with its
// connect/receive/reconnect state machine.
//
// Exactly one Link exists per process. The connection is brought up
// lazily when the first client session attaches and torn down after a
// grace period once no sessions remain. Transient connectivity failures
// are retried forever with exponential backoff; nothing the provider does
// is fatal to the relay.
package upstream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/finverse/feedrelay/internal/codec"
	"github.com/finverse/feedrelay/internal/quotecache"
	"github.com/finverse/feedrelay/internal/registry"
	"github.com/finverse/feedrelay/internal/router"
)

// AuthorizeFunc exchanges a bearer credential for a connectable streaming
// endpoint URL. Failures surface as connect failures feeding the backoff
// cycle.
type AuthorizeFunc func(ctx context.Context, token string) (string, error)

// Link owns the provider connection and its credential.
type Link struct {
	cfg       Config
	authorize AuthorizeFunc
	reg       *registry.Registry
	rt        *router.Router
	cache     *quotecache.Cache // optional
	logger    *slog.Logger

	mu         sync.Mutex
	state      State
	token      string
	client     *client
	clients    int
	graceTimer *time.Timer

	// wake nudges the run loop out of credential polling or idle waits.
	wake chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	framesMu        sync.Mutex
	framesReceived  int64
	framesMalformed int64
}

// NewLink creates the Upstream Link. cache may be nil.
func NewLink(cfg Config, authorize AuthorizeFunc, reg *registry.Registry, rt *router.Router, cache *quotecache.Cache, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	return &Link{
		cfg:       cfg,
		authorize: authorize,
		reg:       reg,
		rt:        rt,
		cache:     cache,
		logger:    logger,
		state:     StateDisconnected,
		wake:      make(chan struct{}, 1),
	}
}

// Start launches the link's owning goroutine. The connection itself is not
// opened until a client attaches and a credential is available.
func (l *Link) Start(ctx context.Context) error {
	l.ctx, l.cancel = context.WithCancel(ctx)

	l.wg.Add(1)
	go l.run()

	l.logger.Info("upstream link started", "mode", l.cfg.Mode)
	return nil
}

// Stop shuts the link down. The state becomes ShuttingDown and stays there.
func (l *Link) Stop(ctx context.Context) error {
	l.mu.Lock()
	l.state = StateShuttingDown
	if l.graceTimer != nil {
		l.graceTimer.Stop()
		l.graceTimer = nil
	}
	c := l.client
	l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
	}
	if c != nil {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info("upstream link stopped")
	case <-ctx.Done():
		l.logger.Warn("upstream link stop timed out")
	}
	return nil
}

// State returns the current link state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SetCredential replaces the bearer credential. A different token
// invalidates the active connection so the next connect uses the new one;
// the subscription registry is untouched, so reconnection restores every
// prior subscription.
func (l *Link) SetCredential(token string) {
	l.mu.Lock()
	if token == l.token {
		l.mu.Unlock()
		return
	}
	l.token = token
	c := l.client
	l.mu.Unlock()

	l.logger.Info("credential replaced, forcing reconnect")
	if c != nil {
		c.Close()
	}
	l.nudge()
}

// Attach registers one more active client session, starting the connect
// cycle if this is the first.
func (l *Link) Attach() {
	l.mu.Lock()
	l.clients++
	if l.graceTimer != nil {
		l.graceTimer.Stop()
		l.graceTimer = nil
	}
	if l.state == StateDraining {
		l.state = StateConnected
	}
	n := l.clients
	l.mu.Unlock()

	l.logger.Debug("client attached", "clients", n)
	l.nudge()
}

// Detach removes one active client session. When the last one leaves, the
// link drains: it stays connected for the idle grace period, then closes.
func (l *Link) Detach() {
	l.mu.Lock()
	if l.clients > 0 {
		l.clients--
	}
	if l.clients == 0 && l.state == StateConnected {
		l.state = StateDraining
		l.graceTimer = time.AfterFunc(l.cfg.IdleGrace, l.idleTeardown)
	}
	n := l.clients
	l.mu.Unlock()

	l.logger.Debug("client detached", "clients", n)
}

// RequestSubscribe merges keys into the master set and, if connected,
// immediately subscribes to exactly the keys that were new. When not
// connected the merge suffices: the mandatory resubscribe on connect
// covers them. Keys must already be normalized.
func (l *Link) RequestSubscribe(keys []string) {
	added := l.reg.MergeMaster(keys)
	if len(added) == 0 {
		return
	}

	l.mu.Lock()
	c := l.client
	live := l.state == StateConnected || l.state == StateDraining
	l.mu.Unlock()

	if !live || c == nil {
		return
	}
	if err := c.Send(codec.EncodeSubscribe(added, l.cfg.Mode)); err != nil {
		// The keys are in the master set; the next reconnect re-issues them.
		l.logger.Warn("subscribe send failed", "keys", len(added), "error", err)
		return
	}
	l.logger.Debug("subscribed upstream", "keys", added)
}

// ClientCount returns the number of attached sessions.
func (l *Link) ClientCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clients
}

// FrameStats returns how many frames were received and how many of those
// were malformed and skipped.
func (l *Link) FrameStats() (received, malformed int64) {
	l.framesMu.Lock()
	defer l.framesMu.Unlock()
	return l.framesReceived, l.framesMalformed
}

// run is the link's single owning goroutine: the connect/receive/reconnect
// cycle lives here and nowhere else.
func (l *Link) run() {
	defer l.wg.Done()

	backoff := l.cfg.ReconnectBaseDelay

	for {
		if !l.waitForWork() {
			return
		}

		l.setState(StateConnecting)
		token := l.currentToken()

		actx, cancel := context.WithTimeout(l.ctx, l.cfg.AuthorizeTimeout)
		wsURL, err := l.authorize(actx, token)
		cancel()
		if err != nil {
			l.setState(StateDisconnected)
			l.logger.Warn("feed authorization failed",
				"error", err,
				"retry_in", backoff,
			)
			if !l.sleep(backoff) {
				return
			}
			backoff = l.nextBackoff(backoff)
			continue
		}

		c := newClient(clientConfig{
			URL:          wsURL,
			PingTimeout:  l.cfg.PingTimeout,
			WriteTimeout: l.cfg.WriteTimeout,
			BufferSize:   l.cfg.BufferSize,
		}, l.logger)

		if err := c.Connect(l.ctx); err != nil {
			l.setState(StateDisconnected)
			l.logger.Warn("upstream connect failed",
				"error", err,
				"retry_in", backoff,
			)
			if !l.sleep(backoff) {
				return
			}
			backoff = l.nextBackoff(backoff)
			continue
		}

		// Connected: reset backoff, expose the transport, then take the
		// resubscription snapshot. Exposing first means a concurrent
		// RequestSubscribe either lands in the snapshot or sends itself.
		backoff = l.cfg.ReconnectBaseDelay
		l.mu.Lock()
		if l.state == StateShuttingDown {
			l.mu.Unlock()
			c.Close()
			return
		}
		if l.token != token {
			// Credential replaced while connecting: this session was
			// authorized with the old one, so discard it and redial.
			l.mu.Unlock()
			c.Close()
			continue
		}
		l.client = c
		if l.clients > 0 {
			l.state = StateConnected
		} else {
			l.state = StateDraining
			l.graceTimer = time.AfterFunc(l.cfg.IdleGrace, l.idleTeardown)
		}
		l.mu.Unlock()

		l.logger.Info("upstream connected", "url", wsURL)

		// Resubscription on reconnect is mandatory: the provider has no
		// memory of a prior session.
		if keys := l.reg.SnapshotMaster(); len(keys) > 0 {
			if err := c.Send(codec.EncodeSubscribe(keys, l.cfg.Mode)); err != nil {
				l.logger.Warn("resubscribe failed", "keys", len(keys), "error", err)
			} else {
				l.logger.Info("resubscribed master set", "keys", len(keys))
			}
		}

		l.receive(c)

		c.Close()
		l.mu.Lock()
		l.client = nil
		if l.state != StateShuttingDown {
			l.state = StateDisconnected
		}
		l.mu.Unlock()
	}
}

// receive drains frames from the live connection until it dies. Malformed
// frames are logged and skipped; they never sever the stream.
func (l *Link) receive(c *client) {
	for {
		select {
		case <-l.ctx.Done():
			return

		case err := <-c.Errors():
			l.logger.Warn("upstream connection error", "error", err)
			return

		case msg, ok := <-c.Messages():
			if !ok {
				return
			}

			l.framesMu.Lock()
			l.framesReceived++
			l.framesMu.Unlock()

			records, err := codec.Decode(msg.Data)
			if err != nil {
				l.framesMu.Lock()
				l.framesMalformed++
				l.framesMu.Unlock()
				l.logger.Warn("skipping malformed frame",
					"bytes", len(msg.Data),
					"error", err,
				)
				continue
			}

			// Distribution is fire-and-continue: outbox enqueues never
			// block, so one slow client cannot hold up the next frame.
			l.rt.Distribute(records)

			if l.cache != nil {
				for _, rec := range records {
					l.cache.Offer(rec)
				}
			}
		}
	}
}

// waitForWork blocks until at least one client is attached and a credential
// is held. Returns false when the link is shutting down.
func (l *Link) waitForWork() bool {
	for {
		l.mu.Lock()
		if l.state == StateShuttingDown {
			l.mu.Unlock()
			return false
		}
		ready := l.clients > 0 && l.token != ""
		l.mu.Unlock()

		if ready {
			return true
		}

		select {
		case <-l.ctx.Done():
			return false
		case <-l.wake:
		case <-time.After(l.cfg.CredentialPoll):
		}
	}
}

// sleep waits for the backoff duration, returning false if shutdown
// interrupts it.
func (l *Link) sleep(d time.Duration) bool {
	select {
	case <-l.ctx.Done():
		return false
	case <-time.After(d):
		return true
	case <-l.wake:
		// Credential change or new client: retry immediately.
		return true
	}
}

func (l *Link) nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > l.cfg.ReconnectMaxDelay {
		d = l.cfg.ReconnectMaxDelay
	}
	return d
}

func (l *Link) nudge() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Link) setState(s State) {
	l.mu.Lock()
	if l.state != StateShuttingDown {
		l.state = s
	}
	l.mu.Unlock()
}

func (l *Link) currentToken() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.token
}

// idleTeardown fires when the drain grace period elapses with no clients.
func (l *Link) idleTeardown() {
	l.mu.Lock()
	if l.clients > 0 || l.state != StateDraining {
		l.mu.Unlock()
		return
	}
	c := l.client
	l.graceTimer = nil
	l.mu.Unlock()

	l.logger.Info("no clients remaining, closing upstream connection")
	if c != nil {
		c.Close()
	}
}
