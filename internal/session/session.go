// Package session serves downstream websocket clients: it reads their
// subscribe/unsubscribe control messages and drains their router outbox
// into feed envelopes.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/finverse/feedrelay/internal/model"
	"github.com/finverse/feedrelay/internal/registry"
	"github.com/finverse/feedrelay/internal/router"
)

// Session is one downstream client connection. It owns two goroutines for
// its lifetime: the inbound loop (control messages) and the outbound loop
// (outbox drain plus pings). Either loop failing ends the session.
type Session struct {
	id     uuid.UUID
	cfg    Config
	conn   *websocket.Conn
	reg    *registry.Registry
	rt     *router.Router
	feed   Feed
	snaps  SnapshotSource
	outbox <-chan router.Outbound
	logger *slog.Logger
}

func newSession(cfg Config, conn *websocket.Conn, reg *registry.Registry, rt *router.Router, feed Feed, snaps SnapshotSource, logger *slog.Logger) *Session {
	cfg.applyDefaults()
	id := uuid.New()
	return &Session{
		id:     id,
		cfg:    cfg,
		conn:   conn,
		reg:    reg,
		rt:     rt,
		feed:   feed,
		snaps:  snaps,
		outbox: rt.Register(id),
		logger: logger.With("client", id),
	}
}

// ID returns the session's identity.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// run blocks until the client disconnects, the relay shuts down, or ctx is
// cancelled. It always leaves the registry, router and feed clean.
func (s *Session) run(ctx context.Context) {
	s.feed.Attach()
	s.logger.Info("client connected")

	defer func() {
		s.reg.RemoveClient(s.id)
		s.rt.Unregister(s.id)
		s.feed.Detach()
		s.conn.Close()
		s.logger.Info("client disconnected")
	}()

	g, ctx := errgroup.WithContext(ctx)

	outboundDone := make(chan struct{})
	g.Go(func() error { return s.inbound(ctx) })
	g.Go(func() error {
		defer close(outboundDone)
		return s.outbound(ctx)
	})
	g.Go(func() error {
		// Unblock the inbound read when the other duty ends, but only
		// after the outbound loop has flushed its terminal notice.
		<-ctx.Done()
		<-outboundDone
		s.conn.Close()
		return nil
	})

	if err := g.Wait(); err != nil && err != ErrRelayClosed {
		s.logger.Debug("session ended", "error", err)
	}
}

// inbound reads control messages until the connection drops.
func (s *Session) inbound(ctx context.Context) error {
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("bad control message", "error", err)
			continue
		}

		switch msg.Type {
		case "subscribe":
			key := registry.NormalizeKey(msg.Key)
			if key == "" {
				continue
			}
			s.reg.AddClientSubscription(s.id, key)
			s.logger.Debug("subscribed", "key", key)
			s.prime(ctx, key)
		case "unsubscribe":
			key := registry.NormalizeKey(msg.Key)
			s.reg.RemoveClientSubscription(s.id, key)
			s.logger.Debug("unsubscribed", "key", key)
		default:
			s.logger.Debug("ignoring control message", "type", msg.Type)
		}
	}
}

// prime enqueues the cached latest record for a freshly subscribed key so
// the client does not wait for the next upstream tick.
func (s *Session) prime(ctx context.Context, key string) {
	if s.snaps == nil {
		return
	}
	rec, ok, err := s.snaps.Get(ctx, key)
	if err != nil {
		s.logger.Debug("snapshot lookup failed", "key", key, "error", err)
		return
	}
	if ok {
		s.rt.Enqueue(s.id, rec)
	}
}

// outbound drains the outbox into feed envelopes and keeps the connection
// alive with pings. A shutdown sentinel, a closed outbox, or a cancelled
// session context makes it send the terminal notice and end the session.
func (s *Session) outbound(ctx context.Context) error {
	pings := time.NewTicker(s.cfg.PingInterval)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			// Relay teardown can cancel the session before the router
			// broadcasts its sentinel. Best effort: the peer may
			// already be gone.
			s.writeJSON(shutdownEnvelope{Type: "server_shutdown"})
			return ctx.Err()
		case <-pings.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return err
			}
		case out, ok := <-s.outbox:
			if !ok || out.Shutdown {
				s.writeJSON(shutdownEnvelope{Type: "server_shutdown"})
				return ErrRelayClosed
			}
			env := feedEnvelope{
				Type:  "feed",
				Feeds: map[string]model.FeedRecord{out.Record.Key: out.Record},
			}
			if err := s.writeJSON(env); err != nil {
				return err
			}
		}
	}
}

func (s *Session) writeJSON(v any) error {
	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteJSON(v)
}
