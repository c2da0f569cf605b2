package session

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/finverse/feedrelay/internal/registry"
	"github.com/finverse/feedrelay/internal/router"
)

// Handler upgrades /ws/feed requests and runs a Session per connection.
type Handler struct {
	ctx      context.Context
	cfg      Config
	reg      *registry.Registry
	rt       *router.Router
	feed     Feed
	snaps    SnapshotSource
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler builds the feed endpoint. ctx bounds every session it spawns;
// cancelling it tears down all connected clients.
func NewHandler(ctx context.Context, cfg Config, reg *registry.Registry, rt *router.Router, feed Feed, snaps SnapshotSource, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Handler{
		ctx:   ctx,
		cfg:   cfg,
		reg:   reg,
		rt:    rt,
		feed:  feed,
		snaps: snaps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if token := credentialFrom(r); token != "" {
		h.feed.SetCredential(token)
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s := newSession(h.cfg, conn, h.reg, h.rt, h.feed, h.snaps, h.logger)
	s.run(h.ctx)
}

// credentialFrom pulls the provider access token off the request. The cookie
// wins over the query parameter.
func credentialFrom(r *http.Request) string {
	if c, err := r.Cookie("access_token"); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}
