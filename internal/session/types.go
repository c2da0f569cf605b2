package session

import (
	"context"
	"errors"
	"time"

	"github.com/finverse/feedrelay/internal/model"
)

var (
	// ErrRelayClosed reports that the relay told the client to go away.
	ErrRelayClosed = errors.New("session: relay shutting down")
)

// Feed is the upstream side a session attaches to for its lifetime.
type Feed interface {
	Attach()
	Detach()
	SetCredential(token string)
}

// SnapshotSource supplies the latest known record for a key, used to prime
// a client right after it subscribes. A nil source disables priming.
type SnapshotSource interface {
	Get(ctx context.Context, key string) (model.FeedRecord, bool, error)
}

// Config holds per-session websocket tuning.
type Config struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
}

const (
	DefaultWriteTimeout = 5 * time.Second
	DefaultPingInterval = 30 * time.Second
	DefaultPongTimeout  = 75 * time.Second
)

func (c *Config) applyDefaults() {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = DefaultPongTimeout
	}
}

// controlMessage is what a downstream client sends.
type controlMessage struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// feedEnvelope wraps records pushed to a downstream client.
type feedEnvelope struct {
	Type  string                      `json:"type"`
	Feeds map[string]model.FeedRecord `json:"feeds"`
}

// shutdownEnvelope is the terminal message sent when the relay stops.
type shutdownEnvelope struct {
	Type string `json:"type"`
}
