package upstream

import (
	"errors"
	"time"

	"github.com/finverse/feedrelay/internal/codec"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// State is the Upstream Link's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDraining
	StateShuttingDown
)

// String returns the log spelling of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// TimestampedMessage wraps raw frame bytes with a receive timestamp.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// clientConfig configures a single provider WebSocket connection.
type clientConfig struct {
	URL          string
	PingTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// Config configures the Upstream Link.
type Config struct {
	// Mode selects the field granularity requested from the provider.
	Mode codec.Mode

	ReconnectBaseDelay time.Duration // first retry delay, doubled per attempt
	ReconnectMaxDelay  time.Duration // backoff cap
	CredentialPoll     time.Duration // poll interval while no credential is held
	IdleGrace          time.Duration // how long the link stays up with zero clients
	AuthorizeTimeout   time.Duration // timeout for the provider authorization call

	PingTimeout  time.Duration // max silence before the transport is considered stale
	WriteTimeout time.Duration // write deadline for control frames
	BufferSize   int           // transport message channel buffer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:               codec.ModeLTPC,
		ReconnectBaseDelay: 3 * time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		CredentialPoll:     time.Second,
		IdleGrace:          30 * time.Second,
		AuthorizeTimeout:   10 * time.Second,
		PingTimeout:        60 * time.Second,
		WriteTimeout:       5 * time.Second,
		BufferSize:         1024,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Mode == 0 {
		c.Mode = def.Mode
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if c.CredentialPoll == 0 {
		c.CredentialPoll = def.CredentialPoll
	}
	if c.IdleGrace == 0 {
		c.IdleGrace = def.IdleGrace
	}
	if c.AuthorizeTimeout == 0 {
		c.AuthorizeTimeout = def.AuthorizeTimeout
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = def.PingTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.BufferSize == 0 {
		c.BufferSize = def.BufferSize
	}
}
