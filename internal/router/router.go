// Package router implements the Fan-out Router: decoded feed records are
// distributed to every registered client outbox whose subscription set
// contains the record's instrument key.
//
// Outboxes are bounded. Enqueue never blocks: when a client's outbox is
// full the record is dropped for that client, so a slow consumer degrades
// to stale data instead of stalling the relay for everyone else.
package router

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/finverse/feedrelay/internal/model"
	"github.com/finverse/feedrelay/internal/registry"
)

// Router fans decoded records out to per-client outboxes.
type Router struct {
	reg        *registry.Registry
	outboxSize int
	logger     *slog.Logger

	// mu guards outboxes and closed. Sends happen while holding the read
	// lock so Shutdown can never close a channel mid-send.
	mu       sync.RWMutex
	outboxes map[uuid.UUID]chan Outbound
	closed   bool

	statsMu     sync.Mutex
	distributed int64
	delivered   int64
	dropped     int64
}

// New creates a Router distributing via the given registry's per-client sets.
func New(reg *registry.Registry, outboxSize int, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if outboxSize < 1 {
		outboxSize = 1
	}
	return &Router{
		reg:        reg,
		outboxSize: outboxSize,
		logger:     logger,
		outboxes:   make(map[uuid.UUID]chan Outbound),
	}
}

// Register creates an outbox for the client and returns its receive side.
// After Shutdown the returned outbox is already closed.
func (rt *Router) Register(client uuid.UUID) <-chan Outbound {
	ch := make(chan Outbound, rt.outboxSize)

	rt.mu.Lock()
	if rt.closed {
		close(ch)
	} else {
		rt.outboxes[client] = ch
	}
	rt.mu.Unlock()

	rt.logger.Debug("client registered", "client", client)
	return ch
}

// Unregister discards the client's outbox. Pending items are dropped with it.
func (rt *Router) Unregister(client uuid.UUID) {
	rt.mu.Lock()
	delete(rt.outboxes, client)
	rt.mu.Unlock()

	rt.logger.Debug("client unregistered", "client", client)
}

// Distribute delivers each record to every client subscribed to its key.
// Called synchronously from the Upstream Link's receive loop; per-client
// ordering therefore follows frame arrival order.
func (rt *Router) Distribute(records []model.FeedRecord) {
	if len(records) == 0 {
		return
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if rt.closed {
		return
	}

	var delivered, dropped int64
	for _, rec := range records {
		for client, ch := range rt.outboxes {
			if !rt.reg.Subscribed(client, rec.Key) {
				continue
			}
			select {
			case ch <- Outbound{Record: rec}:
				delivered++
			default:
				dropped++
				rt.logger.Warn("outbox full, dropping record",
					"client", client,
					"key", rec.Key,
				)
			}
		}
	}

	rt.statsMu.Lock()
	rt.distributed += int64(len(records))
	rt.delivered += delivered
	rt.dropped += dropped
	rt.statsMu.Unlock()
}

// Enqueue places a single record on one client's outbox, subject to the
// same non-blocking drop policy. Used for initial snapshots on subscribe.
func (rt *Router) Enqueue(client uuid.UUID, rec model.FeedRecord) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if rt.closed {
		return false
	}

	ch, ok := rt.outboxes[client]
	if !ok {
		return false
	}

	select {
	case ch <- Outbound{Record: rec}:
		return true
	default:
		rt.statsMu.Lock()
		rt.dropped++
		rt.statsMu.Unlock()
		return false
	}
}

// Shutdown broadcasts the shutdown sentinel to every outbox and closes
// them, so outbound session loops terminate cleanly after draining
// whatever was already queued. Further Distribute calls are no-ops.
func (rt *Router) Shutdown() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return
	}
	rt.closed = true

	for _, ch := range rt.outboxes {
		select {
		case ch <- Outbound{Shutdown: true}:
		default:
			// Outbox full: the close below still terminates the drain loop.
		}
		close(ch)
	}
	rt.logger.Info("shutdown sentinel broadcast", "clients", len(rt.outboxes))
}

// ClientCount returns the number of registered outboxes.
func (rt *Router) ClientCount() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.outboxes)
}

// Stats returns current router statistics.
func (rt *Router) Stats() Stats {
	clients := rt.ClientCount()

	rt.statsMu.Lock()
	defer rt.statsMu.Unlock()

	return Stats{
		Clients:     clients,
		Distributed: rt.distributed,
		Delivered:   rt.delivered,
		Dropped:     rt.dropped,
	}
}
