// Package registry implements the Subscription Registry: the relay-wide
// master set of subscribed instrument keys plus each client's own set.
//
// The master set only grows. Unsubscribing a client never removes a key
// from the master set, so data flow to other clients still interested in
// that key is never interrupted.
package registry

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// SubscribeRequester is the part of the Upstream Link the registry needs:
// issuing provider-side subscriptions for keys newly seen by any client.
type SubscribeRequester interface {
	RequestSubscribe(keys []string)
}

// NormalizeKey maps both accepted separator conventions onto the canonical
// provider form, so "NSE_EQ:RELIANCE" and "NSE_EQ|RELIANCE" compare equal.
func NormalizeKey(key string) string {
	return strings.ReplaceAll(strings.TrimSpace(key), ":", "|")
}

// Registry tracks the master subscription set and per-client sets.
// All state is guarded by a single mutex; the resubscription snapshot
// read goes through the same mutex so a client subscribe can never be
// lost against a concurrent reconnect.
type Registry struct {
	mu       sync.Mutex
	master   map[string]struct{}
	clients  map[uuid.UUID]map[string]struct{}
	upstream SubscribeRequester
}

// New creates an empty Registry. SetUpstream must be called before the
// first client subscription for provider-side subscribes to be issued.
func New() *Registry {
	return &Registry{
		master:  make(map[string]struct{}),
		clients: make(map[uuid.UUID]map[string]struct{}),
	}
}

// SetUpstream wires the Upstream Link. Separate from New because the link
// and the registry reference each other.
func (r *Registry) SetUpstream(u SubscribeRequester) {
	r.mu.Lock()
	r.upstream = u
	r.mu.Unlock()
}

// AddClientSubscription adds key to the client's set. Idempotent. If the
// key is new to the master set, the Upstream Link is asked to subscribe;
// the merge into the master set happens inside RequestSubscribe so that
// concurrent adds of the same key dedupe on the wire.
func (r *Registry) AddClientSubscription(client uuid.UUID, key string) {
	key = NormalizeKey(key)
	if key == "" {
		return
	}

	r.mu.Lock()
	set, ok := r.clients[client]
	if !ok {
		set = make(map[string]struct{})
		r.clients[client] = set
	}
	set[key] = struct{}{}
	_, known := r.master[key]
	upstream := r.upstream
	r.mu.Unlock()

	if !known && upstream != nil {
		upstream.RequestSubscribe([]string{key})
	}
}

// RemoveClientSubscription removes key from the client's set only. The
// master set and the provider-side subscription are deliberately left
// intact.
func (r *Registry) RemoveClientSubscription(client uuid.UUID, key string) {
	key = NormalizeKey(key)

	r.mu.Lock()
	if set, ok := r.clients[client]; ok {
		delete(set, key)
	}
	r.mu.Unlock()
}

// RemoveClient drops the client's entire set without touching the master set.
func (r *Registry) RemoveClient(client uuid.UUID) {
	r.mu.Lock()
	delete(r.clients, client)
	r.mu.Unlock()
}

// Subscribed reports whether the client currently wants the (normalized) key.
func (r *Registry) Subscribed(client uuid.UUID, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.clients[client]
	if !ok {
		return false
	}
	_, ok = set[key]
	return ok
}

// MergeMaster adds keys to the master set and returns only the keys that
// were not already present. Keys must be normalized by the caller.
func (r *Registry) MergeMaster(keys []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := r.master[k]; ok {
			continue
		}
		r.master[k] = struct{}{}
		added = append(added, k)
	}
	return added
}

// SnapshotMaster returns a copy of the master set, for resubscription
// after a reconnect.
func (r *Registry) SnapshotMaster() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.master))
	for k := range r.master {
		keys = append(keys, k)
	}
	return keys
}

// MasterSize returns the current size of the master set.
func (r *Registry) MasterSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.master)
}

// ClientCount returns how many clients have registered subscription sets.
func (r *Registry) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
