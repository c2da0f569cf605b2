package registry

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

// fakeUpstream records RequestSubscribe calls and merges like the real link.
type fakeUpstream struct {
	mu    sync.Mutex
	reg   *Registry
	calls [][]string
}

func (f *fakeUpstream) RequestSubscribe(keys []string) {
	added := f.reg.MergeMaster(keys)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(added) > 0 {
		f.calls = append(f.calls, added)
	}
}

func newTestRegistry() (*Registry, *fakeUpstream) {
	r := New()
	up := &fakeUpstream{reg: r}
	r.SetUpstream(up)
	return r, up
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"NSE_EQ|RELIANCE", "NSE_EQ|RELIANCE"},
		{"NSE_EQ:RELIANCE", "NSE_EQ|RELIANCE"},
		{"  NSE_EQ:TCS ", "NSE_EQ|TCS"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeKey(tt.in); got != tt.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAddClientSubscription_Idempotent(t *testing.T) {
	r, up := newTestRegistry()
	client := uuid.New()

	r.AddClientSubscription(client, "NSE_EQ|AAA")
	r.AddClientSubscription(client, "NSE_EQ:AAA")
	r.AddClientSubscription(client, "NSE_EQ|AAA")

	if !r.Subscribed(client, "NSE_EQ|AAA") {
		t.Error("client should be subscribed to NSE_EQ|AAA")
	}
	if n := r.MasterSize(); n != 1 {
		t.Errorf("master size = %d, want 1", n)
	}
	if len(up.calls) != 1 {
		t.Errorf("upstream subscribe calls = %d, want 1", len(up.calls))
	}
}

func TestRemoveClientSubscription_KeepsMaster(t *testing.T) {
	r, _ := newTestRegistry()
	a, b := uuid.New(), uuid.New()

	r.AddClientSubscription(a, "NSE_EQ|AAA")
	r.AddClientSubscription(b, "NSE_EQ|AAA")

	r.RemoveClientSubscription(a, "NSE_EQ:AAA")

	if r.Subscribed(a, "NSE_EQ|AAA") {
		t.Error("client a should be unsubscribed")
	}
	if !r.Subscribed(b, "NSE_EQ|AAA") {
		t.Error("client b must remain subscribed")
	}
	if n := r.MasterSize(); n != 1 {
		t.Errorf("master size = %d, want 1", n)
	}
}

func TestRemoveClient_KeepsMaster(t *testing.T) {
	r, _ := newTestRegistry()
	client := uuid.New()

	r.AddClientSubscription(client, "NSE_EQ|AAA")
	r.AddClientSubscription(client, "NSE_EQ|BBB")
	r.RemoveClient(client)

	if r.Subscribed(client, "NSE_EQ|AAA") {
		t.Error("removed client should have no subscriptions")
	}
	if n := r.MasterSize(); n != 2 {
		t.Errorf("master size = %d, want 2", n)
	}
	if n := r.ClientCount(); n != 0 {
		t.Errorf("client count = %d, want 0", n)
	}
}

func TestMasterSet_MonotonicUnderChurn(t *testing.T) {
	r, _ := newTestRegistry()

	keys := []string{"NSE_EQ|AAA", "NSE_EQ|BBB", "NSE_EQ|CCC"}
	prev := 0
	for round := 0; round < 5; round++ {
		client := uuid.New()
		for _, k := range keys {
			r.AddClientSubscription(client, k)
			if n := r.MasterSize(); n < prev {
				t.Fatalf("master size shrank: %d -> %d", prev, n)
			} else {
				prev = n
			}
		}
		for _, k := range keys {
			r.RemoveClientSubscription(client, k)
		}
		r.RemoveClient(client)
		if n := r.MasterSize(); n < prev {
			t.Fatalf("master size shrank after client removal: %d -> %d", prev, n)
		}
	}
	if n := r.MasterSize(); n != len(keys) {
		t.Errorf("master size = %d, want %d", n, len(keys))
	}
}

func TestSnapshotMaster(t *testing.T) {
	r, _ := newTestRegistry()
	client := uuid.New()

	r.AddClientSubscription(client, "NSE_EQ|AAA")
	r.AddClientSubscription(client, "NSE_EQ:BBB")

	snap := r.SnapshotMaster()
	if len(snap) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(snap))
	}
	seen := make(map[string]bool)
	for _, k := range snap {
		seen[k] = true
	}
	if !seen["NSE_EQ|AAA"] || !seen["NSE_EQ|BBB"] {
		t.Errorf("snapshot = %v, want normalized AAA and BBB", snap)
	}
}

func TestMergeMaster_ReturnsOnlyNewKeys(t *testing.T) {
	r, _ := newTestRegistry()

	added := r.MergeMaster([]string{"NSE_EQ|AAA", "NSE_EQ|BBB"})
	if len(added) != 2 {
		t.Fatalf("first merge added = %v, want 2 keys", added)
	}

	added = r.MergeMaster([]string{"NSE_EQ|BBB", "NSE_EQ|CCC"})
	if len(added) != 1 || added[0] != "NSE_EQ|CCC" {
		t.Errorf("second merge added = %v, want [NSE_EQ|CCC]", added)
	}
}

func TestConcurrentSubscribes_SingleUpstreamCallPerKey(t *testing.T) {
	r, up := newTestRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := uuid.New()
			r.AddClientSubscription(client, "NSE_EQ|AAA")
			r.AddClientSubscription(client, "NSE_EQ|BBB")
		}()
	}
	wg.Wait()

	if n := r.MasterSize(); n != 2 {
		t.Errorf("master size = %d, want 2", n)
	}

	up.mu.Lock()
	defer up.mu.Unlock()
	total := 0
	for _, call := range up.calls {
		total += len(call)
	}
	if total != 2 {
		t.Errorf("keys subscribed on the wire = %d, want 2 (no duplicates)", total)
	}
}
