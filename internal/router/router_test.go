package router

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/finverse/feedrelay/internal/model"
	"github.com/finverse/feedrelay/internal/registry"
)

func record(key string, ltp float64) model.FeedRecord {
	return model.FeedRecord{Key: key, LTP: ltp, Timestamp: time.Now().UnixMilli()}
}

func receiveOne(t *testing.T, ch <-chan Outbound) Outbound {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbox item")
		return Outbound{}
	}
}

func assertEmpty(t *testing.T, ch <-chan Outbound) {
	t.Helper()
	select {
	case out := <-ch:
		t.Fatalf("unexpected outbox item: %+v", out)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDistribute_FiltersBySubscription(t *testing.T) {
	reg := registry.New()
	rt := New(reg, 16, nil)

	a, b := uuid.New(), uuid.New()
	outA := rt.Register(a)
	outB := rt.Register(b)

	reg.AddClientSubscription(a, "NSE_EQ|AAA")

	rt.Distribute([]model.FeedRecord{record("NSE_EQ|AAA", 101.5)})

	got := receiveOne(t, outA)
	if got.Record.Key != "NSE_EQ|AAA" || got.Record.LTP != 101.5 {
		t.Errorf("client a got %+v, want NSE_EQ|AAA @ 101.5", got.Record)
	}
	assertEmpty(t, outB)
}

func TestDistribute_UnsubscribeOneClientKeepsOther(t *testing.T) {
	reg := registry.New()
	rt := New(reg, 16, nil)

	a, b := uuid.New(), uuid.New()
	outA := rt.Register(a)
	outB := rt.Register(b)

	reg.AddClientSubscription(a, "NSE_EQ|AAA")
	reg.AddClientSubscription(b, "NSE_EQ|AAA")

	rt.Distribute([]model.FeedRecord{record("NSE_EQ|AAA", 101.5)})
	if out := receiveOne(t, outA); out.Record.LTP != 101.5 {
		t.Errorf("client a first record LTP = %v, want 101.5", out.Record.LTP)
	}
	if out := receiveOne(t, outB); out.Record.LTP != 101.5 {
		t.Errorf("client b first record LTP = %v, want 101.5", out.Record.LTP)
	}

	reg.RemoveClientSubscription(a, "NSE_EQ|AAA")

	rt.Distribute([]model.FeedRecord{record("NSE_EQ|AAA", 102.0)})
	assertEmpty(t, outA)
	if out := receiveOne(t, outB); out.Record.LTP != 102.0 {
		t.Errorf("client b second record LTP = %v, want 102.0", out.Record.LTP)
	}
}

func TestDistribute_SlowConsumerDoesNotBlockFastOne(t *testing.T) {
	reg := registry.New()
	const size = 4
	rt := New(reg, size, nil)

	slow, fast := uuid.New(), uuid.New()
	rt.Register(slow) // never drained
	outFast := rt.Register(fast)

	reg.AddClientSubscription(slow, "NSE_EQ|AAA")
	reg.AddClientSubscription(fast, "NSE_EQ|AAA")

	const total = 32
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			rt.Distribute([]model.FeedRecord{record("NSE_EQ|AAA", float64(i))})
			time.Sleep(time.Millisecond)
		}
	}()

	// Drain the fast client while distribution is still running: all
	// records must arrive in order, through the tail of the sequence,
	// even though the slow outbox overflowed after the first size records.
	prev := -1.0
	for i := 0; i < total; i++ {
		out := receiveOne(t, outFast)
		if out.Record.LTP <= prev {
			t.Fatalf("out of order: %v after %v", out.Record.LTP, prev)
		}
		prev = out.Record.LTP
	}
	if prev != float64(total-1) {
		t.Errorf("last record LTP = %v, want %v", prev, float64(total-1))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("distribution blocked on slow consumer")
	}

	if stats := rt.Stats(); stats.Dropped == 0 {
		t.Error("expected drops for the slow consumer")
	}
}

func TestDistribute_PreservesOrderPerClient(t *testing.T) {
	reg := registry.New()
	rt := New(reg, 64, nil)

	c := uuid.New()
	out := rt.Register(c)
	reg.AddClientSubscription(c, "NSE_EQ|AAA")

	var records []model.FeedRecord
	for i := 0; i < 20; i++ {
		records = append(records, record("NSE_EQ|AAA", float64(i)))
	}
	rt.Distribute(records)

	for i := 0; i < 20; i++ {
		got := receiveOne(t, out)
		if got.Record.LTP != float64(i) {
			t.Fatalf("record %d LTP = %v, want %v", i, got.Record.LTP, float64(i))
		}
	}
}

func TestEnqueue(t *testing.T) {
	reg := registry.New()
	rt := New(reg, 2, nil)

	c := uuid.New()
	out := rt.Register(c)

	if !rt.Enqueue(c, record("NSE_EQ|AAA", 1)) {
		t.Error("Enqueue to registered client failed")
	}
	if rt.Enqueue(uuid.New(), record("NSE_EQ|AAA", 1)) {
		t.Error("Enqueue to unknown client should return false")
	}

	got := receiveOne(t, out)
	if got.Record.LTP != 1 {
		t.Errorf("LTP = %v, want 1", got.Record.LTP)
	}
}

func TestShutdown_SendsSentinelAndCloses(t *testing.T) {
	reg := registry.New()
	rt := New(reg, 4, nil)

	c := uuid.New()
	out := rt.Register(c)

	rt.Shutdown()

	got := receiveOne(t, out)
	if !got.Shutdown {
		t.Errorf("first item after shutdown = %+v, want sentinel", got)
	}

	if _, ok := <-out; ok {
		t.Error("outbox should be closed after sentinel")
	}

	// Distribution after shutdown is a no-op, not a panic.
	rt.Distribute([]model.FeedRecord{record("NSE_EQ|AAA", 1)})

	closed := rt.Register(uuid.New())
	if _, ok := <-closed; ok {
		t.Error("registering after shutdown should yield a closed outbox")
	}
}

func TestUnregister(t *testing.T) {
	reg := registry.New()
	rt := New(reg, 4, nil)

	c := uuid.New()
	rt.Register(c)
	if rt.ClientCount() != 1 {
		t.Fatalf("client count = %d, want 1", rt.ClientCount())
	}

	rt.Unregister(c)
	if rt.ClientCount() != 0 {
		t.Fatalf("client count = %d, want 0", rt.ClientCount())
	}

	reg.AddClientSubscription(c, "NSE_EQ|AAA")
	rt.Distribute([]model.FeedRecord{record("NSE_EQ|AAA", 1)})

	stats := rt.Stats()
	if stats.Delivered != 0 {
		t.Errorf("delivered = %d after unregister, want 0", stats.Delivered)
	}
}

func TestStats(t *testing.T) {
	reg := registry.New()
	rt := New(reg, 8, nil)

	c := uuid.New()
	rt.Register(c)
	reg.AddClientSubscription(c, "NSE_EQ|AAA")

	var records []model.FeedRecord
	for i := 0; i < 3; i++ {
		records = append(records, record("NSE_EQ|AAA", float64(i)))
	}
	rt.Distribute(records)

	stats := rt.Stats()
	if stats.Clients != 1 {
		t.Errorf("Clients = %d, want 1", stats.Clients)
	}
	if stats.Distributed != 3 {
		t.Errorf("Distributed = %d, want 3", stats.Distributed)
	}
	if stats.Delivered != 3 {
		t.Errorf("Delivered = %d, want 3", stats.Delivered)
	}
	if stats.Dropped != 0 {
		t.Errorf("Dropped = %d, want 0", stats.Dropped)
	}
}
