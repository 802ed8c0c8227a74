package bridge

import (
	"io"
	"log/slog"
	"sync"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	r := NewRegistry(4, discardLogger())
	p := r.Register(TransportSSE)
	if r.Count() != 1 {
		t.Fatalf("count = %d, want 1", r.Count())
	}
	r.Unregister(p)
	if r.Count() != 0 {
		t.Fatalf("count = %d, want 0", r.Count())
	}

	select {
	case _, ok := <-p.Outbound():
		if ok {
			t.Fatal("expected outbound channel closed")
		}
	default:
		t.Fatal("expected outbound channel to be closed, not just empty")
	}
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry(4, discardLogger())
	p := r.Register(TransportFramedSocket)
	r.Unregister(p)
	r.Unregister(p) // must not panic on double-close
}

func TestPeer_EnqueueDropsOldestWhenFull(t *testing.T) {
	r := NewRegistry(2, discardLogger())
	p := r.Register(TransportSSE)

	p.enqueue([]byte("1"))
	p.enqueue([]byte("2"))
	p.enqueue([]byte("3")) // queue full at 2, must drop "1"

	if !p.Lossy() {
		t.Error("expected peer to be marked lossy")
	}
	if p.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", p.Dropped())
	}

	first := <-p.Outbound()
	second := <-p.Outbound()
	if string(first) != "2" || string(second) != "3" {
		t.Errorf("got %q, %q; want 2, 3 (oldest dropped)", first, second)
	}
}

func TestRegistry_ForEachOpenSnapshotsBeforeInvoking(t *testing.T) {
	r := NewRegistry(4, discardLogger())
	p1 := r.Register(TransportSSE)
	r.Register(TransportFramedSocket)

	seen := 0
	r.ForEachOpen(func(p *Peer) {
		seen++
		if p.ID == p1.ID {
			r.Unregister(p1) // mutate registry mid-iteration; must not deadlock or panic
		}
	})
	if seen != 2 {
		t.Errorf("seen = %d, want 2", seen)
	}
}

func TestRegistry_CloseAllClosesEveryPeer(t *testing.T) {
	r := NewRegistry(4, discardLogger())
	p1 := r.Register(TransportSSE)
	p2 := r.Register(TransportFramedSocket)

	r.CloseAll()

	for _, p := range []*Peer{p1, p2} {
		select {
		case _, ok := <-p.Outbound():
			if ok {
				t.Errorf("peer %s outbound not closed", p.ID)
			}
		default:
			t.Errorf("peer %s outbound not closed", p.ID)
		}
	}
	if r.Count() != 0 {
		t.Errorf("count = %d, want 0 after CloseAll", r.Count())
	}
}

// TestPeer_EnqueueDuringCloseDoesNotPanic races many concurrent
// enqueues against a concurrent close, the way a live broadcast races
// Controller.Stop's registry.CloseAll in production. Run with -race.
func TestPeer_EnqueueDuringCloseDoesNotPanic(t *testing.T) {
	r := NewRegistry(4, discardLogger())
	p := r.Register(TransportSSE)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.enqueue([]byte("x"))
		}()
	}

	r.Unregister(p) // closes the outbound channel concurrently with the sends above
	wg.Wait()
}
