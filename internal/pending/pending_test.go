package pending

import (
	"sync"
	"testing"
)

func TestQueueCoalesces(t *testing.T) {
	// WHAT: Repeated Queue calls for one phone sum into a single delta.
	// WHY: Bursts of events must become one batched write, not many.
	b := NewBuffer()
	b.Queue("+14155551212", 1, "fp-1")
	b.Queue("+14155551212", 1, "fp-2")
	b.Queue("+14155551212", 2, "fp-3")

	got := b.Drain()
	if len(got) != 1 {
		t.Fatalf("entries: got %d, want 1", len(got))
	}
	if got[0].Delta != 4 {
		t.Errorf("delta: got %d, want 4", got[0].Delta)
	}
	if got[0].EventID != "fp-3" {
		t.Errorf("eventID: got %q, want fp-3 (latest wins)", got[0].EventID)
	}
}

func TestDrainClears(t *testing.T) {
	// WHAT: Drain empties the buffer; a second drain yields nothing.
	// WHY: After a flush consumes all pending entries the buffer is empty.
	b := NewBuffer()
	b.Queue("+14155551212", 1, "fp")
	if got := b.Drain(); len(got) != 1 {
		t.Fatalf("first drain: got %d entries, want 1", len(got))
	}
	if got := b.Drain(); got != nil {
		t.Errorf("second drain: got %d entries, want none", len(got))
	}
	if b.Len() != 0 {
		t.Errorf("len after drain: got %d, want 0", b.Len())
	}
}

func TestMinimumDelta(t *testing.T) {
	// WHAT: Deltas below 1 are clamped to 1.
	// WHY: A counted event always contributes at least one increment.
	b := NewBuffer()
	b.Queue("+14155551212", 0, "fp")
	got := b.Drain()
	if len(got) != 1 || got[0].Delta != 1 {
		t.Fatalf("got %+v, want one entry with delta 1", got)
	}
}

func TestConcurrentQueue(t *testing.T) {
	// WHAT: Concurrent writers produce a commutative total delta.
	// WHY: Events for the same session may be processed on many goroutines.
	b := NewBuffer()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Queue("+14155551212", 1, "fp")
		}()
	}
	wg.Wait()
	got := b.Drain()
	if len(got) != 1 || got[0].Delta != 50 {
		t.Fatalf("got %+v, want delta 50", got)
	}
}
