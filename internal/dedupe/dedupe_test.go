package dedupe

import (
	"fmt"
	"testing"
	"time"
)

func TestSeenAfterInsert(t *testing.T) {
	// WHAT: A fingerprint is seen after insertion, unseen before.
	// WHY: Two identical fingerprints within the TTL must count exactly once.
	c := New(10*time.Minute, 0)
	if c.Seen("fp-1") {
		t.Error("fresh cache should not have seen fp-1")
	}
	c.Insert("fp-1")
	if !c.Seen("fp-1") {
		t.Error("fp-1 should be seen after insert")
	}
}

func TestEmptyFingerprintNeverSeen(t *testing.T) {
	// WHAT: The empty fingerprint always passes through.
	// WHY: Events missing dedupe fields must never be suppressed.
	c := New(10*time.Minute, 0)
	c.Insert("")
	if c.Seen("") {
		t.Error("empty fingerprint must never be seen")
	}
	if c.Len() != 0 {
		t.Errorf("empty fingerprint should not be stored, len=%d", c.Len())
	}
}

func TestTTLExpiry(t *testing.T) {
	// WHAT: Entries older than the TTL are no longer seen.
	// WHY: The dedupe window is deliberately short; old events may recount.
	c := New(time.Minute, 0)
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Insert("fp-old")
	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	if c.Seen("fp-old") {
		t.Error("expired entry should not be seen")
	}
}

func TestHighWaterPurge(t *testing.T) {
	// WHAT: Crossing the high-water mark purges expired entries.
	// WHY: The cache is bounded; unbounded growth would leak memory.
	c := New(time.Minute, 10)
	base := time.Now()
	c.now = func() time.Time { return base }
	for i := 0; i < 10; i++ {
		c.Insert(fmt.Sprintf("fp-%d", i))
	}
	// All 10 expire, then one insert past the mark triggers the purge.
	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	c.Insert("fp-new")
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1 after purge", c.Len())
	}
	if !c.Seen("fp-new") {
		t.Error("fresh entry should survive the purge")
	}
}
