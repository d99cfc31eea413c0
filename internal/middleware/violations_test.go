package middleware

import (
	"testing"
	"time"
)

func TestViolationTracker_LimitWithinWindow(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	vt := NewViolationTrackerWithNow(3, time.Minute, func() time.Time { return clock })

	if !vt.Record("conn-1") {
		t.Fatalf("expected first violation within budget")
	}
	if !vt.Record("conn-1") {
		t.Fatalf("expected second violation within budget")
	}
	if vt.Record("conn-1") {
		t.Fatalf("expected third violation to cross the limit")
	}
}

func TestViolationTracker_WindowReset(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	vt := NewViolationTrackerWithNow(2, time.Minute, func() time.Time { return clock })

	vt.Record("conn-1")
	clock = clock.Add(time.Minute + time.Second)
	if !vt.Record("conn-1") {
		t.Fatalf("expected counter to reset after window")
	}
}

func TestViolationTracker_Forget(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	vt := NewViolationTrackerWithNow(2, time.Minute, func() time.Time { return clock })

	vt.Record("conn-1")
	vt.Forget("conn-1")
	if !vt.Record("conn-1") {
		t.Fatalf("expected fresh budget after Forget")
	}
}

func TestViolationTracker_EvictExpired(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	vt := NewViolationTrackerWithNow(2, time.Minute, func() time.Time { return clock })

	vt.Allow("ip-1")
	vt.Allow("ip-2")
	vt.Record("conn-1")

	clock = clock.Add(time.Minute + time.Second)
	vt.Allow("ip-3")
	vt.evictExpired()

	vt.mu.Lock()
	defer vt.mu.Unlock()
	if len(vt.entries) != 1 {
		t.Fatalf("expected only the live entry to survive, got %d", len(vt.entries))
	}
	if _, ok := vt.entries["ip-3"]; !ok {
		t.Fatalf("live entry was evicted")
	}
}

func TestViolationTracker_AllowAndDeny(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	vt := NewViolationTrackerWithNow(2, time.Minute, func() time.Time { return clock })

	if !vt.Allow("ip") {
		t.Fatalf("expected allow")
	}
	if !vt.Allow("ip") {
		t.Fatalf("expected allow")
	}
	if vt.Allow("ip") {
		t.Fatalf("expected deny")
	}

	clock = clock.Add(time.Minute + time.Second)
	if !vt.Allow("ip") {
		t.Fatalf("expected allow after window")
	}
}
