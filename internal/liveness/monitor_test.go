package liveness

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"rdrelay/internal/metrics"
	"rdrelay/internal/protocol"
	"rdrelay/internal/registry"
)

type nopSender struct{}

func (nopSender) Write([]byte) error { return nil }
func (nopSender) Close() error       { return nil }

func TestSweepReapsAfterExactlyNIntervals(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	reg := registry.NewWithNow(clock)
	mon := NewWithNow(reg, metrics.New(), zap.NewNop(), 10*time.Second, 3, clock)

	if _, err := reg.Register("c1", "d1", "n", protocol.RoleControlled, nil, nopSender{}); err != nil {
		t.Fatal(err)
	}

	// One heartbeat arrives, then silence.
	now = now.Add(10 * time.Second)
	if err := reg.Touch("c1"); err != nil {
		t.Fatal(err)
	}

	// Just short of three missed intervals: still alive.
	now = now.Add(3*10*time.Second - time.Millisecond)
	if reaped := mon.Sweep(); len(reaped) != 0 {
		t.Fatalf("reaped too early: %v", reaped)
	}

	// Exactly three missed intervals: gone.
	now = now.Add(time.Millisecond)
	reaped := mon.Sweep()
	if len(reaped) != 1 || reaped[0] != "c1" {
		t.Fatalf("want [c1], got %v", reaped)
	}
	if _, ok := reg.Get("c1"); ok {
		t.Fatal("connection still registered after reap")
	}

	// Nothing left to reap.
	if reaped := mon.Sweep(); len(reaped) != 0 {
		t.Fatalf("second sweep reaped %v", reaped)
	}
}

func TestSweepSparesHeartbeatingConnections(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	reg := registry.NewWithNow(clock)
	mon := NewWithNow(reg, metrics.New(), zap.NewNop(), time.Second, 3, clock)

	reg.Register("alive", "d1", "n", protocol.RoleControlled, nil, nopSender{})
	reg.Register("dead", "d2", "n", protocol.RoleControlled, nil, nopSender{})

	for i := 0; i < 5; i++ {
		now = now.Add(time.Second)
		if err := reg.Touch("alive"); err != nil {
			t.Fatal(err)
		}
	}

	reaped := mon.Sweep()
	if len(reaped) != 1 || reaped[0] != "dead" {
		t.Fatalf("want [dead], got %v", reaped)
	}
	if _, ok := reg.Get("alive"); !ok {
		t.Fatal("heartbeating connection was reaped")
	}
}
