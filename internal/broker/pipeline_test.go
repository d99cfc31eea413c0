package broker

import (
	"bytes"
	"testing"
	"time"

	"rdrelay/internal/protocol"
)

func bind(t *testing.T, f *fixture) (controlled, controller *captureSender) {
	t.Helper()
	controlled = f.connect(t, "d1-conn", "d1", protocol.RoleControlled)
	controller = f.connect(t, "c1-conn", "c1", protocol.RoleController)
	f.broker.RequestControl("c1-conn", protocol.ControlRequest{TargetDeviceID: "d1"})
	f.broker.HandleControlResponse("d1-conn", protocol.ControlResponse{Accepted: true})
	return controlled, controller
}

func TestRelayFrame(t *testing.T) {
	f := newFixture(t, time.Minute)
	_, controller := bind(t, f)

	frame := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03}
	m, err := protocol.New(protocol.TypeScreenFrame, protocol.ScreenFrame{Data: frame, Width: 800, Height: 600})
	if err != nil {
		t.Fatal(err)
	}
	f.broker.RelayFrame("d1-conn", m)

	got := controller.byType(protocol.TypeScreenFrame)
	if len(got) != 1 {
		t.Fatalf("controller should receive 1 frame, got %d", len(got))
	}
	var sf protocol.ScreenFrame
	if err := got[0].DecodePayload(&sf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(sf.Data, frame) {
		t.Fatal("frame bytes corrupted")
	}
}

func TestRelayInput(t *testing.T) {
	f := newFixture(t, time.Minute)
	controlled, _ := bind(t, f)

	m, err := protocol.New(protocol.TypeMouseEvent, protocol.MouseEvent{EventType: "move", X: 3, Y: 4})
	if err != nil {
		t.Fatal(err)
	}
	f.broker.RelayInput("c1-conn", m)

	if got := controlled.byType(protocol.TypeMouseEvent); len(got) != 1 {
		t.Fatalf("controlled device should receive 1 event, got %d", len(got))
	}
}

func TestRelayFromUnboundConnectionDropped(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.connect(t, "d1-conn", "d1", protocol.RoleControlled)
	controller := f.connect(t, "c1-conn", "c1", protocol.RoleController)

	m, _ := protocol.New(protocol.TypeScreenFrame, protocol.ScreenFrame{Data: []byte{1}})
	f.broker.RelayFrame("d1-conn", m)

	if got := controller.byType(protocol.TypeScreenFrame); len(got) != 0 {
		t.Fatalf("unbound frame must be dropped, got %d", len(got))
	}
}

func TestRelaySendFailureTearsDownPair(t *testing.T) {
	f := newFixture(t, time.Minute)
	controlled, controller := bind(t, f)

	controller.mu.Lock()
	controller.fail = true
	controller.mu.Unlock()

	m, _ := protocol.New(protocol.TypeScreenFrame, protocol.ScreenFrame{Data: []byte{1}})
	f.broker.RelayFrame("d1-conn", m)

	if len(f.broker.Pairs()) != 0 {
		t.Fatal("pair must be torn down when the peer is unreachable")
	}
	if got := controlled.byType(protocol.TypeControlEnded); len(got) != 1 {
		t.Fatalf("survivor should see one control_ended, got %d", len(got))
	}
}
