package handler

import (
	"testing"

	"go.uber.org/zap"

	"rdrelay/internal/metrics"
	"rdrelay/internal/protocol"
	"rdrelay/internal/registry"
)

type captureSender struct {
	messages [][]byte
}

func (s *captureSender) Write(message []byte) error {
	s.messages = append(s.messages, message)
	return nil
}

func (s *captureSender) Close() error { return nil }

func TestBroadcastReachesControllersOnly(t *testing.T) {
	reg := registry.New()
	ctrlSender := &captureSender{}
	devSender := &captureSender{}
	if _, err := reg.Register("c1", "op-1", "Operator", protocol.RoleController, nil, ctrlSender); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := reg.Register("d1", "dev-1", "Desk", protocol.RoleControlled, nil, devSender); err != nil {
		t.Fatalf("Register: %v", err)
	}

	b := &DeviceListBroadcaster{Registry: reg, Metrics: metrics.New(), Log: zap.NewNop()}
	b.Broadcast()

	if len(devSender.messages) != 0 {
		t.Fatalf("controlled device should not receive the roster")
	}
	if len(ctrlSender.messages) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(ctrlSender.messages))
	}
	msg, err := protocol.Decode(ctrlSender.messages[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != protocol.TypeDeviceList {
		t.Fatalf("expected device_list, got %s", msg.Type)
	}
	var list protocol.DeviceList
	if err := msg.DecodePayload(&list); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if len(list.Devices) != 1 || list.Devices[0].DeviceID != "dev-1" {
		t.Fatalf("unexpected roster: %+v", list)
	}
}

func TestSendToAnswersOneConnection(t *testing.T) {
	reg := registry.New()
	sender := &captureSender{}
	if _, err := reg.Register("c1", "op-1", "Operator", protocol.RoleController, nil, sender); err != nil {
		t.Fatalf("Register: %v", err)
	}

	b := &DeviceListBroadcaster{Registry: reg, Metrics: metrics.New(), Log: zap.NewNop()}
	b.SendTo("c1")

	if len(sender.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sender.messages))
	}
}
