package protocol

import (
	"bytes"
	"crypto/rand"
	"errors"
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payloads := map[Type]interface{}{
		TypeConnect:        DeviceInfo{DeviceID: "d1", Name: "desk", Role: RoleControlled, Capabilities: map[string]string{"os": "linux"}},
		TypeAuth:           Auth{Username: "admin", Password: "secret"},
		TypeControlRequest: ControlRequest{TargetDeviceID: "d1", Password: "p"},
		TypeMouseEvent:     MouseEvent{EventType: "click", X: 10, Y: 20, Button: "left", Clicks: 2},
		TypeKeyboardEvent:  KeyboardEvent{EventType: "press", Keys: []string{"ctrl", "alt", "del"}},
		TypeHeartbeat:      Heartbeat{Timestamp: 123456789},
	}

	for typ, payload := range payloads {
		m, err := New(typ, payload)
		if err != nil {
			t.Fatalf("New(%s): %v", typ, err)
		}
		data, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode(%s): %v", typ, err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%s): %v", typ, err)
		}
		if !reflect.DeepEqual(m, got) {
			t.Fatalf("round trip of %s changed the message:\n  in:  %+v\n  out: %+v", typ, m, got)
		}
	}
}

func TestScreenFrameBinaryRoundTrip(t *testing.T) {
	raw := make([]byte, 10*1024)
	if _, err := rand.Read(raw); err != nil {
		t.Fatal(err)
	}

	m, err := New(TypeScreenFrame, ScreenFrame{Data: raw, Width: 1280, Height: 720, Encoding: "jpeg"})
	if err != nil {
		t.Fatal(err)
	}
	data, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	var frame ScreenFrame
	if err := got.DecodePayload(&frame); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(frame.Data, raw) {
		t.Fatal("frame bytes corrupted in transit")
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("{"), []byte("not json"), []byte(`{"ts":1}`)} {
		if _, err := Decode(data); !errors.Is(err, ErrMalformedMessage) {
			t.Fatalf("Decode(%q) = %v, want ErrMalformedMessage", data, err)
		}
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"teleport","ts":1}`))
	if !errors.Is(err, ErrUnknownMessageType) {
		t.Fatalf("got %v, want ErrUnknownMessageType", err)
	}
}

func TestDecodePayloadMalformed(t *testing.T) {
	m := &Message{Type: TypeAuth, Payload: []byte(`{"username":`)}
	var a Auth
	if err := m.DecodePayload(&a); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("got %v, want ErrMalformedMessage", err)
	}
}
