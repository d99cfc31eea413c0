// Package protocol defines the wire messages exchanged between clients
// and the broker, and the codec that puts them on the wire.
package protocol

import (
	"encoding/json"
	"time"
)

type Type string

const (
	TypeConnect              Type = "connect"
	TypeAck                  Type = "ack"
	TypeAuth                 Type = "auth"
	TypeDeviceList           Type = "device_list"
	TypeControlRequest       Type = "control_request"
	TypeControlRequestResult Type = "control_request_result"
	TypeControlResponse      Type = "control_response"
	TypeScreenFrame          Type = "screen_frame"
	TypeMouseEvent           Type = "mouse_event"
	TypeKeyboardEvent        Type = "keyboard_event"
	TypeEndControl           Type = "end_control"
	TypeControlEnded         Type = "control_ended"
	TypeHeartbeat            Type = "heartbeat"
	TypeError                Type = "error"
)

// Connection roles.
const (
	RoleController = "controller"
	RoleControlled = "controlled"
)

// Connection statuses reported in acks and device lists.
const (
	StatusConnected     = "connected"
	StatusAuthenticated = "authenticated"
	StatusControlling   = "controlling"
	StatusControlled    = "controlled"
	StatusDisconnected  = "disconnected"
)

// Terminal reasons for a control request.
const (
	ReasonAccepted = "accepted"
	ReasonRejected = "rejected"
	ReasonBusy     = "busy"
	ReasonNotFound = "not_found"
	ReasonTimeout  = "timeout"
)

// Message is the envelope for everything on the wire. Payload stays raw
// until a handler picks the struct matching Type.
type Message struct {
	Type      Type            `json:"type"`
	SessionID string          `json:"sid,omitempty"`
	Timestamp int64           `json:"ts"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// New builds a Message with the payload marshalled and the timestamp set.
func New(t Type, payload interface{}) (*Message, error) {
	m := &Message{Type: t, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		m.Payload = raw
	}
	return m, nil
}

// DecodePayload unmarshals the payload into v.
func (m *Message) DecodePayload(v interface{}) error {
	if len(m.Payload) == 0 {
		return ErrMalformedMessage
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return ErrMalformedMessage
	}
	return nil
}

// DeviceInfo is the payload of a connect announce.
type DeviceInfo struct {
	DeviceID     string            `json:"device_id"`
	Name         string            `json:"name"`
	Role         string            `json:"role"`
	Capabilities map[string]string `json:"capabilities,omitempty"`
}

type Ack struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Token     string `json:"token,omitempty"`
}

type Auth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// DeviceSummary is one entry of a device_list broadcast, ordered by
// registration time for UI stability.
type DeviceSummary struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
}

type DeviceList struct {
	Devices []DeviceSummary `json:"devices"`
}

type ControlRequest struct {
	TargetDeviceID string `json:"target_device_id"`
	Password       string `json:"password,omitempty"`

	// Filled in by the broker when forwarding to the controlled device.
	ControllerID   string `json:"controller_id,omitempty"`
	ControllerName string `json:"controller_name,omitempty"`
}

type ControlRequestResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

type ControlResponse struct {
	ControllerID string `json:"controller_id"`
	Accepted     bool   `json:"accepted"`
}

// ScreenFrame carries codec-opaque frame bytes. Data is base64 on the
// wire and may additionally be compressed per Compression.
type ScreenFrame struct {
	Data        []byte `json:"data"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	OrigWidth   int    `json:"orig_width,omitempty"`
	OrigHeight  int    `json:"orig_height,omitempty"`
	Encoding    string `json:"encoding,omitempty"`
	Compression string `json:"compression,omitempty"`
}

type MouseEvent struct {
	EventType string   `json:"event_type"` // move, click, double_click, scroll, drag
	X         int      `json:"x"`
	Y         int      `json:"y"`
	Button    string   `json:"button,omitempty"`
	Clicks    int      `json:"clicks,omitempty"`
	DX        int      `json:"dx,omitempty"`
	DY        int      `json:"dy,omitempty"`
	Modifiers []string `json:"modifiers,omitempty"`
}

type KeyboardEvent struct {
	EventType string   `json:"event_type"` // press, release
	Key       string   `json:"key,omitempty"`
	Keys      []string `json:"keys,omitempty"` // pre-composed combination
	Text      string   `json:"text,omitempty"`
}

type EndControl struct {
	Reason string `json:"reason,omitempty"`
}

type ControlEnded struct {
	Reason string `json:"reason,omitempty"`
}

type Heartbeat struct {
	Timestamp int64 `json:"timestamp"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
