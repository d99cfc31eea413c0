package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnknownMessageType = errors.New("unknown message type")
)

var knownTypes = map[Type]struct{}{
	TypeConnect:              {},
	TypeAck:                  {},
	TypeAuth:                 {},
	TypeDeviceList:           {},
	TypeControlRequest:       {},
	TypeControlRequestResult: {},
	TypeControlResponse:      {},
	TypeScreenFrame:          {},
	TypeMouseEvent:           {},
	TypeKeyboardEvent:        {},
	TypeEndControl:           {},
	TypeControlEnded:         {},
	TypeHeartbeat:            {},
	TypeError:                {},
}

// Encode serialises a message for the wire. The envelope is
// self-describing JSON, so a message-oriented transport (WebSocket) can
// carry it as-is; byte-stream transports wrap it with WriteFrame.
func Encode(m *Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return data, nil
}

// Decode parses wire bytes back into a Message. Unparseable bytes yield
// ErrMalformedMessage; a well-formed envelope with a type this build does
// not know yields ErrUnknownMessageType, which callers should log and
// drop rather than treat as fatal.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	if _, ok := knownTypes[m.Type]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, m.Type)
	}
	return &m, nil
}
