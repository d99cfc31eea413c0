package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// MaxFrameSize bounds a single framed message. Screen frames dominate
// traffic and stay well under this even uncompressed.
const MaxFrameSize = 16 << 20

// Stream frame layout: 4-byte big-endian length, 8-byte big-endian
// xxhash64 of the body, then the body. WebSocket transports have their
// own message boundaries and skip this layer entirely.
const frameHeaderSize = 12

// WriteFrame writes one length-prefixed, checksummed message to a
// byte-stream transport.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes", ErrMalformedMessage, len(data))
	}
	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(data)))
	binary.BigEndian.PutUint64(header[4:12], xxhash.Sum64(data))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadFrame reads one framed message. A checksum mismatch or oversized
// length surfaces as ErrMalformedMessage so callers apply the same
// drop-and-log policy as for unparseable envelopes.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[0:4])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrMalformedMessage, length)
	}
	sum := binary.BigEndian.Uint64(header[4:12])

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	if xxhash.Sum64(body) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrMalformedMessage)
	}
	return body, nil
}

// WriteMessage encodes and frames a message for a byte-stream transport.
func WriteMessage(w io.Writer, m *Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	return WriteFrame(w, data)
}

// ReadMessage reads and decodes one framed message.
func ReadMessage(r io.Reader) (*Message, error) {
	data, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
