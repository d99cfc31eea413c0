package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	m, err := New(TypeHeartbeat, Heartbeat{Timestamp: 42})
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteMessage(&buf, m); err != nil {
		t.Fatal(err)
	}
	// A second message on the same stream must reframe cleanly.
	if err := WriteMessage(&buf, m); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		got, err := ReadMessage(&buf)
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if got.Type != TypeHeartbeat {
			t.Fatalf("message %d: got type %s", i, got.Type)
		}
	}
}

func TestFrameChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte(`{"type":"heartbeat","ts":1}`)); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xFF

	if _, err := ReadFrame(bytes.NewReader(raw)); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("got %v, want ErrMalformedMessage", err)
	}
}

func TestFrameTooLarge(t *testing.T) {
	header := make([]byte, frameHeaderSize)
	header[0] = 0xFF
	header[1] = 0xFF
	header[2] = 0xFF
	header[3] = 0xFF
	if _, err := ReadFrame(bytes.NewReader(header)); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("got %v, want ErrMalformedMessage", err)
	}
}

func TestCompressFrameRoundTrip(t *testing.T) {
	// Compressible payload so both algorithms actually shrink it.
	data := bytes.Repeat([]byte("screenscreen"), 512)

	for _, kind := range []string{CompressionNone, CompressionSnappy, CompressionZstd} {
		f := ScreenFrame{Data: append([]byte(nil), data...), Width: 640, Height: 480}
		if err := CompressFrame(&f, kind); err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if kind != CompressionNone && f.Compression != kind {
			t.Fatalf("%s: compression not recorded, got %q", kind, f.Compression)
		}
		if err := DecompressFrame(&f); err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if !bytes.Equal(f.Data, data) {
			t.Fatalf("%s: data corrupted", kind)
		}
	}
}

func TestCompressFrameKeepsIncompressible(t *testing.T) {
	f := ScreenFrame{Data: []byte{1}}
	if err := CompressFrame(&f, CompressionZstd); err != nil {
		t.Fatal(err)
	}
	if f.Compression != CompressionNone {
		t.Fatalf("tiny frame should stay uncompressed, got %q", f.Compression)
	}
}
