package protocol

import (
	"fmt"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Frame payload compression kinds.
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionZstd   = "zstd"
)

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func zstdInit() {
	zstdOnce.Do(func() {
		zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		zstdDecoder, _ = zstd.NewReader(nil)
	})
}

// Compress squeezes frame bytes with the named algorithm. An empty kind
// means none.
func Compress(kind string, data []byte) ([]byte, error) {
	switch kind {
	case "", CompressionNone:
		return data, nil
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	case CompressionZstd:
		zstdInit()
		return zstdEncoder.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("unsupported compression: %s", kind)
	}
}

// Decompress reverses Compress.
func Decompress(kind string, data []byte) ([]byte, error) {
	switch kind {
	case "", CompressionNone:
		return data, nil
	case CompressionSnappy:
		return snappy.Decode(nil, data)
	case CompressionZstd:
		zstdInit()
		return zstdDecoder.DecodeAll(data, nil)
	default:
		return nil, fmt.Errorf("unsupported compression: %s", kind)
	}
}

// CompressFrame compresses the frame data in place and records the kind,
// keeping the original bytes when compression would not help.
func CompressFrame(f *ScreenFrame, kind string) error {
	if kind == "" || kind == CompressionNone {
		f.Compression = CompressionNone
		return nil
	}
	packed, err := Compress(kind, f.Data)
	if err != nil {
		return err
	}
	if len(packed) >= len(f.Data) {
		f.Compression = CompressionNone
		return nil
	}
	f.Data = packed
	f.Compression = kind
	return nil
}

// DecompressFrame restores the original frame bytes.
func DecompressFrame(f *ScreenFrame) error {
	data, err := Decompress(f.Compression, f.Data)
	if err != nil {
		return err
	}
	f.Data = data
	f.Compression = CompressionNone
	return nil
}
