package http

import (
	"bytes"
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Compression type constants.
const (
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionZstd   = "zstd"
	CompressionZlib   = "zlib"
	CompressionSnappy = "snappy"
)

// Compressor encodes request bodies. It is safe for concurrent use by
// exporter workers.
type Compressor struct {
	algorithm string
	encoder   *zstd.Encoder
}

// NewCompressor creates a Compressor for the algorithm.
func NewCompressor(algorithm string) (*Compressor, error) {
	c := &Compressor{algorithm: algorithm}

	switch algorithm {
	case CompressionNone, "", CompressionGzip, CompressionZlib, CompressionSnappy:
	case CompressionZstd:
		// EncodeAll on a shared encoder is concurrency safe.
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		c.encoder = encoder
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	return c, nil
}

// Compress encodes data with the configured algorithm.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case CompressionGzip:
		var buf bytes.Buffer

		w := gzip.NewWriter(&buf)

		return finish(&buf, w.Write, w.Close, data, "gzip")
	case CompressionZlib:
		var buf bytes.Buffer

		w := zlib.NewWriter(&buf)

		return finish(&buf, w.Write, w.Close, data, "zlib")
	case CompressionZstd:
		return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	default:
		return data, nil
	}
}

func finish(
	buf *bytes.Buffer,
	write func([]byte) (int, error),
	closeFn func() error,
	data []byte,
	name string,
) ([]byte, error) {
	if _, err := write(data); err != nil {
		return nil, fmt.Errorf("%s write: %w", name, err)
	}

	if err := closeFn(); err != nil {
		return nil, fmt.Errorf("%s close: %w", name, err)
	}

	return buf.Bytes(), nil
}

// ContentEncoding returns the Content-Encoding header value, or "" for
// uncompressed bodies.
func (c *Compressor) ContentEncoding() string {
	switch c.algorithm {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionZlib:
		return "deflate"
	case CompressionSnappy:
		return "snappy"
	default:
		return ""
	}
}

// Close releases the zstd encoder.
func (c *Compressor) Close() error {
	if c.encoder != nil {
		return c.encoder.Close()
	}

	return nil
}
