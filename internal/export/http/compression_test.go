package http

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ndjson = []byte(strings.Repeat(
	`{"line":"close(255 )       = 0","outcome":"merged","call":"close"}`+"\n", 8,
))

func decode(t *testing.T, algorithm string, data []byte) []byte {
	t.Helper()

	switch algorithm {
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		require.NoError(t, err)

		defer r.Close()

		out, err := io.ReadAll(r)
		require.NoError(t, err)

		return out
	case CompressionZlib:
		r, err := zlib.NewReader(bytes.NewReader(data))
		require.NoError(t, err)

		defer r.Close()

		out, err := io.ReadAll(r)
		require.NoError(t, err)

		return out
	case CompressionZstd:
		d, err := zstd.NewReader(nil)
		require.NoError(t, err)

		defer d.Close()

		out, err := d.DecodeAll(data, nil)
		require.NoError(t, err)

		return out
	case CompressionSnappy:
		out, err := snappy.Decode(nil, data)
		require.NoError(t, err)

		return out
	default:
		return data
	}
}

func TestCompressor_RoundTrip(t *testing.T) {
	tests := []struct {
		algorithm string
		encoding  string
		shrinks   bool
	}{
		{algorithm: CompressionGzip, encoding: "gzip", shrinks: true},
		{algorithm: CompressionZlib, encoding: "deflate", shrinks: true},
		{algorithm: CompressionZstd, encoding: "zstd", shrinks: true},
		{algorithm: CompressionSnappy, encoding: "snappy", shrinks: true},
		{algorithm: CompressionNone, encoding: ""},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			c, err := NewCompressor(tt.algorithm)
			require.NoError(t, err)

			defer c.Close()

			compressed, err := c.Compress(ndjson)
			require.NoError(t, err)

			assert.Equal(t, tt.encoding, c.ContentEncoding())

			if tt.shrinks {
				assert.Less(t, len(compressed), len(ndjson))
			}

			assert.Equal(t, ndjson, decode(t, tt.algorithm, compressed))
		})
	}
}

func TestCompressor_Unsupported(t *testing.T) {
	_, err := NewCompressor("lz4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported compression algorithm")
}
