// Package source opens strace captures for reassembly, either a file
// or standard input, decompressing them on the fly when needed.
package source

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Compression values accepted in Config.
const (
	CompressionAuto   = "auto"
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionZstd   = "zstd"
	CompressionSnappy = "snappy"
)

// StdinName is the display name used for standard input.
const StdinName = "<stdin>"

var (
	gzipMagic   = []byte{0x1f, 0x8b}
	zstdMagic   = []byte{0x28, 0xb5, 0x2f, 0xfd}
	snappyMagic = []byte{0xff, 0x06, 0x00, 0x00, 's', 'N', 'a', 'P', 'p', 'Y'}
)

// Config configures how trace input is opened.
type Config struct {
	// Compression of the input: auto, none, gzip, zstd, snappy.
	// auto sniffs files by magic bytes and treats stdin as plain
	// text, since sniffing a live pipe would stall on short writes.
	// Defaults to auto.
	Compression string `yaml:"compression"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Compression == "" {
		c.Compression = CompressionAuto
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Compression {
	case "", CompressionAuto, CompressionNone, CompressionGzip,
		CompressionZstd, CompressionSnappy:
		return nil
	default:
		return fmt.Errorf("invalid input compression: %s", c.Compression)
	}
}

// Source is an open trace input.
type Source struct {
	// Name is the file path or StdinName.
	Name string
	// Stdin reports whether the input is standard input.
	Stdin bool
	// Compression is the resolved compression, never auto.
	Compression string

	r       io.Reader
	closers []io.Closer
}

// Open opens path for reading, or standard input when path is empty
// or "-".
func Open(log logrus.FieldLogger, cfg Config, path string) (*Source, error) {
	cfg.ApplyDefaults()

	log = log.WithField("component", "source")

	if path == "" || path == "-" {
		compression := cfg.Compression
		if compression == CompressionAuto {
			compression = CompressionNone
		}

		src, err := NewReader(StdinName, io.NopCloser(os.Stdin), compression)
		if err != nil {
			return nil, err
		}

		src.Stdin = true

		log.WithField("compression", src.Compression).
			Debug("Reading trace from standard input")

		return src, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace file %s: %w", path, err)
	}

	if err := adviseSequential(f); err != nil {
		log.WithError(err).Debug("Sequential read advice not applied")
	}

	src, err := NewReader(path, f, cfg.Compression)
	if err != nil {
		return nil, multierr.Append(err, f.Close())
	}

	log.WithFields(logrus.Fields{
		"path":        path,
		"compression": src.Compression,
	}).Debug("Opened trace file")

	return src, nil
}

// NewReader wraps rc, decompressing according to compression. The
// returned Source owns rc and closes it on Close.
func NewReader(name string, rc io.ReadCloser, compression string) (*Source, error) {
	src := &Source{
		Name:    name,
		closers: []io.Closer{rc},
	}

	br := bufio.NewReaderSize(rc, 64*1024)

	if compression == "" || compression == CompressionAuto {
		compression = sniff(br)
	}

	src.Compression = compression

	switch compression {
	case CompressionNone:
		src.r = br
	case CompressionGzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("reading gzip header of %s: %w", name, err)
		}

		src.r = zr
		src.closers = append(src.closers, zr)
	case CompressionZstd:
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder for %s: %w", name, err)
		}

		rc := dec.IOReadCloser()
		src.r = rc
		src.closers = append(src.closers, rc)
	case CompressionSnappy:
		src.r = snappy.NewReader(br)
	default:
		return nil, fmt.Errorf("unsupported input compression: %s", compression)
	}

	return src, nil
}

// sniff peeks at the stream header. Short or failing peeks fall back
// to plain text; the read error, if any, resurfaces on the first Read.
func sniff(br *bufio.Reader) string {
	head, _ := br.Peek(len(snappyMagic))

	switch {
	case bytes.HasPrefix(head, zstdMagic):
		return CompressionZstd
	case bytes.HasPrefix(head, gzipMagic):
		return CompressionGzip
	case bytes.HasPrefix(head, snappyMagic):
		return CompressionSnappy
	default:
		return CompressionNone
	}
}

func (s *Source) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

// Close releases the decompressor and the underlying input, innermost
// first.
func (s *Source) Close() error {
	var err error

	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i].Close())
	}

	s.closers = nil

	return err
}
