package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"

	"github.com/domainscout/engine/internal/common/config"
)

// ErrDecompression is returned when a stored value cannot be decompressed.
// Use errors.Is(err, ErrDecompression) to check for it.
var ErrDecompression = errors.New("decompression failed")

// Value-store values carry a one-byte algorithm tag so a reader never has to
// guess how a blob was written.
const (
	tagRaw    byte = 0x00
	tagSnappy byte = 0x01
	tagLZ4    byte = 0x02
)

// Codec compresses cache values above a size threshold. Small payloads are
// stored raw; the tag byte makes both paths self-describing.
type Codec struct {
	algorithm string
	minSize   int
	enabled   bool
}

func NewCodec(cfg *config.CompressionConfig) *Codec {
	return &Codec{
		algorithm: cfg.Algorithm,
		minSize:   cfg.MinSize,
		enabled:   cfg.Enabled,
	}
}

// Algorithm returns the configured algorithm name (for metrics labels).
func (c *Codec) Algorithm() string {
	return c.algorithm
}

// Encode compresses value when it is large enough, returning the tagged blob.
func (c *Codec) Encode(value []byte) ([]byte, error) {
	if !c.enabled || len(value) < c.minSize {
		return append([]byte{tagRaw}, value...), nil
	}

	switch c.algorithm {
	case config.CompressionSnappy:
		compressed := snappy.Encode(nil, value)
		return append([]byte{tagSnappy}, compressed...), nil

	case config.CompressionLZ4:
		// LZ4 stream format embeds the uncompressed size.
		var buf bytes.Buffer
		buf.WriteByte(tagLZ4)
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(value); err != nil {
			w.Close()
			return nil, fmt.Errorf("lz4 compression failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compression close failed: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return append([]byte{tagRaw}, value...), nil
	}
}

// Decode reverses Encode based on the tag byte.
func (c *Codec) Decode(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: empty value", ErrDecompression)
	}

	tag, payload := blob[0], blob[1:]
	switch tag {
	case tagRaw:
		return payload, nil

	case tagSnappy:
		decompressed, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrDecompression, err)
		}
		return decompressed, nil

	case tagLZ4:
		r := lz4.NewReader(bytes.NewReader(payload))
		decompressed, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrDecompression, err)
		}
		return decompressed, nil

	default:
		return nil, fmt.Errorf("%w: unknown algorithm tag 0x%02x", ErrDecompression, tag)
	}
}
