// Package compression provides the pluggable body codecs the Request
// Executor (C3) applies to every non-empty request body and to
// Content-Encoding-tagged response bodies, keyed by id exactly
// like the teacher's wiremessage.CompressorID → compressor.Compressor
// table (core/connection/connection.go's compressorMap).
package compression

import (
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// ID identifies a compressor on the wire via the Content-Encoding header.
type ID string

// Recognized compressor ids.
const (
	None   ID = ""
	Snappy ID = "snappy"
	Zstd   ID = "zstd"
)

// Compressor compresses and decompresses whole request/response bodies.
type Compressor interface {
	ID() ID
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Registry is a table of compressors keyed by id, consulted by the Request
// Executor when a Conventions-level compression preference is set.
type Registry struct {
	byID map[ID]Compressor
}

// NewDefaultRegistry returns a Registry carrying the snappy and zstd
// codecs, the two this driver ships out of the box.
func NewDefaultRegistry() *Registry {
	r := &Registry{byID: make(map[ID]Compressor, 2)}
	r.Register(snappyCompressor{})
	r.Register(&zstdCompressor{})
	return r
}

// Register adds or replaces the compressor for its own ID().
func (r *Registry) Register(c Compressor) {
	r.byID[c.ID()] = c
}

// Get looks up a compressor by id.
func (r *Registry) Get(id ID) (Compressor, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// SupportedEncodings lists the registry's ids as Accept-Encoding
// candidates, in map iteration order (the header is a set, not a
// preference-ordered list).
func (r *Registry) SupportedEncodings() []string {
	out := make([]string, 0, len(r.byID))
	for id := range r.byID {
		if id == None {
			continue
		}
		out = append(out, string(id))
	}
	return out
}

type snappyCompressor struct{}

func (snappyCompressor) ID() ID { return Snappy }

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCompressor) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

// zstdCompressor lazily creates its encoder/decoder behind a sync.Once
// each, since one Registry (and thus one zstdCompressor) is shared across
// every in-flight request an Executor serves concurrently
// (executor.go's "go e.serve(msg)" per request); both are safe for
// concurrent use once built.
type zstdCompressor struct {
	encOnce sync.Once
	enc     *zstd.Encoder
	encErr  error

	decOnce sync.Once
	dec     *zstd.Decoder
	decErr  error
}

func (z *zstdCompressor) ID() ID { return Zstd }

func (z *zstdCompressor) Compress(data []byte) ([]byte, error) {
	z.encOnce.Do(func() {
		z.enc, z.encErr = zstd.NewWriter(nil)
	})
	if z.encErr != nil {
		return nil, fmt.Errorf("compression: init zstd encoder: %w", z.encErr)
	}
	return z.enc.EncodeAll(data, nil), nil
}

func (z *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	z.decOnce.Do(func() {
		z.dec, z.decErr = zstd.NewReader(nil)
	})
	if z.decErr != nil {
		return nil, fmt.Errorf("compression: init zstd decoder: %w", z.decErr)
	}
	return z.dec.DecodeAll(data, nil)
}

// DecompressBody reads and decompresses an HTTP response body, given the
// Content-Encoding header value (empty means no compression).
func DecompressBody(reg *Registry, contentEncoding string, body io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("compression: read body: %w", err)
	}
	if contentEncoding == "" {
		return raw, nil
	}
	c, ok := reg.Get(ID(contentEncoding))
	if !ok {
		return nil, fmt.Errorf("compression: unknown content-encoding %q", contentEncoding)
	}
	return c.Decompress(raw)
}

// CompressBody compresses a request body if id is non-empty, returning the
// bytes to send and the Content-Encoding header value to set.
func CompressBody(reg *Registry, id ID, body []byte) ([]byte, string, error) {
	if id == None {
		return body, "", nil
	}
	c, ok := reg.Get(id)
	if !ok {
		return nil, "", fmt.Errorf("compression: unknown compressor %q", id)
	}
	out, err := c.Compress(body)
	if err != nil {
		return nil, "", err
	}
	return out, string(id), nil
}
