package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// chunkHeader prefixes the placeholder written at the base key of a
// chunked value. The rest of the placeholder is the chunk count and the
// hex SHA-256 of the whole value, separated by a colon.
const chunkHeader = "chunked:"

// Chunked splits values larger than a fixed size across several keys of
// the same family:
//
//	key      -> "chunked:3:<sha256>"
//	key.0    -> bytes [0, size)
//	key.1    -> bytes [size, 2*size)
//	key.2    -> the remainder
//
// Chunks are written before the header. Writers on other devices can still
// interleave with a reader, so Get checks the reassembled bytes against the
// header's digest and reports ErrIncompleteValue on a mismatch. Chunks left
// over from a longer previous value are not removed; the header bounds what
// is read.
type Chunked struct {
	inner Store
	size  int
}

// NewChunked wraps inner. A size of zero or less disables chunking.
func NewChunked(inner Store, size int) *Chunked {
	return &Chunked{inner: inner, size: size}
}

// Get returns the value of key, reassembling it if it was chunked. A value
// whose chunks are missing or belong to different writes is reported as
// ErrIncompleteValue rather than returned.
func (c *Chunked) Get(ctx context.Context, key string) ([]byte, error) {
	head, err := c.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(head, []byte(chunkHeader)) {
		return head, nil
	}

	h, ok := parseHeader(head)
	if !ok {
		return nil, fmt.Errorf("%w: %s has header %q", ErrIncompleteValue, key, head)
	}

	var buf bytes.Buffer
	for i := 0; i < h.count; i++ {
		part, err := c.inner.Get(ctx, chunkKey(key, i))
		if err != nil {
			return nil, fmt.Errorf("%w: %s chunk %d of %d: %w", ErrIncompleteValue, key, i, h.count, err)
		}
		buf.Write(part)
	}

	if digest(buf.Bytes()) != h.sum {
		return nil, fmt.Errorf("%w: %s chunks do not match header digest", ErrIncompleteValue, key)
	}
	return buf.Bytes(), nil
}

// Set writes value, splitting it when it exceeds the chunk size.
func (c *Chunked) Set(ctx context.Context, key string, value []byte) error {
	if c.size <= 0 || len(value) <= c.size {
		return c.inner.Set(ctx, key, value)
	}

	n := 0
	for off := 0; off < len(value); off += c.size {
		end := min(off+c.size, len(value))
		if err := c.inner.Set(ctx, chunkKey(key, n), value[off:end]); err != nil {
			return fmt.Errorf("writing %s chunk %d: %w", key, n, err)
		}
		n++
	}

	return c.inner.Set(ctx, key, header{count: n, sum: digest(value)}.encode())
}

// Watch reports changes in family. Chunk keys already belong to their base
// key's family, so notifications pass straight through.
func (c *Chunked) Watch(ctx context.Context, family string, fn ChangeFunc) (func(), error) {
	return c.inner.Watch(ctx, family, fn)
}

type header struct {
	count int
	sum   string
}

func (h header) encode() []byte {
	return []byte(chunkHeader + strconv.Itoa(h.count) + ":" + h.sum)
}

func chunkKey(key string, i int) string {
	return key + "." + strconv.Itoa(i)
}

func digest(v []byte) string {
	sum := sha256.Sum256(v)
	return hex.EncodeToString(sum[:])
}

func parseHeader(v []byte) (header, bool) {
	rest, ok := strings.CutPrefix(string(v), chunkHeader)
	if !ok {
		return header{}, false
	}
	count, sum, ok := strings.Cut(rest, ":")
	if !ok || len(sum) != sha256.Size*2 {
		return header{}, false
	}
	n, err := strconv.Atoi(count)
	if err != nil || n < 1 {
		return header{}, false
	}
	return header{count: n, sum: sum}, true
}
