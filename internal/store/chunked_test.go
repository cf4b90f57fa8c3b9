package store

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestChunkedSmallValuePassesThrough(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	c := NewChunked(mem, 8)

	if err := c.Set(ctx, "devices", []byte("12345678")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	raw, _ := mem.Get(ctx, "devices")
	if string(raw) != "12345678" {
		t.Errorf("raw value = %q, want unchunked", raw)
	}
	if len(mem.values) != 1 {
		t.Errorf("keys = %d, want 1", len(mem.values))
	}
}

func TestChunkedRoundtrip(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	c := NewChunked(mem, 4)
	value := []byte("abcdefghij") // 3 chunks: abcd efgh ij

	if err := c.Set(ctx, "devices", value); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	head, _ := mem.Get(ctx, "devices")
	if want := "chunked:3:" + digest(value); string(head) != want {
		t.Errorf("header = %q, want %q", head, want)
	}
	last, _ := mem.Get(ctx, "devices.2")
	if string(last) != "ij" {
		t.Errorf("last chunk = %q", last)
	}

	got, err := c.Get(ctx, "devices")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, value) {
		t.Errorf("Get() = %q, want %q", got, value)
	}
}

func TestChunkedShrinkingValue(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	c := NewChunked(mem, 4)

	_ = c.Set(ctx, "devices", []byte(strings.Repeat("x", 12)))
	_ = c.Set(ctx, "devices", []byte("yyyyyy"))

	got, err := c.Get(ctx, "devices")
	if err != nil || string(got) != "yyyyyy" {
		t.Errorf("Get() = %q, %v", got, err)
	}

	_ = c.Set(ctx, "devices", []byte("z"))
	got, err = c.Get(ctx, "devices")
	if err != nil || string(got) != "z" {
		t.Errorf("Get() after shrinking below chunk size = %q, %v", got, err)
	}
}

func TestChunkedMissingChunk(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	_ = mem.Set(ctx, "devices", header{count: 2, sum: digest([]byte("abcd"))}.encode())
	_ = mem.Set(ctx, "devices.0", []byte("ab"))

	_, err := NewChunked(mem, 4).Get(ctx, "devices")
	if !errors.Is(err, ErrIncompleteValue) {
		t.Errorf("Get() error = %v, want ErrIncompleteValue", err)
	}
}

func TestChunkedTornWrite(t *testing.T) {
	ctx := context.Background()
	// 34 bytes in chunks of 8: the first and fourth chunks differ.
	oldValue := []byte(`["aaaaaaaa","bbbbbbbb","cccccccc"]`)
	newValue := []byte(`["dddddddd","bbbbbbbb","eeeeeeee"]`)

	tests := []struct {
		name  string
		write func(mem *Memory)
	}{
		{
			name: "first new chunk under old header",
			write: func(mem *Memory) {
				_ = mem.Set(ctx, "devices.0", newValue[:8])
			},
		},
		{
			name: "last new chunk under old header",
			write: func(mem *Memory) {
				_ = mem.Set(ctx, "devices.4", newValue[32:])
				_ = mem.Set(ctx, "devices.3", newValue[24:32])
			},
		},
		{
			name: "new header before its chunks",
			write: func(mem *Memory) {
				_ = mem.Set(ctx, "devices", header{count: 5, sum: digest(newValue)}.encode())
			},
		},
		{
			name: "header without digest",
			write: func(mem *Memory) {
				_ = mem.Set(ctx, "devices", []byte("chunked:5"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := NewMemory()
			c := NewChunked(mem, 8)
			if err := c.Set(ctx, "devices", oldValue); err != nil {
				t.Fatalf("Set() error = %v", err)
			}

			tt.write(mem)

			got, err := c.Get(ctx, "devices")
			if !errors.Is(err, ErrIncompleteValue) {
				t.Errorf("Get() = %q, %v, want ErrIncompleteValue", got, err)
			}
		})
	}
}

func TestChunkedRewriteIsNoop(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	c := NewChunked(mem, 4)
	rec := &recorder{}

	_ = c.Set(ctx, "devices", []byte("abcdefghij"))
	if _, err := c.Watch(ctx, "devices", rec.record); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	_ = c.Set(ctx, "devices", []byte("abcdefghij"))

	if got := rec.got(); len(got) != 0 {
		t.Errorf("notifications = %v, want none", got)
	}
}

func TestChunkedWatchSeesChunks(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	c := NewChunked(mem, 2)
	rec := &recorder{}

	if _, err := c.Watch(ctx, "devices", rec.record); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	_ = c.Set(ctx, "devices", []byte("abcd"))

	got := rec.got()
	if len(got) != 3 || got[len(got)-1] != "devices" {
		t.Errorf("notifications = %v, want two chunks then the header", got)
	}
}

func TestParseHeader(t *testing.T) {
	sum := digest([]byte("abc"))
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"chunked:3:" + sum, 3, true},
		{"chunked:0:" + sum, 0, false},
		{"chunked:x:" + sum, 0, false},
		{"chunked:3", 0, false},
		{"chunked:3:abc", 0, false},
		{`[{"id":"a"}]`, 0, false},
	}
	for _, tt := range tests {
		h, ok := parseHeader([]byte(tt.in))
		if h.count != tt.want || ok != tt.wantOK {
			t.Errorf("parseHeader(%q) = (%d, %v), want (%d, %v)", tt.in, h.count, ok, tt.want, tt.wantOK)
		}
		if ok && h.sum != sum {
			t.Errorf("parseHeader(%q) sum = %q", tt.in, h.sum)
		}
	}
}
