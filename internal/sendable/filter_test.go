package sendable

import (
	"strings"
	"sync"
	"testing"
)

type countingLogger struct {
	mu    sync.Mutex
	warns int
}

func (l *countingLogger) Warn(string, ...any) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}

func TestIsSendable(t *testing.T) {
	f := NewFilter(`^(about|chrome|file):`)

	tests := []struct {
		name    string
		locator string
		want    bool
	}{
		{"empty", "", false},
		{"plain url", "https://example.com/page", true},
		{"excluded scheme", "about:blank", false},
		{"excluded file", "file:///etc/passwd", false},
		{"at limit", strings.Repeat("a", MaxLength), true},
		{"over limit", strings.Repeat("a", MaxLength+1), false},
		// Length counts UTF-16 code units, not bytes.
		{"multibyte at limit", strings.Repeat("é", MaxLength), true},
		{"astral at limit", "a" + strings.Repeat("😀", MaxLength/2), true},
		{"astral over limit", strings.Repeat("😀", MaxLength/2+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.IsSendable(tt.locator); got != tt.want {
				t.Errorf("IsSendable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterNoPattern(t *testing.T) {
	f := NewFilter("")
	if !f.IsSendable("about:blank") {
		t.Error("empty pattern should exclude nothing")
	}
}

func TestFilterSetPatternInvalidatesCache(t *testing.T) {
	f := NewFilter(`^about:`)
	if f.IsSendable("about:blank") {
		t.Fatal("about: should be excluded")
	}

	f.SetPattern(`^https:`)
	if f.Pattern() != `^https:` {
		t.Errorf("Pattern() = %q", f.Pattern())
	}
	if !f.IsSendable("about:blank") {
		t.Error("about: should be sendable after pattern change")
	}
	if f.IsSendable("https://example.com") {
		t.Error("https: should be excluded after pattern change")
	}
}

func TestFilterInvalidPattern(t *testing.T) {
	logger := &countingLogger{}
	f := NewFilter(`(`)
	f.SetLogger(logger)

	if !f.IsSendable("anything") {
		t.Error("invalid pattern should exclude nothing")
	}
	f.IsSendable("again")

	if logger.warns != 1 {
		t.Errorf("warnings = %d, want 1 (cached after first compile)", logger.warns)
	}

	f.SetPattern(`^x`)
	if f.IsSendable("xyz") {
		t.Error("valid pattern after invalid one not applied")
	}
}
