// Package sendable decides whether a resource locator may be offered to
// another device.
package sendable

import (
	"regexp"
	"sync"
	"unicode/utf16"
)

// MaxLength is the longest locator that can be sent, in UTF-16 code units.
// Characters outside the Basic Multilingual Plane count as two.
const MaxLength = 65535

// Logger is the logging interface used by the Filter.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Filter tests locators against a length limit and an optional exclusion
// pattern. The pattern is compiled on first use and recompiled only after
// SetPattern changes it.
type Filter struct {
	mu       sync.Mutex
	pattern  string
	compiled *regexp.Regexp
	valid    bool
	logger   Logger
}

// NewFilter returns a filter excluding locators that match pattern.
// An empty pattern excludes nothing.
func NewFilter(pattern string) *Filter {
	return &Filter{pattern: pattern, logger: noopLogger{}}
}

// SetLogger sets the logger used to report an invalid pattern.
func (f *Filter) SetLogger(logger Logger) {
	f.mu.Lock()
	f.logger = logger
	f.mu.Unlock()
}

// SetPattern replaces the exclusion pattern and drops the compiled cache.
func (f *Filter) SetPattern(pattern string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pattern == f.pattern {
		return
	}
	f.pattern = pattern
	f.compiled = nil
	f.valid = false
}

// Pattern returns the current exclusion pattern.
func (f *Filter) Pattern() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pattern
}

// IsSendable reports whether locator is non-empty, within MaxLength and
// not excluded.
func (f *Filter) IsSendable(locator string) bool {
	if locator == "" || length(locator) > MaxLength {
		return false
	}

	re := f.exclusion()
	return re == nil || !re.MatchString(locator)
}

// exclusion returns the compiled pattern, or nil when nothing is excluded.
// An invalid pattern is reported once and then treated as empty.
func (f *Filter) exclusion() *regexp.Regexp {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.valid {
		return f.compiled
	}
	f.valid = true

	if f.pattern == "" {
		return nil
	}
	re, err := regexp.Compile(f.pattern)
	if err != nil {
		f.logger.Warn("invalid sendable exclusion pattern, excluding nothing",
			"pattern", f.pattern,
			"error", err,
		)
		return nil
	}
	f.compiled = re
	return re
}

// length counts s in UTF-16 code units, stopping once it passes MaxLength.
func length(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
		if n > MaxLength {
			break
		}
	}
	return n
}
