package scheduler

import (
	"sync"
	"time"
)

// Guard admits one caller at a time. After Leave the guard stays closed for
// the settle delay, so calls triggered by the caller's own writes are
// dropped rather than queued.
type Guard struct {
	settle time.Duration

	mu   sync.Mutex
	busy bool
}

// NewGuard returns an open guard with the given settle delay.
func NewGuard(settle time.Duration) *Guard {
	return &Guard{settle: settle}
}

// TryEnter closes the guard and reports true, or reports false if it was
// already closed.
func (g *Guard) TryEnter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return false
	}
	g.busy = true
	return true
}

// Leave reopens the guard after the settle delay.
func (g *Guard) Leave() {
	if g.settle <= 0 {
		g.open()
		return
	}
	time.AfterFunc(g.settle, g.open)
}

// Busy reports whether the guard is closed.
func (g *Guard) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}

func (g *Guard) open() {
	g.mu.Lock()
	g.busy = false
	g.mu.Unlock()
}
