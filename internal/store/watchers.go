package store

import (
	"sync"
)

// watchers is a registry of family watches shared by the backends.
type watchers struct {
	mu     sync.RWMutex
	nextID int
	byID   map[int]watcher
}

type watcher struct {
	family string
	fn     ChangeFunc
}

func newWatchers() *watchers {
	return &watchers{byID: make(map[int]watcher)}
}

func (w *watchers) add(family string, fn ChangeFunc) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.byID[id] = watcher{family: family, fn: fn}
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.byID, id)
			w.mu.Unlock()
		})
	}
}

// notify calls every watcher whose family contains key. Callbacks run
// without the lock held so they may add or remove watches.
func (w *watchers) notify(key string) {
	w.mu.RLock()
	var fns []ChangeFunc
	for _, wt := range w.byID {
		if InFamily(wt.family, key) {
			fns = append(fns, wt.fn)
		}
	}
	w.mu.RUnlock()

	for _, fn := range fns {
		fn(key)
	}
}
