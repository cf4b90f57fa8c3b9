package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/events"
	"github.com/nerrad567/gray-logic-sync/internal/localstate"
	"github.com/nerrad567/gray-logic-sync/internal/scheduler"
	"github.com/nerrad567/gray-logic-sync/internal/store"
)

// msPerDay converts expiry days to milliseconds.
const msPerDay = int64(24 * time.Hour / time.Millisecond)

// EventKind classifies a device found during reconciliation.
type EventKind string

// Event kinds.
const (
	EventNew      EventKind = "new"
	EventUpdated  EventKind = "updated"
	EventObsolete EventKind = "obsolete"
)

// Event reports one classified device.
type Event struct {
	Kind   EventKind
	Device Record
}

// Result describes one reconciliation pass.
type Result struct {
	// Skipped is true when the call was dropped by the in-flight guard.
	Skipped bool

	// Table is the merged table that was published.
	Table Table

	// Events lists classifications in discovery order.
	Events []Event
}

// Count returns how many events of kind the pass produced.
func (r Result) Count(kind EventKind) int {
	n := 0
	for _, e := range r.Events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Key is the shared store key holding the device table.
	Key string

	// ExpiryDays drops peers not seen for this many days. 0 disables expiry.
	ExpiryDays int

	// SettleDelay keeps the in-flight guard closed after a pass publishes.
	SettleDelay time.Duration
}

// Registry reconciles the shared device table with the local cache.
type Registry struct {
	store    store.Store
	repo     localstate.Repository
	identity *Identity
	key      string
	guard    *scheduler.Guard
	now      func() time.Time
	logger   Logger

	mu         sync.RWMutex
	expiryDays int
	cache      Table
	cacheReady bool

	onNew      *events.Registry[Record]
	onUpdated  *events.Registry[Record]
	onObsolete *events.Registry[Record]
}

// NewRegistry creates a Registry.
func NewRegistry(st store.Store, repo localstate.Repository, identity *Identity, cfg RegistryConfig) *Registry {
	return &Registry{
		store:      st,
		repo:       repo,
		identity:   identity,
		key:        cfg.Key,
		guard:      scheduler.NewGuard(cfg.SettleDelay),
		now:        time.Now,
		logger:     noopLogger{},
		expiryDays: cfg.ExpiryDays,
		onNew:      events.NewRegistry[Record](),
		onUpdated:  events.NewRegistry[Record](),
		onObsolete: events.NewRegistry[Record](),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// OnNew subscribes to devices seen for the first time.
func (r *Registry) OnNew(fn func(Record)) (unsubscribe func()) {
	return r.onNew.Subscribe(fn)
}

// OnUpdated subscribes to devices seen again.
func (r *Registry) OnUpdated(fn func(Record)) (unsubscribe func()) {
	return r.onUpdated.Subscribe(fn)
}

// OnObsolete subscribes to devices that disappeared or expired.
func (r *Registry) OnObsolete(fn func(Record)) (unsubscribe func()) {
	return r.onObsolete.Subscribe(fn)
}

// SetExpiryDays changes the expiry threshold. Values below zero disable
// expiry. The caller is expected to schedule a pass afterwards.
func (r *Registry) SetExpiryDays(days int) {
	r.mu.Lock()
	r.expiryDays = max(days, 0)
	r.mu.Unlock()
}

// ExpiryDays returns the expiry threshold.
func (r *Registry) ExpiryDays() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.expiryDays
}

// Devices returns the table published by the last pass, self included.
func (r *Registry) Devices() Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache.Clone()
}

// Reconcile runs one pass. It returns a Skipped result without touching
// anything when another pass is in flight or settling.
//
// Malformed stored tables are logged and treated as empty. A failure to
// publish abandons the pass: nothing is cached and no events fire, so the
// next pass classifies from the same starting point.
func (r *Registry) Reconcile(ctx context.Context) (Result, error) {
	if !r.guard.TryEnter() {
		r.logger.Debug("reconcile skipped, pass in flight")
		return Result{Skipped: true}, nil
	}
	defer r.guard.Leave()

	self := r.identity.Self()
	if self.ID == "" {
		return Result{}, ErrNoIdentity
	}

	remote, err := r.readRemote(ctx)
	if err != nil {
		return Result{}, err
	}
	local := r.readLocal(ctx)

	merged, evts := r.merge(self, remote, local)

	data, err := merged.Encode()
	if err != nil {
		return Result{}, err
	}
	if err := r.store.Set(ctx, r.key, data); err != nil {
		r.logger.Warn("publishing device table failed, pass abandoned", "key", r.key, "error", err)
		return Result{}, fmt.Errorf("publishing device table: %w", err)
	}
	if err := r.repo.Put(ctx, localstate.KeyDevices, data); err != nil {
		r.logger.Warn("caching device table failed", "error", err)
	}

	r.mu.Lock()
	r.cache = merged
	r.cacheReady = true
	r.mu.Unlock()

	r.dispatch(evts)

	r.logger.Debug("reconcile complete",
		"devices", len(merged),
		"events", len(evts),
	)
	return Result{Table: merged.Clone(), Events: evts}, nil
}

// merge classifies every device and builds the table to publish.
func (r *Registry) merge(self Record, remote, local Table) (Table, []Event) {
	merged := make(Table, len(remote)+1)
	var evts []Event

	for _, id := range remote.IDs() {
		if id == self.ID {
			continue
		}
		rec := remote[id]
		kind := EventUpdated
		if _, known := local[id]; !known {
			kind = EventNew
		}
		merged[id] = rec
		evts = append(evts, Event{Kind: kind, Device: rec})
	}

	for _, id := range local.IDs() {
		if id == self.ID {
			continue
		}
		if _, ok := remote[id]; !ok {
			evts = append(evts, Event{Kind: EventObsolete, Device: local[id]})
		}
	}

	if days := r.ExpiryDays(); days > 0 {
		cutoff := r.now().UnixMilli() - int64(days)*msPerDay
		for _, id := range merged.IDs() {
			if rec := merged[id]; rec.Timestamp < cutoff {
				delete(merged, id)
				evts = append(evts, Event{Kind: EventObsolete, Device: rec})
			}
		}
	}

	merged[self.ID] = self
	return merged, evts
}

func (r *Registry) dispatch(evts []Event) {
	for _, e := range evts {
		switch e.Kind {
		case EventNew:
			r.onNew.Dispatch(e.Device)
		case EventUpdated:
			r.onUpdated.Dispatch(e.Device)
		case EventObsolete:
			r.onObsolete.Dispatch(e.Device)
		}
	}
}

// readRemote returns the shared table. Absent or malformed values are an
// empty table; store read errors abort the pass.
func (r *Registry) readRemote(ctx context.Context) (Table, error) {
	data, err := r.store.Get(ctx, r.key)
	if errors.Is(err, store.ErrNotFound) {
		return Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading device table: %w", err)
	}

	t, err := DecodeTable(data)
	if err != nil {
		r.logger.Warn("shared device table is malformed, treating as empty", "key", r.key, "error", err)
		return Table{}, nil
	}
	return t, nil
}

// readLocal returns the cached table, loading it from the repository on
// first use.
func (r *Registry) readLocal(ctx context.Context) Table {
	r.mu.RLock()
	if r.cacheReady {
		t := r.cache.Clone()
		r.mu.RUnlock()
		return t
	}
	r.mu.RUnlock()

	data, err := r.repo.Get(ctx, localstate.KeyDevices)
	if err != nil {
		if !errors.Is(err, localstate.ErrNotFound) {
			r.logger.Warn("reading cached device table failed", "error", err)
		}
		return Table{}
	}

	t, err := DecodeTable(data)
	if err != nil {
		r.logger.Warn("cached device table is malformed, treating as empty", "error", err)
		return Table{}
	}
	return t
}
