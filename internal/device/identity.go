package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-sync/internal/localstate"
	"github.com/nerrad567/gray-logic-sync/internal/platform"
)

// Logger defines the logging interface used by this package.
// It is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// IdentityOptions overrides fields of a generated identity.
//
// A nil field takes the default. A non-nil Name pointing at "" clears the
// name instead of defaulting it; the same holds for Icon.
type IdentityOptions struct {
	Name *string
	Icon *string
}

// Identity owns this device's record.
type Identity struct {
	repo     localstate.Repository
	platform platform.Querier
	appName  string
	now      func() time.Time
	logger   Logger

	mu     sync.RWMutex
	self   Record
	loaded bool
}

// NewIdentity creates an Identity persisted in repo. appName is the first
// half of the default device name.
func NewIdentity(repo localstate.Repository, querier platform.Querier, appName string) *Identity {
	return &Identity{
		repo:     repo,
		platform: querier,
		appName:  appName,
		now:      time.Now,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger.
func (i *Identity) SetLogger(logger Logger) {
	i.logger = logger
}

// GenerateID returns a new device id. UUIDv7 ids start with a millisecond
// timestamp followed by random bits.
func GenerateID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating device id: %w", err)
	}
	return id.String(), nil
}

// Ensure loads the persisted identity, or generates and persists one if none
// exists. A stored identity that fails to decode is logged and replaced.
// opts apply only when a new identity is generated.
func (i *Identity) Ensure(ctx context.Context, opts IdentityOptions) (Record, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.loaded {
		return i.self, nil
	}

	data, err := i.repo.Get(ctx, localstate.KeyIdentity)
	switch {
	case err == nil:
		var rec Record
		if jerr := json.Unmarshal(data, &rec); jerr == nil && rec.ID != "" {
			i.self = rec
			i.loaded = true
			return rec, nil
		}
		i.logger.Warn("stored identity is malformed, generating a new one")
	case errors.Is(err, localstate.ErrNotFound):
	default:
		i.logger.Warn("reading stored identity failed, generating a new one", "error", err)
	}

	return i.generateLocked(ctx, opts)
}

// Generate replaces the identity with a freshly generated one.
func (i *Identity) Generate(ctx context.Context, opts IdentityOptions) (Record, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.generateLocked(ctx, opts)
}

func (i *Identity) generateLocked(ctx context.Context, opts IdentityOptions) (Record, error) {
	id, err := GenerateID()
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:        id,
		Timestamp: i.now().UnixMilli(),
	}

	if opts.Name != nil {
		rec.Name = nonEmpty(*opts.Name)
	} else {
		info, err := i.platform.Query(ctx)
		if err != nil {
			return Record{}, fmt.Errorf("%w: %w", ErrPlatformQuery, err)
		}
		name := fmt.Sprintf("%s (%s)", i.appName, info.OSLabel())
		rec.Name = &name
	}
	if opts.Icon != nil {
		rec.Icon = nonEmpty(*opts.Icon)
	}

	i.self = rec
	i.loaded = true
	i.persistLocked(ctx)

	i.logger.Info("device identity generated", "device_id", rec.ID, "name", rec.DisplayName())
	return rec, nil
}

// Self returns the current identity record. It is the zero Record before
// Ensure or Generate has succeeded.
func (i *Identity) Self() Record {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.self
}

// Touch sets the timestamp to now and persists the record.
func (i *Identity) Touch(ctx context.Context) (Record, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.loaded {
		return Record{}, ErrNoIdentity
	}

	ts := i.now().UnixMilli()
	// Clocks can step backwards; liveness must not.
	if ts > i.self.Timestamp {
		i.self.Timestamp = ts
	}
	i.persistLocked(ctx)
	return i.self, nil
}

// Update replaces the name and icon. Nil leaves a field unchanged; a pointer
// to "" clears it. The timestamp advances so peers see the change as recent.
func (i *Identity) Update(ctx context.Context, opts IdentityOptions) (Record, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.loaded {
		return Record{}, ErrNoIdentity
	}

	if opts.Name != nil {
		i.self.Name = nonEmpty(*opts.Name)
	}
	if opts.Icon != nil {
		i.self.Icon = nonEmpty(*opts.Icon)
	}
	if ts := i.now().UnixMilli(); ts > i.self.Timestamp {
		i.self.Timestamp = ts
	}
	i.persistLocked(ctx)
	return i.self, nil
}

// persistLocked writes the record to the local repository. Failures are
// logged; the in-memory record stays authoritative for this run.
func (i *Identity) persistLocked(ctx context.Context) {
	data, err := json.Marshal(i.self)
	if err != nil {
		i.logger.Error("encoding identity failed", "error", err)
		return
	}
	if err := i.repo.Put(ctx, localstate.KeyIdentity, data); err != nil {
		i.logger.Warn("persisting identity failed", "device_id", i.self.ID, "error", err)
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
