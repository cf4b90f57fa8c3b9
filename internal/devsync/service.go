package devsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/activity"
	"github.com/nerrad567/gray-logic-sync/internal/device"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-sync/internal/localstate"
	"github.com/nerrad567/gray-logic-sync/internal/message"
	"github.com/nerrad567/gray-logic-sync/internal/metrics"
	"github.com/nerrad567/gray-logic-sync/internal/platform"
	"github.com/nerrad567/gray-logic-sync/internal/scheduler"
	"github.com/nerrad567/gray-logic-sync/internal/sendable"
	"github.com/nerrad567/gray-logic-sync/internal/store"
)

// Logger defines the logging interface used by the Service.
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

// Telemetry records sync activity as time series. *influxdb.Client
// satisfies it.
type Telemetry interface {
	WritePresence(selfID, peerID, kind string)
	WriteMessage(selfID, peerID, direction string, size int)
	WriteReconcile(selfID string, known, created, updated, obsolete int)
}

// Config holds the settings a Service consumes.
type Config struct {
	Device   config.DeviceConfig
	Sync     config.SyncConfig
	Sendable config.SendableConfig
}

// ConfigFrom extracts the Service settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Device:   cfg.Device,
		Sync:     cfg.Sync,
		Sendable: cfg.Sendable,
	}
}

// Deps are the collaborators a Service is built on.
type Deps struct {
	Store    store.Store
	Repo     localstate.Repository
	Platform platform.Querier

	// Optional.
	Logger    Logger
	Metrics   *metrics.Metrics
	Telemetry Telemetry
	Activity  activity.Repository
}

// activityRetention is how long recorded activity is kept.
const activityRetention = 30 * 24 * time.Hour

// Stats is a snapshot of the Service's state.
type Stats struct {
	Running       bool      `json:"running"`
	KnownDevices  int       `json:"known_devices"`
	Watermark     int64     `json:"watermark"`
	QueueLength   int       `json:"queue_length"`
	LastReconcile time.Time `json:"last_reconcile,omitzero"`
	LastDrain     time.Time `json:"last_drain,omitzero"`
}

// Service is the sync subsystem for one device.
type Service struct {
	cfg       Config
	store     store.Store
	logger    Logger
	metrics   *metrics.Metrics
	telemetry Telemetry
	activity  activity.Repository

	identity *device.Identity
	registry *device.Registry
	channel  *message.Channel
	filter   *sendable.Filter

	reconcileDebounce *scheduler.Debouncer
	drainDebounce     *scheduler.Debouncer
	touchGuard        *scheduler.Guard

	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	running       bool
	lastReconcile time.Time
	lastDrain     time.Time
	wg            sync.WaitGroup
}

// New builds a Service. Nothing touches the store until Start.
func New(cfg Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	identity := device.NewIdentity(deps.Repo, deps.Platform, cfg.Device.AppName)
	identity.SetLogger(logger)

	registry := device.NewRegistry(deps.Store, deps.Repo, identity, device.RegistryConfig{
		Key:         cfg.Sync.DevicesKey,
		ExpiryDays:  cfg.Sync.ExpiryDays,
		SettleDelay: cfg.Sync.SettleDelay,
	})
	registry.SetLogger(logger)

	channel := message.NewChannel(deps.Store, deps.Repo, func() string { return identity.Self().ID }, message.Config{
		Key:         cfg.Sync.MessagesKey,
		SettleDelay: cfg.Sync.SettleDelay,
	})
	channel.SetLogger(logger)

	filter := sendable.NewFilter(cfg.Sendable.ExcludePattern)
	filter.SetLogger(logger)

	s := &Service{
		cfg:        cfg,
		store:      deps.Store,
		logger:     logger,
		metrics:    deps.Metrics,
		telemetry:  deps.Telemetry,
		activity:   deps.Activity,
		identity:   identity,
		registry:   registry,
		channel:    channel,
		filter:     filter,
		touchGuard: scheduler.NewGuard(cfg.Sync.SettleDelay),
		ctx:        context.Background(),
	}
	s.reconcileDebounce = scheduler.NewDebouncer(cfg.Sync.Debounce, s.debouncedReconcile)
	s.drainDebounce = scheduler.NewDebouncer(cfg.Sync.Debounce, s.debouncedDrain)

	s.observe()
	return s
}

// observe feeds classifications and deliveries into metrics and telemetry.
func (s *Service) observe() {
	for kind, subscribe := range map[device.EventKind]func(func(device.Record)) func(){
		device.EventNew:      s.registry.OnNew,
		device.EventUpdated:  s.registry.OnUpdated,
		device.EventObsolete: s.registry.OnObsolete,
	} {
		subscribe(func(r device.Record) {
			s.metrics.DeviceEvent(string(kind))
			if s.telemetry != nil {
				s.telemetry.WritePresence(s.identity.Self().ID, r.ID, string(kind))
			}
			switch kind {
			case device.EventNew:
				s.record(activity.KindDeviceNew, r.ID, map[string]any{"name": r.DisplayName()})
			case device.EventObsolete:
				s.record(activity.KindDeviceObsolete, r.ID, map[string]any{"last_seen": r.LastSeen().UTC()})
			}
		})
	}

	s.channel.OnMessage(func(m message.Message) {
		s.logger.Debug("message delivered", "from", m.From, "timestamp", m.Timestamp)
		if s.telemetry != nil {
			s.telemetry.WriteMessage(m.To, m.From, "delivered", len(m.Data))
		}
		s.record(activity.KindMessageDelivered, m.From, map[string]any{"timestamp": m.Timestamp, "size": len(m.Data)})
	})
}

// record appends to the activity log when one is configured.
func (s *Service) record(kind, deviceID string, details map[string]any) {
	if s.activity == nil {
		return
	}
	entry := &activity.Entry{Kind: kind, DeviceID: deviceID, Details: details}
	if err := s.activity.Create(s.runContext(), entry); err != nil {
		s.logger.Warn("recording activity failed", "kind", kind, "error", err)
	}
}

// pruneActivity drops activity older than the retention window.
func (s *Service) pruneActivity(ctx context.Context) {
	if s.activity == nil {
		return
	}
	n, err := s.activity.Prune(ctx, time.Now().Add(-activityRetention))
	if err != nil {
		s.logger.Warn("pruning activity failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Debug("activity pruned", "entries", n)
	}
}

// Activity returns recorded activity matching filter.
func (s *Service) Activity(ctx context.Context, filter activity.Filter) (*activity.ListResult, error) {
	if s.activity == nil {
		return nil, ErrNoActivityLog
	}
	return s.activity.List(ctx, filter)
}

// EnsureIdentity loads or generates this device's identity. Start calls it
// with the configured overrides; calling it earlier lets the caller choose
// different ones. Platform query failures are returned.
func (s *Service) EnsureIdentity(ctx context.Context, opts device.IdentityOptions) (device.Record, error) {
	rec, err := s.identity.Ensure(ctx, opts)
	if err != nil {
		return device.Record{}, fmt.Errorf("ensuring device identity: %w", err)
	}
	return rec, nil
}

// Start initialises the subsystem: it ensures the identity, watches the
// shared keys, publishes this device's record, drains pending messages and
// starts the self refresh loop. The loop and watches end when ctx is
// cancelled or Close is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.mu.Unlock()

	self, err := s.EnsureIdentity(ctx, device.IdentityOptions{
		Name: s.cfg.Device.Name,
		Icon: s.cfg.Device.Icon,
	})
	if err != nil {
		return err
	}

	// A previous Close left the debouncers stopped.
	s.reconcileDebounce.Resume()
	s.drainDebounce.Resume()

	runCtx, cancel := context.WithCancel(ctx)

	stopDevices, err := s.store.Watch(runCtx, s.cfg.Sync.DevicesKey, func(string) {
		s.reconcileDebounce.Trigger()
	})
	if err != nil {
		cancel()
		return fmt.Errorf("watching %s: %w", s.cfg.Sync.DevicesKey, err)
	}
	stopMessages, err := s.store.Watch(runCtx, s.cfg.Sync.MessagesKey, func(string) {
		s.drainDebounce.Trigger()
	})
	if err != nil {
		stopDevices()
		cancel()
		return fmt.Errorf("watching %s: %w", s.cfg.Sync.MessagesKey, err)
	}

	s.mu.Lock()
	s.ctx = runCtx
	s.cancel = func() {
		stopDevices()
		stopMessages()
		cancel()
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("device sync starting",
		"device_id", self.ID,
		"name", self.DisplayName(),
		"expiry_days", s.registry.ExpiryDays(),
	)

	if err := s.TouchSelf(runCtx); err != nil {
		s.logger.Warn("initial self refresh failed", "error", err)
	}
	s.Drain(runCtx)
	s.pruneActivity(runCtx)

	s.wg.Add(1)
	go s.refreshLoop(runCtx)

	return nil
}

// refreshLoop advances this device's liveness timestamp periodically.
func (s *Service) refreshLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := s.cfg.Sync.SelfRefreshInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.TouchSelf(ctx); err != nil {
				s.logger.Warn("periodic self refresh failed", "error", err)
			}
			s.pruneActivity(ctx)
		}
	}
}

// Close stops the timers, watches and refresh loop. It does not close the
// store. A closed Service may be started again.
func (s *Service) Close() error {
	s.reconcileDebounce.Stop()
	s.drainDebounce.Stop()

	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *Service) runContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

// TouchSelf refreshes this device's timestamp and republishes the table.
// A call arriving while a previous one is settling is dropped.
func (s *Service) TouchSelf(ctx context.Context) error {
	if !s.touchGuard.TryEnter() {
		s.logger.Debug("self refresh skipped, previous one settling")
		return nil
	}
	defer s.touchGuard.Leave()

	if _, err := s.identity.Touch(ctx); err != nil {
		return fmt.Errorf("refreshing identity: %w", err)
	}
	s.reconcileNow(ctx)
	return nil
}

// UpdateIdentity changes this device's name or icon and republishes.
func (s *Service) UpdateIdentity(ctx context.Context, opts device.IdentityOptions) (device.Record, error) {
	rec, err := s.identity.Update(ctx, opts)
	if err != nil {
		return device.Record{}, fmt.Errorf("updating identity: %w", err)
	}
	s.logger.Info("device identity updated", "device_id", rec.ID, "name", rec.DisplayName())
	s.reconcileNow(ctx)
	return rec, nil
}

// Reconcile runs a reconciliation pass now.
func (s *Service) Reconcile(ctx context.Context) (device.Result, error) {
	start := time.Now()
	res, err := s.registry.Reconcile(ctx)
	switch {
	case err != nil:
		s.metrics.ReconcileFailed()
		s.logger.Warn("reconcile failed", "error", err)
		return res, err
	case res.Skipped:
		s.metrics.ReconcileSkipped()
		return res, nil
	}

	peers := len(res.Table) - 1
	s.metrics.ReconcileCompleted(time.Since(start), peers)
	if s.telemetry != nil {
		s.telemetry.WriteReconcile(s.identity.Self().ID, peers,
			res.Count(device.EventNew), res.Count(device.EventUpdated), res.Count(device.EventObsolete))
	}

	s.mu.Lock()
	s.lastReconcile = time.Now()
	s.mu.Unlock()
	return res, nil
}

// reconcileNow runs a pass and, if the guard dropped it, schedules one so
// the change that prompted the call is still published.
func (s *Service) reconcileNow(ctx context.Context) {
	res, err := s.Reconcile(ctx)
	if err == nil && res.Skipped {
		s.reconcileDebounce.Trigger()
	}
}

func (s *Service) debouncedReconcile() {
	s.reconcileNow(s.runContext())
}

// Drain delivers pending messages for this device.
func (s *Service) Drain(ctx context.Context) message.DrainResult {
	res, err := s.channel.Drain(ctx)
	if err != nil {
		s.logger.Warn("drain failed", "error", err)
		return res
	}
	if res.Skipped {
		s.metrics.DrainSkipped()
		return res
	}

	s.metrics.DrainCompleted(len(res.Delivered), res.Pruned, s.channel.QueueLength(ctx))

	s.mu.Lock()
	s.lastDrain = time.Now()
	s.mu.Unlock()
	return res
}

func (s *Service) debouncedDrain() {
	ctx := s.runContext()
	if res := s.Drain(ctx); res.Skipped {
		s.drainDebounce.Trigger()
	}
}

// TriggerSync schedules a reconcile and a drain.
func (s *Service) TriggerSync() {
	s.reconcileDebounce.Trigger()
	s.drainDebounce.Trigger()
}

// Send queues data for device to. Failures are logged and returned; the
// message is not retried.
func (s *Service) Send(ctx context.Context, to string, data any) (message.Message, error) {
	msg, err := s.channel.Send(ctx, to, data)
	if err != nil {
		if errors.Is(err, message.ErrSendFailed) {
			s.metrics.SendFailed()
		}
		s.logger.Warn("send failed", "to", to, "error", err)
		return message.Message{}, err
	}

	s.metrics.MessageSent()
	if s.telemetry != nil {
		s.telemetry.WriteMessage(msg.From, msg.To, "sent", len(msg.Data))
	}
	s.record(activity.KindMessageSent, msg.To, map[string]any{"timestamp": msg.Timestamp, "size": len(msg.Data)})
	return msg, nil
}

// Self returns this device's record.
func (s *Service) Self() device.Record {
	return s.identity.Self()
}

// ListDevices returns every known device except this one, sorted by name
// with unnamed devices last.
func (s *Service) ListDevices() []device.Record {
	self := s.identity.Self().ID
	table := s.registry.Devices()

	out := make([]device.Record, 0, len(table))
	for id, rec := range table {
		if id != self {
			out = append(out, rec)
		}
	}
	device.SortByName(out)
	return out
}

// IsSendable reports whether locator may be sent to another device.
func (s *Service) IsSendable(locator string) bool {
	return s.filter.IsSendable(locator)
}

// SetExcludePattern replaces the sendability exclusion pattern.
func (s *Service) SetExcludePattern(pattern string) {
	s.filter.SetPattern(pattern)
}

// SetExpiryDays changes the expiry threshold and schedules a pass.
func (s *Service) SetExpiryDays(days int) {
	s.registry.SetExpiryDays(days)
	s.reconcileDebounce.Trigger()
}

// OnMessage subscribes to messages delivered to this device.
func (s *Service) OnMessage(fn func(message.Message)) (unsubscribe func()) {
	return s.channel.OnMessage(fn)
}

// OnDeviceNew subscribes to devices seen for the first time.
func (s *Service) OnDeviceNew(fn func(device.Record)) (unsubscribe func()) {
	return s.registry.OnNew(fn)
}

// OnDeviceUpdated subscribes to devices seen again.
func (s *Service) OnDeviceUpdated(fn func(device.Record)) (unsubscribe func()) {
	return s.registry.OnUpdated(fn)
}

// OnDeviceObsolete subscribes to devices that disappeared or expired.
func (s *Service) OnDeviceObsolete(fn func(device.Record)) (unsubscribe func()) {
	return s.registry.OnObsolete(fn)
}

// Stats returns a snapshot of the Service's state.
func (s *Service) Stats(ctx context.Context) Stats {
	s.mu.RLock()
	st := Stats{
		Running:       s.running,
		LastReconcile: s.lastReconcile,
		LastDrain:     s.lastDrain,
	}
	s.mu.RUnlock()

	st.KnownDevices = len(s.ListDevices())
	st.Watermark = s.channel.Watermark(ctx)
	st.QueueLength = s.channel.QueueLength(ctx)
	return st
}
