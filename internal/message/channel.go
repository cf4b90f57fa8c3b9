package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/events"
	"github.com/nerrad567/gray-logic-sync/internal/localstate"
	"github.com/nerrad567/gray-logic-sync/internal/scheduler"
	"github.com/nerrad567/gray-logic-sync/internal/store"
)

// Logger defines the logging interface used by the Channel.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config configures a Channel.
type Config struct {
	// Key is the shared store key holding the queue.
	Key string

	// SettleDelay keeps the drain guard closed after a pass.
	SettleDelay time.Duration
}

// DrainResult describes one drain pass.
type DrainResult struct {
	// Skipped is true when the call was dropped by the in-flight guard.
	Skipped bool

	// Delivered lists the messages dispatched, in queue order.
	Delivered []Message

	// Pruned counts entries removed from the queue.
	Pruned int

	// Watermark is the watermark after the pass.
	Watermark int64
}

// Channel sends and receives messages through the shared queue.
type Channel struct {
	store  store.Store
	repo   localstate.Repository
	selfID func() string
	key    string
	guard  *scheduler.Guard
	now    func() time.Time
	logger Logger

	// queueMu serialises this device's read-modify-write cycles on the queue.
	queueMu sync.Mutex

	mu             sync.Mutex
	watermark      int64
	watermarkReady bool
	lastSent       int64

	onMessage *events.Registry[Message]
}

// NewChannel creates a Channel. selfID returns the local device id.
func NewChannel(st store.Store, repo localstate.Repository, selfID func() string, cfg Config) *Channel {
	return &Channel{
		store:     st,
		repo:      repo,
		selfID:    selfID,
		key:       cfg.Key,
		guard:     scheduler.NewGuard(cfg.SettleDelay),
		now:       time.Now,
		logger:    noopLogger{},
		onMessage: events.NewRegistry[Message](),
	}
}

// SetLogger sets the logger.
func (c *Channel) SetLogger(logger Logger) {
	c.logger = logger
}

// OnMessage subscribes to messages delivered to this device.
func (c *Channel) OnMessage(fn func(Message)) (unsubscribe func()) {
	return c.onMessage.Subscribe(fn)
}

// Send appends a message for device to to the shared queue.
//
// The queue is re-read immediately before the write. A malformed queue is
// logged and replaced. If the write fails the message is dropped and the
// error returned; nothing is retried.
func (c *Channel) Send(ctx context.Context, to string, data any) (Message, error) {
	if to == "" {
		return Message{}, ErrNoRecipient
	}
	from := c.selfID()
	if from == "" {
		return Message{}, ErrNoIdentity
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encoding message data: %w", err)
	}

	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	msg := Message{
		Timestamp: c.nextTimestamp(),
		From:      from,
		To:        to,
		Data:      payload,
	}
	entry, err := json.Marshal(msg)
	if err != nil {
		return Message{}, fmt.Errorf("encoding message: %w", err)
	}

	entries, err := c.readQueue(ctx)
	if err != nil && !errors.Is(err, errMalformedQueue) {
		return Message{}, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	entries = append(entries, entry)

	out, err := encodeQueue(entries)
	if err != nil {
		return Message{}, fmt.Errorf("encoding queue: %w", err)
	}
	if err := c.store.Set(ctx, c.key, out); err != nil {
		c.logger.Warn("writing message queue failed, message dropped",
			"to", to,
			"error", err,
		)
		return Message{}, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	c.logger.Debug("message queued", "to", to, "timestamp", msg.Timestamp, "queue_length", len(entries))
	return msg, nil
}

// nextTimestamp returns now in milliseconds, bumped past the previous send
// so two messages from this device never share a timestamp.
func (c *Channel) nextTimestamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().UnixMilli()
	if ts <= c.lastSent {
		ts = c.lastSent + 1
	}
	c.lastSent = ts
	return ts
}

// Drain delivers queued messages addressed to this device and prunes them
// from the queue.
//
// Entries to this device at or below the watermark as it stood before the
// pass are removed without dispatch. Newer ones are dispatched in queue
// order and removed, and the watermark advances to the newest of them.
// Entries for other devices, and entries that do not parse as messages, are
// kept verbatim. The queue is written back only if it shrank.
func (c *Channel) Drain(ctx context.Context) (DrainResult, error) {
	if !c.guard.TryEnter() {
		return DrainResult{Skipped: true}, nil
	}
	defer c.guard.Leave()

	self := c.selfID()
	if self == "" {
		return DrainResult{}, ErrNoIdentity
	}

	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	before := c.loadWatermark(ctx)
	entries, err := c.readQueue(ctx)
	if err != nil {
		return DrainResult{Watermark: before}, nil
	}

	rest := make([]json.RawMessage, 0, len(entries))
	var delivered []Message
	after := before

	for _, entry := range entries {
		var m Message
		if err := json.Unmarshal(entry, &m); err != nil || m.To != self {
			rest = append(rest, entry)
			continue
		}
		if m.Timestamp <= before {
			continue
		}
		delivered = append(delivered, m)
		after = max(after, m.Timestamp)
	}

	if after != before {
		c.storeWatermark(ctx, after)
	}

	pruned := len(entries) - len(rest)
	if pruned > 0 {
		if err := c.writeQueue(ctx, rest); err != nil {
			c.logger.Warn("pruning message queue failed", "error", err)
		}
	}

	for _, m := range delivered {
		c.onMessage.Dispatch(m)
	}

	return DrainResult{Delivered: delivered, Pruned: pruned, Watermark: after}, nil
}

// Watermark returns the newest delivered timestamp.
func (c *Channel) Watermark(ctx context.Context) int64 {
	return c.loadWatermark(ctx)
}

// QueueLength returns the number of entries currently in the shared queue.
func (c *Channel) QueueLength(ctx context.Context) int {
	entries, _ := c.readQueue(ctx)
	return len(entries)
}

// readQueue returns the queue's entries. A missing queue is empty. A
// malformed queue is logged and reported as errMalformedQueue.
func (c *Channel) readQueue(ctx context.Context) ([]json.RawMessage, error) {
	data, err := c.store.Get(ctx, c.key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		c.logger.Warn("reading message queue failed", "key", c.key, "error", err)
		return nil, fmt.Errorf("reading message queue: %w", err)
	}

	entries, err := decodeQueue(data)
	if err != nil {
		c.logger.Warn("message queue is malformed, treating as empty", "key", c.key, "error", err)
		return nil, fmt.Errorf("%w: %w", errMalformedQueue, err)
	}
	return entries, nil
}

func (c *Channel) writeQueue(ctx context.Context, entries []json.RawMessage) error {
	out, err := encodeQueue(entries)
	if err != nil {
		return fmt.Errorf("encoding queue: %w", err)
	}
	return c.store.Set(ctx, c.key, out)
}

func (c *Channel) loadWatermark(ctx context.Context) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watermarkReady {
		return c.watermark
	}
	c.watermarkReady = true

	data, err := c.repo.Get(ctx, localstate.KeyWatermark)
	if err != nil {
		if !errors.Is(err, localstate.ErrNotFound) {
			c.logger.Warn("reading watermark failed", "error", err)
		}
		return c.watermark
	}
	wm, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		c.logger.Warn("stored watermark is malformed, starting from zero", "error", err)
		return c.watermark
	}
	c.watermark = wm
	return wm
}

func (c *Channel) storeWatermark(ctx context.Context, wm int64) {
	c.mu.Lock()
	c.watermark = wm
	c.mu.Unlock()

	if err := c.repo.Put(ctx, localstate.KeyWatermark, []byte(strconv.FormatInt(wm, 10))); err != nil {
		c.logger.Warn("persisting watermark failed", "watermark", wm, "error", err)
	}
}
