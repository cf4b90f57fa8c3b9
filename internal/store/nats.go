package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/config"
)

// NATSStore keeps every key in a JetStream key/value bucket.
type NATSStore struct {
	conn   *nats.Conn
	kv     jetstream.KeyValue
	logger Logger

	mu     sync.Mutex
	closed bool
}

// Logger is the logging interface used by the NATS watcher goroutines.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// OpenNATS connects to the server and creates the bucket if needed.
func OpenNATS(ctx context.Context, cfg config.NATSConfig) (*NATSStore, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, nats.Timeout(cfg.Timeout))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "Gray Logic Sync shared state",
		History:     1,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening bucket %s: %w", cfg.Bucket, err)
	}

	return &NATSStore{conn: conn, kv: kv, logger: noopLogger{}}, nil
}

// SetLogger sets the logger for watcher errors.
func (s *NATSStore) SetLogger(logger Logger) {
	s.logger = logger
}

// Get returns the latest value of key. Deleted keys report ErrNotFound.
func (s *NATSStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	if len(entry.Value()) == 0 {
		return nil, ErrNotFound
	}
	return entry.Value(), nil
}

// Set puts value under key. An empty value deletes the key.
func (s *NATSStore) Set(ctx context.Context, key string, value []byte) error {
	current, err := s.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		if len(value) == 0 {
			return nil
		}
	case err != nil:
		return err
	case bytes.Equal(current, value):
		return nil
	}

	if len(value) == 0 {
		if err := s.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("kv delete %s: %w", key, err)
		}
		return nil
	}

	if _, err := s.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

// Watch reports updates to keys in family made after the call.
func (s *NATSStore) Watch(ctx context.Context, family string, fn ChangeFunc) (func(), error) {
	watchCtx, cancel := context.WithCancel(ctx)

	w, err := s.kv.WatchAll(watchCtx, jetstream.UpdatesOnly())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("kv watch %s: %w", family, err)
	}

	go func() {
		defer func() {
			if err := w.Stop(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				s.logger.Warn("stopping kv watcher failed", "family", family, "error", err)
			}
		}()
		for {
			select {
			case <-watchCtx.Done():
				return
			case entry, ok := <-w.Updates():
				if !ok {
					return
				}
				// A nil entry marks the end of the initial values.
				if entry == nil || !InFamily(family, entry.Key()) {
					continue
				}
				fn(entry.Key())
			}
		}
	}()

	return cancel, nil
}

// HealthCheck reports whether the server connection is up.
func (s *NATSStore) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("nats health check: %w", err)
	}
	if !s.conn.IsConnected() {
		return fmt.Errorf("nats health check: %s", s.conn.Status())
	}
	return nil
}

// Close drains the connection.
func (s *NATSStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("draining nats connection: %w", err)
	}
	return nil
}
