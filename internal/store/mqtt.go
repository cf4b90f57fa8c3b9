package store

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/mqtt"
)

// Broker is the subset of the MQTT client used by MQTTStore.
// *mqtt.Client satisfies it.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	PublishRetained(topic string, payload []byte) error
}

var _ Broker = (*mqtt.Client)(nil)

// echoTimeout bounds how long a publish waits for the broker to echo it
// back. Later messages for the key are applied normally once it lapses.
const echoTimeout = 30 * time.Second

// MQTTStore keeps every key in a retained message below a root topic.
//
// It subscribes to root/# once and mirrors every retained value it sees in
// a local cache; Get reads the cache. An empty retained payload means the
// key is absent.
//
// Set writes the cache as soon as the publish succeeds and the broker echoes
// the publish later. Until a key's own publishes have all been echoed,
// messages for it are ones the broker ordered before the latest publish, so
// they are consumed without touching the cache.
type MQTTStore struct {
	broker   Broker
	topics   mqtt.Topics
	qos      byte
	watchers *watchers
	now      func() time.Time

	mu      sync.RWMutex
	values  map[string][]byte
	pending map[string][]pendingPublish
	seq     uint64
	closed  bool
}

// pendingPublish is a publish whose echo has not arrived yet.
type pendingPublish struct {
	seq   uint64
	value []byte
	at    time.Time
}

// OpenMQTT subscribes to the store's topics and waits for the broker's
// retained values to arrive. The wait ends after syncWait elapses or ctx is
// done, whichever comes first.
func OpenMQTT(ctx context.Context, broker Broker, root string, qos byte, syncWait time.Duration) (*MQTTStore, error) {
	s := &MQTTStore{
		broker:   broker,
		topics:   mqtt.NewTopics(root),
		qos:      qos,
		watchers: newWatchers(),
		now:      time.Now,
		values:   make(map[string][]byte),
		pending:  make(map[string][]pendingPublish),
	}

	if err := broker.Subscribe(s.topics.All(), qos, s.handle); err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", s.topics.All(), err)
	}

	if syncWait > 0 {
		timer := time.NewTimer(syncWait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}

	return s, nil
}

// handle mirrors a retained message into the cache.
func (s *MQTTStore) handle(topic string, payload []byte) error {
	key, ok := s.topics.Key(topic)
	if !ok {
		return nil
	}

	s.mu.Lock()
	if s.consumeEcho(key, payload) {
		s.mu.Unlock()
		return nil
	}
	changed := s.apply(key, payload)
	s.mu.Unlock()

	if changed {
		s.watchers.notify(key)
	}
	return nil
}

// consumeEcho matches payload against the key's outstanding publishes and
// reports whether it is superseded by one of them. An echo of the latest
// publish is not superseded. s.mu must be held.
func (s *MQTTStore) consumeEcho(key string, payload []byte) bool {
	ps := s.pending[key]
	cutoff := s.now().Add(-echoTimeout)
	for len(ps) > 0 && ps[0].at.Before(cutoff) {
		ps = ps[1:]
	}

	if len(ps) == 0 {
		delete(s.pending, key)
		return false
	}

	for i, p := range ps {
		if bytes.Equal(p.value, payload) {
			ps = ps[i+1:]
			break
		}
	}
	if len(ps) == 0 {
		delete(s.pending, key)
		return false
	}
	s.pending[key] = ps
	return true
}

// removePending drops the outstanding publish seq. s.mu must be held.
func (s *MQTTStore) removePending(key string, seq uint64) {
	ps := s.pending[key]
	for i, p := range ps {
		if p.seq == seq {
			ps = append(ps[:i:i], ps[i+1:]...)
			if len(ps) == 0 {
				delete(s.pending, key)
			} else {
				s.pending[key] = ps
			}
			return
		}
	}
}

// isPending reports whether publish seq is still waiting for its echo.
// s.mu must be held.
func (s *MQTTStore) isPending(key string, seq uint64) bool {
	for _, p := range s.pending[key] {
		if p.seq == seq {
			return true
		}
	}
	return false
}

// apply updates the cache and reports whether the value changed. s.mu must
// be held.
func (s *MQTTStore) apply(key string, value []byte) bool {
	old, existed := s.values[key]
	if len(value) == 0 {
		if !existed {
			return false
		}
		delete(s.values, key)
		return true
	}
	if existed && bytes.Equal(old, value) {
		return false
	}
	s.values[key] = bytes.Clone(value)
	return true
}

// Get returns the last value seen for key.
func (s *MQTTStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	v, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

// Set publishes value as the retained message for key and updates the
// cache. The broker's echo of the publish is not reported as a change, and
// neither are echoes of earlier publishes that arrive after it.
func (s *MQTTStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	current, existed := s.values[key]
	if (existed && bytes.Equal(current, value)) || (!existed && len(value) == 0) {
		s.mu.Unlock()
		return nil
	}
	s.seq++
	seq := s.seq
	s.pending[key] = append(s.pending[key], pendingPublish{seq: seq, value: bytes.Clone(value), at: s.now()})
	s.mu.Unlock()

	if err := s.broker.PublishRetained(s.topics.ForKey(key), value); err != nil {
		s.mu.Lock()
		s.removePending(key, seq)
		s.mu.Unlock()
		return fmt.Errorf("publishing %s: %w", key, err)
	}

	// If the echo already arrived, handle applied it and anything after it.
	s.mu.Lock()
	changed := s.isPending(key, seq) && s.apply(key, value)
	s.mu.Unlock()

	if changed {
		s.watchers.notify(key)
	}
	return nil
}

// Watch registers fn for changes within family.
func (s *MQTTStore) Watch(ctx context.Context, family string, fn ChangeFunc) (func(), error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	cancel := s.watchers.add(family, fn)
	stop := context.AfterFunc(ctx, cancel)
	return func() {
		stop()
		cancel()
	}, nil
}

// Close unsubscribes from the broker. The broker connection itself is owned
// by the caller.
func (s *MQTTStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.broker.Unsubscribe(s.topics.All()); err != nil {
		return fmt.Errorf("unsubscribing %s: %w", s.topics.All(), err)
	}
	return nil
}
