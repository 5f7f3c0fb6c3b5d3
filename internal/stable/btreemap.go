// Package stable provides a durable, ordered key-value map that survives
// process restarts. A BTreeMap is opened once against a Backend (pebble or a
// SQL table) and reattaches to whatever the backend already holds.
package stable

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/samber/mo"
)

// Entry is a key and its decoded value.
type Entry[V any] struct {
	Key   string
	Value V
}

// Options configures a BTreeMap.
type Options struct {
	// MaxBytes bounds the logical size of the map (keys plus encoded values).
	// Zero means unbounded.
	MaxBytes int64
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// BTreeMap is a durable map from string keys to values of type V, kept in
// ascending key order by its Backend. Each map owns a namespace inside the
// backend, so several maps can share one region.
//
// Every operation holds the map lock for its full duration, so mutations are
// applied one at a time in arrival order and Update is an atomic
// read-modify-write.
type BTreeMap[V any] struct {
	mu      sync.Mutex
	name    string
	prefix  []byte
	upper   []byte
	backend Backend
	codec   Codec[V]
	logger  *slog.Logger

	maxBytes  int64
	usedBytes int64
	count     int
}

// Open attaches a map named name to backend. Existing entries under the name
// are reattached as they are: every stored value is decoded once so an
// encoding change is reported here instead of on first read.
func Open[V any](name string, backend Backend, codec Codec[V], opts Options) (*BTreeMap[V], error) {
	if name == "" || strings.ContainsAny(name, "\x00\x01") {
		return nil, fmt.Errorf("stable: invalid map name %q", name)
	}
	if backend == nil {
		return nil, errors.New("stable: nil backend")
	}
	if opts.MaxBytes < 0 {
		return nil, fmt.Errorf("stable: negative capacity %d", opts.MaxBytes)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &BTreeMap[V]{
		name:     name,
		prefix:   []byte(name + "\x00"),
		upper:    []byte(name + "\x01"),
		backend:  backend,
		codec:    codec,
		logger:   logger,
		maxBytes: opts.MaxBytes,
	}

	err := backend.Scan(m.prefix, m.upper, func(k, v []byte) error {
		if _, err := codec.Decode(v); err != nil {
			return fmt.Errorf("reattach %s: key %q: %w", name, k[len(m.prefix):], err)
		}
		m.usedBytes += int64(len(k) - len(m.prefix) + len(v))
		m.count++
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.publishSize()

	logger.Info("durable map attached",
		slog.String("map", name),
		slog.String("backend", backend.Name()),
		slog.Int("entries", m.count),
		slog.Int64("bytes", m.usedBytes),
		slog.Int64("max_bytes", m.maxBytes),
	)
	return m, nil
}

// Name returns the map name.
func (m *BTreeMap[V]) Name() string { return m.name }

// Len returns the number of live entries.
func (m *BTreeMap[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// UsedBytes returns the logical size of the map.
func (m *BTreeMap[V]) UsedBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usedBytes
}

// Insert stores value under key, replacing any existing entry, and returns
// the value it replaced.
func (m *BTreeMap[V]) Insert(key string, value V) (mo.Option[V], error) {
	done := trackOp(m.name, "insert")
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, err := m.insertLocked(key, value)
	done(resultOf(err))
	return prev, err
}

// PutIfAbsent stores value only when key has no entry. It returns the
// existing value when one is present, in which case nothing is written.
func (m *BTreeMap[V]) PutIfAbsent(key string, value V) (mo.Option[V], error) {
	done := trackOp(m.name, "put_if_absent")
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.getLocked(key)
	if err == nil && existing.IsAbsent() {
		_, err = m.insertLocked(key, value)
	}
	done(resultOf(err))
	return existing, err
}

// Get returns the value stored under key.
func (m *BTreeMap[V]) Get(key string) (mo.Option[V], error) {
	done := trackOp(m.name, "get")
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.getLocked(key)
	done(presenceOf(v, err))
	return v, err
}

// Remove deletes the entry for key and returns the removed value. Removing a
// missing key returns None and no error.
func (m *BTreeMap[V]) Remove(key string) (mo.Option[V], error) {
	done := trackOp(m.name, "remove")
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, found, err := m.backend.Get(m.encodeKey(key))
	if err != nil || !found {
		done(presenceOf(mo.None[V](), err))
		return mo.None[V](), err
	}
	prev, err := m.codec.Decode(raw)
	if err != nil {
		done(resultOf(err))
		return mo.None[V](), err
	}
	if err := m.backend.Delete(m.encodeKey(key)); err != nil {
		done(resultOf(err))
		return mo.None[V](), err
	}

	m.usedBytes -= entrySize(key, raw)
	m.count--
	m.publishSize()
	done("hit")
	return mo.Some(prev), nil
}

// Update applies fn to the current value of key and stores the result, all
// under the map lock. It returns None without calling fn when key is absent.
// An error from fn aborts the update and is returned unchanged.
func (m *BTreeMap[V]) Update(key string, fn func(current V) (V, error)) (mo.Option[V], error) {
	done := trackOp(m.name, "update")
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.getLocked(key)
	if err != nil || current.IsAbsent() {
		done(presenceOf(current, err))
		return mo.None[V](), err
	}
	next, err := fn(current.MustGet())
	if err != nil {
		done("aborted")
		return mo.None[V](), err
	}
	if _, err := m.insertLocked(key, next); err != nil {
		done(resultOf(err))
		return mo.None[V](), err
	}
	done("hit")
	return mo.Some(next), nil
}

// Values returns every value in ascending key order. The slice is a snapshot
// taken under the map lock.
func (m *BTreeMap[V]) Values() ([]V, error) {
	entries, err := m.scan("values", "", "")
	if err != nil {
		return nil, err
	}
	out := make([]V, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	return out, nil
}

// Keys returns every key in ascending order.
func (m *BTreeMap[V]) Keys() ([]string, error) {
	entries, err := m.scan("keys", "", "")
	if err != nil {
		return nil, err
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out, nil
}

// Range returns entries with from <= key < to in ascending key order. An
// empty to means no upper bound. A non-empty to at or below from selects
// nothing and never reaches the backend.
func (m *BTreeMap[V]) Range(from, to string) ([]Entry[V], error) {
	if to != "" && to <= from {
		trackOp(m.name, "range")("ok")
		return []Entry[V]{}, nil
	}
	return m.scan("range", from, to)
}

// Ping checks that the backing region is reachable.
func (m *BTreeMap[V]) Ping() error {
	return m.backend.Ping()
}

// Close closes the backend.
func (m *BTreeMap[V]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.Close()
}

func (m *BTreeMap[V]) scan(op, from, to string) ([]Entry[V], error) {
	done := trackOp(m.name, op)
	m.mu.Lock()
	defer m.mu.Unlock()

	lower := m.encodeKey(from)
	upper := m.upper
	if to != "" {
		upper = m.encodeKey(to)
	}

	entries := make([]Entry[V], 0, m.count)
	err := m.backend.Scan(lower, upper, func(k, raw []byte) error {
		v, err := m.codec.Decode(raw)
		if err != nil {
			return err
		}
		entries = append(entries, Entry[V]{Key: string(k[len(m.prefix):]), Value: v})
		return nil
	})
	done(resultOf(err))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", m.name, op, err)
	}
	return entries, nil
}

func (m *BTreeMap[V]) getLocked(key string) (mo.Option[V], error) {
	raw, found, err := m.backend.Get(m.encodeKey(key))
	if err != nil || !found {
		return mo.None[V](), err
	}
	v, err := m.codec.Decode(raw)
	if err != nil {
		return mo.None[V](), err
	}
	return mo.Some(v), nil
}

func (m *BTreeMap[V]) insertLocked(key string, value V) (mo.Option[V], error) {
	enc, err := m.codec.Encode(value)
	if err != nil {
		return mo.None[V](), err
	}

	raw, found, err := m.backend.Get(m.encodeKey(key))
	if err != nil {
		return mo.None[V](), err
	}
	prev := mo.None[V]()
	var oldSize int64
	if found {
		pv, err := m.codec.Decode(raw)
		if err != nil {
			return mo.None[V](), err
		}
		prev = mo.Some(pv)
		oldSize = entrySize(key, raw)
	}

	newUsed := m.usedBytes - oldSize + entrySize(key, enc)
	if m.maxBytes > 0 && newUsed > m.maxBytes {
		m.logger.Error("durable map capacity exhausted",
			slog.String("map", m.name),
			slog.String("key", key),
			slog.Int64("bytes", m.usedBytes),
			slog.Int64("needed", newUsed),
			slog.Int64("max_bytes", m.maxBytes),
		)
		return mo.None[V](), fmt.Errorf("%w: map %s needs %d of %d bytes", ErrResourceExhausted, m.name, newUsed, m.maxBytes)
	}

	if err := m.backend.Set(m.encodeKey(key), enc); err != nil {
		return mo.None[V](), err
	}
	m.usedBytes = newUsed
	if !found {
		m.count++
	}
	m.publishSize()
	return prev, nil
}

func (m *BTreeMap[V]) encodeKey(key string) []byte {
	out := make([]byte, 0, len(m.prefix)+len(key))
	out = append(out, m.prefix...)
	return append(out, key...)
}

func (m *BTreeMap[V]) publishSize() {
	StoreBytes.WithLabelValues(m.name).Set(float64(m.usedBytes))
	StoreEntries.WithLabelValues(m.name).Set(float64(m.count))
}

func entrySize(key string, encoded []byte) int64 {
	return int64(len(key) + len(encoded))
}
