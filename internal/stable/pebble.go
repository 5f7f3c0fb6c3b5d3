package stable

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"syscall"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// PebbleOptions configures a pebble-backed region.
type PebbleOptions struct {
	// Path is the directory holding the store. Ignored when InMemory is set.
	Path string
	// InMemory keeps the store in a memory filesystem. Used by tests and
	// throwaway runs.
	InMemory bool
	// FS overrides the filesystem. Reopening against the same FS reattaches
	// to its contents.
	FS vfs.FS
	// Sync fsyncs every write before returning.
	Sync bool
	// Logger receives open/close events. Defaults to slog.Default().
	Logger *slog.Logger
}

// PebbleBackend is a Backend on top of a pebble LSM tree.
type PebbleBackend struct {
	db     *pebble.DB
	write  *pebble.WriteOptions
	path   string
	logger *slog.Logger
	closed atomic.Bool
}

// OpenPebble opens the pebble store at opts.Path, creating it if needed.
func OpenPebble(opts PebbleOptions) (*PebbleBackend, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pebbleOpts := &pebble.Options{}
	path := opts.Path
	switch {
	case opts.FS != nil:
		pebbleOpts.FS = opts.FS
	case opts.InMemory:
		pebbleOpts.FS = vfs.NewMem()
	}
	if path == "" {
		if pebbleOpts.FS == nil {
			return nil, errors.New("pebble: path is required for on-disk stores")
		}
		path = "stable"
	}

	db, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store at %s: %w", path, err)
	}

	write := pebble.NoSync
	if opts.Sync {
		write = pebble.Sync
	}

	logger.Info("pebble store opened",
		slog.String("path", path),
		slog.Bool("in_memory", opts.InMemory || opts.FS != nil),
		slog.Bool("sync", opts.Sync),
	)

	return &PebbleBackend{db: db, write: write, path: path, logger: logger}, nil
}

// Name implements Backend.
func (b *PebbleBackend) Name() string { return "pebble" }

// Get implements Backend.
func (b *PebbleBackend) Get(key []byte) ([]byte, bool, error) {
	if b.closed.Load() {
		return nil, false, ErrClosed
	}
	v, closer, err := b.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pebble get: %w", err)
	}
	defer func() { _ = closer.Close() }()

	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Set implements Backend.
func (b *PebbleBackend) Set(key, value []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := b.db.Set(key, value, b.write); err != nil {
		return classifyPebbleError("set", err)
	}
	return nil
}

// Delete implements Backend.
func (b *PebbleBackend) Delete(key []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := b.db.Delete(key, b.write); err != nil {
		return classifyPebbleError("delete", err)
	}
	return nil
}

// Scan implements Backend.
func (b *PebbleBackend) Scan(lower, upper []byte, fn func(key, value []byte) error) error {
	if b.closed.Load() {
		return ErrClosed
	}
	iter, err := b.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return fmt.Errorf("pebble iterator: %w", err)
	}

	for iter.First(); iter.Valid(); iter.Next() {
		k := append([]byte(nil), iter.Key()...)
		v := append([]byte(nil), iter.Value()...)
		if err := fn(k, v); err != nil {
			_ = iter.Close()
			return err
		}
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("pebble scan: %w", err)
	}
	return nil
}

// Ping implements Backend.
func (b *PebbleBackend) Ping() error {
	if b.closed.Load() {
		return ErrClosed
	}
	_, closer, err := b.db.Get([]byte{0})
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pebble ping: %w", err)
	}
	return closer.Close()
}

// Close flushes memtables and closes the store. Safe to call twice.
func (b *PebbleBackend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := b.db.Flush(); err != nil {
		b.logger.Warn("pebble flush before close failed", slog.String("error", err.Error()))
	}
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("pebble close: %w", err)
	}
	b.logger.Info("pebble store closed", slog.String("path", b.path))
	return nil
}

func classifyPebbleError(op string, err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("pebble %s: %w: %v", op, ErrResourceExhausted, err)
	}
	return fmt.Errorf("pebble %s: %w", op, err)
}
