package stable

import "errors"

// ErrResourceExhausted is returned when the persistent region cannot take a
// new entry. There is no recovery at the map layer; callers should abort the
// operation and surface a hard failure.
var ErrResourceExhausted = errors.New("stable: persistent region exhausted")

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("stable: backend closed")

// Backend is the byte-level persistent region a BTreeMap is laid out on.
// Keys compare bytewise and Scan visits them in ascending order.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Get returns the value for key and whether it exists.
	Get(key []byte) ([]byte, bool, error)
	// Set stores value under key, replacing any existing value.
	Set(key, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key []byte) error
	// Scan calls fn for every entry with lower <= key < upper in ascending
	// key order. A nil bound is open. Slices passed to fn are owned by fn.
	Scan(lower, upper []byte, fn func(key, value []byte) error) error
	// Ping reports whether the region is reachable.
	Ping() error
	Close() error
}
