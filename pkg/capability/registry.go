// Package capability holds the closed allowlist of types that may be
// reconstructed from untrusted model blobs.
//
// A Registry maps (namespace, type name) pairs to pre-bound constructor
// functions. It is populated once at process start, frozen, and only read
// afterwards; the blob decoder refuses to run against an unfrozen registry.
// There is no wildcard and no fallback: a pair that was never registered
// cannot be built.
package capability

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	// ErrFrozen is returned by Register once Freeze has been called.
	ErrFrozen = errors.New("capability registry is frozen")

	// ErrDuplicate is returned when a key is registered twice.
	ErrDuplicate = errors.New("capability already registered")

	// ErrInvalidName is returned for namespaces or type names outside the allowed grammar.
	ErrInvalidName = errors.New("invalid capability name")
)

// namePattern accepts dotted identifiers only. Globs, paths and empty
// segments are rejected so a registration can never match more than one type.
var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Key identifies a constructible type.
type Key struct {
	Namespace string
	TypeName  string
}

// String renders the key as namespace.TypeName.
func (k Key) String() string {
	return k.Namespace + "." + k.TypeName
}

// State is the read-only view of a decoded object's state that a
// Constructor receives. Nested objects have already been built by their own
// constructors by the time the outer constructor runs.
type State interface {
	// Has reports whether the field is present.
	Has(field string) bool
	Int(field string) (int64, error)
	Float(field string) (float64, error)
	String(field string) (string, error)
	Bytes(field string) ([]byte, error)
	Ints(field string) ([]int64, error)
	Floats(field string) ([]float64, error)
	// Object returns the built value of a nested object field.
	Object(field string) (any, error)
	// Objects returns the built values of a list of nested objects.
	Objects(field string) ([]any, error)
}

// Constructor builds a value from decoded state. Constructors must be pure:
// no I/O, no global mutation.
type Constructor func(State) (any, error)

// Entry is a single registration, used by model families to describe what
// they contribute.
type Entry struct {
	Key         Key
	Constructor Constructor
}

// Registry is a write-once, then frozen, constructor table.
// Lookups after Freeze are lock-free reads of an immutable map.
type Registry struct {
	mu      sync.Mutex
	entries map[Key]Constructor
	frozen  atomic.Bool
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Key]Constructor)}
}

// Register binds a constructor to (namespace, typeName).
func (r *Registry) Register(namespace, typeName string, ctor Constructor) error {
	if !namePattern.MatchString(namespace) {
		return fmt.Errorf("%w: namespace %q", ErrInvalidName, namespace)
	}
	if !namePattern.MatchString(typeName) {
		return fmt.Errorf("%w: type name %q", ErrInvalidName, typeName)
	}
	if ctor == nil {
		return fmt.Errorf("nil constructor for %s.%s", namespace, typeName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrFrozen
	}

	key := Key{Namespace: namespace, TypeName: typeName}
	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	}
	r.entries[key] = ctor
	return nil
}

// RegisterEntries registers every entry, skipping keys that are already
// present. Families share primitive containers (numeric arrays, trees), so
// composing two families must not fail on the overlap.
func (r *Registry) RegisterEntries(entries []Entry) error {
	for _, e := range entries {
		if r.has(e.Key) {
			continue
		}
		if err := r.Register(e.Key.Namespace, e.Key.TypeName, e.Constructor); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) has(k Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[k]
	return ok
}

// Freeze closes the registry for writes. Calling Freeze twice is a no-op.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Lookup returns the constructor bound to (namespace, typeName).
func (r *Registry) Lookup(namespace, typeName string) (Constructor, bool) {
	key := Key{Namespace: namespace, TypeName: typeName}
	if r.frozen.Load() {
		ctor, ok := r.entries[key]
		return ctor, ok
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ctor, ok := r.entries[key]
	return ctor, ok
}

// Keys lists the registered keys in a stable order.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	keys := make([]Key, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}
