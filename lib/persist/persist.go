// Package persist defines the adapter between in-memory values and the
// external stores that keep a durable copy of them.
//
// Every value carries a persist byte. The low three bits name the backend
// class (Tag), bit 3 records whether the bytes have been written to that
// backend. The backends themselves live in sub packages (ice, nfs) and are
// looked up by tag through a Registry.
package persist

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("persist")

// Tag selects a backend class.
type Tag uint8

const (
	TagNone Tag = iota // transient, never written anywhere
	TagICE             // local disk of the home node
	TagHDFS
	TagS3
	TagNFS
)

const (
	backendMask = 0x07
	onDisk      = 1 << 3
)

func (t Tag) String() string {
	switch t {
	case TagNone:
		return "none"
	case TagICE:
		return "ice"
	case TagHDFS:
		return "hdfs"
	case TagS3:
		return "s3"
	case TagNFS:
		return "nfs"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// ParseTag is the inverse of Tag.String.
func ParseTag(s string) (Tag, error) {
	for t := TagNone; t <= TagNFS; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return TagNone, fmt.Errorf("persist: unknown backend %q", s)
}

// State is the persist byte of a value.
type State uint8

// NewState returns the state for a value of tag t that is not yet stored.
func NewState(t Tag) State { return State(t) & backendMask }

func (s State) Tag() Tag                { return Tag(s & backendMask) }
func (s State) IsPersisted() bool       { return s&onDisk != 0 }
func (s State) WithPersisted() State    { return s | onDisk }
func (s State) WithoutPersisted() State { return s &^ onDisk }

// Descriptor is what a backend needs to know about a value.
type Descriptor interface {
	// Key returns the key bytes of the value.
	Key() string
	// Max returns the full length of the value.
	Max() int
	// Mem returns the cached bytes or nil.
	Mem() []byte
}

// Backend stores and loads value bytes. Implementations must allow
// concurrent calls for different keys.
type Backend interface {
	Name() string
	// Load returns at least the first length bytes of the value.
	Load(d Descriptor, length int) ([]byte, error)
	// Store writes the full value bytes.
	Store(d Descriptor) error
	// Delete removes the stored copy. Deleting a missing value is not an error.
	Delete(d Descriptor) error
}

var ErrNoBackend = errors.New("persist: no backend registered")

// Registry maps tags to backends.
type Registry struct {
	mu       sync.RWMutex
	backends [backendMask + 1]Backend
}

func NewRegistry() *Registry { return &Registry{} }

// Register installs b for tag t, replacing any previous backend.
func (r *Registry) Register(t Tag, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[t&backendMask] = b
	Logger.Infof("registered %s backend for tag %s", b.Name(), t)
}

// Backend returns the backend for t.
func (r *Registry) Backend(t Tag) (Backend, error) {
	if r == nil || t == TagNone {
		return nil, fmt.Errorf("%w for tag %s", ErrNoBackend, t)
	}
	r.mu.RLock()
	b := r.backends[t&backendMask]
	r.mu.RUnlock()
	if b == nil {
		return nil, fmt.Errorf("%w for tag %s", ErrNoBackend, t)
	}
	return b, nil
}

// Close closes every registered backend that implements io.Closer.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for i, b := range r.backends {
		if c, ok := b.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		r.backends[i] = nil
	}
	return errors.Join(errs...)
}
