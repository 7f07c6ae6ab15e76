// Package key defines the identity under which values are stored in ckv.
package key

import (
	"github.com/ValentinKolb/ckv/lib/cluster"
	"github.com/cespare/xxhash/v2"
)

// Key is an immutable byte string identifying a value.
// It is a string so it can be used directly as a map key.
type Key string

// Make copies b into a new Key.
func Make(b []byte) Key { return Key(b) }

// Bytes returns a copy of the key bytes.
func (k Key) Bytes() []byte { return []byte(k) }

func (k Key) String() string { return string(k) }

// Hash returns the 64 bit hash used for home placement.
func (k Key) Hash() uint64 { return xxhash.Sum64String(string(k)) }

// Home returns the node responsible for serializing writes to k.
func (k Key) Home(m cluster.Membership) cluster.Node { return m.Home(k.Hash()) }

// IsHome reports whether the local node is the home of k.
func (k Key) IsHome(m cluster.Membership) bool { return k.Home(m).Index == m.Self().Index }
