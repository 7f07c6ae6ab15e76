package value

import (
	"context"
	"fmt"
	"math/bits"
	"runtime"

	"github.com/ValentinKolb/ckv/lib/cluster"
	"github.com/ValentinKolb/ckv/lib/util"
)

const (
	// Locked is the replica state of a value that is being replaced. It is
	// also the remote put state "done".
	Locked = ^uint64(0)

	readerShift = cluster.MaxTrackedNodes
	replicaMask = uint64(1)<<readerShift - 1

	// MaxReaders is the largest reader count the state word holds. 63 with
	// every mask bit set would read as Locked.
	MaxReaders = 62
)

func readers(s uint64) int { return int(s >> readerShift) }

// ReplicaSet is a bitmask of node indices.
type ReplicaSet uint64

func (r ReplicaSet) Contains(n cluster.NodeIndex) bool      { return r&(1<<n) != 0 }
func (r ReplicaSet) Without(n cluster.NodeIndex) ReplicaSet { return r &^ (1 << n) }
func (r ReplicaSet) Len() int                               { return bits.OnesCount64(uint64(r)) }

// Nodes returns the members of the set in increasing order.
func (r ReplicaSet) Nodes() []cluster.NodeIndex {
	out := make([]cluster.NodeIndex, 0, r.Len())
	for m := uint64(r); m != 0; m &= m - 1 {
		out = append(out, cluster.NodeIndex(bits.TrailingZeros64(m)))
	}
	return out
}

func checkIndex(n cluster.NodeIndex) {
	if n >= cluster.MaxTrackedNodes {
		panic(fmt.Sprintf("value: node index %d cannot be tracked (max %d)", n, cluster.MaxTrackedNodes-1))
	}
}

// RegisterReader records n as holding a copy and counts one more active GET.
// It returns false if the value is locked; the caller must look the key up
// again. The home node never registers itself.
func (v *Value) RegisterReader(n cluster.NodeIndex) bool {
	checkIndex(n)
	for {
		old := v.state.Load()
		if old == Locked {
			return false
		}
		if readers(old) >= MaxReaders {
			// saturated; an ack-ack will lower the count shortly
			runtime.Gosched()
			continue
		}
		next := (old + 1<<readerShift) | 1<<n
		if v.state.CompareAndSwap(old, next) {
			return true
		}
	}
}

// ReleaseReader lowers the active GET count after the ack-ack from n.
// The replica bit stays set.
func (v *Value) ReleaseReader(n cluster.NodeIndex) {
	checkIndex(n)
	var next uint64
	for {
		old := v.state.Load()
		if old == Locked || readers(old) == 0 || old&(1<<n) == 0 {
			panic(fmt.Sprintf("value: %q: release of reader %d without registration (state %#x)", string(v.key), n, old))
		}
		next = old - 1<<readerShift
		if v.state.CompareAndSwap(old, next) {
			break
		}
	}
	if readers(next) == 0 {
		v.notifyAll()
	}
}

// LockForInvalidation waits until no GET is between ack and ack-ack, then
// locks the value against new readers. It returns the nodes holding a copy.
// Only the goroutine replacing the value may call it, and only once.
func (v *Value) LockForInvalidation(ctx context.Context) (ReplicaSet, error) {
	old := v.state.Load()
	for readers(old) > 0 || !v.state.CompareAndSwap(old, Locked) {
		if old == Locked {
			panic(fmt.Sprintf("value: %q: locked twice", string(v.key)))
		}
		if err := util.ManagedBlock(ctx, drainBlocker{v}); err != nil {
			return 0, err
		}
		old = v.state.Load()
	}
	return ReplicaSet(old & replicaMask), nil
}

// InitAsSingleReplica seeds the replica state of a value received from n
// before it is published on the home node.
func (v *Value) InitAsSingleReplica(n cluster.NodeIndex) {
	checkIndex(n)
	v.state.Store(1 << n)
}

// InitAsHome resets the replica state for a value written on its home node.
func (v *Value) InitAsHome() { v.state.Store(0) }

// Replicas returns the nodes holding a copy. Nil for a locked value.
func (v *Value) Replicas() ReplicaSet {
	s := v.state.Load()
	if s == Locked {
		return 0
	}
	return ReplicaSet(s & replicaMask)
}

func (v *Value) NumReplicas() int                        { return v.Replicas().Len() }
func (v *Value) IsReplicatedTo(n cluster.NodeIndex) bool { return v.Replicas().Contains(n) }
func (v *Value) IsLocked() bool                          { return v.state.Load() == Locked }

// Readers returns the number of GETs awaiting their ack-ack.
func (v *Value) Readers() int {
	s := v.state.Load()
	if s == Locked {
		return 0
	}
	return readers(s)
}

// --------------------------------------------------------------------------
// Waiting
// --------------------------------------------------------------------------

func (v *Value) notifyAll() {
	v.mu.Lock()
	v.cond.Broadcast()
	v.mu.Unlock()
}

// wait sleeps on the value monitor until ok holds or ctx is done.
func (v *Value) wait(ctx context.Context, ok func() bool) bool {
	stop := context.AfterFunc(ctx, v.notifyAll)
	defer stop()
	v.mu.Lock()
	defer v.mu.Unlock()
	for !ok() {
		if ctx.Err() != nil {
			return false
		}
		v.cond.Wait()
	}
	return true
}

// drainBlocker waits for the reader count of a home value to reach zero.
type drainBlocker struct{ v *Value }

func (b drainBlocker) IsReleasable() bool {
	return readers(b.v.state.Load()) == 0
}

func (b drainBlocker) Block(ctx context.Context) bool {
	return b.v.wait(ctx, b.IsReleasable)
}
