package value

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/ckv/lib/util"
)

const (
	putInFlight = 0
	putWaiter   = 1
	putDone     = Locked
)

// StartRemotePut blocks until the remote PUT of this value completed. It is
// called with the previous local write of a key before the next one is sent
// to the home node, which keeps a node's writes to one key in order.
func (v *Value) StartRemotePut(ctx context.Context) error {
	for {
		x := v.state.Load()
		if x == putDone {
			return nil
		}
		if x == putWaiter || v.state.CompareAndSwap(putInFlight, putWaiter) {
			return util.ManagedBlock(ctx, putBlocker{v})
		}
	}
}

// CompleteRemotePut marks the remote PUT of this value acknowledged and
// wakes a waiting StartRemotePut.
func (v *Value) CompleteRemotePut() {
	if v.state.CompareAndSwap(putInFlight, putDone) {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.state.CompareAndSwap(putWaiter, putDone) {
		panic(fmt.Sprintf("value: %q: remote put completed twice", string(v.key)))
	}
	v.cond.Broadcast()
}

// IsRemotePutInFlight reports whether the home node has not acknowledged
// this locally written value yet.
func (v *Value) IsRemotePutInFlight() bool { return v.state.Load() != putDone }

// MarkRemoteDone sets the state of a value that needs no remote PUT.
func (v *Value) MarkRemoteDone() { v.state.Store(putDone) }

// putBlocker waits for the remote put state to reach done.
type putBlocker struct{ v *Value }

func (b putBlocker) IsReleasable() bool { return b.v.state.Load() == putDone }

func (b putBlocker) Block(ctx context.Context) bool {
	return b.v.wait(ctx, b.IsReleasable)
}
