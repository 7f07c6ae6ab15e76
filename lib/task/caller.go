package task

import (
	"context"

	"github.com/ValentinKolb/ckv/lib/cluster"
	"github.com/ValentinKolb/ckv/lib/key"
	"github.com/ValentinKolb/ckv/lib/value"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("task")

// Caller sends protocol requests to other nodes. Every call returns once the
// target answered (the ack). Implementations retry on transport failures,
// so handlers must tolerate duplicate requests.
type Caller interface {
	// GetKey fetches k from its home. The lease is zero when the home did not
	// register the caller as a reader (e.g. the key does not exist).
	GetKey(ctx context.Context, target cluster.Node, k key.Key) (v *value.Value, lease uint64, err error)
	// PutKey sends v (nil for a delete or an invalidation) for k.
	PutKey(ctx context.Context, target cluster.Node, k key.Key, v *value.Value) error
	// AckAck returns a read lease to the home.
	AckAck(ctx context.Context, target cluster.Node, lease uint64) error
}
