package rmember

import (
	"context"
	"errors"
	"time"

	"github.com/ValentinKolb/ckv/lib/cluster"
	"github.com/ValentinKolb/ckv/lib/store"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
)

const retries = 5

// Table is the client of the membership shard on a local NodeHost.
type Table struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
}

// NewTable returns the table served by shardID on nh. The replica must have
// been started with NewStateMachine.
func NewTable(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) *Table {
	return &Table{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
	}
}

func (t *Table) write(ctx context.Context, cmd Command) error {
	for i := 0; i < retries; i++ {
		pctx, cancel := context.WithTimeout(ctx, t.timeout)
		res, err := t.nh.SyncPropose(pctx, t.cs, cmd.Serialize())
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) || errors.Is(err, dragonboat.ErrShardNotReady) {
			log.Infof("SyncPropose: system busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(t.timeout / 10)
			continue
		}
		if err != nil {
			return store.NewError(store.RetCUnavailable, err.Error())
		}
		if res.Value != uint64(store.RetCSuccess) {
			return store.NewError(store.RetCode(res.Value), string(res.Data))
		}
		return nil
	}
	return store.NewError(store.RetCUnavailable, "timeout")
}

// Join adds name to the table.
func (t *Table) Join(ctx context.Context, name, endpoint string) error {
	return t.write(ctx, Command{Type: CommandTJoin, Name: name, Endpoint: endpoint})
}

// Lock freezes the table.
func (t *Table) Lock(ctx context.Context) error {
	return t.write(ctx, Command{Type: CommandTLock})
}

// Members reads the table with a linearizable read.
func (t *Table) Members(ctx context.Context) (Snapshot, error) {
	for i := 0; i < retries; i++ {
		rctx, cancel := context.WithTimeout(ctx, t.timeout)
		res, err := t.nh.SyncRead(rctx, t.shardID, queryMembers{})
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) || errors.Is(err, dragonboat.ErrShardNotReady) {
			log.Infof("SyncRead: system busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(t.timeout / 10)
			continue
		}
		if err != nil {
			return Snapshot{}, store.NewError(store.RetCUnavailable, err.Error())
		}
		snap, ok := res.(Snapshot)
		if !ok {
			return Snapshot{}, store.Errorf(store.RetCInternalError, "unexpected type: received %T, expected %T", res, snap)
		}
		return snap, nil
	}
	return Snapshot{}, store.NewError(store.RetCUnavailable, "timeout")
}

// WaitLocked polls the table until it is locked and returns the cloud as
// seen by self.
func (t *Table) WaitLocked(ctx context.Context, self string) (*cluster.Cloud, error) {
	tick := time.NewTicker(t.timeout / 10)
	defer tick.Stop()
	for {
		snap, err := t.Members(ctx)
		if err == nil && snap.Locked {
			return cluster.NewCloud(self, snap.Members)
		}
		if err != nil {
			log.Debugf("waiting for membership: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tick.C:
		}
	}
}
