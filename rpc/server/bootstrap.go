package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ValentinKolb/ckv/lib/cluster"
	"github.com/ValentinKolb/ckv/lib/cluster/rmember"
	"github.com/ValentinKolb/ckv/lib/persist"
	"github.com/ValentinKolb/ckv/lib/persist/ice"
	"github.com/ValentinKolb/ckv/lib/persist/nfs"
	"github.com/ValentinKolb/ckv/lib/store/dkv"
	"github.com/ValentinKolb/ckv/rpc/client"
	"github.com/ValentinKolb/ckv/rpc/common"
	"github.com/ValentinKolb/ckv/rpc/serializer"
	"github.com/ValentinKolb/ckv/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4"
)

// Bootstrap sets up a complete node from config: loggers, persistence
// backends, membership, the peer callers, the cleaner and the metrics
// endpoint. With a raft membership it blocks until the member table is
// locked. The returned server owns all of it and releases it on Close.
func Bootstrap(
	ctx context.Context,
	config common.ServerConfig,
	srvTransport transport.IRPCServerTransport,
	peerTransport client.TransportFactory,
	s serializer.IRPCSerializer,
) (*RPCServer, error) {
	if err := common.InitLoggers(config.LogLevel); err != nil {
		return nil, err
	}
	Logger.Infof(config.String())

	var closers []func() error
	fail := func(err error) (*RPCServer, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	backends, err := openBackends(config)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, backends.Close)

	cloud, nh, err := joinCloud(ctx, config)
	if err != nil {
		return fail(err)
	}
	if nh != nil {
		closers = append(closers, func() error { nh.Close(); return nil })
	}
	Logger.Infof("Cloud formed with %d members, self is %s", len(cloud.Members()), cloud.Self())

	peers := client.NewPeerSet(cloud, backends, peerTransport, s, config.ClientConfig(""))
	closers = append(closers, peers.Close)

	cfg := dkv.DefaultConfig()
	if config.MaxValueSize > 0 {
		cfg.MaxValueSize = int(config.MaxValueSize.Bytes())
	}
	if config.LeaseTimeout > 0 {
		cfg.LeaseTimeout = config.LeaseTimeout
	}
	cfg.DefaultTag = config.DefaultBackend
	if _, err := backends.Backend(cfg.DefaultTag); cfg.DefaultTag != persist.TagNone && err != nil {
		return fail(fmt.Errorf("default backend %s is not configured: %w", cfg.DefaultTag, err))
	}

	node := dkv.New(cloud, peers, backends, cfg)
	closers = append(closers, node.Close)

	bg, cancel := context.WithCancel(context.Background())
	closers = append(closers, func() error { cancel(); return nil })
	if config.MaxMemory > 0 {
		interval := config.CleanerInterval
		if interval <= 0 {
			interval = time.Second
		}
		node.StartCleaner(bg, int64(config.MaxMemory.Bytes()), interval)
	}

	if config.MetricsEndpoint != "" {
		closers = append(closers, serveMetrics(config.MetricsEndpoint, node))
	}

	srv := NewRPCServer(config, node, srvTransport, s)
	srv.closers = closers
	return srv, nil
}

// openBackends registers the configured persistence backends.
func openBackends(config common.ServerConfig) (*persist.Registry, error) {
	reg := persist.NewRegistry()
	if config.ICEDir != "" {
		b, err := ice.Open(config.ICEDir)
		if err != nil {
			return nil, fmt.Errorf("open ice backend: %w", err)
		}
		reg.Register(persist.TagICE, b)
	}
	if config.NFSDir != "" {
		b, err := nfs.NewOS(config.NFSDir)
		if err != nil {
			_ = reg.Close()
			return nil, fmt.Errorf("open nfs backend: %w", err)
		}
		reg.Register(persist.TagNFS, b)
	}
	return reg, nil
}

// joinCloud returns the membership of the node. Without raft members the
// static member list is used.
func joinCloud(ctx context.Context, config common.ServerConfig) (*cluster.Cloud, *dragonboat.NodeHost, error) {
	if !config.HasRaftMembership() {
		cloud, err := cluster.NewCloud(config.Name, config.Members)
		return cloud, nil, err
	}

	nh, err := dragonboat.NewNodeHost(config.ToNodeHostConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create node host: %w", err)
	}
	if err := nh.StartReplica(config.Raft.Members, false, rmember.NewStateMachine, config.ToDragonboatConfig()); err != nil {
		nh.Close()
		return nil, nil, fmt.Errorf("failed to start membership shard %d: %w", config.Raft.ShardID, err)
	}

	table := rmember.NewTable(nh, config.Raft.ShardID, config.Timeout())
	cloud, err := joinTable(ctx, table, config)
	if err != nil {
		nh.Close()
		return nil, nil, err
	}
	return cloud, nh, nil
}

// joinTable adds the node and waits for the lock. Once ExpectedMembers
// joined, every node races to lock; the lock is idempotent.
func joinTable(ctx context.Context, table *rmember.Table, config common.ServerConfig) (*cluster.Cloud, error) {
	if err := table.Join(ctx, config.Name, config.Endpoint); err != nil {
		return nil, fmt.Errorf("join membership: %w", err)
	}
	Logger.Infof("Joined membership as %s, waiting for the table to lock", config.Name)

	poll := config.Timeout() / 10
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	for {
		snap, err := table.Members(ctx)
		switch {
		case err != nil:
			Logger.Debugf("Waiting for membership: %v", err)
		case snap.Locked:
			return cluster.NewCloud(config.Name, snap.Members)
		case config.Raft.ExpectedMembers > 0 && len(snap.Members) >= config.Raft.ExpectedMembers:
			if err := table.Lock(ctx); err != nil {
				Logger.Warningf("Failed to lock membership: %v", err)
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

// serveMetrics exposes the node's metrics and the process metrics in the
// Prometheus text format.
func serveMetrics(endpoint string, node *dkv.Node) func() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		writeMetrics(w, node)
	})
	srv := &http.Server{Addr: endpoint, Handler: mux}
	go func() {
		Logger.Infof("Serving metrics on %s/metrics", endpoint)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("Metrics endpoint failed: %v", err)
		}
	}()
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

func writeMetrics(w io.Writer, node *dkv.Node) {
	node.Metrics().WritePrometheus(w)
	metrics.WritePrometheus(w, true)
}
