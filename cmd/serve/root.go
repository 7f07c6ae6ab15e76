package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/ckv/cmd/util"
	"github.com/ValentinKolb/ckv/lib/cluster"
	"github.com/ValentinKolb/ckv/lib/persist"
	"github.com/ValentinKolb/ckv/lib/store/dkv"
	"github.com/ValentinKolb/ckv/rpc/common"
	"github.com/ValentinKolb/ckv/rpc/server"
	"github.com/c2h5oh/datasize"
	"github.com/cespare/xxhash/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start a ckv node",
		Long: `Start a ckv node with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is CKV_<flag> (e.g. CKV_MAX_MEMORY=2GB).

The members of the cloud are either listed with --members or agreed on at runtime through a raft shard (--raft-members). In the latter case the node joins the member table and waits until it is locked, either after --raft-expected-members nodes joined or by an operator.`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitEnv)

	flags := ServeCmd.PersistentFlags()

	// Identity and membership
	key := "name"
	flags.String(key, "", cmdUtil.WrapString("Unique name of this node within the cloud"))

	key = "endpoint"
	flags.String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the node listens (e.g. localhost:8080, /tmp/ckv.sock, ...). Must match the address other members know the node by"))

	key = "members"
	flags.String(key, "", cmdUtil.WrapString("Static membership as a comma-separated list in the format 'node-1=host1:8080,node-2=host2:8080'. Must include this node"))

	// Raft membership shard
	key = "raft-members"
	flags.String(key, "", cmdUtil.WrapString("Initial members of the membership shard in the format 'node-1=host1:63001,node-2=host2:63001'. If set, --members is ignored"))

	key = "raft-shard-id"
	flags.Uint64(key, 1, cmdUtil.WrapString("Shard ID of the membership shard"))

	key = "raft-expected-members"
	flags.Int(key, 0, cmdUtil.WrapString("Lock the member table once this many nodes joined (0: never, the table is locked by an operator)"))

	key = "rtt-millisecond"
	flags.Uint64(key, 100, cmdUtil.WrapString("The average Round Trip Time (RTT) in milliseconds between two raft nodes. Election and heartbeat timeouts are derived from this value"))

	key = "snapshot-entries"
	flags.Uint64(key, 10, cmdUtil.WrapString("Snapshot the member table every this many applied raft log entries (0 disables automatic snapshots)"))

	key = "compaction-overhead"
	flags.Uint64(key, 5, cmdUtil.WrapString("The number of log entries to keep after a snapshot"))

	key = "data-dir"
	flags.String(key, "data", cmdUtil.WrapString("The directory used for the raft log and snapshots"))

	// Store
	key = "max-value-size"
	flags.String(key, "64MB", cmdUtil.WrapString("The largest value accepted (e.g. 512KB, 64MB)"))

	key = "max-memory"
	flags.String(key, "0", cmdUtil.WrapString("Free cached value bytes once more than this is held in memory (e.g. 2GB, 0 disables the cleaner)"))

	key = "cleaner-interval"
	flags.Duration(key, time.Second, cmdUtil.WrapString("How often the cleaner checks the memory usage"))

	key = "lease-timeout"
	flags.Duration(key, dkv.DefaultConfig().LeaseTimeout, cmdUtil.WrapString("How long a remote read without ack-ack holds up writers of the key"))

	key = "default-backend"
	flags.String(key, "none", cmdUtil.WrapString("The persistence backend of values written by clients (none, ice, nfs)"))

	key = "ice-dir"
	flags.String(key, "", cmdUtil.WrapString("Directory of the local disk backend (ice)"))

	key = "nfs-dir"
	flags.String(key, "", cmdUtil.WrapString("Directory of the shared file system backend (nfs), mounted at the same path on every node"))

	// RPC
	key = "timeout"
	flags.Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for requests to other nodes and the membership shard"))

	key = "workers"
	flags.Int(key, runtime.NumCPU()*4, cmdUtil.WrapString("The number of requests handled concurrently. Requests waiting on other nodes do not count"))

	key = "buffer-size"
	flags.String(key, "512KB", cmdUtil.WrapString("The read buffer size per request (tcp and unix)"))

	cmdUtil.SetupTransportFlags(ServeCmd)

	// Observability
	key = "metrics-endpoint"
	flags.String(key, "", cmdUtil.WrapString("Address to serve Prometheus metrics on (e.g. localhost:9100, empty disables metrics)"))

	key = "log-level"
	flags.String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	config, err := configFromViper()
	if err != nil {
		return err
	}
	*serveCmdConfig = *config
	return nil
}

// configFromViper builds and validates the server configuration
func configFromViper() (*common.ServerConfig, error) {
	config := &common.ServerConfig{
		Name:            viper.GetString("name"),
		Endpoint:        viper.GetString("endpoint"),
		CleanerInterval: viper.GetDuration("cleaner-interval"),
		LeaseTimeout:    viper.GetDuration("lease-timeout"),
		ICEDir:          viper.GetString("ice-dir"),
		NFSDir:          viper.GetString("nfs-dir"),
		TimeoutSecond:   viper.GetInt64("timeout"),
		Workers:         viper.GetInt("workers"),
		Transport:       cmdUtil.GetTransportConfig(),
		MetricsEndpoint: viper.GetString("metrics-endpoint"),
		LogLevel:        viper.GetString("log-level"),
	}
	if config.Name == "" {
		return nil, fmt.Errorf("--name is required")
	}

	sizes := []struct {
		flag string
		dst  *datasize.ByteSize
	}{
		{"max-value-size", &config.MaxValueSize},
		{"max-memory", &config.MaxMemory},
		{"buffer-size", &config.BufferSize},
	}
	for _, s := range sizes {
		if err := s.dst.UnmarshalText([]byte(viper.GetString(s.flag))); err != nil {
			return nil, fmt.Errorf("invalid --%s: %w", s.flag, err)
		}
	}

	tag, err := persist.ParseTag(viper.GetString("default-backend"))
	if err != nil {
		return nil, err
	}
	switch {
	case tag == persist.TagICE && config.ICEDir == "":
		return nil, fmt.Errorf("--default-backend ice requires --ice-dir")
	case tag == persist.TagNFS && config.NFSDir == "":
		return nil, fmt.Errorf("--default-backend nfs requires --nfs-dir")
	case tag != persist.TagNone && tag != persist.TagICE && tag != persist.TagNFS:
		return nil, fmt.Errorf("backend %s is not supported", tag)
	}
	config.DefaultBackend = tag

	if raftMembers := viper.GetString("raft-members"); raftMembers != "" {
		members, err := cluster.ParseMembers(raftMembers)
		if err != nil {
			return nil, fmt.Errorf("invalid --raft-members: %w", err)
		}
		if _, ok := members[config.Name]; !ok {
			return nil, fmt.Errorf("no raft address found for %s in --raft-members", config.Name)
		}
		config.Raft = common.RaftConfig{
			ShardID:            viper.GetUint64("raft-shard-id"),
			ReplicaID:          replicaID(config.Name),
			Members:            make(map[uint64]string, len(members)),
			RTTMillisecond:     viper.GetUint64("rtt-millisecond"),
			SnapshotEntries:    viper.GetUint64("snapshot-entries"),
			CompactionOverhead: viper.GetUint64("compaction-overhead"),
			DataDir:            viper.GetString("data-dir"),
			ExpectedMembers:    viper.GetInt("raft-expected-members"),
		}
		for name, addr := range members {
			config.Raft.Members[replicaID(name)] = addr
		}
		return config, nil
	}

	members, err := cluster.ParseMembers(viper.GetString("members"))
	if err != nil {
		return nil, fmt.Errorf("invalid --members: %w", err)
	}
	if _, ok := members[config.Name]; !ok {
		return nil, fmt.Errorf("%s is not listed in --members", config.Name)
	}
	config.Members = members
	return config, nil
}

// replicaID derives the raft replica id of a node from its name
func replicaID(name string) uint64 {
	id := xxhash.Sum64String(name)
	if id == 0 {
		// dragonboat reserves 0
		id = 1
	}
	return id
}

// run starts the node and serves until SIGINT or SIGTERM
func run(cmd *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	t, err := cmdUtil.GetServerTransport(int(serveCmdConfig.BufferSize.Bytes()))
	if err != nil {
		return err
	}
	peers, err := cmdUtil.GetTransportFactory()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.Bootstrap(ctx, *serveCmdConfig, t, peers, s)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		server.Logger.Infof("Shutting down")
	}
	if cerr := srv.Close(); err == nil {
		err = cerr
	}
	return err
}
