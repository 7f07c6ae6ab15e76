package common

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/ckv/lib/persist"
	"github.com/c2h5oh/datasize"
	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (membership shard)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to Dragonboat Config
func (c *ServerConfig) ToDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          c.Raft.ReplicaID,
		ShardID:            c.Raft.ShardID,
		ElectionRTT:        electionRTTFactor,  // = c.RTTMillisecond * 10
		HeartbeatRTT:       heartbeatRTTFactor, // = c.RTTMillisecond * 1
		CheckQuorum:        true,
		SnapshotEntries:    c.Raft.SnapshotEntries,
		CompactionOverhead: c.Raft.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.Raft.DataDir,
		NodeHostDir:    c.Raft.DataDir,
		RTTMillisecond: c.Raft.RTTMillisecond,
		RaftAddress:    c.Raft.Members[c.Raft.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// RaftConfig configures the membership shard. It is unused when the
// members are given statically.
type RaftConfig struct {
	ShardID            uint64
	ReplicaID          uint64
	Members            map[uint64]string // replica id -> raft address
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	// ExpectedMembers locks the table once this many nodes joined (0: never,
	// an operator locks it)
	ExpectedMembers int
}

// TransportConfig holds the socket options shared by client and server.
type TransportConfig struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
	WriteBufferSize int
	ReadBufferSize  int
}

// ServerConfig holds all configuration parameters of a ckv node.
type ServerConfig struct {
	// Identity
	Name     string            // name of this node
	Endpoint string            // address the RPC transport listens on
	Members  map[string]string // static membership (name -> endpoint)

	// Membership shard (used if Raft.Members is set)
	Raft RaftConfig

	// Store parameters
	MaxValueSize    datasize.ByteSize
	MaxMemory       datasize.ByteSize // cleaner threshold, 0 disables the cleaner
	CleanerInterval time.Duration
	LeaseTimeout    time.Duration
	DefaultBackend  persist.Tag
	ICEDir          string
	NFSDir          string

	// RPC parameters
	TimeoutSecond int64
	Workers       int
	BufferSize    datasize.ByteSize
	Transport     TransportConfig

	// Observability
	MetricsEndpoint string
	LogLevel        string
}

// HasRaftMembership reports whether the membership comes from the raft shard.
func (c *ServerConfig) HasRaftMembership() bool {
	return len(c.Raft.Members) > 0
}

// Timeout returns TimeoutSecond as a duration.
func (c *ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// ClientConfig derives the configuration for connections to other members.
func (c *ServerConfig) ClientConfig(endpoint string) ClientConfig {
	return ClientConfig{
		Endpoints:              []string{endpoint},
		TimeoutSecond:          int(c.TimeoutSecond),
		RetryCount:             5,
		ConnectionsPerEndpoint: 1,
		Transport:              c.Transport,
	}
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Node Identity
	addSection("Node")
	addField("Name", c.Name)
	addField("Endpoint", c.Endpoint)

	// RPC settings
	addSection("RPC Server")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Workers", strconv.Itoa(c.Workers))
	addField("Buffer Size", c.BufferSize.HumanReadable())

	// Store
	addSection("Store")
	addField("Max Value Size", c.MaxValueSize.HumanReadable())
	if c.MaxMemory > 0 {
		addField("Max Memory", c.MaxMemory.HumanReadable())
		addField("Cleaner Interval", c.CleanerInterval.String())
	} else {
		addField("Max Memory", "unlimited")
	}
	addField("Lease Timeout", c.LeaseTimeout.String())
	addField("Default Backend", c.DefaultBackend.String())
	if c.ICEDir != "" {
		addField("ICE Directory", c.ICEDir)
	}
	if c.NFSDir != "" {
		addField("NFS Directory", c.NFSDir)
	}

	// Logging and metrics
	addSection("Observability")
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}

	if !c.HasRaftMembership() {
		addSection("Static Members")
		names := make([]string, 0, len(c.Members))
		for name := range c.Members {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			addField(name, c.Members[name])
		}
		return sb.String()
	}

	// RAFT parameters
	addSection("Membership Shard")
	addField("RAFT Address", c.Raft.Members[c.Raft.ReplicaID])
	addField("Replica ID", strconv.FormatUint(c.Raft.ReplicaID, 10))
	addField("Shard ID", strconv.FormatUint(c.Raft.ShardID, 10))
	addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.Raft.RTTMillisecond))
	addField("Election RTT (ms)", fmt.Sprintf("%d", c.Raft.RTTMillisecond*electionRTTFactor))
	addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.Raft.RTTMillisecond*heartbeatRTTFactor))
	addField("Snapshot Entries", fmt.Sprintf("%d", c.Raft.SnapshotEntries))
	addField("Compaction Overhead", fmt.Sprintf("%d", c.Raft.CompactionOverhead))
	addField("Data Directory", c.Raft.DataDir)
	addField("Expected Members", strconv.Itoa(c.Raft.ExpectedMembers))

	sb.WriteString("  Initial Members:\n")

	// Sort keys for consistent output
	var keys []uint64
	for k := range c.Raft.Members {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("    Replica %d: %s\n", k, c.Raft.Members[k]))
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints              []string
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int
	Transport              TransportConfig
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.ConnectionsPerEndpoint)))))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
