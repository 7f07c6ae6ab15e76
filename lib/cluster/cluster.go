package cluster

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// MaxTrackedNodes is the number of nodes a replica bitmask can represent.
const MaxTrackedNodes = 58

var (
	ErrTooManyNodes = fmt.Errorf("cluster: more than %d members", MaxTrackedNodes)
	ErrUnknownSelf  = errors.New("cluster: self is not a member")
	ErrEmpty        = errors.New("cluster: no members")
)

// NodeIndex is the position of a node in the sorted member table.
type NodeIndex uint8

// Node is a single member of the cloud.
type Node struct {
	Index    NodeIndex
	Name     string
	Endpoint string
}

func (n Node) String() string {
	return fmt.Sprintf("%s(#%d@%s)", n.Name, n.Index, n.Endpoint)
}

// Membership is the read only view of a cloud the protocol needs.
type Membership interface {
	// Self returns the local node.
	Self() Node
	// Members returns all nodes ordered by index.
	Members() []Node
	// Node looks up a node by index.
	Node(idx NodeIndex) (Node, bool)
	// Home returns the home node for a key hash.
	Home(hash uint64) Node
}

// Cloud is an immutable membership snapshot.
type Cloud struct {
	self  NodeIndex
	nodes []Node
	salts []uint64
}

// NewCloud builds the snapshot for the member map (name -> endpoint) as seen by self.
func NewCloud(self string, members map[string]string) (*Cloud, error) {
	if len(members) == 0 {
		return nil, ErrEmpty
	}
	if len(members) > MaxTrackedNodes {
		return nil, fmt.Errorf("%w: got %d", ErrTooManyNodes, len(members))
	}

	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)

	c := &Cloud{
		nodes: make([]Node, len(names)),
		salts: make([]uint64, len(names)),
	}
	found := false
	for i, name := range names {
		c.nodes[i] = Node{Index: NodeIndex(i), Name: name, Endpoint: members[name]}
		c.salts[i] = xxhash.Sum64String(name)
		if name == self {
			c.self = NodeIndex(i)
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSelf, self)
	}
	return c, nil
}

// ParseMembers parses a comma separated list of name=endpoint pairs.
func ParseMembers(s string) (map[string]string, error) {
	members := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, endpoint, ok := strings.Cut(part, "=")
		if !ok || name == "" || endpoint == "" {
			return nil, fmt.Errorf("cluster: invalid member %q (expected name=endpoint)", part)
		}
		if _, dup := members[name]; dup {
			return nil, fmt.Errorf("cluster: duplicate member %q", name)
		}
		members[name] = endpoint
	}
	if len(members) == 0 {
		return nil, ErrEmpty
	}
	return members, nil
}

func (c *Cloud) Self() Node { return c.nodes[c.self] }

func (c *Cloud) Members() []Node {
	out := make([]Node, len(c.nodes))
	copy(out, c.nodes)
	return out
}

func (c *Cloud) Size() int { return len(c.nodes) }

func (c *Cloud) Node(idx NodeIndex) (Node, bool) {
	if int(idx) >= len(c.nodes) {
		return Node{}, false
	}
	return c.nodes[idx], true
}

// Home ranks every member by mix64(hash ^ salt) and returns the highest.
// Ties are broken by name.
func (c *Cloud) Home(hash uint64) Node {
	best := 0
	bestScore := mix64(hash ^ c.salts[0])
	for i := 1; i < len(c.nodes); i++ {
		s := mix64(hash ^ c.salts[i])
		if s > bestScore || (s == bestScore && c.nodes[i].Name < c.nodes[best].Name) {
			best, bestScore = i, s
		}
	}
	return c.nodes[best]
}

// mix64 is the SplitMix64 finalizer.
func mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
