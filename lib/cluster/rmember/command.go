package rmember

import (
	"encoding/binary"
	"fmt"
)

// CommandType defines the operations of the membership state machine.
type CommandType uint8

const (
	CommandTJoin CommandType = iota // Add or update a member.
	CommandTLock                    // Freeze the table.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTJoin:
		return "Join"
	case CommandTLock:
		return "Lock"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// Command is a single entry in the raft log.
type Command struct {
	Type     CommandType
	Name     string
	Endpoint string
}

// SizeBytes returns the exact number of bytes needed to serialize the command
func (c *Command) SizeBytes() int {
	return 1 + 4 + len(c.Name) + len(c.Endpoint) // Type + NameLen + Name + Endpoint
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for the command type,
// 4 bytes for the name length (big endian),
// N bytes for the name,
// the remaining bytes for the endpoint
func (c *Command) Serialize() []byte {
	result := make([]byte, c.SizeBytes())
	result[0] = byte(c.Type)
	binary.BigEndian.PutUint32(result[1:5], uint32(len(c.Name)))
	copy(result[5:], c.Name)
	copy(result[5+len(c.Name):], c.Endpoint)
	return result
}

// Deserialize extracts all Command fields from a byte array.
func (c *Command) Deserialize(data []byte) error {
	if len(data) < 5 {
		return fmt.Errorf("data too short for command")
	}
	c.Type = CommandType(data[0])
	nameLen := binary.BigEndian.Uint32(data[1:5])
	if uint64(len(data)) < 5+uint64(nameLen) {
		return fmt.Errorf("data too short for name of length %d", nameLen)
	}
	c.Name = string(data[5 : 5+nameLen])
	c.Endpoint = string(data[5+nameLen:])
	return nil
}

// queryMembers is the only lookup the state machine answers.
type queryMembers struct{}

// Snapshot is the state of the table at one point of the log.
type Snapshot struct {
	Members map[string]string // name -> endpoint
	Locked  bool
}
