package rmember

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"maps"
	"sort"

	"github.com/ValentinKolb/ckv/lib/cluster"
	"github.com/ValentinKolb/ckv/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

var log = logger.GetLogger("cluster")

// stateMachine is the dragonboat state machine holding the table.
// Dragonboat serializes Update and never calls Lookup concurrently with
// Update for a regular state machine.
type stateMachine struct {
	shardID   uint64
	replicaID uint64
	members   map[string]string
	locked    bool
}

// NewStateMachine creates the state machine of one replica. It has the
// signature of sm.CreateStateMachineFunc.
func NewStateMachine(shardID uint64, replicaID uint64) sm.IStateMachine {
	return &stateMachine{
		shardID:   shardID,
		replicaID: replicaID,
		members:   make(map[string]string),
	}
}

func result(code store.RetCode, format string, args ...any) sm.Result {
	return sm.Result{Value: uint64(code), Data: []byte(fmt.Sprintf(format, args...))}
}

func (s *stateMachine) Update(e sm.Entry) (sm.Result, error) {
	var cmd Command
	if err := cmd.Deserialize(e.Cmd); err != nil {
		return result(store.RetCInternalError, "failed to deserialize command: %v", err), nil
	}
	return s.apply(cmd), nil
}

func (s *stateMachine) apply(cmd Command) sm.Result {
	switch cmd.Type {
	case CommandTJoin:
		if cur, ok := s.members[cmd.Name]; ok && cur == cmd.Endpoint {
			// replayed join of a restarted node
			return result(store.RetCSuccess, "join: %s", cmd.Name)
		}
		if s.locked {
			return result(store.RetCInvalidOperation, "membership is locked, %s cannot join", cmd.Name)
		}
		if cmd.Name == "" {
			return result(store.RetCInvalidOperation, "join: empty node name")
		}
		if _, ok := s.members[cmd.Name]; !ok && len(s.members) >= cluster.MaxTrackedNodes {
			return result(store.RetCInvalidOperation, "join: %s would exceed %d nodes", cmd.Name, cluster.MaxTrackedNodes)
		}
		s.members[cmd.Name] = cmd.Endpoint
		log.Infof("node %s joined at %s (%d members)", cmd.Name, cmd.Endpoint, len(s.members))
		return result(store.RetCSuccess, "join: %s", cmd.Name)
	case CommandTLock:
		if len(s.members) == 0 {
			return result(store.RetCInvalidOperation, "cannot lock an empty membership")
		}
		if !s.locked {
			s.locked = true
			log.Infof("membership locked with %d members", len(s.members))
		}
		return result(store.RetCSuccess, "locked")
	default:
		return result(store.RetCInvalidOperation, "unknown command: %s", cmd.Type)
	}
}

func (s *stateMachine) Lookup(q interface{}) (interface{}, error) {
	if _, ok := q.(queryMembers); !ok {
		return nil, store.Errorf(store.RetCInternalError, "invalid query type: %T", q)
	}
	return Snapshot{Members: maps.Clone(s.members), Locked: s.locked}, nil
}

// SaveSnapshot writes the table as the log that rebuilds it: one join per
// member, each prefixed by its length, followed by a lock if locked.
func (s *stateMachine) SaveSnapshot(w io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	names := make([]string, 0, len(s.members))
	for name := range s.members {
		names = append(names, name)
	}
	sort.Strings(names)

	bw := bufio.NewWriter(w)
	write := func(cmd Command) error {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(cmd.SizeBytes()))
		if _, err := bw.Write(l[:]); err != nil {
			return err
		}
		_, err := bw.Write(cmd.Serialize())
		return err
	}
	for _, name := range names {
		if err := write(Command{Type: CommandTJoin, Name: name, Endpoint: s.members[name]}); err != nil {
			return err
		}
	}
	if s.locked {
		if err := write(Command{Type: CommandTLock}); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func (s *stateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, done <-chan struct{}) error {
	s.members = make(map[string]string)
	s.locked = false

	br := bufio.NewReader(r)
	var l [4]byte
	for {
		select {
		case <-done:
			return sm.ErrSnapshotStopped
		default:
		}
		if _, err := io.ReadFull(br, l[:]); err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("rmember: read snapshot: %w", err)
		}
		buf := make([]byte, binary.BigEndian.Uint32(l[:]))
		if _, err := io.ReadFull(br, buf); err != nil {
			return fmt.Errorf("rmember: read snapshot: %w", err)
		}
		var cmd Command
		if err := cmd.Deserialize(buf); err != nil {
			return fmt.Errorf("rmember: read snapshot: %w", err)
		}
		if res := s.apply(cmd); res.Value != uint64(store.RetCSuccess) {
			return fmt.Errorf("rmember: replay snapshot: %s", res.Data)
		}
	}
}

func (s *stateMachine) Close() error { return nil }
