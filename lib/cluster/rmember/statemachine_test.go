package rmember

import (
	"bytes"
	"fmt"
	"reflect"
	"testing"

	"github.com/ValentinKolb/ckv/lib/cluster"
	"github.com/ValentinKolb/ckv/lib/store"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

func update(t *testing.T, s sm.IStateMachine, cmd Command) store.RetCode {
	t.Helper()
	res, err := s.Update(sm.Entry{Cmd: cmd.Serialize()})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	return store.RetCode(res.Value)
}

func lookup(t *testing.T, s sm.IStateMachine) Snapshot {
	t.Helper()
	res, err := s.Lookup(queryMembers{})
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	return res.(Snapshot)
}

func TestStateMachine(t *testing.T) {
	s := NewStateMachine(1, 1)

	if code := update(t, s, Command{Type: CommandTLock}); code != store.RetCInvalidOperation {
		t.Errorf("locking an empty table: %s", code)
	}
	if code := update(t, s, Command{Type: CommandTJoin, Name: "a", Endpoint: "tcp:a:1"}); code != store.RetCSuccess {
		t.Fatalf("join a: %s", code)
	}
	if code := update(t, s, Command{Type: CommandTJoin, Name: "b", Endpoint: "tcp:b:1"}); code != store.RetCSuccess {
		t.Fatalf("join b: %s", code)
	}
	// a moved before the lock
	if code := update(t, s, Command{Type: CommandTJoin, Name: "a", Endpoint: "tcp:a:2"}); code != store.RetCSuccess {
		t.Fatalf("rejoin a: %s", code)
	}
	if code := update(t, s, Command{Type: CommandTLock}); code != store.RetCSuccess {
		t.Fatalf("lock: %s", code)
	}

	t.Run("JoinAfterLock", func(t *testing.T) {
		if code := update(t, s, Command{Type: CommandTJoin, Name: "c", Endpoint: "tcp:c:1"}); code != store.RetCInvalidOperation {
			t.Errorf("join after lock: %s", code)
		}
		if code := update(t, s, Command{Type: CommandTJoin, Name: "a", Endpoint: "tcp:a:2"}); code != store.RetCSuccess {
			t.Errorf("replayed join after lock: %s", code)
		}
	})

	t.Run("Lookup", func(t *testing.T) {
		want := Snapshot{Members: map[string]string{"a": "tcp:a:2", "b": "tcp:b:1"}, Locked: true}
		got := lookup(t, s)
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Lookup() = %+v, want %+v", got, want)
		}
		// the result is a copy
		got.Members["x"] = "y"
		if _, ok := lookup(t, s).Members["x"]; ok {
			t.Error("Lookup() result shares the table")
		}
		if _, err := s.Lookup("members"); err == nil {
			t.Error("Lookup() of an unknown query succeeded")
		}
	})

	t.Run("Snapshot", func(t *testing.T) {
		var buf bytes.Buffer
		if err := s.SaveSnapshot(&buf, nil, nil); err != nil {
			t.Fatalf("SaveSnapshot() error = %v", err)
		}
		restored := NewStateMachine(1, 2)
		if err := restored.RecoverFromSnapshot(&buf, nil, make(chan struct{})); err != nil {
			t.Fatalf("RecoverFromSnapshot() error = %v", err)
		}
		if !reflect.DeepEqual(lookup(t, restored), lookup(t, s)) {
			t.Errorf("restored = %+v, want %+v", lookup(t, restored), lookup(t, s))
		}
	})

	t.Run("Cloud", func(t *testing.T) {
		c, err := cluster.NewCloud("b", lookup(t, s).Members)
		if err != nil {
			t.Fatal(err)
		}
		if c.Size() != 2 || c.Self().Name != "b" {
			t.Errorf("cloud = %v", c.Members())
		}
	})
}

func TestStateMachineLimit(t *testing.T) {
	s := NewStateMachine(1, 1)
	for i := 0; i < cluster.MaxTrackedNodes; i++ {
		if code := update(t, s, Command{Type: CommandTJoin, Name: fmt.Sprintf("n%02d", i)}); code != store.RetCSuccess {
			t.Fatalf("join %d: %s", i, code)
		}
	}
	if code := update(t, s, Command{Type: CommandTJoin, Name: "one-too-many"}); code != store.RetCInvalidOperation {
		t.Errorf("join beyond the limit: %s", code)
	}
	if res, _ := s.Update(sm.Entry{Cmd: []byte{1}}); store.RetCode(res.Value) != store.RetCInternalError {
		t.Errorf("garbage command: %s", store.RetCode(res.Value))
	}
}
