package ice

import (
	"bytes"
	"testing"
)

type desc struct {
	key string
	mem []byte
}

func (d desc) Key() string { return d.key }
func (d desc) Max() int    { return len(d.mem) }
func (d desc) Mem() []byte { return d.mem }

func TestBackend(t *testing.T) {
	b, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	d := desc{key: "key", mem: []byte("payload")}
	if _, err := b.Load(d, len(d.mem)); err == nil {
		t.Error("Load() of a missing key should fail")
	}
	if err := b.Store(d); err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	got, err := b.Load(d, 3)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !bytes.HasPrefix(got, []byte("pay")) {
		t.Errorf("Load() = %q", got)
	}
	if err := b.Delete(d); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := b.Load(d, len(d.mem)); err == nil {
		t.Error("Load() after Delete() should fail")
	}
}
