package nfs

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
)

type desc struct {
	key string
	mem []byte
	max int
}

func (d desc) Key() string { return d.key }
func (d desc) Max() int    { return d.max }
func (d desc) Mem() []byte { return d.mem }

func TestBackend(t *testing.T) {
	b, err := New(afero.NewMemMapFs(), "/data")
	if err != nil {
		t.Fatal(err)
	}
	d := desc{key: "a/b\x00c", mem: []byte("hello world"), max: 11}

	if _, err := b.Load(d, d.max); err == nil {
		t.Error("Load() of a missing value should fail")
	}
	if err := b.Store(d); err != nil {
		t.Fatalf("Store() error: %v", err)
	}

	tests := []struct {
		name   string
		length int
		want   []byte
	}{
		{name: "Full", length: 11, want: []byte("hello world")},
		{name: "Prefix", length: 5, want: []byte("hello")},
		{name: "Zero means all", length: 0, want: []byte("hello world")},
		{name: "Clamped", length: 100, want: []byte("hello world")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.Load(desc{key: d.key, max: d.max}, tt.length)
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Load() = %q, want %q", got, tt.want)
			}
		})
	}

	if err := b.Delete(d); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := b.Delete(d); err != nil {
		t.Errorf("second Delete() should be a no-op, got %v", err)
	}
	if _, err := b.Load(d, d.max); err == nil {
		t.Error("Load() after Delete() should fail")
	}
}

func TestStoreRequiresMemory(t *testing.T) {
	b, err := New(afero.NewMemMapFs(), "/data")
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Store(desc{key: "k", max: 3}); err == nil {
		t.Error("Store() without bytes should fail")
	}
}
