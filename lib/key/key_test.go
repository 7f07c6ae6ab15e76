package key

import (
	"testing"

	"github.com/ValentinKolb/ckv/lib/cluster"
)

func TestHomeAgreement(t *testing.T) {
	members := map[string]string{"a": "a:1", "b": "b:1", "c": "c:1"}
	var clouds []*cluster.Cloud
	for name := range members {
		c, err := cluster.NewCloud(name, members)
		if err != nil {
			t.Fatal(err)
		}
		clouds = append(clouds, c)
	}

	for _, k := range []Key{"", "a", "hello", Make([]byte{0, 1, 2, 255})} {
		homes := 0
		for _, c := range clouds {
			if k.IsHome(c) {
				homes++
			}
			if got, want := k.Home(c).Name, k.Home(clouds[0]).Name; got != want {
				t.Errorf("key %q: home %s, want %s", k, got, want)
			}
		}
		if homes != 1 {
			t.Errorf("key %q: %d nodes consider themselves home, want 1", k, homes)
		}
	}
}

func TestMakeCopies(t *testing.T) {
	b := []byte("abc")
	k := Make(b)
	b[0] = 'x'
	if k != "abc" {
		t.Errorf("Make() shares the input buffer: %q", k)
	}
	if k.Hash() != Key("abc").Hash() {
		t.Error("equal keys hash differently")
	}
}
