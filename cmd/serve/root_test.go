package serve

import (
	"testing"

	"github.com/ValentinKolb/ckv/lib/persist"
	"github.com/spf13/viper"
)

func setFlags(t *testing.T, values map[string]any) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	defaults := map[string]any{
		"endpoint":        "localhost:8080",
		"max-value-size":  "64MB",
		"max-memory":      "0",
		"buffer-size":     "512KB",
		"default-backend": "none",
		"timeout":         5,
		"workers":         8,
	}
	for k, v := range defaults {
		viper.Set(k, v)
	}
	for k, v := range values {
		viper.Set(k, v)
	}
}

func TestConfigFromViper(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]any
		wantErr bool
		check   func(t *testing.T, cfgMembers int, raft bool)
	}{
		{"static", map[string]any{"name": "a", "members": "a=h1:1,b=h2:1"}, false, func(t *testing.T, n int, raft bool) {
			if n != 2 || raft {
				t.Errorf("members %d, raft %v", n, raft)
			}
		}},
		{"raft", map[string]any{"name": "a", "raft-members": "a=h1:2,b=h2:2", "raft-shard-id": 7}, false, func(t *testing.T, n int, raft bool) {
			if !raft {
				t.Error("expected the raft membership")
			}
		}},
		{"missing name", map[string]any{"members": "a=h1:1"}, true, nil},
		{"self not listed", map[string]any{"name": "c", "members": "a=h1:1"}, true, nil},
		{"self not in raft", map[string]any{"name": "c", "raft-members": "a=h1:2"}, true, nil},
		{"bad size", map[string]any{"name": "a", "members": "a=h1:1", "max-memory": "lots"}, true, nil},
		{"ice without dir", map[string]any{"name": "a", "members": "a=h1:1", "default-backend": "ice"}, true, nil},
		{"unsupported backend", map[string]any{"name": "a", "members": "a=h1:1", "default-backend": "s3"}, true, nil},
		{"unknown backend", map[string]any{"name": "a", "members": "a=h1:1", "default-backend": "tape"}, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setFlags(t, tt.values)
			cfg, err := configFromViper()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, len(cfg.Members), cfg.HasRaftMembership())
		})
	}
}

func TestConfigSizesAndBackend(t *testing.T) {
	setFlags(t, map[string]any{
		"name":            "a",
		"members":         "a=h1:1",
		"max-value-size":  "1MB",
		"max-memory":      "2GB",
		"default-backend": "ice",
		"ice-dir":         t.TempDir(),
	})
	cfg, err := configFromViper()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxValueSize.Bytes() != 1<<20 {
		t.Errorf("max value size = %d", cfg.MaxValueSize.Bytes())
	}
	if cfg.MaxMemory.Bytes() != 2<<30 {
		t.Errorf("max memory = %d", cfg.MaxMemory.Bytes())
	}
	if cfg.DefaultBackend != persist.TagICE {
		t.Errorf("default backend = %s", cfg.DefaultBackend)
	}
}

func TestReplicaIDs(t *testing.T) {
	setFlags(t, map[string]any{"name": "a", "raft-members": "a=h1:2,b=h2:2,c=h3:2"})
	cfg, err := configFromViper()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Raft.Members) != 3 {
		t.Fatalf("replica ids collided: %v", cfg.Raft.Members)
	}
	if addr := cfg.Raft.Members[cfg.Raft.ReplicaID]; addr != "h1:2" {
		t.Errorf("own raft address = %q, want h1:2", addr)
	}
	if replicaID("a") != cfg.Raft.ReplicaID {
		t.Error("replica id is not stable")
	}
}
