package util

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestWrapString(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"short", "a short help text"},
		{"long", strings.Repeat("word ", 40)},
		{"long word", strings.Repeat("x", Wrap+10) + " tail"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := WrapString(tt.in)
			if got, want := strings.Join(strings.Fields(out), " "), strings.Join(strings.Fields(tt.in), " "); got != want {
				t.Errorf("words changed: got %q, want %q", got, want)
			}
			for _, line := range strings.Split(out, "\n") {
				if len(line) > Wrap && strings.Contains(line, " ") {
					t.Errorf("line of %d characters: %q", len(line), line)
				}
			}
		})
	}
}

func TestGetClientConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("transport-endpoints", "a:1, b:2,,")
	viper.Set("timeout", 4)
	viper.Set("transport-retries", 2)
	viper.Set("transport-read-buffer", 8)

	cfg := GetClientConfig()
	if len(cfg.Endpoints) != 2 || cfg.Endpoints[0] != "a:1" || cfg.Endpoints[1] != "b:2" {
		t.Errorf("endpoints = %q", cfg.Endpoints)
	}
	if cfg.TimeoutSecond != 4 || cfg.RetryCount != 2 {
		t.Errorf("timeout %d, retries %d", cfg.TimeoutSecond, cfg.RetryCount)
	}
	if cfg.Transport.ReadBufferSize != 8*1024 {
		t.Errorf("read buffer = %d", cfg.Transport.ReadBufferSize)
	}
}

func TestTransportSelection(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, name := range TransportNames {
		viper.Set("transport", name)
		if _, err := GetTransport(); err != nil {
			t.Errorf("client transport %s: %v", name, err)
		}
		if _, err := GetServerTransport(1024); err != nil {
			t.Errorf("server transport %s: %v", name, err)
		}
	}

	viper.Set("transport", "carrier-pigeon")
	if _, err := GetTransport(); err == nil {
		t.Error("expected an error for an unknown transport")
	}
}
