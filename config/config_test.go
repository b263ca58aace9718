package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vinayprograms/peerkit/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "peerkit.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// --- Unit Tests ---

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Node.ID == "" {
		t.Error("Node.ID should default to the hostname")
	}
	if cfg.Heartbeat.Interval != 30*time.Second {
		t.Errorf("Interval = %v, want 30s", cfg.Heartbeat.Interval)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Registry.Backend != "memory" || cfg.Registry.TTL != 2*time.Minute {
		t.Errorf("Registry = %+v", cfg.Registry)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{"default", func(c *Config) {}, true},
		{"empty node id", func(c *Config) { c.Node.ID = "" }, false},
		{"negative interval", func(c *Config) { c.Heartbeat.Interval = -time.Second }, false},
		{"zero interval", func(c *Config) { c.Heartbeat.Interval = 0 }, true},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, false},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, false},
		{"bad protocol", func(c *Config) { c.Telemetry.Protocol = "udp" }, false},
		{"sample ratio above one", func(c *Config) { c.Telemetry.SampleRatio = 1.5 }, false},
		{"bad registry backend", func(c *Config) { c.Registry.Backend = "consul" }, false},
		{"nats registry without url", func(c *Config) { c.Registry.Backend = "nats" }, false},
		{"nats registry with url", func(c *Config) {
			c.Registry.Backend = "nats"
			c.Node.NATSURL = "nats://localhost:4222"
		}, true},
		{"etcd registry without endpoints", func(c *Config) { c.Registry.Backend = "etcd" }, false},
		{"etcd registry", func(c *Config) {
			c.Registry.Backend = "etcd"
			c.Registry.Endpoints = []string{"localhost:2379"}
		}, true},
		{"memory peer", func(c *Config) {
			c.Peers = []PeerConfig{{ID: "bob", Transport: TransportMemory}}
		}, true},
		{"peer without id", func(c *Config) {
			c.Peers = []PeerConfig{{Transport: TransportMemory}}
		}, false},
		{"duplicate peer", func(c *Config) {
			c.Peers = []PeerConfig{
				{ID: "bob", Transport: TransportMemory},
				{ID: "bob", Transport: TransportMemory},
			}
		}, false},
		{"unknown transport", func(c *Config) {
			c.Peers = []PeerConfig{{ID: "bob", Transport: "carrier-pigeon"}}
		}, false},
		{"nats peer without subject", func(c *Config) {
			c.Node.NATSURL = "nats://localhost:4222"
			c.Peers = []PeerConfig{{ID: "bob", Transport: TransportNATS}}
		}, false},
		{"nats peer without server", func(c *Config) {
			c.Peers = []PeerConfig{{ID: "bob", Transport: TransportNATS, PeerSubject: "peers.bob"}}
		}, false},
		{"nats peer", func(c *Config) {
			c.Node.NATSURL = "nats://localhost:4222"
			c.Peers = []PeerConfig{{ID: "bob", Transport: TransportNATS, PeerSubject: "peers.bob"}}
		}, true},
		{"websocket dial", func(c *Config) {
			c.Peers = []PeerConfig{{ID: "bob", Transport: TransportWebSocket, URL: "ws://bob:8080/peer"}}
		}, true},
		{"websocket accept", func(c *Config) {
			c.Peers = []PeerConfig{{ID: "bob", Transport: TransportWebSocket, Listen: ":8080"}}
		}, true},
		{"websocket neither", func(c *Config) {
			c.Peers = []PeerConfig{{ID: "bob", Transport: TransportWebSocket}}
		}, false},
		{"http without url", func(c *Config) {
			c.Peers = []PeerConfig{{ID: "bob", Transport: TransportHTTP, Listen: ":8080"}}
		}, false},
		{"msgpack websocket", func(c *Config) {
			c.Peers = []PeerConfig{{ID: "bob", Transport: TransportWebSocket, URL: "ws://bob/peer", Codec: "msgpack"}}
		}, true},
		{"unknown codec", func(c *Config) {
			c.Peers = []PeerConfig{{ID: "bob", Transport: TransportMemory, Codec: "xml"}}
		}, false},
		{"msgpack http", func(c *Config) {
			c.Peers = []PeerConfig{{ID: "bob", Transport: TransportHTTP, URL: "http://bob", Codec: "msgpack"}}
		}, false},
		{"negative request timeout", func(c *Config) {
			c.Peers = []PeerConfig{{ID: "bob", Transport: TransportMemory, RequestTimeout: -1}}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.valid {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, errors.ErrCodeInvalidConfig) {
					t.Errorf("error code = %v, want %v", errors.Code(err), errors.ErrCodeInvalidConfig)
				}
			}
		})
	}
}

func TestPeerConfig_Address(t *testing.T) {
	tests := []struct {
		peer PeerConfig
		want string
	}{
		{PeerConfig{ID: "bob", URL: "ws://bob/peer"}, "ws://bob/peer"},
		{PeerConfig{ID: "bob", PeerSubject: "peers.bob"}, "peers.bob"},
		{PeerConfig{ID: "bob", Listen: ":8080", Path: "/peer"}, ":8080/peer"},
		{PeerConfig{ID: "bob"}, "bob"},
	}
	for _, tt := range tests {
		if got := tt.peer.Address(); got != tt.want {
			t.Errorf("Address() = %q, want %q", got, tt.want)
		}
	}
}

// --- Integration Tests ---

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[node]
id = "alice"
nats_url = "nats://localhost:4222"

[heartbeat]
interval = "5s"

[log]
level = "debug"
format = "json"

[telemetry]
endpoint = "localhost:4317"
insecure = true
sample_ratio = 0.25
metrics_addr = ":9090"

[registry]
backend = "nats"
ttl = "1m"

[[peers]]
id = "bob"
transport = "nats"
local_subject = "peers.alice"
peer_subject = "peers.bob"
request_timeout = "2s"

[[peers]]
id = "carol"
transport = "websocket"
url = "ws://carol:8080/peer"
codec = "msgpack"
`)

	cfg, err := LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	if cfg.Node.ID != "alice" {
		t.Errorf("Node.ID = %q", cfg.Node.ID)
	}
	if cfg.Heartbeat.Interval != 5*time.Second {
		t.Errorf("Interval = %v, want 5s", cfg.Heartbeat.Interval)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if !cfg.Telemetry.Insecure || cfg.Telemetry.SampleRatio != 0.25 || cfg.Telemetry.MetricsAddr != ":9090" {
		t.Errorf("Telemetry = %+v", cfg.Telemetry)
	}
	if cfg.Telemetry.Protocol != "grpc" {
		t.Errorf("Protocol = %q, default should survive", cfg.Telemetry.Protocol)
	}
	if cfg.Registry.Backend != "nats" || cfg.Registry.TTL != time.Minute || cfg.Registry.Bucket != "peer-registry" {
		t.Errorf("Registry = %+v", cfg.Registry)
	}
	if len(cfg.Peers) != 2 {
		t.Fatalf("Peers = %d, want 2", len(cfg.Peers))
	}
	if cfg.Peers[0].PeerSubject != "peers.bob" || cfg.Peers[0].RequestTimeout != 2*time.Second {
		t.Errorf("Peers[0] = %+v", cfg.Peers[0])
	}
	if cfg.Peers[1].URL != "ws://carol:8080/peer" || cfg.Peers[1].Codec != "msgpack" {
		t.Errorf("Peers[1] = %+v", cfg.Peers[1])
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "[node\nid = 1"},
		{"unknown key", "[node]\nid = \"alice\"\ncolour = \"blue\""},
		{"invalid values", "[log]\nformat = \"xml\""},
		{"bad duration", "[heartbeat]\ninterval = \"soon\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(context.Background(), writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, errors.ErrCodeInvalidConfig) {
				t.Errorf("error code = %v", errors.Code(err))
			}
		})
	}

	if _, err := LoadFile(context.Background(), filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFile_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[node]
id = "alice"

[heartbeat]
interval = "5s"
`)
	t.Setenv("PEERKIT_NODE_ID", "alice-prod")
	t.Setenv("PEERKIT_HEARTBEAT_INTERVAL", "250ms")
	t.Setenv("PEERKIT_LOG_LEVEL", "warn")
	t.Setenv("PEERKIT_OTLP_INSECURE", "true")
	t.Setenv("PEERKIT_REGISTRY_ENDPOINTS", "etcd-1:2379,etcd-2:2379")

	cfg, err := LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if cfg.Node.ID != "alice-prod" {
		t.Errorf("Node.ID = %q, want alice-prod", cfg.Node.ID)
	}
	if cfg.Heartbeat.Interval != 250*time.Millisecond {
		t.Errorf("Interval = %v, want 250ms", cfg.Heartbeat.Interval)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
	if !cfg.Telemetry.Insecure {
		t.Error("Telemetry.Insecure should be set from the environment")
	}
	if len(cfg.Registry.Endpoints) != 2 || cfg.Registry.Endpoints[1] != "etcd-2:2379" {
		t.Errorf("Registry.Endpoints = %v", cfg.Registry.Endpoints)
	}
	if cfg.Log.Format != "console" {
		t.Errorf("Log.Format = %q, unset variables must keep the file value", cfg.Log.Format)
	}
}

func TestApplyEnv_BadValue(t *testing.T) {
	t.Setenv("PEERKIT_HEARTBEAT_INTERVAL", "often")
	err := ApplyEnv(context.Background(), Default())
	if !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("ApplyEnv = %v, want invalid config", err)
	}
}

func TestLoad_StandardPathAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	os.WriteFile("peerkit.toml", []byte("[node]\nid = \"from-file\"\n"), 0600)
	os.WriteFile(".env", []byte("PEERKIT_LOG_FORMAT=json\n"), 0600)
	t.Setenv("PEERKIT_LOG_FORMAT", "")
	os.Unsetenv("PEERKIT_LOG_FORMAT")

	cfg, path, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if path != "peerkit.toml" {
		t.Errorf("path = %q, want peerkit.toml", path)
	}
	if cfg.Node.ID != "from-file" {
		t.Errorf("Node.ID = %q", cfg.Node.ID)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json from .env", cfg.Log.Format)
	}
}
