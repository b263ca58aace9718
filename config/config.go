// Package config loads node configuration from a TOML file, a .env file
// and PEERKIT_* environment variables, in increasing order of precedence.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/vinayprograms/peerkit/errors"
	"github.com/vinayprograms/peerkit/packet"
)

// Transport names accepted in [[peers]].
const (
	TransportNATS      = "nats"
	TransportWebSocket = "websocket"
	TransportHTTP      = "http"
	TransportMemory    = "memory"
)

// Config is the full node configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	Log       LogConfig       `toml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Registry  RegistryConfig  `toml:"registry"`
	Peers     []PeerConfig    `toml:"peers"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	// ID is written into rejects this node produces.
	ID string `toml:"id" env:"PEERKIT_NODE_ID, overwrite"`

	// NATSURL is the server used by nats peers and the nats registry.
	NATSURL string `toml:"nats_url" env:"PEERKIT_NATS_URL, overwrite"`
}

// HeartbeatConfig configures every scheduler the node runs.
type HeartbeatConfig struct {
	Interval time.Duration `toml:"interval" env:"PEERKIT_HEARTBEAT_INTERVAL, overwrite"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `toml:"level" env:"PEERKIT_LOG_LEVEL, overwrite"`
	Format string `toml:"format" env:"PEERKIT_LOG_FORMAT, overwrite"`
}

// TelemetryConfig configures tracing export and the metrics listener.
type TelemetryConfig struct {
	// Endpoint is the OTLP collector. Empty disables tracing.
	Endpoint    string  `toml:"endpoint" env:"PEERKIT_OTLP_ENDPOINT, overwrite"`
	Protocol    string  `toml:"protocol" env:"PEERKIT_OTLP_PROTOCOL, overwrite"`
	Insecure    bool    `toml:"insecure" env:"PEERKIT_OTLP_INSECURE, overwrite"`
	SampleRatio float64 `toml:"sample_ratio" env:"PEERKIT_OTLP_SAMPLE_RATIO, overwrite"`

	// MetricsAddr serves /metrics. Empty disables the listener.
	MetricsAddr string `toml:"metrics_addr" env:"PEERKIT_METRICS_ADDR, overwrite"`
}

// RegistryConfig selects where liveness is recorded.
type RegistryConfig struct {
	// Backend is "memory", "nats" or "etcd".
	Backend string `toml:"backend" env:"PEERKIT_REGISTRY_BACKEND, overwrite"`

	// Bucket names the NATS KV bucket, or the etcd key prefix.
	Bucket string        `toml:"bucket" env:"PEERKIT_REGISTRY_BUCKET, overwrite"`
	TTL    time.Duration `toml:"ttl" env:"PEERKIT_REGISTRY_TTL, overwrite"`

	// Endpoints are the etcd servers.
	Endpoints []string `toml:"endpoints" env:"PEERKIT_REGISTRY_ENDPOINTS, overwrite"`
}

// PeerConfig describes one peer link.
type PeerConfig struct {
	ID        string `toml:"id"`
	Transport string `toml:"transport"`

	// URL is where the peer is reached: a ws:// or http:// URL. For
	// websocket peers an empty URL means the peer dials this node.
	URL string `toml:"url"`

	// Listen is the local address serving this peer (websocket accept
	// side, http incoming requests).
	Listen string `toml:"listen"`

	// Path is the HTTP path for websocket upgrades and http packets.
	Path string `toml:"path"`

	// LocalSubject and PeerSubject are the NATS subjects this node and
	// the peer serve.
	LocalSubject string `toml:"local_subject"`
	PeerSubject  string `toml:"peer_subject"`

	// RequestTimeout bounds one request when the caller sets no deadline.
	RequestTimeout time.Duration `toml:"request_timeout"`

	// Codec is the wire format for nats and websocket links: "json"
	// (default) or "msgpack". Both peers must agree.
	Codec string `toml:"codec"`
}

// Address returns where the peer is reached, for display and registry
// entries.
func (p PeerConfig) Address() string {
	switch {
	case p.URL != "":
		return p.URL
	case p.PeerSubject != "":
		return p.PeerSubject
	case p.Listen != "":
		return p.Listen + p.Path
	default:
		return p.ID
	}
}

// Default returns configuration with sensible defaults.
func Default() *Config {
	host, _ := os.Hostname()
	if host == "" {
		host = "peer"
	}
	return &Config{
		Node: NodeConfig{
			ID: host,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
		Registry: RegistryConfig{
			Backend: "memory",
			Bucket:  "peer-registry",
			TTL:     2 * time.Minute,
		},
	}
}

// StandardPaths returns the config file locations in order of priority.
func StandardPaths() []string {
	paths := []string{"peerkit.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "peerkit", "peerkit.toml"))
	}
	return paths
}

// Load reads .env if present, the first config file found in
// StandardPaths, then environment overrides, and validates the result.
// It returns the path used, or "" when only defaults and environment
// applied.
func Load(ctx context.Context) (*Config, string, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, "", fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	var path string
	for _, p := range StandardPaths() {
		if _, err := os.Stat(p); err == nil {
			path = p
			break
		}
	}
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, path, err
		}
	}

	if err := ApplyEnv(ctx, cfg); err != nil {
		return nil, path, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// LoadFile reads one config file over the defaults, applies environment
// overrides and validates the result.
func LoadFile(ctx context.Context, path string) (*Config, error) {
	cfg := Default()
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := ApplyEnv(ctx, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overwrites fields whose PEERKIT_* variable is set.
func ApplyEnv(ctx context.Context, cfg *Config) error {
	if err := envconfig.Process(ctx, cfg); err != nil {
		return errors.InvalidConfig("environment: " + err.Error())
	}
	return nil
}

func decodeFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return errors.InvalidConfig(fmt.Sprintf("%s: %v", path, err))
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return errors.InvalidConfig(fmt.Sprintf("%s: unknown keys: %s", path, strings.Join(keys, ", ")))
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return errors.InvalidConfig("node.id required")
	}
	if c.Heartbeat.Interval < 0 {
		return errors.InvalidConfig("heartbeat.interval must not be negative")
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return errors.InvalidConfig("log.level must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return errors.InvalidConfig("log.format must be console or json")
	}

	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return errors.InvalidConfig("telemetry.protocol must be grpc or http")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return errors.InvalidConfig("telemetry.sample_ratio must be between 0 and 1")
	}

	switch c.Registry.Backend {
	case "", "memory":
	case "nats":
		if c.Node.NATSURL == "" {
			return errors.InvalidConfig("registry.backend nats requires node.nats_url")
		}
	case "etcd":
		if len(c.Registry.Endpoints) == 0 {
			return errors.InvalidConfig("registry.backend etcd requires registry.endpoints")
		}
	default:
		return errors.InvalidConfig("registry.backend must be memory, nats or etcd")
	}

	seen := make(map[string]bool, len(c.Peers))
	for i, p := range c.Peers {
		if p.ID == "" {
			return errors.InvalidConfig(fmt.Sprintf("peers[%d]: id required", i))
		}
		if seen[p.ID] {
			return errors.InvalidConfig(fmt.Sprintf("peers[%d]: duplicate id %q", i, p.ID))
		}
		seen[p.ID] = true
		if err := p.validate(c); err != nil {
			return errors.InvalidConfig(fmt.Sprintf("peer %s: %s", p.ID, err))
		}
	}
	return nil
}

func (p PeerConfig) validate(c *Config) error {
	if p.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must not be negative")
	}
	if _, err := packet.CodecByName(p.Codec); err != nil {
		return err
	}
	switch p.Transport {
	case TransportNATS:
		if c.Node.NATSURL == "" && p.URL == "" {
			return fmt.Errorf("nats transport requires node.nats_url or url")
		}
		if p.PeerSubject == "" {
			return fmt.Errorf("nats transport requires peer_subject")
		}
	case TransportWebSocket:
		if p.URL == "" && p.Listen == "" {
			return fmt.Errorf("websocket transport requires url (dial) or listen (accept)")
		}
	case TransportHTTP:
		if p.URL == "" {
			return fmt.Errorf("http transport requires url")
		}
		if p.Codec != "" && p.Codec != "json" {
			return fmt.Errorf("http transport only carries json")
		}
	case TransportMemory:
	default:
		return fmt.Errorf("unknown transport %q", p.Transport)
	}
	return nil
}
