package config

import (
	"fmt"
	"strings"
	"time"

	coreagg "github.com/aevon-lab/carbonrelay/internal/core/aggregation"
	coreerrors "github.com/aevon-lab/carbonrelay/internal/core/errors"
	"github.com/aevon-lab/carbonrelay/internal/core/hashring"
	"github.com/aevon-lab/carbonrelay/internal/core/rewrite"
	"github.com/aevon-lab/carbonrelay/internal/logging"
	"github.com/aevon-lab/carbonrelay/internal/relay"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment overrides: CARBONRELAY_RELAY__HASH_TYPE=crc32
// overrides relay.hash_type.
const EnvPrefix = "CARBONRELAY_"

// Config represents the top-level application config plus the rule files it
// points at, resolved by Load.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Log         LogConfig         `koanf:"log"`
	Relay       RelayConfig       `koanf:"relay"`
	Aggregation AggregationConfig `koanf:"aggregation"`
	Debug       DebugConfig       `koanf:"debug"`

	// Populated by Load after Validate.
	Rules    *coreagg.RuleSet  `koanf:"-"`
	Rewrites *rewrite.Pipeline `koanf:"-"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug | info | warn | error
	Format string `koanf:"format"` // text | json
}

type RelayConfig struct {
	Nodes                []string `koanf:"nodes"`
	ReplicaCount         int      `koanf:"replica_count"`
	HashType             string   `koanf:"hash_type"` // md5 | crc32 | hash
	ReplicationFactor    int      `koanf:"replication_factor"`
	Method               string   `koanf:"method"`
	DestinationQueueSize int      `koanf:"destination_queue_size"`
}

type AggregationConfig struct {
	RulesDir         string        `koanf:"rules_dir"`
	RewriteFile      string        `koanf:"rewrite_file"`
	SuppressOriginal bool          `koanf:"suppress_original"`
	MaxLateness      time.Duration `koanf:"max_lateness"`
	FlushInterval    time.Duration `koanf:"flush_interval"`
	IdleBufferTTL    time.Duration `koanf:"idle_buffer_ttl"`
	WorkerCount      int           `koanf:"worker_count"`
	QueueSize        int           `koanf:"queue_size"`
	EmitRetryTimeout time.Duration `koanf:"emit_retry_timeout"`
	Watch            bool          `koanf:"watch"`
}

type DebugConfig struct {
	EnableGops bool `koanf:"enable_gops"`
}

// ParsedHashType returns the parsed ring hash variant. Valid after Validate.
func (c RelayConfig) ParsedHashType() hashring.HashType {
	h, _ := hashring.ParseHashType(c.HashType)
	return h
}

// ParsedMethod returns the parsed relay method. Valid after Validate.
func (c RelayConfig) ParsedMethod() relay.Method {
	m, _ := relay.ParseMethod(c.Method)
	return m
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", coreerrors.ErrConfiguration, fmt.Sprintf(format, args...))
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return invalid("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return invalid("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return invalid("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid("invalid log.format %q (must be text or json)", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	if _, err := hashring.ParseHashType(c.Relay.HashType); err != nil {
		return fmt.Errorf("relay.hash_type: %w", err)
	}
	if c.Relay.ReplicaCount <= 0 {
		return invalid("relay.replica_count must be > 0")
	}
	if c.Relay.ReplicationFactor <= 0 {
		return invalid("relay.replication_factor must be > 0")
	}
	if _, err := relay.ParseMethod(c.Relay.Method); err != nil {
		return fmt.Errorf("relay.method: %w", err)
	}
	if c.Relay.DestinationQueueSize <= 0 {
		return invalid("relay.destination_queue_size must be > 0")
	}
	seen := make(map[string]struct{}, len(c.Relay.Nodes))
	for _, node := range c.Relay.Nodes {
		if strings.TrimSpace(node) == "" {
			return invalid("relay.nodes contains an empty entry")
		}
		if _, dup := seen[node]; dup {
			return invalid("relay.nodes lists %q twice", node)
		}
		seen[node] = struct{}{}
	}

	if strings.TrimSpace(c.Aggregation.RulesDir) == "" {
		return invalid("aggregation.rules_dir is required")
	}
	if c.Aggregation.MaxLateness < 0 {
		return invalid("aggregation.max_lateness must be >= 0")
	}
	if c.Aggregation.FlushInterval <= 0 {
		return invalid("aggregation.flush_interval must be > 0")
	}
	if c.Aggregation.IdleBufferTTL < 0 {
		return invalid("aggregation.idle_buffer_ttl must be >= 0")
	}
	if c.Aggregation.WorkerCount <= 0 {
		return invalid("aggregation.worker_count must be > 0")
	}
	if c.Aggregation.QueueSize <= 0 {
		return invalid("aggregation.queue_size must be > 0")
	}
	if c.Aggregation.EmitRetryTimeout < 0 {
		return invalid("aggregation.emit_retry_timeout must be >= 0")
	}

	return nil
}

// Load parses config from file + env, validates it, then loads and compiles
// the aggregation and rewrite rules. Any invalid rule aborts the load.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                    8080,
		"server.host":                    "0.0.0.0",
		"server.max_body_size_mb":        1,
		"server.mode":                    "release",
		"log.level":                      "info",
		"log.format":                     "text",
		"relay.nodes":                    []string{},
		"relay.replica_count":            hashring.DefaultReplicaCount,
		"relay.hash_type":                "md5",
		"relay.replication_factor":       1,
		"relay.method":                   string(relay.MethodConsistentHashing),
		"relay.destination_queue_size":   10000,
		"aggregation.rules_dir":          "./config/aggregation",
		"aggregation.rewrite_file":       "",
		"aggregation.suppress_original":  false,
		"aggregation.max_lateness":       "2m",
		"aggregation.flush_interval":     "10s",
		"aggregation.idle_buffer_ttl":    "0s",
		"aggregation.worker_count":       4,
		"aggregation.queue_size":         10000,
		"aggregation.emit_retry_timeout": "5s",
		"aggregation.watch":              true,
		"debug.enable_gops":              false,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.Replace(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "__", ".", -1)
		if key == "relay.nodes" {
			// CARBONRELAY_RELAY__NODES="a:2004,b:2004"
			return key, strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' })
		}
		return key, value
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rules, err := coreagg.LoadRuleSet(cfg.Aggregation.RulesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load aggregation rules: %w", err)
	}
	rewrites, err := rewrite.LoadFile(cfg.Aggregation.RewriteFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load rewrite rules: %w", err)
	}
	cfg.Rules = rules
	cfg.Rewrites = rewrites

	return &cfg, nil
}
