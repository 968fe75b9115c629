package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	coreerrors "github.com/aevon-lab/carbonrelay/internal/core/errors"
	"github.com/aevon-lab/carbonrelay/internal/core/hashring"
	"github.com/aevon-lab/carbonrelay/internal/relay"
)

func writeConfig(t *testing.T, root, body string) string {
	t.Helper()
	path := filepath.Join(root, "carbonrelay.yaml")
	requireNoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_ValidConfigAndRules(t *testing.T) {
	root := t.TempDir()
	rulesDir := filepath.Join(root, "rules")
	requireNoError(t, os.MkdirAll(rulesDir, 0o755))
	requireNoError(t, os.WriteFile(filepath.Join(rulesDir, "cpu.conf"), []byte(
		"servers.all.cpu (60) = sum servers.*.cpu\n"), 0o644))
	rewriteFile := filepath.Join(root, "rewrite.yaml")
	requireNoError(t, os.WriteFile(rewriteFile, []byte(`
pre:
  - pattern: '^collectd\.'
    replacement: 'servers.'
`), 0o644))

	cfgPath := writeConfig(t, root, fmt.Sprintf(`
server:
  port: 2080
  host: "127.0.0.1"
relay:
  nodes: ["10.0.0.1:2004:a", "10.0.0.2:2004:a"]
  hash_type: crc32
  replication_factor: 2
  method: aggregated-consistent-hashing
aggregation:
  rules_dir: "%s"
  rewrite_file: "%s"
  suppress_original: true
  max_lateness: 30s
  flush_interval: 5s
`, rulesDir, rewriteFile))

	cfg, err := Load(cfgPath)
	requireNoError(t, err)

	if cfg.Server.Port != 2080 || cfg.Server.Mode != "release" {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if len(cfg.Relay.Nodes) != 2 || cfg.Relay.ReplicaCount != hashring.DefaultReplicaCount {
		t.Fatalf("unexpected relay config: %+v", cfg.Relay)
	}
	if cfg.Relay.ParsedHashType() != hashring.HashCRC32 {
		t.Fatalf("expected crc32, got %s", cfg.Relay.ParsedHashType())
	}
	if cfg.Relay.ParsedMethod() != relay.MethodAggregatedConsistentHashing {
		t.Fatalf("unexpected method %q", cfg.Relay.ParsedMethod())
	}
	if !cfg.Aggregation.SuppressOriginal {
		t.Fatal("expected suppress_original to be true")
	}
	if cfg.Aggregation.MaxLateness != 30*time.Second || cfg.Aggregation.FlushInterval != 5*time.Second {
		t.Fatalf("unexpected durations: %+v", cfg.Aggregation)
	}
	if cfg.Aggregation.EmitRetryTimeout != 5*time.Second {
		t.Fatalf("expected default emit_retry_timeout of 5s, got %s", cfg.Aggregation.EmitRetryTimeout)
	}
	if cfg.Rules.Len() != 1 {
		t.Fatalf("expected 1 loaded rule, got %d", cfg.Rules.Len())
	}
	if len(cfg.Rewrites.Pre) != 1 {
		t.Fatalf("expected 1 pre rewrite, got %d", len(cfg.Rewrites.Pre))
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	root := t.TempDir()
	t.Setenv("CARBONRELAY_AGGREGATION__RULES_DIR", filepath.Join(root, "missing"))

	cfg, err := Load("")
	requireNoError(t, err)
	if cfg.Aggregation.SuppressOriginal {
		t.Fatal("originals must not be suppressed by default")
	}
	if cfg.Relay.ParsedMethod() != relay.MethodConsistentHashing || cfg.Relay.ParsedHashType() != hashring.HashMD5 {
		t.Fatalf("unexpected relay defaults: %+v", cfg.Relay)
	}
	if cfg.Rules.Len() != 0 {
		t.Fatalf("expected no rules, got %d", cfg.Rules.Len())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	root := t.TempDir()
	t.Setenv("CARBONRELAY_AGGREGATION__RULES_DIR", root)
	t.Setenv("CARBONRELAY_SERVER__PORT", "9090")
	t.Setenv("CARBONRELAY_RELAY__NODES", "a:2004, b:2004,c:2004")
	t.Setenv("CARBONRELAY_AGGREGATION__SUPPRESS_ORIGINAL", "true")
	t.Setenv("CARBONRELAY_AGGREGATION__MAX_LATENESS", "45s")

	cfg, err := Load("")
	requireNoError(t, err)
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if strings.Join(cfg.Relay.Nodes, "|") != "a:2004|b:2004|c:2004" {
		t.Fatalf("unexpected nodes %q", cfg.Relay.Nodes)
	}
	if !cfg.Aggregation.SuppressOriginal || cfg.Aggregation.MaxLateness != 45*time.Second {
		t.Fatalf("env overrides not applied: %+v", cfg.Aggregation)
	}
}

func TestLoad_InvalidSettingsFailStartup(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "port", body: "server:\n  port: -1\n", want: "invalid server.port"},
		{name: "mode", body: "server:\n  mode: fast\n", want: "invalid server.mode"},
		{name: "hash", body: "relay:\n  hash_type: sha1\n", want: "unsupported hash type"},
		{name: "method", body: "relay:\n  method: random\n", want: "unsupported relay method"},
		{name: "replicas", body: "relay:\n  replica_count: 0\n", want: "relay.replica_count"},
		{name: "duplicate node", body: "relay:\n  nodes: [a, a]\n", want: "twice"},
		{name: "flush interval", body: "aggregation:\n  flush_interval: 0s\n", want: "aggregation.flush_interval"},
		{name: "log level", body: "log:\n  level: loud\n", want: "unknown log level"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfgPath := writeConfig(t, t.TempDir(), tc.body)
			_, err := Load(cfgPath)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
			if !errors.Is(err, coreerrors.ErrConfiguration) {
				t.Fatalf("expected a configuration error, got %v", err)
			}
		})
	}
}

func TestLoad_InvalidRuleFileFailsStartup(t *testing.T) {
	root := t.TempDir()
	rulesDir := filepath.Join(root, "rules")
	requireNoError(t, os.MkdirAll(rulesDir, 0o755))
	requireNoError(t, os.WriteFile(filepath.Join(rulesDir, "bad.conf"), []byte(
		"servers.all.cpu (0) = sum servers.*.cpu\n"), 0o644))

	cfgPath := writeConfig(t, root, fmt.Sprintf("aggregation:\n  rules_dir: %q\n", rulesDir))

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "failed to load aggregation rules") {
		t.Fatalf("expected rule load error, got %v", err)
	}
}

func TestLoad_InvalidRewriteFileFailsStartup(t *testing.T) {
	root := t.TempDir()
	rewriteFile := filepath.Join(root, "rewrite.yaml")
	requireNoError(t, os.WriteFile(rewriteFile, []byte("post:\n  - pattern: '[a-'\n"), 0o644))

	cfgPath := writeConfig(t, root, fmt.Sprintf("aggregation:\n  rules_dir: %q\n  rewrite_file: %q\n", root, rewriteFile))

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "failed to load rewrite rules") {
		t.Fatalf("expected rewrite load error, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "failed to load config file") {
		t.Fatalf("expected file error, got %v", err)
	}
}

func requireNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
