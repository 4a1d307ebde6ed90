package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("missing config file should not error: %v", err)
	}

	if cfg.Chain.HashAlgorithm != "SHA-256" {
		t.Errorf("default hash_algorithm = %q", cfg.Chain.HashAlgorithm)
	}
	if cfg.Chain.GenesisSentinel != zeroDigest {
		t.Errorf("default genesis_sentinel = %q", cfg.Chain.GenesisSentinel)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 3800 {
		t.Errorf("default server = %s", cfg.Server.Addr())
	}
	if cfg.Chain.Dir == "" {
		t.Error("default chain dir should be set")
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
chain:
  dir: /var/lib/chainaudit
server:
  host: 0.0.0.0
  port: 9000
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Chain.Dir != "/var/lib/chainaudit" {
		t.Errorf("chain.dir = %q", cfg.Chain.Dir)
	}
	if cfg.Server.Addr() != "0.0.0.0:9000" {
		t.Errorf("server addr = %q", cfg.Server.Addr())
	}
	// Unset fields keep their defaults.
	if cfg.Chain.HashAlgorithm != "SHA-256" {
		t.Errorf("hash_algorithm default lost: %q", cfg.Chain.HashAlgorithm)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"unsupported algorithm",
			"chain:\n  hash_algorithm: MD5\n",
			"hash_algorithm",
		},
		{
			"short sentinel",
			"chain:\n  genesis_sentinel: abc123\n",
			"genesis_sentinel",
		},
		{
			"non-hex sentinel",
			"chain:\n  genesis_sentinel: " + strings.Repeat("zz", 32) + "\n",
			"genesis_sentinel",
		},
		{
			"port out of range",
			"server:\n  port: 70000\n",
			"port",
		},
		{
			"malformed yaml",
			"chain: [not a mapping",
			"parsing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("writing config: %v", err)
			}

			_, err := Load(path)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("write default: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("generated config should load cleanly: %v", err)
	}
	if cfg.Chain.HashAlgorithm != "SHA-256" {
		t.Errorf("round-tripped hash_algorithm = %q", cfg.Chain.HashAlgorithm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading generated config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# chainaudit configuration") {
		t.Error("generated config should start with the comment header")
	}
}
