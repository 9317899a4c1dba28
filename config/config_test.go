package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oib/AITBC-sub002/types"
)

// TestLoadFileAndEnv checks the precedence chain: defaults, then the YAML
// file, then environment variables.
func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aitbcd.yml")
	data := []byte(`
chain:
  chain_id: site-a
  mint_per_unit: 7
coordinator:
  max_retries: 5
api:
  rpc_bind: "localhost:7777"
`)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CHAIN_ID", "site-b")
	t.Setenv("HEARTBEAT_GRACE_SEC", "45")
	t.Setenv("CROSS_SITE_SYNC_ENABLED", "true")
	t.Setenv("CROSS_SITE_REMOTE_ENDPOINTS", "http://a:9980, http://b:9980")
	t.Setenv("COORDINATOR_SHARED_SECRET", "s3cret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Chain.ChainID != "site-b" {
		t.Error("env did not override the file, chain id:", cfg.Chain.ChainID)
	}
	if cfg.Chain.MintPerUnit != 7 {
		t.Error("file did not override the default, mint per unit:", cfg.Chain.MintPerUnit)
	}
	if cfg.Coordinator.MaxRetries != 5 || cfg.API.RPCBind != "localhost:7777" {
		t.Error("file values lost:", cfg.Coordinator.MaxRetries, cfg.API.RPCBind)
	}
	if cfg.Chain.MaxTxsPerBlock != types.MaxTxsPerBlock {
		t.Error("untouched option lost its default:", cfg.Chain.MaxTxsPerBlock)
	}
	if cfg.PoolHub.HeartbeatGraceSec != 45 {
		t.Error("heartbeat grace:", cfg.PoolHub.HeartbeatGraceSec)
	}
	if !cfg.Sync.Enabled || len(cfg.Sync.RemoteEndpoints) != 2 || cfg.Sync.RemoteEndpoints[1] != "http://b:9980" {
		t.Error("sync env parsing:", cfg.Sync.Enabled, cfg.Sync.RemoteEndpoints)
	}
	// The shared secret fans out to both modules that check it.
	if cfg.Coordinator.SharedSecret != "s3cret" || cfg.PoolHub.SharedSecret != "s3cret" {
		t.Error("shared secret:", cfg.Coordinator.SharedSecret, cfg.PoolHub.SharedSecret)
	}
}

// TestLoadMissingFile checks that a named-but-absent file is an error while an
// empty path is not.
func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Error("missing config file did not error")
	}
	if _, err := Load(""); err != nil {
		t.Error("empty path errored:", err)
	}
}

// TestValidateAPI checks the startup refusals around API credentials.
func TestValidateAPI(t *testing.T) {
	cfg := Default()
	if err := cfg.ValidateAPI("standard"); err != ErrMissingJWTSecret {
		t.Error("missing jwt secret:", err)
	}

	cfg.API.JWTSecret = "secret"
	cfg.API.CORSAllowedOrigins = []string{"https://app.example.com", "*"}
	if err := cfg.ValidateAPI("standard"); err != ErrWildcardOrigin {
		t.Error("wildcard origin in standard:", err)
	}
	// Dev builds may use wildcards.
	if err := cfg.ValidateAPI("dev"); err != nil {
		t.Error("wildcard origin in dev:", err)
	}

	cfg.API.CORSAllowedOrigins = []string{"https://app.example.com"}
	if err := cfg.ValidateAPI("standard"); err != nil {
		t.Error("valid config refused:", err)
	}
}
