// Package config loads daemon configuration from a YAML file and environment
// variables. Environment variables override file values; every option has a
// default except the secrets that must be supplied by the operator.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oib/AITBC-sub002/types"
)

var (
	// ErrMissingJWTSecret is returned when the API is enabled without
	// JWT_SECRET. Startup must fail rather than run an unauthenticated API.
	ErrMissingJWTSecret = errors.New("JWT_SECRET is required and not set")
	// ErrWildcardOrigin is returned when CORS_ALLOWED_ORIGINS contains a
	// wildcard in a standard release.
	ErrWildcardOrigin = errors.New("CORS_ALLOWED_ORIGINS must list exact origins, no wildcards")
)

type (
	// ChainConfig holds the chain node options.
	ChainConfig struct {
		ChainID           string   `yaml:"chain_id"`
		DBPath            string   `yaml:"db_path"`
		ProposerKeyFile   string   `yaml:"proposer_key"`
		GenesisFile       string   `yaml:"genesis_file"`
		MintPerUnit       uint64   `yaml:"mint_per_unit"`
		CoordinatorRatio  float64  `yaml:"coordinator_ratio"`
		BlockIntervalSec  float64  `yaml:"block_interval_sec"`
		MaxTxsPerBlock    int      `yaml:"max_txs_per_block"`
		MaxBlockSizeBytes int      `yaml:"max_block_size_bytes"`
		ReorgDepthLimit   uint64   `yaml:"reorg_depth_limit"`
		TrustedProposers  []string `yaml:"trusted_proposers"`
		AttestationAddr   string   `yaml:"attestation_addr"`
		// CoordinatorURL lets a standalone chain node fetch attestations
		// for claims that arrive without one.
		CoordinatorURL string `yaml:"coordinator_url"`
	}

	// SyncConfig holds the cross-site sync options.
	SyncConfig struct {
		Enabled          bool     `yaml:"enabled"`
		RemoteEndpoints  []string `yaml:"remote_endpoints"`
		PollIntervalSec  float64  `yaml:"poll_interval_sec"`
		BreakerThreshold int      `yaml:"breaker_threshold"`
		BreakerCooldown  float64  `yaml:"breaker_cooldown_sec"`
	}

	// GossipConfig selects and tunes the gossip broker.
	GossipConfig struct {
		// Backend is "inproc" or "kafka".
		Backend      string   `yaml:"backend"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
		KafkaGroupID string   `yaml:"kafka_group_id"`
		TopicPrefix  string   `yaml:"topic_prefix"`
	}

	// CoordinatorConfig holds the coordinator options.
	CoordinatorConfig struct {
		DatabaseURL        string  `yaml:"database_url"`
		SharedSecret       string  `yaml:"shared_secret"`
		AttestationKeyFile string  `yaml:"receipt_attestation_key"`
		PoolHubURL         string  `yaml:"pool_hub_url"`
		ChainURL           string  `yaml:"chain_url"`
		CoordinatorCut     float64 `yaml:"coordinator_cut"`
		ProtocolFee        uint64  `yaml:"protocol_fee"`
		MaxRetries         int     `yaml:"max_retries"`
		DefaultDeadlineSec int64   `yaml:"default_deadline_sec"`
	}

	// PoolHubConfig holds the pool hub options.
	PoolHubConfig struct {
		SharedSecret      string             `yaml:"shared_secret"`
		HeartbeatGraceSec float64            `yaml:"heartbeat_grace_sec"`
		SessionTTLSec     float64            `yaml:"session_ttl_sec"`
		ScoreWeights      types.ScoreWeights `yaml:"score_weights"`
		// TrustDecayPerDay is accepted for forward compatibility but not
		// applied by the scorer; time decay of trust is an open product
		// decision.
		TrustDecayPerDay float64 `yaml:"trust_decay_per_day"`
	}

	// APIConfig holds the HTTP surface options.
	APIConfig struct {
		RPCBind            string   `yaml:"rpc_bind"`
		P2PBind            string   `yaml:"p2p_bind"`
		JWTSecret          string   `yaml:"jwt_secret"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	}

	// Config is the root of the daemon configuration.
	Config struct {
		DataDir     string            `yaml:"data_dir"`
		Chain       ChainConfig       `yaml:"chain"`
		Sync        SyncConfig        `yaml:"sync"`
		Gossip      GossipConfig      `yaml:"gossip"`
		Coordinator CoordinatorConfig `yaml:"coordinator"`
		PoolHub     PoolHubConfig     `yaml:"pool_hub"`
		API         APIConfig         `yaml:"api"`
	}
)

// Default returns the configuration used when no file or environment override
// is present.
func Default() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:           "aitbc-devnet",
			MintPerUnit:       types.MintPerUnit,
			CoordinatorRatio:  types.CoordinatorRatio,
			BlockIntervalSec:  types.BlockInterval.Seconds(),
			MaxTxsPerBlock:    types.MaxTxsPerBlock,
			MaxBlockSizeBytes: types.MaxBlockSizeBytes,
			ReorgDepthLimit:   uint64(types.ReorgDepthLimit),
		},
		Sync: SyncConfig{
			PollIntervalSec:  types.SyncPollInterval.Seconds(),
			BreakerThreshold: 5,
			BreakerCooldown:  30,
		},
		Gossip: GossipConfig{
			Backend:     "inproc",
			TopicPrefix: "aitbc",
		},
		Coordinator: CoordinatorConfig{
			CoordinatorCut:     types.CoordinatorRatio,
			ProtocolFee:        1,
			MaxRetries:         types.MaxRetries,
			DefaultDeadlineSec: 300,
		},
		PoolHub: PoolHubConfig{
			HeartbeatGraceSec: types.HeartbeatGrace.Seconds(),
			SessionTTLSec:     types.SessionTTL.Seconds(),
			ScoreWeights:      types.DefaultScoreWeights,
		},
		API: APIConfig{
			RPCBind: "localhost:9980",
			P2PBind: "localhost:9981",
		},
	}
}

// Load reads the config file at path (if non-empty), applies environment
// overrides, and returns the result. A missing file is not an error when path
// is empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("could not read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("could not parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays the recognized environment variables onto the config.
func (cfg *Config) applyEnv() {
	envStr("CHAIN_ID", &cfg.Chain.ChainID)
	envStr("DB_PATH", &cfg.Chain.DBPath)
	envStr("DATABASE_URL", &cfg.Coordinator.DatabaseURL)
	envStr("RPC_BIND", &cfg.API.RPCBind)
	envStr("P2P_BIND", &cfg.API.P2PBind)
	envStr("PROPOSER_KEY", &cfg.Chain.ProposerKeyFile)
	envUint("MINT_PER_UNIT", &cfg.Chain.MintPerUnit)
	envFloat("COORDINATOR_RATIO", &cfg.Chain.CoordinatorRatio)
	envFloat("BLOCK_INTERVAL_SEC", &cfg.Chain.BlockIntervalSec)
	envInt("MAX_TXS_PER_BLOCK", &cfg.Chain.MaxTxsPerBlock)
	envInt("MAX_BLOCK_SIZE_BYTES", &cfg.Chain.MaxBlockSizeBytes)
	envFloat("HEARTBEAT_GRACE_SEC", &cfg.PoolHub.HeartbeatGraceSec)
	envFloat("SESSION_TTL_SEC", &cfg.PoolHub.SessionTTLSec)
	envBool("CROSS_SITE_SYNC_ENABLED", &cfg.Sync.Enabled)
	envList("CROSS_SITE_REMOTE_ENDPOINTS", &cfg.Sync.RemoteEndpoints)
	envFloat("CROSS_SITE_POLL_INTERVAL_SEC", &cfg.Sync.PollIntervalSec)
	envUint("REORG_DEPTH_LIMIT", &cfg.Chain.ReorgDepthLimit)
	if envStr("COORDINATOR_SHARED_SECRET", &cfg.Coordinator.SharedSecret) {
		cfg.PoolHub.SharedSecret = cfg.Coordinator.SharedSecret
	}
	envStr("JWT_SECRET", &cfg.API.JWTSecret)
	envList("CORS_ALLOWED_ORIGINS", &cfg.API.CORSAllowedOrigins)
	envStr("RECEIPT_ATTESTATION_KEY", &cfg.Coordinator.AttestationKeyFile)
	envList("TRUSTED_PROPOSERS", &cfg.Chain.TrustedProposers)
	envList("KAFKA_BROKERS", &cfg.Gossip.KafkaBrokers)
}

func envStr(key string, dst *string) bool {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
		return true
	}
	return false
}

func envList(key string, dst *[]string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = splitList(v)
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envUint(key string, dst *uint64) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidateAPI checks the options required to serve the authenticated API.
func (cfg Config) ValidateAPI(release string) error {
	if cfg.API.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if release == "standard" {
		for _, origin := range cfg.API.CORSAllowedOrigins {
			if strings.Contains(origin, "*") {
				return ErrWildcardOrigin
			}
		}
	}
	return nil
}
