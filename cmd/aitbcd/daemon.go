package main

// daemon.go assembles modules into a running process. Each serve command
// picks a role set; the assembly below builds only the modules the role
// needs, wiring local modules to each other directly and remote ones through
// HTTP clients.

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oib/AITBC-sub002/api"
	"github.com/oib/AITBC-sub002/build"
	"github.com/oib/AITBC-sub002/config"
	"github.com/oib/AITBC-sub002/crypto"
	"github.com/oib/AITBC-sub002/modules"
	"github.com/oib/AITBC-sub002/modules/chain"
	"github.com/oib/AITBC-sub002/modules/coordinator"
	"github.com/oib/AITBC-sub002/modules/gossip"
	"github.com/oib/AITBC-sub002/modules/poolhub"
	"github.com/oib/AITBC-sub002/persist"
	"github.com/oib/AITBC-sub002/types"
	"github.com/oib/AITBC-sub002/zkp"
)

// roles names the modules one process runs.
type roles struct {
	chain       bool
	coordinator bool
	poolHub     bool
}

// loadConfig reads the config file and applies the command-line overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if cfg.DataDir == "" {
		cfg.DataDir = persist.HomeFolder
	}
	if apiAddr != "" {
		cfg.API.RPCBind = apiAddr
	}
	if operatorSecret != "" && cfg.Coordinator.SharedSecret == "" {
		cfg.Coordinator.SharedSecret = operatorSecret
		cfg.PoolHub.SharedSecret = operatorSecret
	}
	return cfg, nil
}

// applyTimingConfig pushes the configured timing options into the protocol
// variables shared by every module.
func applyTimingConfig(cfg config.Config) {
	if cfg.PoolHub.HeartbeatGraceSec > 0 {
		types.HeartbeatGrace = time.Duration(cfg.PoolHub.HeartbeatGraceSec * float64(time.Second))
	}
	if cfg.PoolHub.SessionTTLSec > 0 {
		types.SessionTTL = time.Duration(cfg.PoolHub.SessionTTLSec * float64(time.Second))
	}
}

// loadChainGenesis resolves the genesis the chain node starts from: the
// configured file when one is named, otherwise a deterministic empty devnet
// genesis for the configured chain id.
func loadChainGenesis(cfg config.Config) (chain.Genesis, error) {
	if cfg.Chain.GenesisFile != "" {
		return chain.LoadGenesis(cfg.Chain.GenesisFile)
	}
	return chain.Genesis{ChainID: cfg.Chain.ChainID}, nil
}

// chainOptions translates the chain config into chain.Options.
func chainOptions(cfg config.Config, broker modules.Broker) (chain.Options, error) {
	opts := chain.Options{
		ChainID:           cfg.Chain.ChainID,
		MintPerUnit:       cfg.Chain.MintPerUnit,
		CoordinatorRatio:  cfg.Chain.CoordinatorRatio,
		BlockInterval:     time.Duration(cfg.Chain.BlockIntervalSec * float64(time.Second)),
		MaxTxsPerBlock:    cfg.Chain.MaxTxsPerBlock,
		MaxBlockSizeBytes: cfg.Chain.MaxBlockSizeBytes,
		ReorgDepthLimit:   types.BlockHeight(cfg.Chain.ReorgDepthLimit),
		ZK:                zkp.NewRegistry(),
		Broker:            broker,
	}
	if cfg.Chain.ProposerKeyFile != "" {
		sk, err := crypto.LoadSecretKey(cfg.Chain.ProposerKeyFile)
		if err != nil {
			return chain.Options{}, fmt.Errorf("could not load proposer key: %w", err)
		}
		opts.ProposerKey = &sk
	}
	for _, s := range cfg.Chain.TrustedProposers {
		var addr types.Address
		if err := addr.LoadString(s); err != nil {
			return chain.Options{}, fmt.Errorf("trusted proposer %q is not an address: %w", s, err)
		}
		opts.TrustedProposers = append(opts.TrustedProposers, addr)
	}
	if cfg.Chain.AttestationAddr != "" {
		if err := opts.AttestationAddr.LoadString(cfg.Chain.AttestationAddr); err != nil {
			return chain.Options{}, fmt.Errorf("attestation address is malformed: %w", err)
		}
		if cfg.Chain.CoordinatorURL != "" {
			opts.Attestor = api.NewClient(cfg.Chain.CoordinatorURL, cfg.Coordinator.SharedSecret)
		}
	}
	return opts, nil
}

// coordinatorKey loads the receipt attestation key, generating an ephemeral
// one for devnet runs that did not configure a key file.
func coordinatorKey(cfg config.Config) (crypto.SecretKey, error) {
	if cfg.Coordinator.AttestationKeyFile != "" {
		return crypto.LoadSecretKey(cfg.Coordinator.AttestationKeyFile)
	}
	sk, _ := crypto.GenerateKeyPair()
	fmt.Println("WARN: no RECEIPT_ATTESTATION_KEY configured; using an ephemeral key")
	return sk, nil
}

// openStore opens the coordinator store: Postgres when a database URL is
// configured, the in-memory devnet store otherwise. Opening the Postgres
// store migrates it forward.
func openStore(cfg config.Config) (coordinator.Store, error) {
	if cfg.Coordinator.DatabaseURL == "" {
		return coordinator.NewMemStore(), nil
	}
	return coordinator.OpenPQStore(cfg.Coordinator.DatabaseURL)
}

// newBroker builds the gossip broker the config selects.
func newBroker(cfg config.Config, log *persist.Logger) (modules.Broker, error) {
	if cfg.Gossip.Backend == "kafka" {
		return gossip.NewKafkaBroker(cfg.Gossip.KafkaBrokers, cfg.Gossip.KafkaGroupID, cfg.Gossip.TopicPrefix, log)
	}
	return gossip.NewInprocBroker(), nil
}

// serve builds the requested roles and blocks until shutdown.
func serve(r roles) {
	cfg, err := loadConfig()
	if err != nil {
		die(exitConfig, "Configuration error:", err)
	}
	if err := cfg.ValidateAPI(build.Release); err != nil {
		die(exitConfig, "Configuration error:", err)
	}
	applyTimingConfig(cfg)
	if err := persist.MkdirAll(cfg.DataDir); err != nil {
		die(exitStartup, "Could not create data directory:", err)
	}

	daemonLog, err := persist.NewLogger(filepath.Join(cfg.DataDir, "aitbcd.log"))
	if err != nil {
		die(exitStartup, "Could not open the daemon log:", err)
	}
	defer daemonLog.Close()

	broker, err := newBroker(cfg, daemonLog)
	if err != nil {
		die(exitStartup, "Could not connect the gossip broker:", err)
	}
	defer broker.Close()

	var node *chain.Node
	var syncer *gossip.Syncer
	if r.chain {
		g, err := loadChainGenesis(cfg)
		if err != nil {
			die(exitConfig, "Could not load the genesis file:", err)
		}
		opts, err := chainOptions(cfg, broker)
		if err != nil {
			die(exitConfig, "Configuration error:", err)
		}
		node, err = chain.New(g, opts, filepath.Join(cfg.DataDir, modules.ChainDir))
		if err != nil {
			die(exitStartup, "Could not start the chain node:", err)
		}
		defer node.Close()

		if cfg.Sync.Enabled && len(cfg.Sync.RemoteEndpoints) > 0 {
			peers := make([]*gossip.Peer, 0, len(cfg.Sync.RemoteEndpoints))
			cooldown := time.Duration(cfg.Sync.BreakerCooldown * float64(time.Second))
			for _, endpoint := range cfg.Sync.RemoteEndpoints {
				peers = append(peers, gossip.NewPeer(endpoint, gossip.NewHTTPRemote(endpoint), cfg.Sync.BreakerThreshold, cooldown))
			}
			interval := time.Duration(cfg.Sync.PollIntervalSec * float64(time.Second))
			syncer = gossip.NewSyncer(node, interval, types.BlockHeight(cfg.Chain.ReorgDepthLimit), daemonLog, peers...)
			defer syncer.Close()
		}
	}

	var hub *poolhub.PoolHub
	if r.poolHub {
		hub, err = poolhub.New(poolhub.Options{Weights: &cfg.PoolHub.ScoreWeights}, filepath.Join(cfg.DataDir, modules.PoolHubDir))
		if err != nil {
			die(exitStartup, "Could not start the pool hub:", err)
		}
		defer hub.Close()
	}

	var coord *coordinator.Coordinator
	if r.coordinator {
		key, err := coordinatorKey(cfg)
		if err != nil {
			die(exitConfig, "Could not load the attestation key:", err)
		}
		store, err := openStore(cfg)
		if err != nil {
			die(exitStartup, "Could not open the coordinator store:", err)
		}

		// Wire the matcher and the chain: local module when it runs in
		// this process, HTTP client otherwise.
		var matcher coordinator.Matcher
		if hub != nil {
			matcher = hub
		} else if cfg.Coordinator.PoolHubURL != "" {
			matcher = api.NewClient(cfg.Coordinator.PoolHubURL, cfg.Coordinator.SharedSecret)
		} else {
			die(exitConfig, "Configuration error: the coordinator needs a local pool hub or a pool_hub_url")
		}
		var chainClient coordinator.ChainClient
		if node != nil {
			chainClient = node
		} else if cfg.Coordinator.ChainURL != "" {
			chainClient = api.RemoteChainClient{Client: api.NewClient(cfg.Coordinator.ChainURL, "")}
		}

		coord, err = coordinator.New(store, matcher, chainClient, broker, coordinator.Options{
			Key:             key,
			ProtocolFee:     cfg.Coordinator.ProtocolFee,
			CoordinatorCut:  cfg.Coordinator.CoordinatorCut,
			MaxRetries:      cfg.Coordinator.MaxRetries,
			DefaultDeadline: time.Duration(cfg.Coordinator.DefaultDeadlineSec) * time.Second,
		}, filepath.Join(cfg.DataDir, modules.CoordinatorDir))
		if err != nil {
			die(exitStartup, "Could not start the coordinator:", err)
		}
		defer coord.Close()
	}

	// Interface values must stay nil when a module is absent, so the API
	// only registers the routes this role serves.
	var apiChain api.Chain
	if node != nil {
		apiChain = node
	}
	var apiCoord api.Coordinator
	if coord != nil {
		apiCoord = coord
	}
	var apiHub modules.PoolHub
	if hub != nil {
		apiHub = hub
	}

	a := api.New(apiChain, apiCoord, apiHub, broker, cfg.API.JWTSecret, cfg.Coordinator.SharedSecret)
	srv, err := api.NewServer(cfg.API.RPCBind, a, cfg.API.CORSAllowedOrigins)
	if err != nil {
		die(exitStartup, "Could not bind the API listener:", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
		case <-a.StopChan():
		}
		srv.Close()
	}()

	fmt.Println("Listening on", srv.Addr())
	daemonLog.Println("aitbcd started, serving on", srv.Addr())
	if err := srv.Serve(); err != nil {
		daemonLog.Println("ERROR: API server failed:", err)
	}
	daemonLog.Println("aitbcd shutting down")
}

// servecmd runs every module in one process.
func servecmd(*cobra.Command, []string) {
	serve(roles{chain: true, coordinator: true, poolHub: true})
}
