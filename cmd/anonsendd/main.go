// Package main provides anonsendd, the INODE mixing daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anonsend/inode/internal/chain"
	"github.com/anonsend/inode/internal/config"
	"github.com/anonsend/inode/internal/driver"
	"github.com/anonsend/inode/internal/mixing"
	"github.com/anonsend/inode/internal/p2p"
	"github.com/anonsend/inode/internal/registry"
	"github.com/anonsend/inode/internal/storage"
	"github.com/anonsend/inode/pkg/logging"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.anonsend", "Data directory")
		configFile  = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		listenAddr  = flag.String("listen", "", "Listen address (multiaddr), overrides config")
		testnet     = flag.Bool("testnet", false, "Run on testnet (separate network and data)")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("anonsendd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := expandPath(*dataDir)
	if *testnet {
		effectiveDataDir = filepath.Join(effectiveDataDir, "testnet")
	}

	configPath := *configFile
	if configPath == "" {
		configPath = filepath.Join(effectiveDataDir, "config.yaml")
	}

	cfg, err := config.LoadNodeConfig(configPath)
	if err != nil {
		log.Warnf("Failed to load config at %s, using defaults: %v", configPath, err)
		cfg = config.DefaultNodeConfig()
	}
	cfg.DataDir = effectiveDataDir
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *testnet {
		cfg.Network = config.Testnet
	}
	cfg.LogLevel = *logLevel

	if err := config.ValidateDenominationLadder(config.DenominationLadder); err != nil {
		log.Fatal("Invalid denomination ladder", "error", err)
	}

	log = logging.New(&logging.Config{Level: cfg.LogLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)
	log.Info("Config loaded", "path", configPath, "network", cfg.Network, "is_inode", cfg.IsInode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(storage.Config{DataDir: cfg.DataDir})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", cfg.DataDir)

	reg, err := registry.New(store, log.Component("registry"))
	if err != nil {
		log.Fatal("Failed to initialize registry", "error", err)
	}

	netName, ok := chain.ParseNetwork(string(cfg.Network))
	if !ok {
		netName = chain.Mainnet
	}
	if _, ok := chain.Get(netName); !ok {
		log.Fatal("Unknown network parameters", "network", netName)
	}
	log.Info("Chain parameters selected", "network", netName)

	coord := mixing.NewCoordinator(mixing.CoordinatorConfig{
		Ladder:       config.DenominationLadder,
		BroadcastCap: 1024,
		Logger:       log.Component("mixing"),
	})
	defer coord.Close()

	node, err := p2p.New(cfg, store, log.Component("p2p"))
	if err != nil {
		log.Fatal("Failed to create p2p node", "error", err)
	}

	book := p2p.NewAddressBook()
	addressed := p2p.NewAddressedSender(node.Sender(), book, log.Component("p2p"))

	wallet := &noWallet{log: log.Component("wallet")}
	chainBackend := &noChain{log: log.Component("chain")}

	drv := driver.New(driver.Config{
		Wallet:   wallet,
		Sender:   p2p.NewClientSender(ctx, addressed),
		Registry: reg,
		Queues:   coord.Queues(),
		Coord:    coord,
		Ladder:   config.DenominationLadder,
		Log:      log.Component("driver"),
	})

	var inodeHandler p2p.InodeSessionHandler
	if cfg.IsInode {
		secret, err := inodeSecretFromConfig(cfg)
		if err != nil {
			log.Fatal("Failed to load inode_privkey", "error", err)
		}
		inodeHandler = p2p.NewInodeHandler(coord, chainBackend, addressed, secret, log.Component("inode"))
		log.Info("Running as INODE")
	}

	vers := p2p.NewPeerVersions()
	dispatcher := p2p.NewDispatcher(inodeHandler, drv, vers, log.Component("dispatcher"))
	router := p2p.NewRouter(dispatcher, addressed, book, log.Component("p2p"))

	bcast := &noCollateralBroadcaster{log: log.Component("scheduler")}
	sched := mixing.NewScheduler(coord, bcast, log.Component("scheduler"))

	if err := node.Start(); err != nil {
		log.Fatal("Failed to start p2p node", "error", err)
	}
	router.Attach(ctx, node.StreamHandler(), node.QueueTopic(), node.Host().ID().String())
	sched.Start()

	stopDenominate := make(chan struct{})
	if !cfg.IsInode && cfg.EnableAnonsend {
		go drv.RunAutoDenominate(chainBackend, wallet, driver.AutoDenomConfig{
			TargetAnonAmount:  cfg.TargetAnonAmount,
			LiquidityProvider: cfg.LiquidityProvider,
		}, stopDenominate)
	}

	printBanner(log, node, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutting down...")

	close(stopDenominate)
	sched.Stop()
	cancel()
	if err := node.Stop(); err != nil {
		log.Error("Error during shutdown", "error", err)
	}
	log.Info("Goodbye!")
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

// inodeSecretFromConfig decodes cfg.InodePrivkey, a WIF-encoded key, into
// the INODE's registry signing key.
func inodeSecretFromConfig(cfg *config.NodeConfig) (*btcec.PrivateKey, error) {
	wif, err := btcutil.DecodeWIF(cfg.InodePrivkey)
	if err != nil {
		return nil, fmt.Errorf("decode inode_privkey: %w", err)
	}
	return wif.PrivKey, nil
}

func printBanner(log *logging.Logger, n *p2p.Node, cfg *config.NodeConfig) {
	networkLabel := "mainnet"
	if cfg.Network == config.Testnet {
		networkLabel = "TESTNET"
	}
	log.Info("")
	log.Info("=================================================")
	log.Infof("  anonsendd (%s)", networkLabel)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Peer ID: %s", n.Host().ID().String())
	for _, addr := range n.Host().Addrs() {
		log.Infof("    %s/p2p/%s", addr.String(), n.Host().ID().String())
	}
	log.Info("")
	log.Infof("  is_inode: %v | enable_anonsend: %v", cfg.IsInode, cfg.EnableAnonsend)
	log.Infof("  Data dir: %s", cfg.DataDir)
	log.Info("=================================================")
	log.Info("")
}
