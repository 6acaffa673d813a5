// Bastille full node daemon.
//
// Usage:
//
//	bastilled [--network=mainnet|testnet] [--conf=path] [--mine --coinbase=addr]
//	bastilled --help
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bastille-chain/bastille/config"
	"github.com/bastille-chain/bastille/internal/chain"
	"github.com/bastille-chain/bastille/internal/consensus"
	klog "github.com/bastille-chain/bastille/internal/log"
	"github.com/bastille-chain/bastille/internal/mempool"
	"github.com/bastille-chain/bastille/internal/miner"
	"github.com/bastille-chain/bastille/internal/p2p"
	"github.com/bastille-chain/bastille/internal/storage"
	"github.com/bastille-chain/bastille/pkg/types"
)

func main() {
	// ── 1. Flags + config (defaults → file → flags) ─────────────────────
	cfg, mineFlag, coinbaseFlag, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if mineFlag {
		cfg.Mining.Enabled = true
	}
	if coinbaseFlag != "" {
		cfg.Mining.Coinbase = coinbaseFlag
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid config: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Address prefix + init logger ──────────────────────────────────
	genesis := config.GenesisFor(cfg.Network)
	types.SetAddressPrefix(genesis.AddressPrefix)

	logFile := cfg.Log.File
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating logs dir: %v\n", err)
			os.Exit(1)
		}
		logFile = filepath.Join(logsDir, "bastilled.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := klog.WithComponent("node")

	logger.Info().
		Str("chain_name", genesis.ChainName).
		Str("network", string(cfg.Network)).
		Str("target_mode", string(genesis.TargetMode)).
		Msg("starting Bastille node")

	// ── 3. Open storage ───────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.ChainDataDir())
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.ChainDataDir()).Msg("failed to open database")
	}
	defer db.Close()
	logger.Info().Str("path", cfg.ChainDataDir()).Msg("database opened")

	// ── 4. Chain engine (auto-recovers tip, inits genesis if fresh) ─────
	engine := consensus.NewPoW(genesis)

	ch, err := chain.New(db, genesis, engine)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create chain")
	}
	if ch.Height() == 0 && ch.TipHash().IsZero() {
		if err := ch.InitFromGenesis(genesis); err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize from genesis")
		}
		logger.Info().Msg("chain initialized from genesis")
	} else {
		logger.Info().
			Uint64("height", ch.Height()).
			Str("tip", ch.TipHash().String()).
			Msg("chain resumed from database")
	}

	// ── 5. Mempool ────────────────────────────────────────────────────
	pool := mempool.New(ch, genesis, 5000)
	logger.Info().Uint64("min_fee", genesis.MinFee).Msg("mempool ready")

	// ── 6. P2P node ───────────────────────────────────────────────────
	var node *p2p.Node
	if cfg.P2P.Enabled {
		node = p2p.New(cfg.P2P, genesis, ch, pool, "bastilled/0.1")
		if err := node.Start(); err != nil {
			logger.Fatal().Err(err).Msg("failed to start p2p")
		}
		defer node.Stop()
		logger.Info().
			Str("listen", fmt.Sprintf("%s:%d", cfg.P2P.ListenAddr, cfg.P2P.Port)).
			Int("seeds", len(cfg.P2P.Seeds)).
			Msg("p2p node started")
	} else {
		logger.Warn().Msg("p2p disabled; node is running in isolation")
	}

	// ── 7. Optional miner ────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Mining.Enabled {
		coinbaseAddr, err := types.ParseAddress(cfg.Mining.Coinbase, genesis.AddressPrefix)
		if err != nil {
			logger.Fatal().Err(err).Str("coinbase", cfg.Mining.Coinbase).Msg("invalid mining.coinbase address")
		}

		var broadcaster miner.Broadcaster
		if node != nil {
			broadcaster = node
		}

		m := miner.New(ch, engine, pool, genesis, coinbaseAddr, broadcaster)
		m.Start(ctx)
		defer m.Stop()
		logger.Info().
			Str("coinbase", coinbaseAddr.String()).
			Int("threads", cfg.Mining.Threads).
			Msg("mining enabled")
	}

	// ── 8. Startup banner ─────────────────────────────────────────────
	logger.Info().
		Uint64("height", ch.Height()).
		Str("tip", ch.TipHash().String()).
		Bool("mining", cfg.Mining.Enabled).
		Msg("node started successfully")

	// ── 9. Wait for shutdown ──────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	cancel()
	logger.Info().Msg("goodbye")
}

// loadConfig resolves node configuration from defaults, an optional
// .conf file, then CLI flags, in that precedence order. It returns the
// config plus the raw --mine/--coinbase flag values so main can apply
// them after the file has already been layered in.
func loadConfig() (*config.Config, bool, string, error) {
	var (
		network    string
		confPath   string
		dataDir    string
		mine       bool
		coinbase   string
		writeConf  bool
		p2pPort    int
		logLevel   string
	)

	flag.StringVar(&network, "network", "mainnet", "network: mainnet or testnet")
	flag.StringVar(&confPath, "conf", "", "path to a .conf file (defaults to <datadir>/bastille.conf)")
	flag.StringVar(&dataDir, "datadir", "", "data directory (defaults per-platform)")
	flag.BoolVar(&mine, "mine", false, "enable mining")
	flag.StringVar(&coinbase, "coinbase", "", "address to receive mining rewards")
	flag.BoolVar(&writeConf, "writeconf", false, "write a default config file to --conf and exit")
	flag.IntVar(&p2pPort, "p2p-port", 0, "override the p2p listen port")
	flag.StringVar(&logLevel, "loglevel", "", "override log level (debug, info, warn, error)")
	flag.Parse()

	net := config.NetworkType(network)
	cfg := config.Default(net)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if confPath == "" {
		confPath = cfg.ConfigFile()
	}

	if writeConf {
		if err := config.WriteDefaultConfig(confPath, net); err != nil {
			return nil, false, "", fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("wrote default config to %s\n", confPath)
		os.Exit(0)
	}

	values, err := config.LoadFile(confPath)
	if err != nil {
		return nil, false, "", fmt.Errorf("load config file: %w", err)
	}
	if err := config.ApplyFileConfig(cfg, values); err != nil {
		return nil, false, "", fmt.Errorf("apply config file: %w", err)
	}

	if p2pPort != 0 {
		cfg.P2P.Port = p2pPort
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	return cfg, mine, coinbase, nil
}
