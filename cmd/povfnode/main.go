// Command povfnode runs a PoVF-consensus L1 node: write-ahead log, account
// state, EVM execution, transaction pool, and the proposal/VDF/voting
// round machine.
//
// Usage:
//
//	povfnode [flags]
//
// Flags:
//
//	--datadir      Data directory path (default: ~/.povfnode)
//	--gaslimit     Per-block gas limit (default: 30000000)
//	--chainid      Chain ID (default: 31337)
//	--networkid    Network ID (default: 1)
//	--maxpoolsize  Max transactions held in the pool (default: 20480)
//	--vdf.iters    Minimum VDF sequential-squaring count (default: 65536)
//	--verbosity    Log level 0-5 (default: 3)
//	--metrics      Metrics setting, logged at startup; no metrics are collected (default: false)
//	--testmode     Use the SHA-256 test hash mode instead of Keccak-256
//	--version      Print version and exit
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/povfchain/node/internal/logging"
)

var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. It accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	cfg, exit, code := parseFlags(args)
	if exit {
		return code
	}

	logging.SetDefault(logging.New(verbosityToLogLevel(cfg.Verbosity), os.Stderr))
	log := logging.Module("main")

	log.Info("povfnode starting", "version", version, "commit", commit)
	log.Info("configuration",
		"datadir", cfg.DataDir,
		"chainid", cfg.ChainID,
		"networkid", cfg.NetworkID,
		"gaslimit", cfg.GasLimit,
		"maxpoolsize", cfg.MaxPoolSize,
		"vdf_iters", cfg.VDFIterations,
		"verbosity", cfg.Verbosity,
		"metrics", cfg.Metrics,
	)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		return 1
	}
	if err := cfg.InitDataDir(); err != nil {
		log.Error("failed to initialize datadir", "err", err)
		return 1
	}

	n, err := New(cfg)
	if err != nil {
		log.Error("failed to create node", "err", err)
		return 1
	}

	if err := n.Start(); err != nil {
		log.Error("failed to start node", "err", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received signal, shutting down", "signal", sig.String())

	if err := n.Stop(); err != nil {
		log.Error("error during shutdown", "err", err)
		return 1
	}
	log.Info("shutdown complete")
	return 0
}

func parseFlags(args []string) (Config, bool, int) {
	cfg := DefaultConfig()
	fs := newFlagSet(&cfg)
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cfg, true, 2
	}
	if *showVersion {
		fmt.Printf("povfnode %s (commit %s)\n", version, commit)
		return cfg, true, 0
	}
	return cfg, false, 0
}

func newFlagSet(cfg *Config) *flagSet {
	fs := newCustomFlagSet("povfnode")
	fs.StringVar(&cfg.DataDir, "datadir", cfg.DataDir, "data directory path")
	fs.Uint64Var(&cfg.GasLimit, "gaslimit", cfg.GasLimit, "per-block gas limit")
	fs.Uint64Var(&cfg.ChainID, "chainid", cfg.ChainID, "chain identifier")
	fs.Uint64Var(&cfg.NetworkID, "networkid", cfg.NetworkID, "network identifier")
	fs.IntVar(&cfg.MaxPoolSize, "maxpoolsize", cfg.MaxPoolSize, "maximum transactions held in the pool")
	fs.Uint64Var(&cfg.VDFIterations, "vdf.iters", cfg.VDFIterations, "VDF sequential-squaring count")
	fs.IntVar(&cfg.Verbosity, "verbosity", cfg.Verbosity, "log level 0-5 (0=errors only, 1-3=info, 4-5=debug)")
	fs.BoolVar(&cfg.Metrics, "metrics", cfg.Metrics, "metrics setting (logged at startup; no metrics are collected)")
	fs.BoolVar(&cfg.TestMode, "testmode", cfg.TestMode, "use SHA-256 test hash mode instead of Keccak-256")
	return fs
}
