package main

import (
	"github.com/povfchain/node/internal/blockassembly"
	"github.com/povfchain/node/internal/consensus/povf"
	"github.com/povfchain/node/internal/kv"
	"github.com/povfchain/node/internal/logging"
	"github.com/povfchain/node/internal/receipts"
	"github.com/povfchain/node/internal/state"
	"github.com/povfchain/node/internal/statecache"
	"github.com/povfchain/node/internal/trie"
	"github.com/povfchain/node/internal/txpool"
	"github.com/povfchain/node/internal/wal"
)

// Node wires every subsystem together: WAL -> KV -> State -> StateCache ->
// TxPool -> Consensus -> BlockAssembly -> Receipts.
type Node struct {
	cfg Config
	log *logging.Logger

	wal       *wal.WAL
	kv        *kv.Store
	manager   *state.Manager
	cache     *statecache.Cache
	pool      *txpool.TxPool
	consensus *povf.Engine
	assembler *blockassembly.Assembler
	receipts  *receipts.Store
}

// New constructs and wires a Node but does not start any background work.
func New(cfg Config) (*Node, error) {
	log := logging.Module("node")

	hashMode := trie.HashModeProduction
	if cfg.TestMode {
		hashMode = trie.HashModeTest
	}

	walCfg := wal.DefaultConfig(cfg.WALDir())
	w, err := wal.Open(walCfg)
	if err != nil {
		return nil, err
	}

	store, err := kv.Open(cfg.KVDir())
	if err != nil {
		return nil, err
	}

	stateCfg := state.DefaultConfig()
	manager := state.New(stateCfg, store, w, hashMode)

	cache := statecache.New(manager, 64<<20)

	receiptStore := receipts.New(store)

	poolCfg := txpool.DefaultConfig()
	poolCfg.MaxSize = cfg.MaxPoolSize
	poolCfg.BlockGasLimit = cfg.GasLimit
	pool := txpool.New(poolCfg, manager)

	asmCfg := blockassembly.DefaultConfig()
	asmCfg.GasLimit = cfg.GasLimit
	asmCfg.ChainID = cfg.ChainID
	assembler := blockassembly.New(asmCfg, cache, manager, receiptStore, pool)

	consensusCfg := povf.DefaultConfig()
	consensusCfg.MinVDFIterations = cfg.VDFIterations
	consensus := povf.New(consensusCfg, povf.ECDSAVRFSelector{}, povf.NewSquaringVDF(), nil)

	return &Node{
		cfg:       cfg,
		log:       log,
		wal:       w,
		kv:        store,
		manager:   manager,
		cache:     cache,
		pool:      pool,
		consensus: consensus,
		assembler: assembler,
		receipts:  receiptStore,
	}, nil
}

// Start logs the node's startup and launches no background work: the pool's
// expiration sweep is not scheduled here, and the state manager's flush loop
// runs only when its config sets AsyncWrite, which state.DefaultConfig does
// not.
func (n *Node) Start() error {
	n.log.Info("node starting", "datadir", n.cfg.DataDir, "chainid", n.cfg.ChainID)
	return nil
}

// Stop flushes and closes every subsystem in dependency order: cache before
// manager, manager before WAL/KV.
func (n *Node) Stop() error {
	n.log.Info("node stopping")
	if err := n.cache.Flush(); err != nil {
		return err
	}
	n.cache.Close()
	if err := n.manager.Close(); err != nil {
		return err
	}
	if err := n.wal.Close(); err != nil {
		return err
	}
	return n.kv.Close()
}
