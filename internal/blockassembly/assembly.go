package blockassembly

import (
	"github.com/povfchain/node/internal/logging"
	"github.com/povfchain/node/internal/receipts"
	"github.com/povfchain/node/internal/state"
	"github.com/povfchain/node/internal/statecache"
	"github.com/povfchain/node/internal/txpool"
	"github.com/povfchain/node/internal/types"
	"github.com/povfchain/node/internal/vm"
)

var log = logging.Module("blockassembly")

// TxSource supplies the ordered candidate set for a new block, matching
// txpool.TxPool.Package.
type TxSource interface {
	Package(chain txpool.ChainReader) []*types.Transaction
	Remove(hash types.Hash)
}

// Config holds block assembly tunables.
type Config struct {
	GasLimit uint64
	ChainID  uint64
	BaseFee  uint64
}

func DefaultConfig() Config {
	return Config{GasLimit: 30_000_000, ChainID: 31337}
}

// Assembler packages pending transactions into an executed, receipted
// block: execute-per-tx via the EVM/statecache bridge, write receipts,
// recompute the state and merkle roots, and populate the header (§4.9).
type Assembler struct {
	cfg      Config
	cache    *statecache.Cache
	manager  *state.Manager
	receipts *receipts.Store
	txSource TxSource

	// recentHashes is the BLOCKHASH window: the last 256 block hashes keyed
	// by height, advanced by the owner as blocks commit (§4.6).
	recentHashes map[uint64]types.Hash
}

func New(cfg Config, cache *statecache.Cache, manager *state.Manager, receiptStore *receipts.Store, txSource TxSource) *Assembler {
	return &Assembler{
		cfg:          cfg,
		cache:        cache,
		manager:      manager,
		receipts:     receiptStore,
		txSource:     txSource,
		recentHashes: make(map[uint64]types.Hash),
	}
}

// ObserveBlock records a committed block's hash in the BLOCKHASH window,
// evicting entries older than 256 heights.
func (a *Assembler) ObserveBlock(height uint64, hash types.Hash) {
	a.recentHashes[height] = hash
	if height >= 256 {
		delete(a.recentHashes, height-256)
	}
}

// Result is the outcome of assembling one block.
type Result struct {
	Block    *types.Block
	Receipts []*types.Receipt
}

// Assemble packages and executes transactions up to the gas limit,
// producing a fully-populated block and its receipts (§4.9).
func (a *Assembler) Assemble(height uint64, prevBlockHash types.Hash, coinbase types.Address, timestamp int64, proposerPubKey []byte) (*Result, error) {
	candidates := a.txSource.Package(a.receipts)

	blockCtx := vm.BlockContext{
		BlockNumber:       height,
		BlockTimestamp:    timestamp,
		BlockCoinbase:     coinbase,
		BlockGasLimit:     a.cfg.GasLimit,
		ChainID:           a.cfg.ChainID,
		BaseFee:           a.cfg.BaseFee,
		RecentBlockHashes: a.recentHashes,
	}

	var included []*types.Transaction
	var receiptList []*types.Receipt
	var gasUsedTotal uint64
	var cumulativeGas uint64

	for _, tx := range candidates {
		if gasUsedTotal+tx.Gas > a.cfg.GasLimit {
			break
		}
		blockCtx.TxGasPrice = tx.EffectiveGasPrice()

		engine := vm.New(a.cache, blockCtx)
		result := engine.ExecuteTransaction(vm.Message{
			From:     tx.Sender,
			To:       tx.To,
			Value:    tx.Value,
			Data:     tx.Data,
			GasLimit: tx.Gas,
		})

		cumulativeGas += result.GasUsed
		gasUsedTotal += result.GasUsed

		r := &types.Receipt{
			TxHash:            tx.Hash(),
			BlockNumber:       height,
			TxIndex:           uint64(len(included)),
			From:              tx.Sender,
			To:                tx.To,
			Status:            result.Success,
			GasUsed:           result.GasUsed,
			CumulativeGasUsed: cumulativeGas,
			ContractAddress:   result.ContractAddress,
			Logs:              result.Logs,
			Output:            result.Output,
		}
		if result.Reverted {
			r.RevertReason = string(result.Output)
		}
		r.LogsBloom = types.NewBloomForLogs(r.Logs)

		included = append(included, tx)
		receiptList = append(receiptList, r)
		a.txSource.Remove(tx.Hash())
	}

	if err := a.cache.Flush(); err != nil {
		return nil, err
	}

	stateRoot, err := a.manager.ComputeStateRoot()
	if err != nil {
		return nil, err
	}

	header := &types.Header{
		Height:        height,
		Timestamp:     timestamp,
		PrevBlockHash: prevBlockHash,
		StateRoot:     stateRoot,
		PublicKey:     proposerPubKey,
		GasLimit:      a.cfg.GasLimit,
		BaseFee:       a.cfg.BaseFee,
	}
	header.MerkleRoot = types.ComputeMerkleRoot(included)
	block := &types.Block{Header: *header, Transactions: included}

	blockHash := block.Hash()
	for _, r := range receiptList {
		r.BlockHash = blockHash
		for _, l := range r.Logs {
			l.TxHash = r.TxHash
			l.BlockHash = blockHash
			l.BlockNumber = height
		}
		if err := a.receipts.Put(r); err != nil {
			return nil, err
		}
	}
	a.ObserveBlock(height, blockHash)

	log.Info("block assembled", "height", height, "txs", len(included), "gas_used", gasUsedTotal)
	return &Result{Block: block, Receipts: receiptList}, nil
}
