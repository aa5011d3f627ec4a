package blockassembly

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/povfchain/node/internal/kv"
	"github.com/povfchain/node/internal/receipts"
	"github.com/povfchain/node/internal/state"
	"github.com/povfchain/node/internal/statecache"
	"github.com/povfchain/node/internal/trie"
	"github.com/povfchain/node/internal/txpool"
	"github.com/povfchain/node/internal/types"
)

// fakeTxSource is a trivial TxSource backed by a slice, standing in for
// txpool.TxPool's Package/Remove surface.
type fakeTxSource struct {
	txs []*types.Transaction
}

func (f *fakeTxSource) Package(chain txpool.ChainReader) []*types.Transaction { return f.txs }
func (f *fakeTxSource) Remove(hash types.Hash) {
	out := f.txs[:0]
	for _, tx := range f.txs {
		if tx.Hash() != hash {
			out = append(out, tx)
		}
	}
	f.txs = out
}

func newTestAssembler(t *testing.T) (*Assembler, *state.Manager, *fakeTxSource) {
	t.Helper()
	store, err := kv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mgr := state.New(state.DefaultConfig(), store, nil, trie.HashModeTest)
	cache := statecache.New(mgr, 1<<20)
	t.Cleanup(cache.Close)

	receiptStore := receipts.New(store)
	src := &fakeTxSource{}

	cfg := DefaultConfig()
	cfg.GasLimit = 100_000
	asm := New(cfg, cache, mgr, receiptStore, src)
	return asm, mgr, src
}

func mkTransferTx(from, to types.Address, nonce uint64, value int64) *types.Transaction {
	return &types.Transaction{
		Sender:   from,
		To:       &to,
		Value:    big.NewInt(value),
		Gas:      21000,
		Nonce:    nonce,
		GasPrice: big.NewInt(1),
	}
}

func TestAssembleExecutesTransferAndWritesReceipt(t *testing.T) {
	asm, mgr, src := newTestAssembler(t)

	var a, b types.Address
	a[0] = 0x01
	b[0] = 0x02
	require.NoError(t, mgr.AddBalance(a, big.NewInt(2_000_000)))

	tx := mkTransferTx(a, b, 0, 1000)
	src.txs = append(src.txs, tx)

	result, err := asm.Assemble(1, types.Hash{}, types.Address{}, 1000, nil)
	require.NoError(t, err)
	require.Len(t, result.Block.Transactions, 1)
	require.Len(t, result.Receipts, 1)

	r := result.Receipts[0]
	require.True(t, r.Status)
	require.Equal(t, uint64(21000), r.GasUsed)
	require.Equal(t, result.Block.Hash(), r.BlockHash)

	require.Equal(t, big.NewInt(1000), mgr.GetBalance(b))
	require.Equal(t, big.NewInt(2_000_000-21000-1000), mgr.GetBalance(a))

	// Packaged transaction is removed from the source once executed.
	require.Empty(t, src.txs)
}

func TestAssembleStopsAtGasLimit(t *testing.T) {
	asm, mgr, src := newTestAssembler(t)

	var a, b types.Address
	a[0] = 0x03
	b[0] = 0x04
	require.NoError(t, mgr.AddBalance(a, big.NewInt(10_000_000)))

	// Gas limit is 100,000; five 21,000-gas transfers would exceed it, so
	// only four can fit and the fifth must be left for the next block.
	for i := uint64(0); i < 5; i++ {
		src.txs = append(src.txs, mkTransferTx(a, b, i, 1))
	}

	result, err := asm.Assemble(1, types.Hash{}, types.Address{}, 1000, nil)
	require.NoError(t, err)
	require.Len(t, result.Block.Transactions, 4)
	require.Len(t, src.txs, 1)
}
