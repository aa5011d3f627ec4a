package txpool

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/povfchain/node/internal/types"
)

type fakeChain struct {
	known map[types.Hash]bool
}

func (f *fakeChain) HasTransaction(hash types.Hash) bool { return f.known[hash] }

type fakeState struct {
	nonces   map[types.Address]uint64
	balances map[types.Address]*big.Int
}

func newFakeState() *fakeState {
	return &fakeState{nonces: map[types.Address]uint64{}, balances: map[types.Address]*big.Int{}}
}

func (f *fakeState) GetNonce(addr types.Address) uint64 { return f.nonces[addr] }
func (f *fakeState) GetBalance(addr types.Address) *big.Int {
	if b, ok := f.balances[addr]; ok {
		return b
	}
	return big.NewInt(0)
}

func mkTx(sender types.Address, nonce uint64, gasPrice int64) *types.Transaction {
	return &types.Transaction{
		Sender:   sender,
		Nonce:    nonce,
		Gas:      21000,
		GasPrice: big.NewInt(gasPrice),
		Value:    big.NewInt(0),
	}
}

func TestAddAndPackageOrdersByPrice(t *testing.T) {
	state := newFakeState()
	var addr1, addr2 types.Address
	addr1[0] = 1
	addr2[0] = 2
	state.balances[addr1] = big.NewInt(1_000_000_000)
	state.balances[addr2] = big.NewInt(1_000_000_000)

	pool := New(DefaultConfig(), state)
	require.NoError(t, pool.Add(mkTx(addr1, 0, 10)))
	require.NoError(t, pool.Add(mkTx(addr2, 0, 50)))

	pkg := pool.Package(nil)
	require.Len(t, pkg, 2)
	require.Equal(t, addr2, pkg[0].Sender)
	require.Equal(t, addr1, pkg[1].Sender)
}

func TestDuplicateRejected(t *testing.T) {
	state := newFakeState()
	var addr types.Address
	addr[0] = 1
	state.balances[addr] = big.NewInt(1_000_000_000)

	pool := New(DefaultConfig(), state)
	tx := mkTx(addr, 0, 10)
	require.NoError(t, pool.Add(tx))
	require.ErrorIs(t, pool.Add(tx), ErrDuplicateTransaction)
}

func TestPoolFullRejectedBeforeDuplicateCheck(t *testing.T) {
	state := newFakeState()
	var addr types.Address
	addr[0] = 1
	state.balances[addr] = big.NewInt(1_000_000_000)

	cfg := DefaultConfig()
	cfg.MaxSize = 1
	pool := New(cfg, state)
	require.NoError(t, pool.Add(mkTx(addr, 0, 10)))

	// Pool is now full; a second, distinct transaction is rejected PoolFull,
	// and so is a resubmission of the first one, because the capacity check
	// (§4.7 step 1) runs before the duplicate check (step 2).
	require.ErrorIs(t, pool.Add(mkTx(addr, 1, 10)), ErrPoolFull)
	require.ErrorIs(t, pool.Add(mkTx(addr, 0, 10)), ErrPoolFull)
}

func TestReplacementRequiresFeeBump(t *testing.T) {
	state := newFakeState()
	var addr types.Address
	addr[0] = 1
	state.balances[addr] = big.NewInt(1_000_000_000)

	pool := New(DefaultConfig(), state)
	require.NoError(t, pool.Add(mkTx(addr, 0, 100)))

	low := mkTx(addr, 0, 105) // +5%, below the 10% bump requirement
	require.ErrorIs(t, pool.Add(low), ErrReplacementFeeTooLow)

	high := mkTx(addr, 0, 200) // +100%, clears the bump
	require.NoError(t, pool.Add(high))
	require.Equal(t, 1, pool.Count())
}

func TestPackageOnlyIncludesSequentialNonces(t *testing.T) {
	state := newFakeState()
	var addr types.Address
	addr[0] = 1
	state.balances[addr] = big.NewInt(1_000_000_000)

	pool := New(DefaultConfig(), state)
	require.NoError(t, pool.Add(mkTx(addr, 0, 10)))
	require.NoError(t, pool.Add(mkTx(addr, 2, 10))) // gap at nonce 1

	pkg := pool.Package(nil)
	require.Len(t, pkg, 1)
	require.Equal(t, uint64(0), pkg[0].Nonce)
}

func TestPackageDropsTransactionAlreadyKnownToChain(t *testing.T) {
	state := newFakeState()
	var addr types.Address
	addr[0] = 1
	state.balances[addr] = big.NewInt(1_000_000_000)

	pool := New(DefaultConfig(), state)
	tx := mkTx(addr, 0, 10)
	require.NoError(t, pool.Add(tx))

	chain := &fakeChain{known: map[types.Hash]bool{tx.Hash(): true}}
	require.Empty(t, pool.Package(chain))
	require.Equal(t, 0, pool.Count(), "candidate already known to chain must be dropped from the pool")
}

func TestPackageDropsExpiredTransaction(t *testing.T) {
	state := newFakeState()
	var addr types.Address
	addr[0] = 1
	state.balances[addr] = big.NewInt(1_000_000_000)

	cfg := DefaultConfig()
	cfg.TTL = time.Millisecond
	pool := New(cfg, state)
	require.NoError(t, pool.Add(mkTx(addr, 0, 10)))

	time.Sleep(2 * time.Millisecond)
	require.Empty(t, pool.Package(nil))
	require.Equal(t, 0, pool.Count())
}

func TestResetDropsStaleNonces(t *testing.T) {
	state := newFakeState()
	var addr types.Address
	addr[0] = 1
	state.balances[addr] = big.NewInt(1_000_000_000)

	pool := New(DefaultConfig(), state)
	require.NoError(t, pool.Add(mkTx(addr, 0, 10)))
	require.NoError(t, pool.Add(mkTx(addr, 1, 10)))

	state.nonces[addr] = 1
	pool.Reset(state)
	require.Equal(t, 1, pool.Count())
}
