package state

import (
	"math/big"
	"testing"

	"github.com/povfchain/node/internal/kv"
	"github.com/povfchain/node/internal/trie"
	"github.com/povfchain/node/internal/types"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	store, err := kv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	cfg := DefaultConfig()
	cfg.AsyncWrite = false
	return New(cfg, store, nil, trie.HashModeTest)
}

func TestBalanceArithmetic(t *testing.T) {
	m := newTestManager(t)
	var addr types.Address
	addr[0] = 0x01

	require.NoError(t, m.AddBalance(addr, big.NewInt(1000)))
	require.Equal(t, big.NewInt(1000), m.GetBalance(addr))

	require.NoError(t, m.SubtractBalance(addr, big.NewInt(400)))
	require.Equal(t, big.NewInt(600), m.GetBalance(addr))

	err := m.SubtractBalance(addr, big.NewInt(10000))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, big.NewInt(600), m.GetBalance(addr))
}

func TestNonceMonotonic(t *testing.T) {
	m := newTestManager(t)
	var addr types.Address
	addr[1] = 0x02

	for i := 0; i < 5; i++ {
		require.NoError(t, m.IncrementNonce(addr))
	}
	require.Equal(t, uint64(5), m.GetNonce(addr))
}

func TestStorageDeleteDistinctFromEmpty(t *testing.T) {
	m := newTestManager(t)
	var addr types.Address
	addr[2] = 0x03

	require.NoError(t, m.SetStorage(addr, []byte("k"), []byte{}))
	v, ok := m.GetStorage(addr, []byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte{}, v)

	require.NoError(t, m.DeleteStorage(addr, []byte("k")))
	_, ok = m.GetStorage(addr, []byte("k"))
	require.False(t, ok)
}

func TestStateRootOrderIndependent(t *testing.T) {
	m1 := newTestManager(t)
	m2 := newTestManager(t)

	var a1, a2, a3 types.Address
	a1[0], a2[0], a3[0] = 1, 2, 3

	require.NoError(t, m1.AddBalance(a1, big.NewInt(10)))
	require.NoError(t, m1.AddBalance(a2, big.NewInt(20)))
	require.NoError(t, m1.AddBalance(a3, big.NewInt(30)))

	require.NoError(t, m2.AddBalance(a3, big.NewInt(30)))
	require.NoError(t, m2.AddBalance(a1, big.NewInt(10)))
	require.NoError(t, m2.AddBalance(a2, big.NewInt(20)))

	r1, err := m1.ComputeStateRoot()
	require.NoError(t, err)
	r2, err := m2.ComputeStateRoot()
	require.NoError(t, err)
	require.Equal(t, r1, r2)
}

func TestSnapshotRestore(t *testing.T) {
	m := newTestManager(t)
	var addr types.Address
	addr[0] = 0x05

	require.NoError(t, m.AddBalance(addr, big.NewInt(100)))
	id, err := m.Snapshot()
	require.NoError(t, err)

	require.NoError(t, m.AddBalance(addr, big.NewInt(900)))
	require.Equal(t, big.NewInt(1000), m.GetBalance(addr))

	require.NoError(t, m.Restore(id))
	require.Equal(t, big.NewInt(100), m.GetBalance(addr))
}
