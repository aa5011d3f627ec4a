package statecache

import (
	"math/big"
	"testing"

	"github.com/povfchain/node/internal/kv"
	"github.com/povfchain/node/internal/state"
	"github.com/povfchain/node/internal/trie"
	"github.com/povfchain/node/internal/types"
	"github.com/stretchr/testify/require"
)

func TestCacheReadThroughAndFlush(t *testing.T) {
	store, err := kv.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	mgr := state.New(state.DefaultConfig(), store, nil, trie.HashModeTest)
	var addr types.Address
	addr[0] = 0x11
	require.NoError(t, mgr.AddBalance(addr, big.NewInt(500)))

	c := New(mgr, 1<<20)
	defer c.Close()

	acc := c.GetAccount(addr)
	require.Equal(t, big.NewInt(500), acc.Balance)

	acc.Balance = big.NewInt(999)
	c.SetAccount(addr, acc)
	require.Equal(t, big.NewInt(999), c.GetAccount(addr).Balance)

	// Backing manager unaffected until Flush.
	require.Equal(t, big.NewInt(500), mgr.GetBalance(addr))
	require.NoError(t, c.Flush())
	require.Equal(t, big.NewInt(999), mgr.GetBalance(addr))
}

func TestCacheSnapshotRevert(t *testing.T) {
	store, err := kv.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	mgr := state.New(state.DefaultConfig(), store, nil, trie.HashModeTest)
	c := New(mgr, 1<<20)
	defer c.Close()

	var addr types.Address
	addr[0] = 0x22
	acc := c.GetAccount(addr)
	acc.Balance = big.NewInt(10)
	c.SetAccount(addr, acc)

	snap := c.Snapshot()
	acc2 := c.GetAccount(addr)
	acc2.Balance = big.NewInt(20)
	c.SetAccount(addr, acc2)
	require.Equal(t, big.NewInt(20), c.GetAccount(addr).Balance)

	c.RevertToSnapshot(snap)
	require.Equal(t, big.NewInt(10), c.GetAccount(addr).Balance)
}
