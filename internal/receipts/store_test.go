package receipts

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/povfchain/node/internal/kv"
	"github.com/povfchain/node/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := kv.OpenInMemory()
	require.NoError(t, err)
	return New(db)
}

func TestPutAndGet(t *testing.T) {
	s := newTestStore(t)
	var txHash, blockHash types.Hash
	txHash[0] = 1
	blockHash[0] = 2

	r := &types.Receipt{TxHash: txHash, BlockHash: blockHash, TxIndex: 0, Status: true}
	require.NoError(t, s.Put(r))

	got, err := s.Get(txHash)
	require.NoError(t, err)
	require.Equal(t, txHash, got.TxHash)
}

func TestFilterReceiptsByAddressAndTopic(t *testing.T) {
	s := newTestStore(t)
	var blockHash, txHash1, txHash2, addr, topic types.Hash
	blockHash[0] = 1
	txHash1[0] = 2
	txHash2[0] = 3
	topic[0] = 9
	var addrA types.Address
	addrA[0] = 5

	r1 := &types.Receipt{
		TxHash: txHash1, BlockHash: blockHash, TxIndex: 0, Status: true,
		Logs: []*types.Log{{Address: addrA, Topics: []types.Hash{topic}}},
	}
	r2 := &types.Receipt{TxHash: txHash2, BlockHash: blockHash, TxIndex: 1, Status: true}
	require.NoError(t, s.Put(r1))
	require.NoError(t, s.Put(r2))
	_ = addr

	matched, err := s.FilterReceipts(Filter{
		BlockHash: &blockHash,
		Addresses: []types.Address{addrA},
		Topics:    TopicFilter{{topic}},
	})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	require.Equal(t, txHash1, matched[0].TxHash)
}

func TestFilterReceiptsByHeightRange(t *testing.T) {
	s := newTestStore(t)
	for i := uint64(1); i <= 5; i++ {
		var blockHash, txHash types.Hash
		blockHash[0] = byte(i)
		txHash[0] = byte(0x10 + i)
		r := &types.Receipt{TxHash: txHash, BlockHash: blockHash, BlockNumber: i, TxIndex: 0, Status: true}
		require.NoError(t, s.Put(r))
	}

	from, to := uint64(2), uint64(4)
	matched, err := s.FilterReceipts(Filter{FromBlock: &from, ToBlock: &to})
	require.NoError(t, err)
	require.Len(t, matched, 3)
	require.Equal(t, uint64(2), matched[0].BlockNumber)
	require.Equal(t, uint64(4), matched[2].BlockNumber)
}

func TestRemoveBlockDropsAllIndexEntries(t *testing.T) {
	s := newTestStore(t)
	var blockHash, txHash types.Hash
	blockHash[0] = 1
	txHash[0] = 2

	r := &types.Receipt{TxHash: txHash, BlockHash: blockHash, TxIndex: 0, Status: true}
	require.NoError(t, s.Put(r))
	require.NoError(t, s.RemoveBlock(blockHash))

	_, err := s.Get(txHash)
	require.ErrorIs(t, err, ErrNotFound)

	rs, err := s.ReceiptsForBlock(blockHash)
	require.NoError(t, err)
	require.Empty(t, rs)
}
