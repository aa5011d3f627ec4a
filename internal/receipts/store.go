package receipts

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/povfchain/node/internal/kv"
	"github.com/povfchain/node/internal/logging"
	"github.com/povfchain/node/internal/types"
)

var log = logging.Module("receipts")

var ErrNotFound = errors.New("receipts: not found")

// Store maintains the tx_hash->Receipt index plus the address/topic
// secondary indices needed for filter_receipts (§4.4).
type Store struct {
	kv *kv.Store
}

func New(store *kv.Store) *Store {
	return &Store{kv: store}
}

// receiptRLP is the stored encoding. The optional To/ContractAddress
// pointers carry rlp:"nil" so an absent receiver round-trips as nil rather
// than materializing a zero address.
type receiptRLP struct {
	TxHash      types.Hash
	BlockHash   types.Hash
	BlockNumber uint64
	TxIndex     uint64

	From types.Address
	To   *types.Address `rlp:"nil"`

	Status            bool
	GasUsed           uint64
	CumulativeGasUsed uint64

	ContractAddress *types.Address `rlp:"nil"`
	Logs            []*types.Log
	LogsBloom       types.Bloom

	Output       []byte
	RevertReason string
}

func encodeReceipt(r *types.Receipt) ([]byte, error) {
	return rlp.EncodeToBytes(&receiptRLP{
		TxHash:            r.TxHash,
		BlockHash:         r.BlockHash,
		BlockNumber:       r.BlockNumber,
		TxIndex:           r.TxIndex,
		From:              r.From,
		To:                r.To,
		Status:            r.Status,
		GasUsed:           r.GasUsed,
		CumulativeGasUsed: r.CumulativeGasUsed,
		ContractAddress:   r.ContractAddress,
		Logs:              r.Logs,
		LogsBloom:         r.LogsBloom,
		Output:            r.Output,
		RevertReason:      r.RevertReason,
	})
}

func decodeReceipt(raw []byte) (*types.Receipt, error) {
	var w receiptRLP
	if err := rlp.DecodeBytes(raw, &w); err != nil {
		return nil, err
	}
	return &types.Receipt{
		TxHash:            w.TxHash,
		BlockHash:         w.BlockHash,
		BlockNumber:       w.BlockNumber,
		TxIndex:           w.TxIndex,
		From:              w.From,
		To:                w.To,
		Status:            w.Status,
		GasUsed:           w.GasUsed,
		CumulativeGasUsed: w.CumulativeGasUsed,
		ContractAddress:   w.ContractAddress,
		Logs:              w.Logs,
		LogsBloom:         w.LogsBloom,
		Output:            w.Output,
		RevertReason:      w.RevertReason,
	}, nil
}

// Put indexes one receipt: primary by tx hash, secondary by block hash,
// address, and each log topic.
func (s *Store) Put(r *types.Receipt) error {
	enc, err := encodeReceipt(r)
	if err != nil {
		return err
	}
	if err := s.kv.Put(kv.ReceiptTxKey(r.TxHash), enc); err != nil {
		return err
	}

	blockKey := kv.ReceiptBlockKey(r.BlockHash, r.TxIndex)
	if err := s.kv.Put(blockKey, r.TxHash[:]); err != nil {
		return err
	}
	if err := s.kv.Put(kv.ReceiptHeightKey(r.BlockNumber), r.BlockHash[:]); err != nil {
		return err
	}

	addrKey := kv.LogAddressKey(r.From, r.TxHash)
	if err := s.kv.Put(addrKey, nil); err != nil {
		return err
	}
	if r.To != nil {
		if err := s.kv.Put(kv.LogAddressKey(*r.To, r.TxHash), nil); err != nil {
			return err
		}
	}
	for _, l := range r.Logs {
		if err := s.kv.Put(kv.LogAddressKey(l.Address, r.TxHash), nil); err != nil {
			return err
		}
		for _, topic := range l.Topics {
			if err := s.kv.Put(kv.LogTopicKey(topic, r.TxHash), nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get retrieves a receipt by transaction hash.
func (s *Store) Get(txHash types.Hash) (*types.Receipt, error) {
	raw, err := s.kv.Get(kv.ReceiptTxKey(txHash))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeReceipt(raw)
}

// HasTransaction reports whether a transaction with this hash already has a
// committed receipt, i.e. the chain already knows it — used by the tx pool's
// Package() to drop stale candidates already included in a prior block
// (§4.7).
func (s *Store) HasTransaction(txHash types.Hash) bool {
	_, err := s.Get(txHash)
	return err == nil
}

// ReceiptsForBlock returns all receipts for a block in transaction-index
// order.
func (s *Store) ReceiptsForBlock(blockHash types.Hash) ([]*types.Receipt, error) {
	entries, err := s.kv.IterPrefix(kv.ReceiptBlockPrefix(blockHash))
	if err != nil {
		return nil, err
	}
	out := make([]*types.Receipt, 0, len(entries))
	for _, e := range entries {
		var txHash types.Hash
		copy(txHash[:], e.Value)
		r, err := s.Get(txHash)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// TopicFilter matches a log's position-indexed topics: nil at a position
// means wildcard, otherwise the topic at that position must equal one of
// the listed hashes (OR within a position, AND across positions).
type TopicFilter [][]types.Hash

// Filter is the §4.4 filter_receipts predicate set: all provided fields are
// ANDed. BlockHash pins a single block and takes precedence over the height
// range; FromBlock/ToBlock bound an inclusive height range.
type Filter struct {
	BlockHash *types.Hash
	FromBlock *uint64
	ToBlock   *uint64
	Addresses []types.Address
	Topics    TopicFilter
}

// FilterReceipts returns receipts whose logs match every provided predicate
// (§4.4): addresses OR-match (empty means any), topics match positionally
// with nil as wildcard (OR within a position, AND across positions).
func (s *Store) FilterReceipts(f Filter) ([]*types.Receipt, error) {
	blocks, err := s.filterBlocks(f)
	if err != nil {
		return nil, err
	}
	var matched []*types.Receipt
	for _, bh := range blocks {
		all, err := s.ReceiptsForBlock(bh)
		if err != nil {
			return nil, err
		}
		for _, r := range all {
			if receiptMatches(r, f.Addresses, f.Topics) {
				matched = append(matched, r)
			}
		}
	}
	return matched, nil
}

// filterBlocks resolves the filter's block predicates to concrete block
// hashes, in ascending height order for range queries.
func (s *Store) filterBlocks(f Filter) ([]types.Hash, error) {
	if f.BlockHash != nil {
		return []types.Hash{*f.BlockHash}, nil
	}
	entries, err := s.kv.IterPrefix(kv.ReceiptHeightPrefix())
	if err != nil {
		return nil, err
	}
	var out []types.Hash
	for _, e := range entries {
		height := binary.BigEndian.Uint64(e.Key[len(e.Key)-8:])
		if f.FromBlock != nil && height < *f.FromBlock {
			continue
		}
		if f.ToBlock != nil && height > *f.ToBlock {
			continue
		}
		var bh types.Hash
		copy(bh[:], e.Value)
		out = append(out, bh)
	}
	return out, nil
}

func receiptMatches(r *types.Receipt, addresses []types.Address, topics TopicFilter) bool {
	for _, l := range r.Logs {
		if !addressMatches(l.Address, addresses) {
			continue
		}
		if !topicsMatch(l.Topics, topics) {
			continue
		}
		return true
	}
	return len(r.Logs) == 0 && len(addresses) == 0 && len(topics) == 0
}

func addressMatches(addr types.Address, filter []types.Address) bool {
	if len(filter) == 0 {
		return true
	}
	for _, a := range filter {
		if a == addr {
			return true
		}
	}
	return false
}

func topicsMatch(logTopics []types.Hash, filter TopicFilter) bool {
	if len(filter) > len(logTopics) {
		return false
	}
	for i, options := range filter {
		if len(options) == 0 {
			continue
		}
		found := false
		for _, want := range options {
			if bytes.Equal(logTopics[i][:], want[:]) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// RemoveBlock atomically drops a block's receipt and index entries ahead of
// inserting a reorg-winning chain's receipts, so no stale tx_hash -> Receipt
// or address/topic index entry survives a fork switch.
func (s *Store) RemoveBlock(blockHash types.Hash) error {
	entries, err := s.kv.IterPrefix(kv.ReceiptBlockPrefix(blockHash))
	if err != nil {
		return err
	}

	batch := s.kv.NewBatch()
	for _, e := range entries {
		var txHash types.Hash
		copy(txHash[:], e.Value)
		r, err := s.Get(txHash)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		batch.Delete(e.Key)
		batch.Delete(kv.ReceiptTxKey(txHash))
		if r == nil {
			continue
		}
		batch.Delete(kv.ReceiptHeightKey(r.BlockNumber))
		batch.Delete(kv.LogAddressKey(r.From, txHash))
		if r.To != nil {
			batch.Delete(kv.LogAddressKey(*r.To, txHash))
		}
		for _, l := range r.Logs {
			batch.Delete(kv.LogAddressKey(l.Address, txHash))
			for _, topic := range l.Topics {
				batch.Delete(kv.LogTopicKey(topic, txHash))
			}
		}
	}
	return s.kv.Write(batch)
}
