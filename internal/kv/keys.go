package kv

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/povfchain/node/internal/types"
)

// Key prefixes, exactly as structured in §4.2.
var (
	prefixAccount    = []byte("account_")
	prefixStorage    = []byte("storage_")
	prefixTrieNode   = []byte("trie_node:")
	keyTrieRootHash  = []byte("trie_root_hash")
	prefixCheckpoint = []byte("checkpoint_")
	prefixReceiptTx  = []byte("receipt_tx_")
	prefixReceiptBlk = []byte("receipt_block_")
	prefixReceiptNum = []byte("receipt_height_")
	prefixLogAddr    = []byte("log_addr_")
	prefixLogTopic   = []byte("log_topic_")
)

func AccountKey(addr types.Address) []byte {
	return append(append([]byte{}, prefixAccount...), addr[:]...)
}

func StorageKey(addr types.Address, key []byte) []byte {
	out := append(append([]byte{}, prefixStorage...), addr[:]...)
	return append(out, key...)
}

func StoragePrefix(addr types.Address) []byte {
	return append(append([]byte{}, prefixStorage...), addr[:]...)
}

func TrieNodeKey(hash types.Hash) []byte {
	return append(append([]byte{}, prefixTrieNode...), []byte(hex.EncodeToString(hash[:]))...)
}

func TrieRootHashKey() []byte { return keyTrieRootHash }

func CheckpointKey(blockNum uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], blockNum)
	return append(append([]byte{}, prefixCheckpoint...), b[:]...)
}

func ReceiptTxKey(txHash types.Hash) []byte {
	return append(append([]byte{}, prefixReceiptTx...), txHash[:]...)
}

func ReceiptBlockPrefix(blockHash types.Hash) []byte {
	return append(append([]byte{}, prefixReceiptBlk...), blockHash[:]...)
}

func ReceiptBlockKey(blockHash types.Hash, txIndex uint64) []byte {
	out := ReceiptBlockPrefix(blockHash)
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], txIndex)
	return append(out, idx[:]...)
}

// ReceiptHeightKey maps a block height to its block hash so receipt queries
// can resolve from_block/to_block ranges. Big-endian height keeps prefix
// scans in ascending height order.
func ReceiptHeightKey(blockNum uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], blockNum)
	return append(append([]byte{}, prefixReceiptNum...), b[:]...)
}

func ReceiptHeightPrefix() []byte {
	return append([]byte{}, prefixReceiptNum...)
}

func LogAddressKey(addr types.Address, txHash types.Hash) []byte {
	out := append(append([]byte{}, prefixLogAddr...), addr[:]...)
	return append(out, txHash[:]...)
}

func LogAddressPrefix(addr types.Address) []byte {
	return append(append([]byte{}, prefixLogAddr...), addr[:]...)
}

func LogTopicKey(topic types.Hash, txHash types.Hash) []byte {
	out := append(append([]byte{}, prefixLogTopic...), topic[:]...)
	return append(out, txHash[:]...)
}

func LogTopicPrefix(topic types.Hash) []byte {
	return append(append([]byte{}, prefixLogTopic...), topic[:]...)
}
