package types

import "github.com/ethereum/go-ethereum/rlp"

// Header carries the fields every block pins down (§3).
type Header struct {
	Height        uint64
	Timestamp     int64
	PrevBlockHash Hash
	MerkleRoot    Hash // of this block's transactions
	StateRoot     Hash // post-execution world state
	PublicKey     []byte
	Params        []byte // encodes VDF iterations + proof, see consensus/povf
	GasLimit      uint64
	BaseFee       uint64
}

// Block is a header plus its ordered transactions.
type Block struct {
	Header       Header
	Transactions []*Transaction

	hash *Hash
}

type rlpHeaderForHash struct {
	Height        uint64
	Timestamp     uint64 // rlp has no signed integers; unix seconds fit fine
	PrevBlockHash Hash
	MerkleRoot    Hash
	StateRoot     Hash
	PublicKey     []byte
	Params        []byte
	GasLimit      uint64
	BaseFee       uint64
}

// Hash returns the block hash: the Keccak-256 of the RLP-encoded header.
func (b *Block) Hash() Hash {
	if b.hash != nil {
		return *b.hash
	}
	enc, err := rlp.EncodeToBytes(&rlpHeaderForHash{
		Height:        b.Header.Height,
		Timestamp:     uint64(b.Header.Timestamp),
		PrevBlockHash: b.Header.PrevBlockHash,
		MerkleRoot:    b.Header.MerkleRoot,
		StateRoot:     b.Header.StateRoot,
		PublicKey:     b.Header.PublicKey,
		Params:        b.Header.Params,
		GasLimit:      b.Header.GasLimit,
		BaseFee:       b.Header.BaseFee,
	})
	if err != nil {
		panic(err)
	}
	h := keccak256Hash(enc)
	b.hash = &h
	return h
}

// ComputeMerkleRoot hashes the ordered transaction hashes into a single
// root. It is intentionally simple (one Keccak over the concatenated hashes)
// rather than a full binary Merkle tree: only a deterministic digest of
// transaction order is needed here, not inclusion proofs for transactions
// (those exist only for accounts/storage via the MPT, §4.5).
func ComputeMerkleRoot(txs []*Transaction) Hash {
	if len(txs) == 0 {
		return Hash{}
	}
	acc := make([]byte, 0, len(txs)*32)
	for _, tx := range txs {
		h := tx.Hash()
		acc = append(acc, h[:]...)
	}
	return keccak256Hash(acc)
}
