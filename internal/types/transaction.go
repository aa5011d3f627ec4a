package types

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// TxKind distinguishes a native value-transfer envelope from one that
// carries EVM payload semantics (creation or call).
type TxKind uint8

const (
	TxKindNative TxKind = iota
	TxKindEVM
)

// Transaction is the signed envelope submitted to the pool and, once
// packaged, executed by the EVM engine.
type Transaction struct {
	Kind   TxKind
	Sender Address
	To     *Address // nil means contract creation
	Value  *big.Int
	Gas    uint64
	Nonce  uint64
	Data   []byte

	// Fee fields: EIP-1559 style takes precedence over the legacy field.
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	GasPrice             *big.Int

	ChainID   uint64
	Signature []byte

	hash *Hash
}

// rlpTxForHash is the subset of fields that deterministically identify a
// transaction; used only to derive Hash, mirroring go-ethereum's pattern of
// hashing an RLP encoding of the signed envelope.
type rlpTxForHash struct {
	Kind      uint8
	Sender    Address
	To        *Address
	Value     *big.Int
	Gas       uint64
	Nonce     uint64
	Data      []byte
	ChainID   uint64
	Signature []byte

	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	GasPrice             *big.Int
}

// Hash returns the content-derived transaction hash, computed once and
// cached.
func (tx *Transaction) Hash() Hash {
	if tx.hash != nil {
		return *tx.hash
	}
	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	enc, err := rlp.EncodeToBytes(&rlpTxForHash{
		Kind:      uint8(tx.Kind),
		Sender:    tx.Sender,
		To:        tx.To,
		Value:     value,
		Gas:       tx.Gas,
		Nonce:     tx.Nonce,
		Data:      tx.Data,
		ChainID:   tx.ChainID,
		Signature: tx.Signature,

		MaxFeePerGas:         tx.MaxFeePerGas,
		MaxPriorityFeePerGas: tx.MaxPriorityFeePerGas,
		GasPrice:             tx.GasPrice,
	})
	if err != nil {
		// RLP encoding of these concrete field types cannot fail.
		panic(err)
	}
	h := keccak256Hash(enc)
	tx.hash = &h
	return h
}

// rlpTxForSigning is the envelope minus the signature and the fee fields:
// the digest the sender actually signs.
type rlpTxForSigning struct {
	Kind    uint8
	Sender  Address
	To      *Address
	Value   *big.Int
	Gas     uint64
	Nonce   uint64
	Data    []byte
	ChainID uint64
}

// SigHash returns the digest covered by the envelope's signature.
func (tx *Transaction) SigHash() Hash {
	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	enc, err := rlp.EncodeToBytes(&rlpTxForSigning{
		Kind:    uint8(tx.Kind),
		Sender:  tx.Sender,
		To:      tx.To,
		Value:   value,
		Gas:     tx.Gas,
		Nonce:   tx.Nonce,
		Data:    tx.Data,
		ChainID: tx.ChainID,
	})
	if err != nil {
		panic(err)
	}
	return keccak256Hash(enc)
}

// Sign fills the envelope's signature with a 65-byte recoverable ECDSA
// signature over SigHash.
func (tx *Transaction) Sign(key *ecdsa.PrivateKey) error {
	h := tx.SigHash()
	sig, err := crypto.Sign(h[:], key)
	if err != nil {
		return err
	}
	tx.Signature = sig
	tx.hash = nil
	return nil
}

// VerifySignature recovers the signer from the envelope's signature and
// reports whether it matches the declared sender.
func (tx *Transaction) VerifySignature() bool {
	if len(tx.Signature) != 65 {
		return false
	}
	h := tx.SigHash()
	pub, err := crypto.SigToPub(h[:], tx.Signature)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == tx.Sender
}

// EffectiveGasPrice derives the price used for pool ordering: the dynamic
// fee cap if present, else the legacy gas price, else zero.
func (tx *Transaction) EffectiveGasPrice() *big.Int {
	if tx.MaxFeePerGas != nil {
		return tx.MaxFeePerGas
	}
	if tx.GasPrice != nil {
		return tx.GasPrice
	}
	return new(big.Int)
}

// IsContractCreation reports the §4.6 heuristic: no receiver and non-empty
// data.
func (tx *Transaction) IsContractCreation() bool {
	return tx.To == nil && len(tx.Data) > 0
}

// IntrinsicGas computes 21000 + 4*zero_bytes + 16*nonzero_bytes.
func (tx *Transaction) IntrinsicGas() uint64 {
	gas := uint64(21000)
	for _, b := range tx.Data {
		if b == 0 {
			gas += 4
		} else {
			gas += 16
		}
	}
	return gas
}
