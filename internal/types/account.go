// Package types defines the data model shared by every core component:
// addresses and hashes, accounts, transactions, blocks, receipts and logs.
package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Address and Hash are re-used from go-ethereum's common package: 20 and 32
// opaque bytes respectively, with the hex formatting rules already
// implemented there.
type (
	Address = common.Address
	Hash    = common.Hash
)

// AccountKind distinguishes the four account categories the node tracks.
type AccountKind uint8

const (
	KindEOA AccountKind = iota
	KindContract
	KindValidator
	KindSystem
)

func (k AccountKind) String() string {
	switch k {
	case KindEOA:
		return "eoa"
	case KindContract:
		return "contract"
	case KindValidator:
		return "validator"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Account is the persistent record keyed by Address. Balance is unbounded
// and non-negative; Nonce never decreases except during an explicit
// finalized-reorg rollback.
type Account struct {
	Balance     *big.Int
	Nonce       uint64
	CodeHash    Hash // zero value means "no code"
	StorageRoot Hash
	Kind        AccountKind
	CreatedAt   int64
	UpdatedAt   int64
	Deleted     bool
}

// EmptyCodeHash is the hash of the empty bytecode; an account's CodeHash
// equal to this (or the zero Hash) means the account is not a contract.
var EmptyCodeHash = crypto.Keccak256Hash(nil)

// NewAccount returns the default zero-state account materialized on first
// read: balance 0, nonce 0, kind EOA.
func NewAccount() *Account {
	return &Account{Balance: new(big.Int), Kind: KindEOA}
}

// IsContract reports whether the account carries deployed bytecode.
func (a *Account) IsContract() bool {
	return a.Kind == KindContract && a.CodeHash != (Hash{}) && a.CodeHash != EmptyCodeHash
}

// Copy returns a deep copy safe for independent mutation (used by
// snapshotting and the sync cache).
func (a *Account) Copy() *Account {
	cp := *a
	cp.Balance = new(big.Int).Set(a.Balance)
	return &cp
}
