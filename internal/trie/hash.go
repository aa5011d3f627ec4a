// Package trie implements the Merkle Patricia Trie over 20-byte address
// paths described in §4.5: branch/extension/leaf nodes, deterministic
// hashing (Keccak in production, SHA-256+prefix in test mode), root
// computation and inclusion/absence proof verification.
//
// Per §9's cyclic-dependency note, the trie is strictly a byte-store
// client: it knows nothing about accounts. Account encoding happens in the
// state package's ComputeStateRoot, which calls into this package only
// through the Trie/TrieDB types.
package trie

import (
	"crypto/sha256"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/povfchain/node/internal/types"
)

// HashMode selects the node-hashing function. It must be fixed at
// construction time (compile-time/config-time), never varied per call, or
// state roots diverge across peers (§9).
type HashMode uint8

const (
	// HashModeProduction uses Keccak-256 for Ethereum interoperability.
	HashModeProduction HashMode = iota
	// HashModeTest uses SHA-256 with a constant prefix for fast, distinct
	// test hashing. Never use this mode for a node that must interoperate.
	HashModeTest
)

var testModePrefix = []byte("TEST_MODE")

// hashNode hashes an encoded node (or any byte blob) under the given mode.
func hashNode(mode HashMode, data []byte) types.Hash {
	switch mode {
	case HashModeTest:
		buf := append(append([]byte{}, testModePrefix...), data...)
		return sha256.Sum256(buf)
	default:
		return crypto.Keccak256Hash(data)
	}
}
