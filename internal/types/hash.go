package types

import "github.com/ethereum/go-ethereum/crypto"

// keccak256Hash is the package-internal production hash function used to
// derive content-addressed identifiers (tx hashes, block hashes). State-root
// hashing has its own mode switch (trie.HashMode) per §4.5/§9 and is not
// routed through here.
func keccak256Hash(data ...[]byte) Hash {
	return crypto.Keccak256Hash(data...)
}
