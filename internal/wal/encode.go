package wal

import "github.com/ethereum/go-ethereum/rlp"

// rlpEncode encodes a kind-specific payload struct for use as a Record's
// Payload field.
func rlpEncode(v any) ([]byte, error) {
	return rlp.EncodeToBytes(v)
}
