package types

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Hex-string formats the RPC surface pins down (§6): integers as 0x-prefixed
// lower-case hex with no leading zeros (except "0x0"), addresses and hashes
// as 0x + lower-case hex.

// HexUint64 formats v per the §6 integer rule.
func HexUint64(v uint64) string { return hexutil.EncodeUint64(v) }

// HexBig formats an unbounded integer per the §6 integer rule.
func HexBig(v *big.Int) string {
	if v == nil {
		return "0x0"
	}
	return hexutil.EncodeBig(v)
}

// HexBytes formats a byte blob as 0x + lower-case hex.
func HexBytes(b []byte) string { return hexutil.Encode(b) }

// HexAddress formats an address as 0x + 40 lower-case hex digits.
func HexAddress(a Address) string { return strings.ToLower(a.Hex()) }

// HexHash formats a hash as 0x + 64 lower-case hex digits.
func HexHash(h Hash) string { return h.Hex() }

// BlockNumber is the §6 block-number tag: "earliest" | "latest" | "pending"
// or an explicit 0x-hex height.
type BlockNumber int64

const (
	EarliestBlockNumber BlockNumber = -3
	PendingBlockNumber  BlockNumber = -2
	LatestBlockNumber   BlockNumber = -1
)

var errInvalidBlockNumber = errors.New("types: invalid block number tag")

// ParseBlockNumber decodes a §6 block-number tag string.
func ParseBlockNumber(s string) (BlockNumber, error) {
	switch s {
	case "earliest":
		return EarliestBlockNumber, nil
	case "latest":
		return LatestBlockNumber, nil
	case "pending":
		return PendingBlockNumber, nil
	}
	v, err := hexutil.DecodeUint64(s)
	if err != nil {
		return 0, errInvalidBlockNumber
	}
	return BlockNumber(v), nil
}

func (bn BlockNumber) String() string {
	switch bn {
	case EarliestBlockNumber:
		return "earliest"
	case PendingBlockNumber:
		return "pending"
	case LatestBlockNumber:
		return "latest"
	default:
		return hexutil.EncodeUint64(uint64(bn))
	}
}
