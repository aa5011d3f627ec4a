// Package wal implements the append-only, crash-recoverable log of state
// mutations described in §4.1: typed records, 4-byte length-prefixed
// framing, SHA-256 checksums, file rotation and checkpoint-based recovery.
package wal

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/povfchain/node/internal/types"
)

// RecordKind enumerates the nine record types §4.1 requires.
type RecordKind uint8

const (
	KindCreateAccount RecordKind = iota
	KindUpdateAccount
	KindDeleteAccount
	KindWriteStorage
	KindDeleteStorage
	KindCheckpoint
	KindTxBegin
	KindTxCommit
	KindTxRollback
)

// ErrCorruptedWAL is returned only when a length prefix exceeds the 10MB
// sanity cap; individual checksum-mismatched records are skipped, not
// fatal.
var ErrCorruptedWAL = errors.New("wal: corrupted log")

// maxRecordSize is the sanity cap on a single record's length prefix.
const maxRecordSize = 10 * 1024 * 1024

// Record is one entry in the log. Payload is the RLP encoding of the
// kind-specific fields below, opaque to the framing/checksum layer.
type Record struct {
	Sequence  uint64
	Timestamp int64
	Kind      RecordKind
	Payload   []byte
}

// AccountPayload backs CreateAccount/UpdateAccount/DeleteAccount records.
type AccountPayload struct {
	Address types.Address
	Balance []byte // big.Int bytes, big-endian
	Nonce   uint64
	CodeHash types.Hash
	StorageRoot types.Hash
	Kind    uint8
}

// StoragePayload backs WriteStorage/DeleteStorage records.
type StoragePayload struct {
	Address types.Address
	Key     []byte
	Value   []byte
}

// CheckpointPayload backs Checkpoint records: the highest checkpoint
// defines the last durable block.
type CheckpointPayload struct {
	BlockNumber uint64
	BlockHash   types.Hash
}

// TxPayload backs TxBegin/TxCommit/TxRollback records.
type TxPayload struct {
	TxID uint64
}

// checksum computes SHA-256 over (sequence || timestamp || payload).
func checksum(seq uint64, ts int64, payload []byte) [32]byte {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], seq)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(ts))
	h := sha256.New()
	h.Write(buf[:])
	h.Write(payload)
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// wireRecord is the on-disk encoding: record fields plus their checksum.
// Timestamp is uint64 on the wire (rlp has no signed integers).
type wireRecord struct {
	Sequence  uint64
	Timestamp uint64
	Kind      uint8
	Payload   []byte
	Checksum  [32]byte
}

func encodeRecord(r *Record) ([]byte, error) {
	sum := checksum(r.Sequence, r.Timestamp, r.Payload)
	return rlp.EncodeToBytes(&wireRecord{
		Sequence:  r.Sequence,
		Timestamp: uint64(r.Timestamp),
		Kind:      uint8(r.Kind),
		Payload:   r.Payload,
		Checksum:  sum,
	})
}

// decodeRecord parses a wire record and verifies its checksum. ok is false
// (with no error) when the checksum mismatches — the caller should log and
// skip, not abort.
func decodeRecord(b []byte) (*Record, bool, error) {
	var w wireRecord
	if err := rlp.DecodeBytes(b, &w); err != nil {
		return nil, false, err
	}
	want := checksum(w.Sequence, int64(w.Timestamp), w.Payload)
	if want != w.Checksum {
		return nil, false, nil
	}
	return &Record{
		Sequence:  w.Sequence,
		Timestamp: int64(w.Timestamp),
		Kind:      RecordKind(w.Kind),
		Payload:   w.Payload,
	}, true, nil
}

func encodeLengthPrefix(n uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], n)
	return b[:]
}

func decodeLengthPrefix(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}
