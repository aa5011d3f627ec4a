package types

// Log is a single event emitted by LOG0..LOG4 during execution.
type Log struct {
	Address Address
	Topics  []Hash // 0 to 4 entries
	Data    []byte

	LogIndex    uint64
	TxHash      Hash
	BlockHash   Hash
	BlockNumber uint64
}
