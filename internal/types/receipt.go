package types

// Receipt is the per-transaction execution record (§3, §4.6).
type Receipt struct {
	TxHash      Hash
	BlockHash   Hash
	BlockNumber uint64
	TxIndex     uint64

	From Address
	To   *Address

	Status           bool
	GasUsed          uint64
	CumulativeGasUsed uint64

	ContractAddress *Address
	Logs            []*Log
	LogsBloom       Bloom

	Output        []byte
	RevertReason  string
}
