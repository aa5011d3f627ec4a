package vm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/povfchain/node/internal/logging"
	"github.com/povfchain/node/internal/types"
)

var log = logging.Module("evm")

// Database is the synchronous contract the EVM executes against, satisfied
// by the statecache.Cache bridge (§4.3/§9).
type Database interface {
	GetAccount(addr types.Address) *types.Account
	SetAccount(addr types.Address, acc *types.Account)
	DeleteAccount(addr types.Address)
	GetBalance(addr types.Address) *big.Int
	GetNonce(addr types.Address) uint64
	SetNonce(addr types.Address, nonce uint64)
	GetState(addr types.Address, key []byte) ([]byte, bool)
	SetState(addr types.Address, key, value []byte)
	DeleteState(addr types.Address, key []byte)
	GetCode(codeHash types.Hash) []byte
	SetCode(codeHash types.Hash, code []byte)
}

// BlockContext carries the per-block environment values opcodes need
// (§4.6).
type BlockContext struct {
	BlockNumber    uint64
	BlockTimestamp int64
	BlockCoinbase  types.Address
	BlockGasLimit  uint64
	TxGasPrice     *big.Int
	ChainID        uint64
	BaseFee        uint64
	// RecentBlockHashes holds up to the last 256 block hashes, indexed by
	// height, for the BLOCKHASH opcode.
	RecentBlockHashes map[uint64]types.Hash
}

// MaxContractSize is EIP-170's default (§3, §6).
const MaxContractSize = 24576

// ExecutionResult is the outcome of running one call/create frame (§4.6).
type ExecutionResult struct {
	Success bool
	Reverted bool
	Halted   bool
	HaltReason string

	GasUsed uint64
	Output  []byte
	Logs    []*types.Log

	ContractAddress *types.Address
	RefundedGas     uint64
}

// EVM is the bytecode executor: gas metering, precompiles, logs, and the
// CREATE/CREATE2/CALL/STATICCALL/DELEGATECALL family.
type EVM struct {
	db  Database
	ctx BlockContext

	depth int
	// pendingLogs accumulates LOG0-4 output for the in-flight top-level
	// call; discarded on revert, attached to the receipt on success.
	pendingLogs []*types.Log
	logIndex    uint64

	// refund accumulates SSTORE-clear and SELFDESTRUCT refunds across the
	// transaction; applied (EIP-3529 capped) once the top-level frame
	// returns successfully.
	refund uint64

	// transient is EIP-1153 transient storage: per-transaction, discarded
	// when the top-level frame returns.
	transient map[types.Address]map[types.Hash][32]byte
}

func New(db Database, ctx BlockContext) *EVM {
	return &EVM{db: db, ctx: ctx}
}

// resetTxScope clears all per-transaction accumulators before a top-level
// entry point runs.
func (e *EVM) resetTxScope() {
	e.pendingLogs = nil
	e.logIndex = 0
	e.depth = 0
	e.refund = 0
	e.transient = nil
}

func (e *EVM) transientLoad(addr types.Address, key types.Hash) [32]byte {
	if slots, ok := e.transient[addr]; ok {
		return slots[key]
	}
	return [32]byte{}
}

func (e *EVM) transientStore(addr types.Address, key types.Hash, val [32]byte) {
	if e.transient == nil {
		e.transient = make(map[types.Address]map[types.Hash][32]byte)
	}
	if e.transient[addr] == nil {
		e.transient[addr] = make(map[types.Hash][32]byte)
	}
	e.transient[addr][key] = val
}

// DeterministicCreateAddress computes last 20 bytes of KECCAK(RLP(sender,
// nonce)) (§4.6).
func DeterministicCreateAddress(sender types.Address, nonce uint64) types.Address {
	enc, err := rlp.EncodeToBytes([]interface{}{sender, nonce})
	if err != nil {
		panic(err)
	}
	h := crypto.Keccak256(enc)
	var addr types.Address
	copy(addr[:], h[12:])
	return addr
}

// Create2Address computes last 20 bytes of KECCAK(0xFF || sender || salt ||
// KECCAK(init_code)) (§4.6).
func Create2Address(sender types.Address, salt types.Hash, initCode []byte) types.Address {
	initCodeHash := crypto.Keccak256(initCode)
	buf := make([]byte, 0, 1+20+32+32)
	buf = append(buf, 0xff)
	buf = append(buf, sender[:]...)
	buf = append(buf, salt[:]...)
	buf = append(buf, initCodeHash...)
	h := crypto.Keccak256(buf)
	var addr types.Address
	copy(addr[:], h[12:])
	return addr
}

// IntrinsicGas computes 21000 + 4*zero_bytes + 16*nonzero_bytes (§4.6).
func IntrinsicGas(data []byte) uint64 {
	gas := uint64(21000)
	for _, b := range data {
		if b == 0 {
			gas += 4
		} else {
			gas += 16
		}
	}
	return gas
}

func bigToU256(v *big.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	u, _ := uint256.FromBig(v)
	return u
}
