package vm

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/povfchain/node/internal/types"
)

// Message is a top-level call or contract-creation request, derived from a
// types.Transaction by the block assembly pipeline (§4.6, §4.9).
type Message struct {
	From     types.Address
	To       *types.Address // nil for contract creation
	Value    *big.Int
	Data     []byte
	GasLimit uint64
}

// ExecuteTransaction runs one top-level message to completion and returns
// the full execution outcome used to build a types.Receipt (§4.4, §4.6).
//
// Gas is bought upfront at msg.GasLimit*TxGasPrice against the sender's
// balance (mirroring go-ethereum's buyGas), refunded back down to the
// actually-used amount once the frame returns, with the spent portion
// credited to the block's coinbase. The sender's nonce is bumped exactly
// once per top-level message: executeCreate does it itself (the new
// contract's address is derived from the pre-bump nonce), calls are bumped
// here.
//
// Gas accounting on a Halt (out-of-gas, invalid opcode, depth limit, bad
// jump) consumes the entire gas_limit and refunds nothing — a clean REVERT
// returns unused gas to the caller, and only a successful frame also has
// the refund counter credited.
func (e *EVM) ExecuteTransaction(msg Message) *ExecutionResult {
	e.resetTxScope()

	msgValue := msg.Value
	if msgValue == nil {
		msgValue = new(big.Int)
	}

	intrinsic := IntrinsicGas(msg.Data)
	if msg.GasLimit < intrinsic {
		return &ExecutionResult{Success: false, Halted: true, HaltReason: "intrinsic gas exceeds limit", GasUsed: msg.GasLimit}
	}

	price := e.ctx.TxGasPrice
	if price == nil {
		price = new(big.Int)
	}
	gasCost := new(big.Int).Mul(new(big.Int).SetUint64(msg.GasLimit), price)
	totalCost := new(big.Int).Add(msgValue, gasCost)
	if e.db.GetBalance(msg.From).Cmp(totalCost) < 0 {
		return &ExecutionResult{Success: false, Halted: true, HaltReason: ErrInsufficientBalance.Error(), GasUsed: msg.GasLimit}
	}
	e.subBalance(msg.From, gasCost)

	available := msg.GasLimit - intrinsic
	value := uint256.MustFromBig(msgValue)

	var result *ExecutionResult
	if msg.To == nil {
		result = e.executeCreate(msg.From, msg.Data, value, available, msg.GasLimit)
	} else {
		e.db.SetNonce(msg.From, e.db.GetNonce(msg.From)+1)
		result = e.executeCall(msg.From, *msg.To, msg.Data, value, available, msg.GasLimit)
	}

	// EIP-3529: a successful frame's accumulated refunds come off gas_used,
	// capped at a fifth of it. Reverts and halts refund nothing.
	if result.Success && e.refund > 0 {
		credited := capRefund(result.GasUsed, e.refund)
		result.GasUsed -= credited
		result.RefundedGas = credited
	}

	unused := new(big.Int).SetUint64(msg.GasLimit - result.GasUsed)
	unused.Mul(unused, price)
	e.addBalance(msg.From, unused)
	spent := new(big.Int).SetUint64(result.GasUsed)
	spent.Mul(spent, price)
	e.addBalance(e.ctx.BlockCoinbase, spent)

	return result
}

// Call runs a read-only, no-side-effect-committing message the way
// eth_call does: the full gasLimit is the call's own budget (no intrinsic
// transaction overhead — that's a top-level-transaction-only cost charged
// by ExecuteTransaction), no nonce is bumped, and no receipt is produced
// (§4.6). Callers that must not leave any state mutation behind (an RPC
// handler, EstimateGas's own probing) are expected to run this against a
// snapshot they can revert, since the underlying Database is mutated as it
// executes.
func (e *EVM) Call(from, to types.Address, value *big.Int, data []byte, gasLimit uint64) *ExecutionResult {
	e.resetTxScope()

	if value == nil {
		value = new(big.Int)
	}
	val := uint256.MustFromBig(value)
	return e.executeCall(from, to, data, val, gasLimit, gasLimit)
}

// CreateContract runs CREATE semantics as a standalone top-level operation
// (§4.6), returning the deterministic address alongside the result.
func (e *EVM) CreateContract(sender types.Address, nonce uint64, initCode []byte, value *big.Int, gasLimit uint64) (types.Address, *ExecutionResult) {
	e.resetTxScope()
	if value == nil {
		value = new(big.Int)
	}

	addr := DeterministicCreateAddress(sender, nonce)
	intrinsic := IntrinsicGas(initCode)
	if gasLimit < intrinsic {
		return addr, &ExecutionResult{Success: false, Halted: true, HaltReason: "intrinsic gas exceeds limit", GasUsed: gasLimit}
	}
	result := e.executeCreate(sender, initCode, uint256.MustFromBig(value), gasLimit-intrinsic, gasLimit)
	return addr, result
}

// Create2Contract runs CREATE2 semantics: address = last 20 bytes of
// KECCAK(0xFF || sender || salt || KECCAK(init_code)) (§4.6).
func (e *EVM) Create2Contract(sender types.Address, salt types.Hash, initCode []byte, value *big.Int, gasLimit uint64) (types.Address, *ExecutionResult) {
	e.resetTxScope()
	if value == nil {
		value = new(big.Int)
	}

	addr := Create2Address(sender, salt, initCode)
	intrinsic := IntrinsicGas(initCode)
	if gasLimit < intrinsic {
		return addr, &ExecutionResult{Success: false, Halted: true, HaltReason: "intrinsic gas exceeds limit", GasUsed: gasLimit}
	}

	available := gasLimit - intrinsic
	value256 := uint256.MustFromBig(value)
	if e.db.GetBalance(sender).Cmp(value) < 0 {
		return addr, &ExecutionResult{Success: false, Halted: true, HaltReason: ErrInsufficientBalance.Error(), GasUsed: gasLimit}
	}

	contract := NewContract(addr, sender, initCode, nil, value256, available)
	out, err := e.run(contract)
	switch err {
	case nil:
		if len(out) > MaxContractSize {
			return addr, &ExecutionResult{Success: false, Halted: true, HaltReason: ErrContractSizeExceeded.Error(), GasUsed: gasLimit}
		}
		depositGas := uint64(len(out)) * GasCreateData
		if depositGas > contract.Gas {
			return addr, &ExecutionResult{Success: false, Halted: true, HaltReason: ErrOutOfGas.Error(), GasUsed: gasLimit}
		}
		contract.Gas -= depositGas

		codeHash := e.storeCode(out)
		acc := e.db.GetAccount(addr)
		if acc == nil {
			acc = types.NewAccount()
		}
		acc.CodeHash = codeHash
		acc.Kind = types.KindContract
		e.db.SetAccount(addr, acc)
		e.transfer(sender, addr, value)

		used := gasLimit - contract.Gas
		return addr, &ExecutionResult{Success: true, GasUsed: used, Output: out, Logs: e.pendingLogs, ContractAddress: &addr}
	case ErrExecutionReverted:
		used := gasLimit - contract.Gas
		return addr, &ExecutionResult{Success: false, Reverted: true, GasUsed: used, Output: out}
	default:
		return addr, &ExecutionResult{Success: false, Halted: true, HaltReason: err.Error(), GasUsed: gasLimit}
	}
}

// CallContract runs CALL semantics: value transfer into callee's own
// storage context (§4.6).
func (e *EVM) CallContract(caller, callee types.Address, value *big.Int, input []byte, gasLimit uint64) *ExecutionResult {
	return e.Call(caller, callee, value, input, gasLimit)
}

// DelegateCall runs codeAddr's code against caller's own storage and
// balance: value is always 0 and msg.sender is unaffected (§4.6).
func (e *EVM) DelegateCall(caller, codeAddr types.Address, input []byte, gasLimit uint64) *ExecutionResult {
	e.resetTxScope()

	code := e.codeOf(codeAddr)
	contract := NewContract(caller, caller, code, input, new(uint256.Int), gasLimit)
	contract.CodeAddr = codeAddr

	out, err := e.run(contract)
	switch err {
	case nil:
		return &ExecutionResult{Success: true, GasUsed: gasLimit - contract.Gas, Output: out, Logs: e.pendingLogs}
	case ErrExecutionReverted:
		return &ExecutionResult{Success: false, Reverted: true, GasUsed: gasLimit - contract.Gas, Output: out}
	default:
		return &ExecutionResult{Success: false, Halted: true, HaltReason: err.Error(), GasUsed: gasLimit}
	}
}

// StaticCall runs callee's code read-only: any attempted SSTORE or LOG
// inside reverts the frame (§4.6).
func (e *EVM) StaticCall(caller, callee types.Address, input []byte, gasLimit uint64) *ExecutionResult {
	e.resetTxScope()

	code := e.codeOf(callee)
	contract := NewContract(callee, caller, code, input, new(uint256.Int), gasLimit)
	contract.ReadOnly = true

	out, err := e.run(contract)
	switch err {
	case nil:
		return &ExecutionResult{Success: true, GasUsed: gasLimit - contract.Gas, Output: out}
	case ErrExecutionReverted, ErrWriteProtection:
		return &ExecutionResult{Success: false, Reverted: true, GasUsed: gasLimit - contract.Gas, Output: out}
	default:
		return &ExecutionResult{Success: false, Halted: true, HaltReason: err.Error(), GasUsed: gasLimit}
	}
}

// EstimateGas returns a conservative gas estimate for msg: the gas actually
// consumed by running it to completion, plus a fixed safety margin to cover
// branch-dependent costs an estimator can't observe from a single run.
// Callers must invoke this against a disposable Database (a cache snapshot
// reverted afterward): estimation still executes the message and mutates
// state exactly like Call does.
func (e *EVM) EstimateGas(msg Message) uint64 {
	var result *ExecutionResult
	if msg.To == nil {
		_, result = e.CreateContract(msg.From, e.db.GetNonce(msg.From), msg.Data, msg.Value, msg.GasLimit)
	} else {
		result = e.Call(msg.From, *msg.To, msg.Value, msg.Data, msg.GasLimit)
	}
	const estimateMargin = 1000
	estimate := result.GasUsed + estimateMargin
	if estimate > msg.GasLimit {
		estimate = msg.GasLimit
	}
	return estimate
}

func (e *EVM) executeCreate(from types.Address, initCode []byte, value *uint256.Int, gas, gasLimit uint64) *ExecutionResult {
	nonce := e.db.GetNonce(from)
	addr := DeterministicCreateAddress(from, nonce)
	e.db.SetNonce(from, nonce+1)

	if e.db.GetBalance(from).Cmp(value.ToBig()) < 0 {
		return &ExecutionResult{Success: false, Halted: true, HaltReason: ErrInsufficientBalance.Error(), GasUsed: gasLimit}
	}

	contract := NewContract(addr, from, initCode, nil, value, gas)
	out, err := e.run(contract)

	switch err {
	case nil:
		if len(out) > MaxContractSize {
			return &ExecutionResult{Success: false, Halted: true, HaltReason: ErrContractSizeExceeded.Error(), GasUsed: gasLimit}
		}
		depositGas := uint64(len(out)) * GasCreateData
		if depositGas > contract.Gas {
			return &ExecutionResult{Success: false, Halted: true, HaltReason: ErrOutOfGas.Error(), GasUsed: gasLimit}
		}
		contract.Gas -= depositGas

		codeHash := e.storeCode(out)
		acc := e.db.GetAccount(addr)
		if acc == nil {
			acc = types.NewAccount()
		}
		acc.CodeHash = codeHash
		acc.Kind = types.KindContract
		e.db.SetAccount(addr, acc)
		e.transfer(from, addr, value.ToBig())

		used := gasLimit - contract.Gas
		return &ExecutionResult{
			Success:         true,
			GasUsed:         used,
			Output:          out,
			Logs:            e.pendingLogs,
			ContractAddress: &addr,
		}
	case ErrExecutionReverted:
		used := gasLimit - contract.Gas
		return &ExecutionResult{Success: false, Reverted: true, GasUsed: used, Output: out}
	default:
		return &ExecutionResult{Success: false, Halted: true, HaltReason: err.Error(), GasUsed: gasLimit}
	}
}

func (e *EVM) executeCall(from, to types.Address, input []byte, value *uint256.Int, gas, gasLimit uint64) *ExecutionResult {
	if value.Sign() > 0 && e.db.GetBalance(from).Cmp(value.ToBig()) < 0 {
		return &ExecutionResult{Success: false, Halted: true, HaltReason: ErrInsufficientBalance.Error(), GasUsed: gasLimit}
	}

	if precompile, ok := precompiles[to]; ok {
		out, cost, perr := precompile(input)
		if perr != nil || cost > gas {
			return &ExecutionResult{Success: false, Halted: true, HaltReason: "precompile failure", GasUsed: gasLimit}
		}
		if value.Sign() > 0 {
			e.transfer(from, to, value.ToBig())
		}
		return &ExecutionResult{Success: true, GasUsed: gasLimit - gas + cost, Output: out}
	}

	code := e.codeOf(to)
	if value.Sign() > 0 {
		e.transfer(from, to, value.ToBig())
	}
	contract := NewContract(to, from, code, input, value, gas)
	out, err := e.run(contract)

	switch err {
	case nil:
		used := gasLimit - contract.Gas
		return &ExecutionResult{Success: true, GasUsed: used, Output: out, Logs: e.pendingLogs}
	case ErrExecutionReverted:
		used := gasLimit - contract.Gas
		return &ExecutionResult{Success: false, Reverted: true, GasUsed: used, Output: out, RefundedGas: 0}
	default:
		return &ExecutionResult{Success: false, Halted: true, HaltReason: err.Error(), GasUsed: gasLimit}
	}
}
