package vm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/povfchain/node/internal/types"
)

// opCreate handles CREATE/CREATE2 from within the interpreter loop.
func (e *EVM) opCreate(caller *Contract, stack *Stack, mem *Memory, op OpCode) ([]byte, error) {
	if caller.ReadOnly {
		return nil, ErrWriteProtection
	}
	value := stack.pop()
	offset, size := stack.pop(), stack.pop()
	var salt *uint256.Int
	if op == CREATE2 {
		salt = stack.pop()
	}
	if err := consumeGas(caller, GasCreate); err != nil {
		return nil, err
	}
	initCode := mem.Get(offset.Uint64(), size.Uint64())

	if e.depth >= maxCallDepth {
		stack.push(new(uint256.Int))
		return nil, nil
	}

	callerBal := e.db.GetBalance(caller.Address)
	if callerBal.Cmp(value.ToBig()) < 0 {
		stack.push(new(uint256.Int))
		return nil, nil
	}

	nonce := e.db.GetNonce(caller.Address)
	var newAddr types.Address
	if op == CREATE2 {
		var saltHash types.Hash
		sb := salt.Bytes32()
		copy(saltHash[:], sb[:])
		newAddr = Create2Address(caller.Address, saltHash, initCode)
	} else {
		newAddr = DeterministicCreateAddress(caller.Address, nonce)
	}
	e.db.SetNonce(caller.Address, nonce+1)

	if existing := e.db.GetAccount(newAddr); existing != nil && !existing.Deleted &&
		(existing.Nonce != 0 || existing.CodeHash != types.EmptyCodeHash) {
		stack.push(new(uint256.Int))
		return nil, ErrContractAddressCollision
	}

	childGas := caller.Gas
	child := NewContract(newAddr, caller.Address, initCode, nil, value, childGas)
	caller.Gas = 0

	e.depth++
	out, gasLeft, err := e.runCreateFrame(child)
	e.depth--
	caller.Gas += gasLeft

	if err != nil {
		stack.push(new(uint256.Int))
		return out, nil
	}

	if len(out) > MaxContractSize {
		stack.push(new(uint256.Int))
		return nil, ErrContractSizeExceeded
	}
	depositGas := uint64(len(out)) * GasCreateData
	if err := consumeGas(caller, depositGas); err != nil {
		stack.push(new(uint256.Int))
		return nil, nil
	}

	codeHash := e.storeCode(out)
	acc := e.db.GetAccount(newAddr)
	if acc == nil {
		acc = types.NewAccount()
	}
	acc.CodeHash = codeHash
	acc.Kind = types.KindContract
	e.db.SetAccount(newAddr, acc)

	e.transfer(caller.Address, newAddr, value.ToBig())

	stack.push(addrToU256(newAddr))
	return out, nil
}

// runCreateFrame executes init code in its own interpreter instance and
// returns (deployedCode, remainingGas, err).
func (e *EVM) runCreateFrame(child *Contract) ([]byte, uint64, error) {
	out, err := e.run(child)
	return out, child.Gas, err
}

// storeCode persists immutable, content-addressed bytecode (§4.3).
func (e *EVM) storeCode(code []byte) types.Hash {
	if len(code) == 0 {
		return types.EmptyCodeHash
	}
	h := crypto.Keccak256Hash(code)
	e.db.SetCode(h, code)
	return h
}

func (e *EVM) transfer(from, to types.Address, value *big.Int) {
	if value.Sign() == 0 {
		return
	}
	fromBal := e.db.GetBalance(from)
	toBal := e.db.GetBalance(to)
	newFrom := new(big.Int).Sub(fromBal, value)
	newTo := new(big.Int).Add(toBal, value)

	fromAcc := e.db.GetAccount(from)
	if fromAcc == nil {
		fromAcc = types.NewAccount()
	}
	fromAcc.Balance = newFrom
	e.db.SetAccount(from, fromAcc)

	toAcc := e.db.GetAccount(to)
	if toAcc == nil {
		toAcc = types.NewAccount()
	}
	toAcc.Balance = newTo
	e.db.SetAccount(to, toAcc)
}

// addBalance credits addr with value, materializing the account on first
// touch the same way transfer does.
func (e *EVM) addBalance(addr types.Address, value *big.Int) {
	if value.Sign() == 0 {
		return
	}
	acc := e.db.GetAccount(addr)
	if acc == nil {
		acc = types.NewAccount()
	}
	acc.Balance = new(big.Int).Add(acc.Balance, value)
	e.db.SetAccount(addr, acc)
}

// subBalance debits addr by value. Callers must have already checked
// sufficiency; this never goes negative by construction of those checks.
func (e *EVM) subBalance(addr types.Address, value *big.Int) {
	if value.Sign() == 0 {
		return
	}
	acc := e.db.GetAccount(addr)
	if acc == nil {
		acc = types.NewAccount()
	}
	acc.Balance = new(big.Int).Sub(acc.Balance, value)
	e.db.SetAccount(addr, acc)
}

// opCall handles CALL/CALLCODE/DELEGATECALL/STATICCALL from the interpreter
// loop. Returns the callee's return data.
func (e *EVM) opCall(caller *Contract, stack *Stack, mem *Memory, op OpCode) ([]byte, error) {
	gasArg := stack.pop()
	addr := u256ToAddr(stack.pop())

	var value *uint256.Int
	if op == CALL || op == CALLCODE {
		value = stack.pop()
	} else {
		value = new(uint256.Int)
	}
	argsOff, argsSize := stack.pop(), stack.pop()
	retOff, retSize := stack.pop(), stack.pop()

	baseGas := uint64(GasCall)
	if !value.IsZero() {
		baseGas += GasCallValue
	}
	if err := consumeGas(caller, baseGas); err != nil {
		return nil, err
	}
	input := mem.Get(argsOff.Uint64(), argsSize.Uint64())

	if op != CALL && !value.IsZero() && caller.ReadOnly {
		return nil, ErrWriteProtection
	}

	if e.depth >= maxCallDepth {
		stack.push(new(uint256.Int))
		return nil, nil
	}

	callGas := gasArg.Uint64()
	if callGas > caller.Gas {
		callGas = caller.Gas
	}
	if !value.IsZero() {
		callGas += GasCallStipend
	}
	caller.Gas -= minU64(gasArg.Uint64(), caller.Gas)

	if value.Sign() > 0 {
		if e.db.GetBalance(caller.Address).Cmp(value.ToBig()) < 0 {
			stack.push(new(uint256.Int))
			caller.Gas += callGas
			return nil, nil
		}
	}

	code := e.codeOf(addr)
	var execAddr, storageAddr, callerAddr types.Address
	readOnly := caller.ReadOnly || op == STATICCALL

	switch op {
	case CALL:
		execAddr, storageAddr, callerAddr = addr, addr, caller.Address
	case CALLCODE:
		execAddr, storageAddr, callerAddr = addr, caller.Address, caller.Address
	case DELEGATECALL:
		execAddr, storageAddr, callerAddr = addr, caller.Address, caller.Caller
		value = caller.Value
	case STATICCALL:
		execAddr, storageAddr, callerAddr = addr, addr, caller.Address
	}

	if precompile, ok := precompiles[execAddr]; ok {
		out, gasCost, perr := precompile(input)
		if perr != nil || gasCost > callGas {
			stack.push(new(uint256.Int))
			return nil, nil
		}
		caller.Gas += callGas - gasCost
		stack.push(boolU256(true))
		mem.Set(retOff.Uint64(), minU64(retSize.Uint64(), uint64(len(out))), out)
		return out, nil
	}

	child := NewContract(storageAddr, callerAddr, code, input, value, callGas)
	child.CodeAddr = execAddr
	child.ReadOnly = readOnly

	if op == CALL && value.Sign() > 0 {
		e.transfer(caller.Address, addr, value.ToBig())
	}

	e.depth++
	out, err := e.run(child)
	e.depth--
	caller.Gas += child.Gas

	copySize := retSize.Uint64()
	if uint64(len(out)) < copySize {
		copySize = uint64(len(out))
	}
	mem.Set(retOff.Uint64(), copySize, out)

	if err != nil {
		stack.push(new(uint256.Int))
		return out, nil
	}
	stack.push(boolU256(true))
	return out, nil
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
