package vm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/povfchain/node/internal/types"
)

// run executes contract.Code against the stack machine until STOP, RETURN,
// REVERT, a terminal error, or gas exhaustion. It is the sole dispatch loop;
// CALL- and CREATE-family opcodes recurse into it through opCall/opCreate.
func (e *EVM) run(contract *Contract) ([]byte, error) {
	stack := newStack()
	mem := newMemory()
	pc := uint64(0)
	var lastReturnData []byte

	for {
		if pc >= uint64(len(contract.Code)) {
			return nil, nil
		}
		op := OpCode(contract.Code[pc])

		switch {
		case op.isPush():
			n := op.pushSize()
			var buf [32]byte
			start := pc + 1
			end := start + uint64(n)
			if end > uint64(len(contract.Code)) {
				end = uint64(len(contract.Code))
			}
			copy(buf[32-n:], contract.Code[start:end])
			v := new(uint256.Int).SetBytes(buf[:])
			if err := consumeGas(contract, GasFastestStep); err != nil {
				return nil, err
			}
			stack.push(v)
			pc += 1 + uint64(n)
			continue

		case op.isDup():
			if err := consumeGas(contract, GasFastestStep); err != nil {
				return nil, err
			}
			if stack.len() < op.dupDepth() {
				return nil, ErrStackUnderflow
			}
			v := new(uint256.Int).Set(stack.peek(op.dupDepth() - 1))
			stack.push(v)
			pc++
			continue

		case op.isSwap():
			if err := consumeGas(contract, GasFastestStep); err != nil {
				return nil, err
			}
			stack.swap(op.swapDepth())
			pc++
			continue

		case op.isLog():
			n := op.logTopics()
			if contract.ReadOnly {
				return nil, ErrWriteProtection
			}
			offset := stack.pop()
			size := stack.pop()
			topics := make([]types.Hash, n)
			for i := 0; i < n; i++ {
				topics[i] = types.Hash(stack.pop().Bytes32())
			}
			data := mem.Get(offset.Uint64(), size.Uint64())
			gasCost := GasLog + uint64(n)*GasLogTopic + uint64(len(data))*GasLogData
			if err := consumeGas(contract, gasCost); err != nil {
				return nil, err
			}
			e.logIndex++
			e.pendingLogs = append(e.pendingLogs, &types.Log{
				Address: contract.Address,
				Topics:  topics,
				Data:    data,
				LogIndex: e.logIndex - 1,
			})
			pc++
			continue
		}

		switch op {
		case STOP:
			return nil, nil

		case ADD:
			if err := binOp(contract, stack, GasFastestStep, func(a, b *uint256.Int) *uint256.Int { return new(uint256.Int).Add(a, b) }); err != nil {
				return nil, err
			}
		case MUL:
			if err := binOp(contract, stack, GasFastStep, func(a, b *uint256.Int) *uint256.Int { return new(uint256.Int).Mul(a, b) }); err != nil {
				return nil, err
			}
		case SUB:
			if err := binOp(contract, stack, GasFastestStep, func(a, b *uint256.Int) *uint256.Int { return new(uint256.Int).Sub(a, b) }); err != nil {
				return nil, err
			}
		case DIV:
			if err := binOp(contract, stack, GasFastStep, func(a, b *uint256.Int) *uint256.Int {
				if b.IsZero() {
					return new(uint256.Int)
				}
				return new(uint256.Int).Div(a, b)
			}); err != nil {
				return nil, err
			}
		case SDIV:
			if err := binOp(contract, stack, GasFastStep, func(a, b *uint256.Int) *uint256.Int {
				if b.IsZero() {
					return new(uint256.Int)
				}
				return new(uint256.Int).SDiv(a, b)
			}); err != nil {
				return nil, err
			}
		case MOD:
			if err := binOp(contract, stack, GasFastStep, func(a, b *uint256.Int) *uint256.Int {
				if b.IsZero() {
					return new(uint256.Int)
				}
				return new(uint256.Int).Mod(a, b)
			}); err != nil {
				return nil, err
			}
		case SMOD:
			if err := binOp(contract, stack, GasFastStep, func(a, b *uint256.Int) *uint256.Int {
				if b.IsZero() {
					return new(uint256.Int)
				}
				return new(uint256.Int).SMod(a, b)
			}); err != nil {
				return nil, err
			}
		case EXP:
			base := stack.pop()
			exp := stack.pop()
			byteLen := (exp.BitLen() + 7) / 8
			gasCost := GasSlowStep + uint64(byteLen)*50
			if err := consumeGas(contract, gasCost); err != nil {
				return nil, err
			}
			stack.push(new(uint256.Int).Exp(base, exp))
		case ADDMOD:
			a, b, m := stack.pop(), stack.pop(), stack.pop()
			if err := consumeGas(contract, GasMidStep); err != nil {
				return nil, err
			}
			if m.IsZero() {
				stack.push(new(uint256.Int))
			} else {
				stack.push(new(uint256.Int).AddMod(a, b, m))
			}
		case MULMOD:
			a, b, m := stack.pop(), stack.pop(), stack.pop()
			if err := consumeGas(contract, GasMidStep); err != nil {
				return nil, err
			}
			if m.IsZero() {
				stack.push(new(uint256.Int))
			} else {
				stack.push(new(uint256.Int).MulMod(a, b, m))
			}
		case SIGNEXTEND:
			if err := binOp(contract, stack, GasFastStep, func(a, b *uint256.Int) *uint256.Int {
				return new(uint256.Int).ExtendSign(b, a)
			}); err != nil {
				return nil, err
			}

		case LT:
			if err := binOp(contract, stack, GasFastestStep, func(a, b *uint256.Int) *uint256.Int { return boolU256(a.Lt(b)) }); err != nil {
				return nil, err
			}
		case GT:
			if err := binOp(contract, stack, GasFastestStep, func(a, b *uint256.Int) *uint256.Int { return boolU256(a.Gt(b)) }); err != nil {
				return nil, err
			}
		case SLT:
			if err := binOp(contract, stack, GasFastestStep, func(a, b *uint256.Int) *uint256.Int { return boolU256(a.Slt(b)) }); err != nil {
				return nil, err
			}
		case SGT:
			if err := binOp(contract, stack, GasFastestStep, func(a, b *uint256.Int) *uint256.Int { return boolU256(a.Sgt(b)) }); err != nil {
				return nil, err
			}
		case EQ:
			if err := binOp(contract, stack, GasFastestStep, func(a, b *uint256.Int) *uint256.Int { return boolU256(a.Eq(b)) }); err != nil {
				return nil, err
			}
		case ISZERO:
			if err := consumeGas(contract, GasFastestStep); err != nil {
				return nil, err
			}
			a := stack.pop()
			stack.push(boolU256(a.IsZero()))
		case AND:
			if err := binOp(contract, stack, GasFastestStep, func(a, b *uint256.Int) *uint256.Int { return new(uint256.Int).And(a, b) }); err != nil {
				return nil, err
			}
		case OR:
			if err := binOp(contract, stack, GasFastestStep, func(a, b *uint256.Int) *uint256.Int { return new(uint256.Int).Or(a, b) }); err != nil {
				return nil, err
			}
		case XOR:
			if err := binOp(contract, stack, GasFastestStep, func(a, b *uint256.Int) *uint256.Int { return new(uint256.Int).Xor(a, b) }); err != nil {
				return nil, err
			}
		case NOT:
			if err := consumeGas(contract, GasFastestStep); err != nil {
				return nil, err
			}
			a := stack.pop()
			stack.push(new(uint256.Int).Not(a))
		case BYTE:
			if err := binOp(contract, stack, GasFastestStep, func(i, x *uint256.Int) *uint256.Int { return new(uint256.Int).Set(x).Byte(i) }); err != nil {
				return nil, err
			}
		case SHL:
			if err := binOp(contract, stack, GasFastestStep, func(a, b *uint256.Int) *uint256.Int {
				if a.GtUint64(255) {
					return new(uint256.Int)
				}
				return new(uint256.Int).Lsh(b, uint(a.Uint64()))
			}); err != nil {
				return nil, err
			}
		case SHR:
			if err := binOp(contract, stack, GasFastestStep, func(a, b *uint256.Int) *uint256.Int {
				if a.GtUint64(255) {
					return new(uint256.Int)
				}
				return new(uint256.Int).Rsh(b, uint(a.Uint64()))
			}); err != nil {
				return nil, err
			}
		case SAR:
			shift, value := stack.pop(), stack.pop()
			if err := consumeGas(contract, GasFastestStep); err != nil {
				return nil, err
			}
			stack.push(arithShift(shift, value))

		case KECCAK256:
			offset, size := stack.pop(), stack.pop()
			words := toWordSize(size.Uint64())
			if err := consumeGas(contract, GasKeccak256+words*GasKeccak256Word); err != nil {
				return nil, err
			}
			data := mem.Get(offset.Uint64(), size.Uint64())
			h := crypto.Keccak256(data)
			stack.push(new(uint256.Int).SetBytes(h))

		case ADDRESS:
			if err := consumeGas(contract, GasQuickStep); err != nil {
				return nil, err
			}
			stack.push(addrToU256(contract.Address))
		case CALLER:
			if err := consumeGas(contract, GasQuickStep); err != nil {
				return nil, err
			}
			stack.push(addrToU256(contract.Caller))
		case CALLVALUE:
			if err := consumeGas(contract, GasQuickStep); err != nil {
				return nil, err
			}
			stack.push(new(uint256.Int).Set(contract.Value))
		case CALLDATALOAD:
			if err := consumeGas(contract, GasFastestStep); err != nil {
				return nil, err
			}
			offset := stack.pop().Uint64()
			var buf [32]byte
			if offset < uint64(len(contract.Input)) {
				copy(buf[:], contract.Input[offset:])
			}
			stack.push(new(uint256.Int).SetBytes(buf[:]))
		case CALLDATASIZE:
			if err := consumeGas(contract, GasQuickStep); err != nil {
				return nil, err
			}
			stack.push(new(uint256.Int).SetUint64(uint64(len(contract.Input))))
		case CALLDATACOPY:
			destOff, srcOff, size := stack.pop(), stack.pop(), stack.pop()
			if err := consumeGas(contract, GasFastestStep+toWordSize(size.Uint64())*GasCopy); err != nil {
				return nil, err
			}
			data := sliceOrZero(contract.Input, srcOff.Uint64(), size.Uint64())
			mem.Set(destOff.Uint64(), size.Uint64(), data)
		case CODESIZE:
			if err := consumeGas(contract, GasQuickStep); err != nil {
				return nil, err
			}
			stack.push(new(uint256.Int).SetUint64(uint64(len(contract.Code))))
		case CODECOPY:
			destOff, srcOff, size := stack.pop(), stack.pop(), stack.pop()
			if err := consumeGas(contract, GasFastestStep+toWordSize(size.Uint64())*GasCopy); err != nil {
				return nil, err
			}
			data := sliceOrZero(contract.Code, srcOff.Uint64(), size.Uint64())
			mem.Set(destOff.Uint64(), size.Uint64(), data)
		case RETURNDATASIZE:
			if err := consumeGas(contract, GasQuickStep); err != nil {
				return nil, err
			}
			stack.push(new(uint256.Int).SetUint64(uint64(len(lastReturnData))))
		case RETURNDATACOPY:
			destOff, srcOff, size := stack.pop(), stack.pop(), stack.pop()
			if err := consumeGas(contract, GasFastestStep+toWordSize(size.Uint64())*GasCopy); err != nil {
				return nil, err
			}
			data := sliceOrZero(lastReturnData, srcOff.Uint64(), size.Uint64())
			mem.Set(destOff.Uint64(), size.Uint64(), data)

		case BALANCE:
			if err := consumeGas(contract, GasBalance); err != nil {
				return nil, err
			}
			a := u256ToAddr(stack.pop())
			bal := e.db.GetBalance(a)
			stack.push(bigToU256(bal))
		case EXTCODESIZE:
			if err := consumeGas(contract, GasExtCodeSize); err != nil {
				return nil, err
			}
			a := u256ToAddr(stack.pop())
			code := e.codeOf(a)
			stack.push(new(uint256.Int).SetUint64(uint64(len(code))))
		case EXTCODECOPY:
			a := u256ToAddr(stack.pop())
			destOff, srcOff, size := stack.pop(), stack.pop(), stack.pop()
			if err := consumeGas(contract, GasExtCodeCopy+toWordSize(size.Uint64())*GasCopy); err != nil {
				return nil, err
			}
			code := e.codeOf(a)
			data := sliceOrZero(code, srcOff.Uint64(), size.Uint64())
			mem.Set(destOff.Uint64(), size.Uint64(), data)
		case EXTCODEHASH:
			if err := consumeGas(contract, GasExtCodeHash); err != nil {
				return nil, err
			}
			a := u256ToAddr(stack.pop())
			acc := e.db.GetAccount(a)
			if acc == nil || acc.Deleted {
				stack.push(new(uint256.Int))
			} else {
				stack.push(new(uint256.Int).SetBytes(acc.CodeHash[:]))
			}

		case BLOCKHASH:
			if err := consumeGas(contract, GasExtStep); err != nil {
				return nil, err
			}
			n := stack.pop().Uint64()
			h, ok := e.ctx.RecentBlockHashes[n]
			if !ok {
				stack.push(new(uint256.Int))
			} else {
				stack.push(new(uint256.Int).SetBytes(h[:]))
			}
		case COINBASE:
			if err := consumeGas(contract, GasQuickStep); err != nil {
				return nil, err
			}
			stack.push(addrToU256(e.ctx.BlockCoinbase))
		case TIMESTAMP:
			if err := consumeGas(contract, GasQuickStep); err != nil {
				return nil, err
			}
			stack.push(new(uint256.Int).SetUint64(uint64(e.ctx.BlockTimestamp)))
		case NUMBER:
			if err := consumeGas(contract, GasQuickStep); err != nil {
				return nil, err
			}
			stack.push(new(uint256.Int).SetUint64(e.ctx.BlockNumber))
		case GASLIMIT:
			if err := consumeGas(contract, GasQuickStep); err != nil {
				return nil, err
			}
			stack.push(new(uint256.Int).SetUint64(e.ctx.BlockGasLimit))
		case CHAINID:
			if err := consumeGas(contract, GasQuickStep); err != nil {
				return nil, err
			}
			stack.push(new(uint256.Int).SetUint64(e.ctx.ChainID))
		case BASEFEE:
			if err := consumeGas(contract, GasQuickStep); err != nil {
				return nil, err
			}
			stack.push(new(uint256.Int).SetUint64(e.ctx.BaseFee))
		case GASPRICE:
			if err := consumeGas(contract, GasQuickStep); err != nil {
				return nil, err
			}
			stack.push(bigToU256(e.ctx.TxGasPrice))
		case SELFBALANCE:
			if err := consumeGas(contract, GasFastStep); err != nil {
				return nil, err
			}
			stack.push(bigToU256(e.db.GetBalance(contract.Address)))

		case POP:
			if err := consumeGas(contract, GasQuickStep); err != nil {
				return nil, err
			}
			stack.pop()
		case MLOAD:
			if err := consumeGas(contract, GasFastestStep); err != nil {
				return nil, err
			}
			offset := stack.pop().Uint64()
			stack.push(new(uint256.Int).SetBytes(mem.Get(offset, 32)))
		case MSTORE:
			offset := stack.pop()
			val := stack.pop()
			if err := consumeGas(contract, GasFastestStep); err != nil {
				return nil, err
			}
			b := val.Bytes32()
			mem.Set(offset.Uint64(), 32, b[:])
		case MSTORE8:
			offset := stack.pop()
			val := stack.pop()
			if err := consumeGas(contract, GasFastestStep); err != nil {
				return nil, err
			}
			mem.Set(offset.Uint64(), 1, []byte{byte(val.Uint64())})
		case MSIZE:
			if err := consumeGas(contract, GasQuickStep); err != nil {
				return nil, err
			}
			stack.push(new(uint256.Int).SetUint64(uint64(mem.len())))

		case SLOAD:
			if err := consumeGas(contract, GasSLoad); err != nil {
				return nil, err
			}
			key := stack.pop().Bytes32()
			v, ok := e.db.GetState(contract.Address, key[:])
			if !ok {
				stack.push(new(uint256.Int))
			} else {
				stack.push(new(uint256.Int).SetBytes(v))
			}
		case SSTORE:
			if contract.ReadOnly {
				return nil, ErrWriteProtection
			}
			key := stack.pop().Bytes32()
			val := stack.pop()
			existing, hadVal := e.db.GetState(contract.Address, key[:])
			gasCost := uint64(GasSStoreReset)
			if !hadVal || len(existing) == 0 {
				gasCost = GasSStoreSet
			}
			if err := consumeGas(contract, gasCost); err != nil {
				return nil, err
			}
			if val.IsZero() {
				if hadVal && len(existing) > 0 {
					e.refund += GasSStoreClearRefund
				}
				e.db.DeleteState(contract.Address, key[:])
			} else {
				e.db.SetState(contract.Address, key[:], val.Bytes())
			}

		case TLOAD:
			if err := consumeGas(contract, GasWarmAccess); err != nil {
				return nil, err
			}
			key := types.Hash(stack.pop().Bytes32())
			v := e.transientLoad(contract.Address, key)
			stack.push(new(uint256.Int).SetBytes(v[:]))
		case TSTORE:
			if contract.ReadOnly {
				return nil, ErrWriteProtection
			}
			key := types.Hash(stack.pop().Bytes32())
			val := stack.pop()
			if err := consumeGas(contract, GasWarmAccess); err != nil {
				return nil, err
			}
			e.transientStore(contract.Address, key, val.Bytes32())

		case JUMP:
			dest := stack.pop().Uint64()
			if err := consumeGas(contract, GasMidStep); err != nil {
				return nil, err
			}
			if !contract.validJumpdest(dest) {
				return nil, ErrInvalidJump
			}
			pc = dest
			continue
		case JUMPI:
			dest := stack.pop().Uint64()
			cond := stack.pop()
			if err := consumeGas(contract, GasSlowStep); err != nil {
				return nil, err
			}
			if !cond.IsZero() {
				if !contract.validJumpdest(dest) {
					return nil, ErrInvalidJump
				}
				pc = dest
				continue
			}
		case JUMPDEST:
			if err := consumeGas(contract, 1); err != nil {
				return nil, err
			}
		case PC:
			if err := consumeGas(contract, GasQuickStep); err != nil {
				return nil, err
			}
			stack.push(new(uint256.Int).SetUint64(pc))
		case GAS:
			if err := consumeGas(contract, GasQuickStep); err != nil {
				return nil, err
			}
			stack.push(new(uint256.Int).SetUint64(contract.Gas))

		case PUSH0:
			if err := consumeGas(contract, GasQuickStep); err != nil {
				return nil, err
			}
			stack.push(new(uint256.Int))

		case RETURN:
			offset, size := stack.pop(), stack.pop()
			return mem.Get(offset.Uint64(), size.Uint64()), nil
		case REVERT:
			offset, size := stack.pop(), stack.pop()
			data := mem.Get(offset.Uint64(), size.Uint64())
			return data, ErrExecutionReverted

		case CREATE, CREATE2:
			out, err := e.opCreate(contract, stack, mem, op)
			if err != nil && err != ErrExecutionReverted {
				return nil, err
			}
			_ = out

		case CALL, CALLCODE, DELEGATECALL, STATICCALL:
			ret, err := e.opCall(contract, stack, mem, op)
			lastReturnData = ret
			if err != nil && err != ErrExecutionReverted {
				return nil, err
			}

		case SELFDESTRUCT:
			if contract.ReadOnly {
				return nil, ErrWriteProtection
			}
			beneficiary := u256ToAddr(stack.pop())
			if err := consumeGas(contract, GasSelfDestruct); err != nil {
				return nil, err
			}
			e.refund += GasSelfDestructRefund
			bal := e.db.GetBalance(contract.Address)
			beneficiaryBal := e.db.GetBalance(beneficiary)
			e.db.SetNonce(beneficiary, e.db.GetNonce(beneficiary)) // touch
			newBal := new(big.Int).Add(beneficiaryBal, bal)
			acc := e.db.GetAccount(beneficiary)
			if acc == nil {
				acc = types.NewAccount()
			}
			acc.Balance = newBal
			e.db.SetAccount(beneficiary, acc)
			e.db.DeleteAccount(contract.Address)
			return nil, nil

		case INVALID:
			return nil, ErrInvalidOpcode

		default:
			return nil, ErrInvalidOpcode
		}

		pc++
	}
}

func consumeGas(c *Contract, amount uint64) error {
	if c.Gas < amount {
		c.Gas = 0
		return ErrOutOfGas
	}
	c.Gas -= amount
	return nil
}

func binOp(c *Contract, s *Stack, gas uint64, f func(a, b *uint256.Int) *uint256.Int) error {
	if err := consumeGas(c, gas); err != nil {
		return err
	}
	a, b := s.pop(), s.pop()
	s.push(f(a, b))
	return nil
}

func boolU256(b bool) *uint256.Int {
	if b {
		return uint256.NewInt(1)
	}
	return new(uint256.Int)
}

func addrToU256(a types.Address) *uint256.Int {
	return new(uint256.Int).SetBytes(a[:])
}

func u256ToAddr(v *uint256.Int) types.Address {
	var a types.Address
	b := v.Bytes32()
	copy(a[:], b[12:])
	return a
}

func sliceOrZero(src []byte, offset, size uint64) []byte {
	out := make([]byte, size)
	if offset >= uint64(len(src)) {
		return out
	}
	end := offset + size
	if end > uint64(len(src)) {
		end = uint64(len(src))
	}
	copy(out, src[offset:end])
	return out
}

// arithShift implements SAR: sign-extending right shift.
func arithShift(shift, value *uint256.Int) *uint256.Int {
	b := value.Bytes32()
	negative := b[0]&0x80 != 0
	if shift.GtUint64(255) {
		if negative {
			return new(uint256.Int).SetAllOne()
		}
		return new(uint256.Int)
	}
	return new(uint256.Int).SRsh(value, uint(shift.Uint64()))
}

func (e *EVM) codeOf(addr types.Address) []byte {
	acc := e.db.GetAccount(addr)
	if acc == nil || acc.CodeHash == types.EmptyCodeHash {
		return nil
	}
	return e.db.GetCode(acc.CodeHash)
}
