package vm

import (
	"github.com/holiman/uint256"
	"github.com/povfchain/node/internal/types"
)

// Contract is the execution frame for one call/create: its code, the
// address whose storage it reads/writes, and the gas budget it owns.
type Contract struct {
	Address  types.Address
	Caller   types.Address
	CodeAddr types.Address // for DELEGATECALL: code's origin, storage stays Address
	Code     []byte
	Input    []byte
	Value    *uint256.Int

	Gas      uint64
	ReadOnly bool // true under STATICCALL

	jumpdests map[uint64]bool
}

func NewContract(address, caller types.Address, code, input []byte, value *uint256.Int, gas uint64) *Contract {
	return &Contract{
		Address:  address,
		Caller:   caller,
		CodeAddr: address,
		Code:     code,
		Input:    input,
		Value:    value,
		Gas:      gas,
	}
}

func (c *Contract) validJumpdest(dest uint64) bool {
	if c.jumpdests == nil {
		c.jumpdests = analyzeJumpdests(c.Code)
	}
	return c.jumpdests[dest]
}

// analyzeJumpdests scans code once, marking valid JUMPDEST positions while
// correctly skipping over PUSH immediate-data bytes.
func analyzeJumpdests(code []byte) map[uint64]bool {
	dests := make(map[uint64]bool)
	for pc := 0; pc < len(code); {
		op := OpCode(code[pc])
		if op == JUMPDEST {
			dests[uint64(pc)] = true
			pc++
			continue
		}
		if op.isPush() {
			pc += 1 + op.pushSize()
			continue
		}
		pc++
	}
	return dests
}
