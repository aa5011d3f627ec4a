package vm

import (
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/povfchain/node/internal/types"
)

// fakeDB is a minimal in-memory Database for exercising ExecuteTransaction
// and the standalone Call/Create entry points end to end.
type fakeDB struct {
	accounts map[types.Address]*types.Account
	storage  map[types.Address]map[string][]byte
	code     map[types.Hash][]byte
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		accounts: map[types.Address]*types.Account{},
		storage:  map[types.Address]map[string][]byte{},
		code:     map[types.Hash][]byte{},
	}
}

func (f *fakeDB) GetAccount(addr types.Address) *types.Account {
	if acc, ok := f.accounts[addr]; ok {
		return acc.Copy()
	}
	return types.NewAccount()
}
func (f *fakeDB) SetAccount(addr types.Address, acc *types.Account) { f.accounts[addr] = acc }
func (f *fakeDB) DeleteAccount(addr types.Address)                  { delete(f.accounts, addr) }
func (f *fakeDB) GetBalance(addr types.Address) *big.Int            { return f.GetAccount(addr).Balance }
func (f *fakeDB) GetNonce(addr types.Address) uint64                { return f.GetAccount(addr).Nonce }
func (f *fakeDB) SetNonce(addr types.Address, nonce uint64) {
	acc := f.GetAccount(addr)
	acc.Nonce = nonce
	f.SetAccount(addr, acc)
}
func (f *fakeDB) GetState(addr types.Address, key []byte) ([]byte, bool) {
	v, ok := f.storage[addr][string(key)]
	return v, ok
}
func (f *fakeDB) SetState(addr types.Address, key, value []byte) {
	if f.storage[addr] == nil {
		f.storage[addr] = map[string][]byte{}
	}
	f.storage[addr][string(key)] = value
}
func (f *fakeDB) DeleteState(addr types.Address, key []byte) { delete(f.storage[addr], string(key)) }
func (f *fakeDB) GetCode(h types.Hash) []byte                { return f.code[h] }
func (f *fakeDB) SetCode(h types.Hash, code []byte)          { f.code[h] = code }

func TestIntrinsicGas(t *testing.T) {
	require.Equal(t, uint64(21000), IntrinsicGas(nil))
	// one zero byte + one nonzero byte
	require.Equal(t, uint64(21000+4+16), IntrinsicGas([]byte{0x00, 0x01}))
}

func TestCapRefund(t *testing.T) {
	require.Equal(t, uint64(10), capRefund(100, 10))
	require.Equal(t, uint64(20), capRefund(100, 999))
}

func TestMemoryGasCost(t *testing.T) {
	require.Equal(t, uint64(0), memoryGasCost(0))
	require.Less(t, memoryGasCost(10), memoryGasCost(1000))
}

func TestIdentityPrecompile(t *testing.T) {
	out, gas, err := identityPrecompile([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), out)
	require.Equal(t, uint64(15+3), gas)
}

func TestSHA256Precompile(t *testing.T) {
	out, _, err := sha256Precompile([]byte("abc"))
	require.NoError(t, err)
	want := sha256.Sum256([]byte("abc"))
	require.Equal(t, want[:], out)
}

func TestECRecoverInvalidVReturnsZeroAddress(t *testing.T) {
	input := make([]byte, 128)
	input[63] = 5 // invalid v, not 27/28
	out, gas, err := ecrecoverPrecompile(input)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 32), out)
	require.Equal(t, uint64(3000), gas)
}

func TestBlake2fGasCostIsRoundsPlusBase(t *testing.T) {
	input := make([]byte, 213)
	input[0] = 12 // rounds = 12, little-endian
	input[212] = 1
	_, gas, err := blake2fPrecompile(input)
	require.NoError(t, err)
	require.Equal(t, uint64(27), gas) // 15 + 12
}

func TestBlake2fRejectsWrongLength(t *testing.T) {
	_, _, err := blake2fPrecompile(make([]byte, 10))
	require.Error(t, err)
}

func TestStackPushPopOrder(t *testing.T) {
	s := newStack()
	a := boolU256(true)
	b := boolU256(false)
	s.push(a)
	s.push(b)
	require.Equal(t, b, s.pop())
	require.Equal(t, a, s.pop())
}

func TestMemoryGrowsAndZeroFills(t *testing.T) {
	m := newMemory()
	out := m.Get(0, 32)
	require.Len(t, out, 32)
	for _, b := range out {
		require.Equal(t, byte(0), b)
	}
}

// TestDeterministicCreateAddressScenario is §8 S1: sender 0x01..01, nonce 0,
// init-code [0x60,0x60,0x60], value 0, gas_limit 100,000.
func TestDeterministicCreateAddressScenario(t *testing.T) {
	db := newFakeDB()
	var sender types.Address
	for i := range sender {
		sender[i] = 0x01
	}

	evm := New(db, BlockContext{})
	addr, result := evm.CreateContract(sender, 0, []byte{0x60, 0x60, 0x60}, big.NewInt(0), 100000)

	require.True(t, result.Success, result.HaltReason)
	require.Equal(t, DeterministicCreateAddress(sender, 0), addr)

	acc := db.GetAccount(addr)
	require.True(t, acc.IsContract())
	require.Equal(t, []byte{0x60, 0x60, 0x60}, db.GetCode(acc.CodeHash))
}

// TestSimpleTransferScenario is §8 S2: A starts with 2e18, sends 1e18 to B
// at gas_limit 21,000 / gas_price 1.
func TestSimpleTransferScenario(t *testing.T) {
	db := newFakeDB()
	var a, b types.Address
	a[0] = 0x01
	b[0] = 0x02

	oneE18 := big.NewInt(1_000_000_000_000_000_000)
	twoE18 := new(big.Int).Mul(oneE18, big.NewInt(2))
	db.SetAccount(a, &types.Account{Balance: twoE18})

	evm := New(db, BlockContext{TxGasPrice: big.NewInt(1)})
	result := evm.ExecuteTransaction(Message{From: a, To: &b, Value: oneE18, GasLimit: 21000})

	require.True(t, result.Success)
	require.Equal(t, uint64(21000), result.GasUsed)

	wantA := new(big.Int).Sub(oneE18, big.NewInt(21000))
	require.Equal(t, wantA, db.GetBalance(a))
	require.Equal(t, oneE18, db.GetBalance(b))
}

// deployCode installs bytecode at addr directly in the fake database.
func deployCode(db *fakeDB, addr types.Address, code []byte) {
	h := storeTestCode(db, code)
	acc := db.GetAccount(addr)
	acc.CodeHash = h
	acc.Kind = types.KindContract
	db.SetAccount(addr, acc)
}

func storeTestCode(db *fakeDB, code []byte) types.Hash {
	e := New(db, BlockContext{})
	return e.storeCode(code)
}

func TestSStoreClearRefundIsCapped(t *testing.T) {
	db := newFakeDB()
	var sender, contract types.Address
	sender[0] = 0x01
	contract[0] = 0x02
	db.SetAccount(sender, &types.Account{Balance: big.NewInt(1_000_000)})

	// Store 1 at slot 0, then clear it: the clear earns a 15,000 refund,
	// capped by EIP-3529 at gas_used/5.
	code := []byte{
		0x60, 0x01, 0x60, 0x00, 0x55, // PUSH1 1, PUSH1 0, SSTORE
		0x60, 0x00, 0x60, 0x00, 0x55, // PUSH1 0, PUSH1 0, SSTORE
		0x00, // STOP
	}
	deployCode(db, contract, code)

	evm := New(db, BlockContext{})
	result := evm.ExecuteTransaction(Message{From: sender, To: &contract, GasLimit: 100_000})

	require.True(t, result.Success, result.HaltReason)
	require.Greater(t, result.RefundedGas, uint64(0))
	require.LessOrEqual(t, result.RefundedGas, result.GasUsed/4) // refund <= used/5 pre-deduction
	_, ok := db.GetState(contract, make([]byte, 32))
	require.False(t, ok, "cleared slot must be deleted, not stored empty")
}

func TestTransientStorageRoundTrip(t *testing.T) {
	db := newFakeDB()
	var caller, contract types.Address
	caller[0] = 0x01
	contract[0] = 0x03

	// TSTORE 0x2A at key 1, TLOAD it back, return it as a 32-byte word.
	code := []byte{
		0x60, 0x2A, 0x60, 0x01, 0x5D, // PUSH1 0x2A, PUSH1 1, TSTORE
		0x60, 0x01, 0x5C, // PUSH1 1, TLOAD
		0x60, 0x00, 0x52, // PUSH1 0, MSTORE
		0x60, 0x20, 0x60, 0x00, 0xF3, // PUSH1 32, PUSH1 0, RETURN
	}
	deployCode(db, contract, code)

	evm := New(db, BlockContext{})
	result := evm.Call(caller, contract, big.NewInt(0), nil, 100_000)

	require.True(t, result.Success, result.HaltReason)
	require.Len(t, result.Output, 32)
	require.Equal(t, byte(0x2A), result.Output[31])

	// Transient storage does not leak into persistent slots.
	key := make([]byte, 32)
	key[31] = 1
	_, ok := db.GetState(contract, key)
	require.False(t, ok)
}

// TestIdentityPrecompileGasScenario is §8 S5: IDENTITY over 64 zero bytes
// at gas_limit 1000 costs exactly 15+3*2=21 gas.
func TestIdentityPrecompileGasScenario(t *testing.T) {
	db := newFakeDB()
	var precompileAddr types.Address
	precompileAddr[19] = 0x04
	input := make([]byte, 64)

	evm := New(db, BlockContext{})
	result := evm.CallContract(types.Address{}, precompileAddr, big.NewInt(0), input, 1000)

	require.True(t, result.Success)
	require.Equal(t, input, result.Output)
	require.Equal(t, uint64(21), result.GasUsed)
}
