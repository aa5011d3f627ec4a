package vm

import (
	"crypto/sha256"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/bn256/cloudflare"
	"github.com/povfchain/node/internal/types"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // RIPEMD-160 precompile at 0x03 requires this exact algorithm
)

// precompileFunc returns (output, gasCost, error). A non-nil error or a
// gasCost above the caller's budget both fail the call.
type precompileFunc func(input []byte) ([]byte, uint64, error)

var precompiles = map[types.Address]precompileFunc{
	addrOf(1): ecrecoverPrecompile,
	addrOf(2): sha256Precompile,
	addrOf(3): ripemd160Precompile,
	addrOf(4): identityPrecompile,
	addrOf(5): modexpPrecompile,
	addrOf(6): ecaddPrecompile,
	addrOf(7): ecmulPrecompile,
	addrOf(8): ecpairingPrecompile,
	addrOf(9): blake2fPrecompile,
}

func addrOf(n byte) types.Address {
	var a types.Address
	a[19] = n
	return a
}

func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b[:size]
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

func rightPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b[:size]
	}
	out := make([]byte, size)
	copy(out, b)
	return out
}

func sliceInput(input []byte, offset, size int) []byte {
	return rightPad(sliceOrZero(input, uint64(offset), uint64(size)), size)
}

// ecrecoverPrecompile: 0x01. Input: hash(32) || v(32) || r(32) || s(32).
// Output: 32-byte left-padded address, or 32 zero bytes when v is not 27/28
// or the signature does not recover.
func ecrecoverPrecompile(input []byte) ([]byte, uint64, error) {
	const gas = 3000
	in := rightPad(input, 128)
	hash := in[0:32]
	v := in[63]
	r := in[64:96]
	s := in[96:128]

	if v != 27 && v != 28 {
		// §4.6: invalid v returns the zero 32-byte address, not an error and
		// not empty output — a caller checking RETURNDATASIZE must still see 32.
		return make([]byte, 32), gas, nil
	}
	sig := make([]byte, 65)
	copy(sig[0:32], r)
	copy(sig[32:64], s)
	sig[64] = v - 27

	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return make([]byte, 32), gas, nil
	}
	addr := crypto.PubkeyToAddress(*pub)
	return leftPad(addr[:], 32), gas, nil
}

// sha256Precompile: 0x02. cost = 60 + 12*ceil(len/32).
func sha256Precompile(input []byte) ([]byte, uint64, error) {
	gas := 60 + 12*uint64(toWordSize(uint64(len(input))))
	h := sha256.Sum256(input)
	return h[:], gas, nil
}

// ripemd160Precompile: 0x03. cost = 600 + 120*ceil(len/32). Output is
// 20 bytes left-padded to 32.
func ripemd160Precompile(input []byte) ([]byte, uint64, error) {
	gas := 600 + 120*uint64(toWordSize(uint64(len(input))))
	h := ripemd160.New()
	h.Write(input)
	return leftPad(h.Sum(nil), 32), gas, nil
}

// identityPrecompile: 0x04. cost = 15 + 3*ceil(len/32).
func identityPrecompile(input []byte) ([]byte, uint64, error) {
	gas := 15 + 3*uint64(toWordSize(uint64(len(input))))
	out := make([]byte, len(input))
	copy(out, input)
	return out, gas, nil
}

// modexpPrecompile: 0x05. Input: base_len(32) || exp_len(32) || mod_len(32)
// || base || exponent || modulus. Gas is max(200, words*words*max(1,
// bitlen(exponent))/20) with words = ceil(max(base_len, mod_len)/8); the
// result comes from math/big's modular exponentiation.
func modexpPrecompile(input []byte) ([]byte, uint64, error) {
	in := rightPad(input, 96)
	baseLen := new(big.Int).SetBytes(in[0:32]).Uint64()
	expLen := new(big.Int).SetBytes(in[32:64]).Uint64()
	modLen := new(big.Int).SetBytes(in[64:96]).Uint64()

	rest := input
	if len(rest) > 96 {
		rest = rest[96:]
	} else {
		rest = nil
	}
	base := new(big.Int).SetBytes(sliceInput(rest, 0, int(baseLen)))
	exp := new(big.Int).SetBytes(sliceInput(rest, int(baseLen), int(expLen)))
	mod := new(big.Int).SetBytes(sliceInput(rest, int(baseLen+expLen), int(modLen)))

	maxLen := baseLen
	if modLen > maxLen {
		maxLen = modLen
	}
	words := (maxLen + 7) / 8
	multComplexity := words * words
	expBitLen := uint64(exp.BitLen())
	adjExpLen := expBitLen
	if adjExpLen == 0 {
		adjExpLen = 1
	}
	gas := (multComplexity * adjExpLen) / 20
	if gas < 200 {
		gas = 200
	}

	var result *big.Int
	if mod.Sign() == 0 {
		result = new(big.Int)
	} else {
		result = new(big.Int).Exp(base, exp, mod)
	}
	out := leftPad(result.Bytes(), int(modLen))
	return out, gas, nil
}

// ecaddPrecompile: 0x06. alt_bn128 point addition, fixed 150 gas.
func ecaddPrecompile(input []byte) ([]byte, uint64, error) {
	const gas = 150
	in := rightPad(input, 128)
	x1 := new(bn256.G1)
	if _, err := x1.Unmarshal(in[0:64]); err != nil {
		return nil, gas, ErrExecutionReverted
	}
	x2 := new(bn256.G1)
	if _, err := x2.Unmarshal(in[64:128]); err != nil {
		return nil, gas, ErrExecutionReverted
	}
	sum := new(bn256.G1).Add(x1, x2)
	return sum.Marshal(), gas, nil
}

// ecmulPrecompile: 0x07. alt_bn128 scalar multiplication, fixed 6000 gas.
func ecmulPrecompile(input []byte) ([]byte, uint64, error) {
	const gas = 6000
	in := rightPad(input, 96)
	p := new(bn256.G1)
	if _, err := p.Unmarshal(in[0:64]); err != nil {
		return nil, gas, ErrExecutionReverted
	}
	scalar := new(big.Int).SetBytes(in[64:96])
	res := new(bn256.G1).ScalarMult(p, scalar)
	return res.Marshal(), gas, nil
}

// ecpairingPrecompile: 0x08. cost = 45000 + 34000*k, k = number of pairs.
func ecpairingPrecompile(input []byte) ([]byte, uint64, error) {
	const pairSize = 192
	if len(input)%pairSize != 0 {
		return nil, 45000, ErrExecutionReverted
	}
	k := len(input) / pairSize
	gas := uint64(45000 + 34000*k)

	var g1s []*bn256.G1
	var g2s []*bn256.G2
	for i := 0; i < k; i++ {
		chunk := input[i*pairSize : (i+1)*pairSize]
		g1 := new(bn256.G1)
		if _, err := g1.Unmarshal(chunk[0:64]); err != nil {
			return nil, gas, ErrExecutionReverted
		}
		g2 := new(bn256.G2)
		if _, err := g2.Unmarshal(chunk[64:192]); err != nil {
			return nil, gas, ErrExecutionReverted
		}
		g1s = append(g1s, g1)
		g2s = append(g2s, g2)
	}

	ok := bn256.PairingCheck(g1s, g2s)
	out := make([]byte, 32)
	if ok {
		out[31] = 1
	}
	return out, gas, nil
}

// blake2fPrecompile: 0x09. Input: rounds(4, little-endian) || h(64) ||
// m(128) || t(16) || f(1). Cost is 15 + rounds.
func blake2fPrecompile(input []byte) ([]byte, uint64, error) {
	if len(input) != 213 {
		return nil, 0, ErrExecutionReverted
	}
	rounds := leUint32(input[0:4])
	var h [8]uint64
	for i := 0; i < 8; i++ {
		h[i] = leUint64(input[4+i*8 : 4+(i+1)*8])
	}
	var m [16]uint64
	for i := 0; i < 16; i++ {
		m[i] = leUint64(input[68+i*8 : 68+(i+1)*8])
	}
	t0 := leUint64(input[196:204])
	t1 := leUint64(input[204:212])
	final := input[212] == 1

	out := blake2fCompress(rounds, h, m, [2]uint64{t0, t1}, final)
	result := make([]byte, 64)
	for i, v := range out {
		putLE64(result[i*8:(i+1)*8], v)
	}
	return result, 15 + uint64(rounds), nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
