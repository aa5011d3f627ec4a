package povf

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math/big"
	"runtime"
)

// Verifiable Delay Function support for the round's mandatory delay phase
// (§4.8): iterated modular squaring y <- y^2 mod p over the secp256k1 field
// prime. The output takes a prescribed number of strictly sequential
// squarings to compute, preventing a proposer from grinding the randomness
// beacon, and verification recomputes the chain (the authoritative path).

var (
	errVDFNilInput       = errors.New("povf: vdf nil input")
	errVDFZeroIterations = errors.New("povf: vdf zero iterations")
	errVDFTooManyIters   = errors.New("povf: vdf iterations exceed cap")
)

// MaxVDFIterations is the hard cap on the time parameter (§4.8, §6).
const MaxVDFIterations = 10_000_000

// vdfYieldInterval is how often the squaring loop yields to the scheduler
// so a long delay computation doesn't starve other goroutines (§5).
const vdfYieldInterval = 10_000

// maxVDFOutputSize bounds an acceptable output blob (§4.8 step 2).
const maxVDFOutputSize = 10 * 1024 * 1024

// maxProofStepHashes is how many intermediate step hashes a proof carries.
const maxProofStepHashes = 10

// vdfModulus is the secp256k1 field prime p = 2^256 - 2^32 - 977.
var vdfModulus = func() *big.Int {
	p, _ := new(big.Int).SetString(
		"fffffffffffffffffffffffffffffffffffffffffffffffffffffffefffffc2f", 16)
	return p
}()

// VDFProof is the input/output/proof triple exchanged during the
// WaitingVDF phase. Proof layout: step count (LE u64), up to ten
// intermediate step hashes (32 bytes each), and the SHA-256 of the decimal
// string of the final value.
type VDFProof struct {
	Input      []byte
	Output     []byte
	Proof      []byte
	Iterations uint64
}

// VDFCalculator is injected into Engine so the delay function can be swapped
// for a fast stub in tests without touching the round state machine (§9).
type VDFCalculator interface {
	Evaluate(input []byte, iterations uint64) (*VDFProof, error)
	Verify(proof *VDFProof) bool
}

// SquaringVDF is the production VDFCalculator.
type SquaringVDF struct{}

func NewSquaringVDF() *SquaringVDF { return &SquaringVDF{} }

func (SquaringVDF) Evaluate(input []byte, iterations uint64) (*VDFProof, error) {
	if len(input) == 0 {
		return nil, errVDFNilInput
	}
	if iterations == 0 {
		return nil, errVDFZeroIterations
	}
	if iterations > MaxVDFIterations {
		return nil, errVDFTooManyIters
	}

	y, stepHashes := runSquaringChain(input, iterations)

	finalHash := sha256.Sum256([]byte(y.String()))
	proof := make([]byte, 0, 8+len(stepHashes)*32+32)
	var stepBuf [8]byte
	binary.LittleEndian.PutUint64(stepBuf[:], iterations)
	proof = append(proof, stepBuf[:]...)
	for _, h := range stepHashes {
		proof = append(proof, h[:]...)
	}
	proof = append(proof, finalHash[:]...)

	return &VDFProof{
		Input:      input,
		Output:     leftPad32(y.Bytes()),
		Proof:      proof,
		Iterations: iterations,
	}, nil
}

// Verify checks the proof's shape, reconstructs the final hash, and
// authoritatively recomputes the full squaring chain.
func (SquaringVDF) Verify(proof *VDFProof) bool {
	if proof == nil || len(proof.Input) == 0 {
		return false
	}
	if len(proof.Output) < 32 || len(proof.Output) > maxVDFOutputSize {
		return false
	}
	if len(proof.Proof) < 8+32 || len(proof.Proof) > 8+maxProofStepHashes*32+32 {
		return false
	}
	steps := binary.LittleEndian.Uint64(proof.Proof[:8])
	if steps == 0 || steps > MaxVDFIterations || steps != proof.Iterations {
		return false
	}

	y, stepHashes := runSquaringChain(proof.Input, steps)

	if !bytes.Equal(leftPad32(y.Bytes()), proof.Output) {
		return false
	}
	wantFinal := sha256.Sum256([]byte(y.String()))
	gotFinal := proof.Proof[len(proof.Proof)-32:]
	if !bytes.Equal(wantFinal[:], gotFinal) {
		return false
	}

	// Any step hashes the prover included must match the recomputed chain.
	carried := (len(proof.Proof) - 8 - 32) / 32
	if carried > len(stepHashes) {
		return false
	}
	for i := 0; i < carried; i++ {
		got := proof.Proof[8+i*32 : 8+(i+1)*32]
		if !bytes.Equal(stepHashes[i][:], got) {
			return false
		}
	}
	return true
}

// runSquaringChain performs the sequential squarings, yielding to the
// scheduler every vdfYieldInterval iterations, and records up to
// maxProofStepHashes evenly spaced intermediate hashes.
func runSquaringChain(input []byte, iterations uint64) (*big.Int, [][32]byte) {
	y := new(big.Int).SetBytes(input)
	y.Mod(y, vdfModulus)
	if y.Sign() == 0 {
		y.SetInt64(2)
	}

	stride := iterations / maxProofStepHashes
	if stride == 0 {
		stride = 1
	}
	var stepHashes [][32]byte

	for i := uint64(1); i <= iterations; i++ {
		y.Mul(y, y)
		y.Mod(y, vdfModulus)
		if i%stride == 0 && len(stepHashes) < maxProofStepHashes {
			stepHashes = append(stepHashes, sha256.Sum256(y.Bytes()))
		}
		if i%vdfYieldInterval == 0 {
			runtime.Gosched()
		}
	}
	return y, stepHashes
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
