package povf

import (
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/povfchain/node/internal/types"
)

type stubVDF struct{}

func (stubVDF) Evaluate(input []byte, iterations uint64) (*VDFProof, error) {
	out := make([]byte, 32)
	copy(out, input)
	return &VDFProof{Input: input, Output: out, Proof: make([]byte, 8+32), Iterations: iterations}, nil
}
func (stubVDF) Verify(proof *VDFProof) bool {
	return proof != nil && proof.Iterations > 0 && len(proof.Output) >= 32
}

type testValidatorSet struct {
	validators []Validator
	keys       map[types.Address]*ecdsa.PrivateKey
}

func newTestValidatorSet(t *testing.T, n int) *testValidatorSet {
	t.Helper()
	set := &testValidatorSet{keys: make(map[types.Address]*ecdsa.PrivateKey)}
	for i := 0; i < n; i++ {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		addr := types.Address(crypto.PubkeyToAddress(key.PublicKey))
		set.validators = append(set.validators, Validator{Address: addr, Stake: big.NewInt(10)})
		set.keys[addr] = key
	}
	return set
}

// winningProposal evaluates the VRF for every validator and returns the
// proposal of the one whose output wins the stake-weighted draw. Each
// validator's value may land in another validator's slice, so a seed can
// have no winner; the engine's genesis hash (and with it the round seed) is
// then stepped until some validator wins.
func (s *testValidatorSet) winningProposal(t *testing.T, e *Engine, block *types.Block) (types.Address, *VRFOutput) {
	t.Helper()
	for attempt := 0; attempt < 256; attempt++ {
		seed := RoundSeed(e.cfg.GenesisHash, e.CurrentRound())
		for addr, key := range s.keys {
			out, err := ECDSAVRFSelector{}.Evaluate(seed, key)
			require.NoError(t, err)
			if SelectProposer(out.Value, s.validators) == addr {
				return addr, out
			}
		}
		e.cfg.GenesisHash[0]++
	}
	t.Fatal("no validator won proposer selection")
	return types.Address{}, nil
}

func validBlock(height uint64) *types.Block {
	return &types.Block{Header: types.Header{
		Height:    height,
		Timestamp: time.Now().Unix(),
		GasLimit:  30_000_000,
	}}
}

func TestFinalityThreshold(t *testing.T) {
	// 10 validators: floor(20/3)+1 = 6+1 = 7
	require.Equal(t, 7, FinalityThreshold(10))
	// §8 boundary: with N=4, floor(8/3)=2 is not final, 3 is.
	require.Equal(t, 3, FinalityThreshold(4))
}

// TestFinalityQuorumScenario is §8 S4: four equal-stake validators; the
// block is not finalized after two For votes and finalizes on the third,
// after which the round advances and the vote map is cleared.
func TestFinalityQuorumScenario(t *testing.T) {
	set := newTestValidatorSet(t, 4)
	engine := New(DefaultConfig(), ECDSAVRFSelector{}, stubVDF{}, set.validators)

	block := validBlock(1)
	proposer, vrfOut := set.winningProposal(t, engine, block)
	require.NoError(t, engine.HandleBlockProposal(proposer, block, vrfOut, 0))
	require.Equal(t, PhaseVoting, engine.Phase())

	blockHash := block.Hash()
	var voted int
	for _, v := range set.validators {
		require.NoError(t, engine.HandleVote(v.Address, blockHash, 0, VoteFor))
		voted++
		if voted < 3 {
			require.False(t, engine.IsFinalized(blockHash))
		} else {
			break
		}
	}

	require.True(t, engine.IsFinalized(blockHash))
	require.Equal(t, uint64(1), engine.CurrentRound())
	require.Equal(t, uint64(2), engine.CurrentHeight())
	require.Equal(t, PhaseWaitingProposal, engine.Phase())

	// The new round has a fresh vote map: voting again targets round 1.
	err := engine.HandleVote(set.validators[3].Address, blockHash, 0, VoteFor)
	require.ErrorIs(t, err, ErrWrongRound)
}

// TestAgainstAndAbstainVotesDoNotFinalize exercises §4.8 step 3 against an
// unequal stake distribution: a whale validator casting Against must not
// push the round toward finality on its stake alone; only a count of
// distinct VoteFor ballots crossing floor(2N/3)+1 finalizes.
func TestAgainstAndAbstainVotesDoNotFinalize(t *testing.T) {
	set := newTestValidatorSet(t, 3)
	set.validators[0].Stake = big.NewInt(1_000_000)
	set.validators[1].Stake = big.NewInt(1)
	set.validators[2].Stake = big.NewInt(1)

	engine := New(DefaultConfig(), ECDSAVRFSelector{}, stubVDF{}, set.validators)
	block := validBlock(1)
	proposer, vrfOut := set.winningProposal(t, engine, block)
	require.NoError(t, engine.HandleBlockProposal(proposer, block, vrfOut, 0))

	blockHash := block.Hash()
	require.NoError(t, engine.HandleVote(set.validators[0].Address, blockHash, 0, VoteAgainst))
	require.False(t, engine.IsFinalized(blockHash))

	require.NoError(t, engine.HandleVote(set.validators[1].Address, blockHash, 0, VoteAbstain))
	require.False(t, engine.IsFinalized(blockHash))

	// floor(2*3/3)+1 = 3: one VoteFor is not enough; the round stays open.
	require.NoError(t, engine.HandleVote(set.validators[2].Address, blockHash, 0, VoteFor))
	require.False(t, engine.IsFinalized(blockHash))
}

func TestDuplicateVoteRejected(t *testing.T) {
	set := newTestValidatorSet(t, 4)
	engine := New(DefaultConfig(), ECDSAVRFSelector{}, stubVDF{}, set.validators)
	block := validBlock(1)
	proposer, vrfOut := set.winningProposal(t, engine, block)
	require.NoError(t, engine.HandleBlockProposal(proposer, block, vrfOut, 0))

	voter := set.validators[0].Address
	require.NoError(t, engine.HandleVote(voter, block.Hash(), 0, VoteAgainst))
	require.ErrorIs(t, engine.HandleVote(voter, block.Hash(), 0, VoteFor), ErrDuplicateVote)
}

func TestWrongRoundProposalRejected(t *testing.T) {
	set := newTestValidatorSet(t, 1)
	engine := New(DefaultConfig(), ECDSAVRFSelector{}, stubVDF{}, set.validators)
	block := validBlock(1)
	proposer, vrfOut := set.winningProposal(t, engine, block)
	require.ErrorIs(t, engine.HandleBlockProposal(proposer, block, vrfOut, 7), ErrWrongRound)
}

func TestHeaderValidation(t *testing.T) {
	set := newTestValidatorSet(t, 1)
	engine := New(DefaultConfig(), ECDSAVRFSelector{}, stubVDF{}, set.validators)

	cases := []struct {
		name   string
		mutate func(*types.Header)
	}{
		{"zero gas limit", func(h *types.Header) { h.GasLimit = 0 }},
		{"gas limit above cap", func(h *types.Header) { h.GasLimit = maxBlockGasLimit + 1 }},
		{"timestamp too far ahead", func(h *types.Header) { h.Timestamp = time.Now().Add(2 * time.Minute).Unix() }},
		{"vdf iterations below min", func(h *types.Header) {
			h.Params = []byte{1} // 1 < MinVDFIterations
		}},
	}
	for _, tc := range cases {
		block := validBlock(1)
		tc.mutate(&block.Header)
		proposer, vrfOut := set.winningProposal(t, engine, block)
		require.ErrorIs(t, engine.HandleBlockProposal(proposer, block, vrfOut, 0), ErrInvalidBlock, tc.name)
	}
}

// TestVDFIterationBoundary is §8's boundary: params carrying exactly
// max_vdf_iterations is accepted, one more is rejected.
func TestVDFIterationBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxVDFIterations = 100_000
	set := newTestValidatorSet(t, 1)
	engine := New(cfg, ECDSAVRFSelector{}, stubVDF{}, set.validators)

	atMax := validBlock(1)
	atMax.Header.Params = leUint64Bytes(cfg.MaxVDFIterations)
	proposer, vrfOut := set.winningProposal(t, engine, atMax)
	require.NoError(t, engine.HandleBlockProposal(proposer, atMax, vrfOut, 0))

	engine2 := New(cfg, ECDSAVRFSelector{}, stubVDF{}, set.validators)
	overMax := validBlock(1)
	overMax.Header.Params = leUint64Bytes(cfg.MaxVDFIterations + 1)
	proposer2, vrfOut2 := set.winningProposal(t, engine2, overMax)
	require.ErrorIs(t, engine2.HandleBlockProposal(proposer2, overMax, vrfOut2, 0), ErrInvalidBlock)
}

func leUint64Bytes(v uint64) []byte {
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = byte(v >> (8 * i))
	}
	return out
}

func TestExtractVDFIterationsZeroExtends(t *testing.T) {
	require.Equal(t, uint64(0x0201), ExtractVDFIterations([]byte{0x01, 0x02}))
	require.Equal(t, uint64(0), ExtractVDFIterations(nil))
	// Extra trailing bytes beyond the first 8 are ignored.
	full := append(leUint64Bytes(42), 0xFF, 0xFF)
	require.Equal(t, uint64(42), ExtractVDFIterations(full))
}

func TestVDFIterationSchedule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinVDFIterations = 1000
	engine := New(cfg, ECDSAVRFSelector{}, stubVDF{}, nil)

	require.Equal(t, uint64(1000), engine.vdfIterations(0))
	require.Equal(t, uint64(2000), engine.vdfIterations(1000))
	// height/1000 is capped at 10.
	require.Equal(t, uint64(11_000), engine.vdfIterations(50_000))
}

func TestLocalValidatorAutoVotes(t *testing.T) {
	set := newTestValidatorSet(t, 1)
	engine := New(DefaultConfig(), ECDSAVRFSelector{}, stubVDF{}, set.validators)
	addr := set.validators[0].Address
	engine.SetLocalValidator(&LocalValidator{Address: addr, Key: set.keys[addr]})

	// With a single validator the auto-cast For vote alone crosses
	// floor(2/3)+1 = 1 and the round finalizes inline.
	block := validBlock(1)
	proposer, vrfOut := set.winningProposal(t, engine, block)
	require.NoError(t, engine.HandleBlockProposal(proposer, block, vrfOut, 0))
	require.True(t, engine.IsFinalized(block.Hash()))
	require.Equal(t, uint64(1), engine.CurrentRound())
}

func TestCheckTimeoutAdvancesRound(t *testing.T) {
	set := newTestValidatorSet(t, 4)
	cfg := DefaultConfig()
	cfg.Timeout = time.Millisecond
	engine := New(cfg, ECDSAVRFSelector{}, stubVDF{}, set.validators)

	block := validBlock(1)
	proposer, vrfOut := set.winningProposal(t, engine, block)
	require.NoError(t, engine.HandleBlockProposal(proposer, block, vrfOut, 0))
	require.Equal(t, PhaseVoting, engine.Phase())

	time.Sleep(2 * time.Millisecond)
	require.True(t, engine.CheckTimeout())
	require.Equal(t, PhaseWaitingProposal, engine.Phase())
	require.Equal(t, uint64(1), engine.CurrentRound())
}

func TestCheckTimeoutDoesNotFireEarly(t *testing.T) {
	set := newTestValidatorSet(t, 4)
	engine := New(DefaultConfig(), ECDSAVRFSelector{}, stubVDF{}, set.validators)

	block := validBlock(1)
	proposer, vrfOut := set.winningProposal(t, engine, block)
	require.NoError(t, engine.HandleBlockProposal(proposer, block, vrfOut, 0))

	require.False(t, engine.CheckTimeout())
	require.Equal(t, PhaseVoting, engine.Phase())
}

func TestSignedTransactionPassesProposalValidation(t *testing.T) {
	set := newTestValidatorSet(t, 1)
	engine := New(DefaultConfig(), ECDSAVRFSelector{}, stubVDF{}, set.validators)

	senderKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := types.Address(crypto.PubkeyToAddress(senderKey.PublicKey))
	to := types.Address{0x02}

	tx := &types.Transaction{Sender: sender, To: &to, Value: big.NewInt(1), Gas: 21000}
	require.NoError(t, tx.Sign(senderKey))

	block := validBlock(1)
	block.Transactions = []*types.Transaction{tx}
	proposer, vrfOut := set.winningProposal(t, engine, block)
	require.NoError(t, engine.HandleBlockProposal(proposer, block, vrfOut, 0))

	// An unsigned transaction in the same slot fails block validation.
	engine2 := New(DefaultConfig(), ECDSAVRFSelector{}, stubVDF{}, set.validators)
	bad := validBlock(1)
	bad.Transactions = []*types.Transaction{{Sender: sender, To: &to, Gas: 21000}}
	proposer2, vrfOut2 := set.winningProposal(t, engine2, bad)
	require.ErrorIs(t, engine2.HandleBlockProposal(proposer2, bad, vrfOut2, 0), ErrInvalidBlock)
}
