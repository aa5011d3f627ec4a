package povf

import (
	"math/big"
	"time"

	"github.com/povfchain/node/internal/types"
)

// Phase is a round's position in the WaitingProposal -> WaitingVDF ->
// Voting -> WaitingFinality -> Finalized state machine (§4.8).
type Phase int

const (
	PhaseWaitingProposal Phase = iota
	PhaseWaitingVDF
	PhaseVoting
	PhaseWaitingFinality
	PhaseFinalized
)

func (p Phase) String() string {
	switch p {
	case PhaseWaitingProposal:
		return "waiting_proposal"
	case PhaseWaitingVDF:
		return "waiting_vdf"
	case PhaseVoting:
		return "voting"
	case PhaseWaitingFinality:
		return "waiting_finality"
	case PhaseFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Validator is one staked participant eligible for proposer selection and
// voting.
type Validator struct {
	Address types.Address
	Stake   *big.Int
}

// Proposal is a proposer's candidate block plus its VRF eligibility proof.
type Proposal struct {
	Block     *types.Block
	Proposer  types.Address
	VRFOutput *VRFOutput
	Round     uint64
}

// VoteType is a validator's disposition toward the proposed block (§3, §6).
type VoteType int

const (
	VoteFor VoteType = iota
	VoteAgainst
	VoteAbstain
)

func (t VoteType) String() string {
	switch t {
	case VoteFor:
		return "for"
	case VoteAgainst:
		return "against"
	case VoteAbstain:
		return "abstain"
	default:
		return "unknown"
	}
}

// Vote is one validator's finality ballot for a round's proposed block. Only
// VoteFor ballots count toward the finality threshold; VoteAgainst and
// VoteAbstain are recorded (so a validator can't vote twice) but never
// advance the round (§4.8 step 3).
type Vote struct {
	Round     uint64
	BlockHash types.Hash
	Voter     types.Address
	VoteType  VoteType
	Signature []byte
}

// Round tracks one consensus round's progress.
type Round struct {
	Number uint64
	Height uint64
	Phase  Phase

	Proposal *Proposal
	VDFProof *VDFProof

	votes    map[types.Address]*Vote
	forCount int

	Finalized bool

	// phaseEnteredAt is the time the round last entered its current phase,
	// used to detect consensus_timeout expiry for liveness (§5, §6).
	phaseEnteredAt time.Time
}

func newRound(number, height uint64) *Round {
	return &Round{
		Number:         number,
		Height:         height,
		Phase:          PhaseWaitingProposal,
		votes:          make(map[types.Address]*Vote),
		phaseEnteredAt: time.Now(),
	}
}

// enterPhase transitions the round to phase and resets its timeout clock.
func (r *Round) enterPhase(phase Phase) {
	r.Phase = phase
	r.phaseEnteredAt = time.Now()
}

// IsFinalized reports whether the round has crossed the finality threshold.
func (r *Round) IsFinalized() bool { return r.Finalized }

// FinalityThreshold is floor(2*N/3) + 1, the minimum count of distinct
// validators casting a VoteFor ballot required to finalize a round, where N
// is the size of the validator set (§4.8 step 3: "let N = |validators|;
// for_count >= floor(2N/3)+1").
func FinalityThreshold(validatorCount int) int {
	return (validatorCount*2)/3 + 1
}
