package povf

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"github.com/povfchain/node/internal/logging"
	"github.com/povfchain/node/internal/types"
)

var log = logging.Module("povf")

// maxBlockGasLimit bounds an acceptable header gas limit (§4.8 step 1).
const maxBlockGasLimit = 100_000_000

// maxTimestampDrift is how far into the future a proposed block's timestamp
// may sit (§4.8 step 1).
const maxTimestampDrift = 60 * time.Second

// Config holds the consensus engine's tunables (§6).
type Config struct {
	GenesisHash types.Hash

	BlockInterval  time.Duration
	FinalityRounds uint64

	MinVDFIterations uint64
	MaxVDFIterations uint64 // never above MaxVDFIterations (the package cap)

	// Timeout bounds how long a round may sit in a single phase before
	// CheckTimeout resets it to WaitingProposal and advances the round
	// counter (§5 liveness, §6 consensus_timeout, default 30s).
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BlockInterval:    10 * time.Second,
		FinalityRounds:   1,
		MinVDFIterations: 10_000,
		MaxVDFIterations: MaxVDFIterations,
		Timeout:          30 * time.Second,
	}
}

// LocalValidator is this node's own validator identity; when set, the engine
// auto-casts a For vote as soon as a proposal's VDF completes (§4.8 step 2).
type LocalValidator struct {
	Address types.Address
	Key     *ecdsa.PrivateKey
}

// Engine drives the round state machine: proposal admission, the
// synchronous VDF delay, voting, and finality (§4.8). All phase transitions
// serialize through a single round-scope lock (§5).
type Engine struct {
	cfg Config
	vrf VRFSelector
	vdf VDFCalculator

	mu         sync.Mutex
	validators []Validator
	local      *LocalValidator

	round *Round // current round state; never nil after New

	finalized         map[types.Hash]*types.Block
	finalizedByHeight map[uint64]types.Hash
	currentHeight     uint64
}

func New(cfg Config, vrf VRFSelector, vdf VDFCalculator, validators []Validator) *Engine {
	if cfg.MaxVDFIterations == 0 || cfg.MaxVDFIterations > MaxVDFIterations {
		cfg.MaxVDFIterations = MaxVDFIterations
	}
	if cfg.MinVDFIterations == 0 {
		cfg.MinVDFIterations = 1
	}
	return &Engine{
		cfg:               cfg,
		vrf:               vrf,
		vdf:               vdf,
		validators:        validators,
		round:             newRound(0, 0),
		finalized:         make(map[types.Hash]*types.Block),
		finalizedByHeight: make(map[uint64]types.Hash),
	}
}

// SetLocalValidator registers this node's own validator identity.
func (e *Engine) SetLocalValidator(lv *LocalValidator) {
	e.mu.Lock()
	e.local = lv
	e.mu.Unlock()
}

func (e *Engine) CurrentRound() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round.Number
}

func (e *Engine) CurrentHeight() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentHeight
}

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round.Phase
}

// IsFinalized reports whether blockHash has been finalized by any round.
func (e *Engine) IsFinalized(blockHash types.Hash) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.finalized[blockHash]
	return ok
}

// FinalizedBlock returns the finalized block at height, or nil.
func (e *Engine) FinalizedBlock(height uint64) *types.Block {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.finalizedByHeight[height]
	if !ok {
		return nil
	}
	return e.finalized[h]
}

func (e *Engine) isValidator(addr types.Address) bool {
	for _, v := range e.validators {
		if v.Address == addr {
			return true
		}
	}
	return false
}

// RoundSeed is the deterministic VRF input for a round:
// SHA-256(genesis_hash || round_le) (§4.8).
func RoundSeed(genesisHash types.Hash, round uint64) []byte {
	buf := make([]byte, 40)
	copy(buf[:32], genesisHash[:])
	binary.LittleEndian.PutUint64(buf[32:], round)
	sum := sha256.Sum256(buf)
	return sum[:]
}

// VDFInput derives the delay function's input for a proposal:
// SHA-256(prev_block_hash || timestamp_le) (§4.8 step 2).
func VDFInput(prevBlockHash types.Hash, timestamp int64) []byte {
	buf := make([]byte, 40)
	copy(buf[:32], prevBlockHash[:])
	binary.LittleEndian.PutUint64(buf[32:], uint64(timestamp))
	sum := sha256.Sum256(buf)
	return sum[:]
}

// ExtractVDFIterations parses a header's params field: the first 8 bytes as
// a little-endian u64, zero-extended when shorter (§4.8, §6).
func ExtractVDFIterations(params []byte) uint64 {
	var buf [8]byte
	copy(buf[:], params)
	return binary.LittleEndian.Uint64(buf[:])
}

// vdfIterations is the per-height difficulty schedule:
// min_vdf_iterations * (1 + min(height/1000, 10)) (§4.8 step 2).
func (e *Engine) vdfIterations(height uint64) uint64 {
	scale := height / 1000
	if scale > 10 {
		scale = 10
	}
	iters := e.cfg.MinVDFIterations * (1 + scale)
	if iters > e.cfg.MaxVDFIterations {
		iters = e.cfg.MaxVDFIterations
	}
	return iters
}

// ProposeBlock runs the proposer-side VRF evaluation over the current
// round's seed and packages a Proposal for broadcast. Returns
// ErrNotProposer if this key did not win the draw.
func (e *Engine) ProposeBlock(key *ecdsa.PrivateKey, proposerAddr types.Address, block *types.Block) (*Proposal, error) {
	e.mu.Lock()
	round := e.round.Number
	seed := RoundSeed(e.cfg.GenesisHash, round)
	validators := e.validators
	e.mu.Unlock()

	out, err := e.vrf.Evaluate(seed, key)
	if err != nil {
		return nil, err
	}
	if SelectProposer(out.Value, validators) != proposerAddr {
		return nil, ErrNotProposer
	}
	return &Proposal{Block: block, Proposer: proposerAddr, VRFOutput: out, Round: round}, nil
}

// HandleBlockProposal admits a proposer's candidate block (§4.8 step 1):
// round and phase checks, VRF-verified proposer eligibility, header and
// transaction validation. On acceptance it stores the proposal, enters
// WaitingVDF, and drives the VDF synchronously; a valid VDF output advances
// the round to Voting (auto-casting this node's For vote if it is a
// validator), while a mismatch reverts to WaitingProposal with
// ErrInvalidVDFOutput.
func (e *Engine) HandleBlockProposal(proposer types.Address, block *types.Block, vrfOut *VRFOutput, round uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if round != e.round.Number {
		return ErrWrongRound
	}
	if e.round.Phase != PhaseWaitingProposal {
		return ErrWrongPhase
	}
	if !e.isValidator(proposer) {
		return ErrNotProposer
	}
	seed := RoundSeed(e.cfg.GenesisHash, round)
	if !e.vrf.Verify(seed, vrfOut, proposer) {
		return ErrNotProposer
	}
	if SelectProposer(vrfOut.Value, e.validators) != proposer {
		return ErrNotProposer
	}
	if err := e.validateHeader(&block.Header); err != nil {
		return err
	}
	if err := validateTransactions(block.Transactions); err != nil {
		return err
	}

	e.round.Proposal = &Proposal{Block: block, Proposer: proposer, VRFOutput: vrfOut, Round: round}
	e.round.enterPhase(PhaseWaitingVDF)

	return e.runVDFLocked(block)
}

func (e *Engine) validateHeader(h *types.Header) error {
	if h.Timestamp > time.Now().Add(maxTimestampDrift).Unix() {
		return ErrInvalidBlock
	}
	if h.GasLimit == 0 || h.GasLimit > maxBlockGasLimit {
		return ErrInvalidBlock
	}
	if len(h.Params) > 0 {
		iters := ExtractVDFIterations(h.Params)
		if iters < e.cfg.MinVDFIterations || iters > e.cfg.MaxVDFIterations {
			return ErrInvalidBlock
		}
	}
	return nil
}

func validateTransactions(txs []*types.Transaction) error {
	for _, tx := range txs {
		if tx.Sender == (types.Address{}) {
			return ErrInvalidBlock
		}
		if !tx.VerifySignature() {
			return ErrInvalidBlock
		}
	}
	return nil
}

// runVDFLocked drives the delay function inline after proposal acceptance
// (§4.8 step 2). Caller holds e.mu.
func (e *Engine) runVDFLocked(block *types.Block) error {
	input := VDFInput(block.Header.PrevBlockHash, block.Header.Timestamp)
	iterations := e.vdfIterations(block.Header.Height)

	proof, err := e.vdf.Evaluate(input, iterations)
	if err != nil || proof == nil ||
		len(proof.Output) < 32 || len(proof.Output) > maxVDFOutputSize ||
		!e.vdf.Verify(proof) {
		e.round.Proposal = nil
		e.round.enterPhase(PhaseWaitingProposal)
		return ErrInvalidVDFOutput
	}

	e.round.VDFProof = proof
	e.round.enterPhase(PhaseVoting)

	if e.local != nil && e.isValidator(e.local.Address) {
		e.recordVoteLocked(&Vote{
			Round:     e.round.Number,
			BlockHash: block.Hash(),
			Voter:     e.local.Address,
			VoteType:  VoteFor,
		})
	}
	return nil
}

// HandleVDFComplete admits an externally originated VDF completion: it is
// accepted only when it matches the locally computed output (§6).
func (e *Engine) HandleVDFComplete(blockHash types.Hash, output []byte, round uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if round != e.round.Number {
		return ErrWrongRound
	}
	if e.round.Proposal == nil {
		return ErrNoActiveProposal
	}
	if e.round.VDFProof == nil || !bytes.Equal(e.round.VDFProof.Output, output) {
		return ErrInvalidVDFOutput
	}
	if e.round.Proposal.Block.Hash() != blockHash {
		return ErrUnknownProposal
	}
	return nil
}

// HandleVote records a validator's ballot (§4.8 step 3). Every vote (For,
// Against, or Abstain) is recorded once per validator to prevent
// double-voting, but only VoteFor ballots accumulate toward the finality
// count; once for_count clears FinalityThreshold the round finalizes:
// the block enters finalized_blocks, the height advances to block.height+1,
// the proposal and vote map are cleared, and the next round opens in
// WaitingProposal (§4.8 step 4).
func (e *Engine) HandleVote(voter types.Address, blockHash types.Hash, round uint64, voteType VoteType) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if round != e.round.Number {
		return ErrWrongRound
	}
	if e.round.Phase != PhaseVoting && e.round.Phase != PhaseWaitingFinality {
		return ErrWrongPhase
	}
	if e.round.Proposal == nil {
		return ErrNoActiveProposal
	}
	if e.round.Proposal.Block != nil && e.round.Proposal.Block.Hash() != blockHash {
		return ErrUnknownProposal
	}
	if !e.isValidator(voter) {
		return ErrUnknownValidator
	}
	if _, already := e.round.votes[voter]; already {
		return ErrDuplicateVote
	}

	e.recordVoteLocked(&Vote{Round: round, BlockHash: blockHash, Voter: voter, VoteType: voteType})
	return nil
}

// recordVoteLocked appends a vote and evaluates finality. Caller holds e.mu.
func (e *Engine) recordVoteLocked(v *Vote) {
	e.round.votes[v.Voter] = v
	if v.VoteType == VoteFor {
		e.round.forCount++
	}
	if e.round.Phase == PhaseVoting {
		e.round.enterPhase(PhaseWaitingFinality)
	}

	if e.round.forCount >= FinalityThreshold(len(e.validators)) {
		e.finalizeLocked()
	}
}

// finalizeLocked executes §4.8 step 4. Caller holds e.mu.
func (e *Engine) finalizeLocked() {
	r := e.round
	r.enterPhase(PhaseFinalized)
	r.Finalized = true

	var height uint64
	if r.Proposal != nil && r.Proposal.Block != nil {
		block := r.Proposal.Block
		hash := block.Hash()
		e.finalized[hash] = block
		e.finalizedByHeight[block.Header.Height] = hash
		height = block.Header.Height
		e.currentHeight = height + 1
	}
	log.Info("round finalized", "round", r.Number, "height", height, "for_count", r.forCount)

	e.round = newRound(r.Number+1, e.currentHeight)
}

// LastFinalizedRound returns the previous round's number and whether any
// block has been finalized so far. The flag is not specific to that round:
// a round that timed out also advances the counter and leaves it unchanged.
func (e *Engine) LastFinalizedRound() (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.round.Number == 0 {
		return 0, false
	}
	return e.round.Number - 1, len(e.finalized) > 0
}

// CheckTimeout resets the current round to WaitingProposal and advances the
// round counter when it has sat in its current phase longer than the
// configured Timeout, reporting whether a reset occurred (§5 liveness).
func (e *Engine) CheckTimeout() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.Timeout <= 0 || e.round.Phase == PhaseWaitingProposal {
		return false
	}
	if time.Since(e.round.phaseEnteredAt) < e.cfg.Timeout {
		return false
	}

	log.Warn("round phase timed out, advancing round",
		"round", e.round.Number, "phase", e.round.Phase)
	e.round = newRound(e.round.Number+1, e.currentHeight)
	return true
}
