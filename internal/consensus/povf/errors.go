package povf

import "errors"

var (
	ErrWrongRound       = errors.New("povf: message targets a different round")
	ErrWrongPhase       = errors.New("povf: proposal or vote received in wrong phase")
	ErrNotProposer      = errors.New("povf: sender is not the selected proposer")
	ErrUnknownValidator = errors.New("povf: voter is not in the validator set")
	ErrDuplicateVote    = errors.New("povf: validator already voted this round")
	ErrStaleRound       = errors.New("povf: round already finalized or superseded")
	ErrInvalidBlock     = errors.New("povf: block failed header or transaction validation")
	ErrInvalidVDFOutput = errors.New("povf: vdf output failed verification")
	ErrNoActiveProposal = errors.New("povf: no proposal pending for this round")
	ErrUnknownProposal  = errors.New("povf: vote references a block that is not the current proposal")
)
