package txpool

import (
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/povfchain/node/internal/logging"
	"github.com/povfchain/node/internal/types"
	"github.com/povfchain/node/internal/vm"
)

var log = logging.Module("txpool")

// Error codes for pool validation.
var (
	ErrPoolFull             = errors.New("txpool: pool is full")
	ErrDuplicateTransaction = errors.New("txpool: duplicate transaction")
	ErrReplacementFeeTooLow = errors.New("txpool: replacement fee too low")
	ErrNonceTooLow          = errors.New("txpool: nonce too low")
	ErrInsufficientFunds    = errors.New("txpool: insufficient funds for gas * price + value")
	ErrIntrinsicGas         = errors.New("txpool: intrinsic gas too low")
	ErrGasLimitExceeded     = errors.New("txpool: gas exceeds block gas limit")
	ErrNegativeValue        = errors.New("txpool: negative value")
	ErrUnderpriced          = errors.New("txpool: gas price below minimum")
)

// MaxTxPackageCount bounds how many transactions a single package() call
// will hand to block assembly (§4.7).
const MaxTxPackageCount = 10000

// ReplacementBumpPercent is the minimum percentage increase in effective
// gas price required to replace a queued transaction at the same nonce.
const ReplacementBumpPercent = 10

// Config holds TxPool tunables.
type Config struct {
	MaxSize       int
	BlockGasLimit uint64
	MinGasPrice   *big.Int
	TTL           time.Duration
}

// DefaultConfig returns sensible defaults for the pool.
func DefaultConfig() Config {
	return Config{
		MaxSize:       20_480,
		BlockGasLimit: 30_000_000,
		MinGasPrice:   big.NewInt(1),
		TTL:           3600 * time.Second,
	}
}

// StateReader provides account state for admission validation.
type StateReader interface {
	GetNonce(addr types.Address) uint64
	GetBalance(addr types.Address) *big.Int
}

// ChainReader lets Package() drop candidates the chain already knows about
// (e.g. re-added after a reorg that later got re-included some other way),
// per §4.7's package(chain) contract ("drop it if... chain.get_transaction_
// by_hash(hash) already knows it").
type ChainReader interface {
	HasTransaction(hash types.Hash) bool
}

type entry struct {
	tx       *types.Transaction
	addedAt  time.Time
}

// senderQueue holds a sender's pending transactions ordered by nonce.
type senderQueue struct {
	byNonce map[uint64]*entry
}

func newSenderQueue() *senderQueue { return &senderQueue{byNonce: make(map[uint64]*entry)} }

// TxPool is the mempool: per-sender nonce-ordered queues plus a global
// lookup, admitting and evicting transactions per §4.7.
type TxPool struct {
	cfg   Config
	state StateReader

	mu      sync.RWMutex
	bySender map[types.Address]*senderQueue
	byHash   map[types.Hash]*entry
}

func New(cfg Config, state StateReader) *TxPool {
	return &TxPool{
		cfg:      cfg,
		state:    state,
		bySender: make(map[types.Address]*senderQueue),
		byHash:   make(map[types.Hash]*entry),
	}
}

// Add admits a transaction into the pool, applying the PoolFull/
// DuplicateTransaction checks and replace-by-fee at an occupied nonce slot,
// in the order §4.7's add(tx) specifies (steps 1-5).
func (p *TxPool) Add(tx *types.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.byHash) >= p.cfg.MaxSize {
		return ErrPoolFull
	}

	hash := tx.Hash()
	if _, ok := p.byHash[hash]; ok {
		return ErrDuplicateTransaction
	}

	if err := p.validate(tx); err != nil {
		return err
	}

	stateNonce := p.state.GetNonce(tx.Sender)
	if tx.Nonce < stateNonce {
		return ErrNonceTooLow
	}

	sq, ok := p.bySender[tx.Sender]
	if !ok {
		sq = newSenderQueue()
		p.bySender[tx.Sender] = sq
	}

	if existing, occupied := sq.byNonce[tx.Nonce]; occupied {
		if !replacesFee(existing.tx, tx) {
			return ErrReplacementFeeTooLow
		}
		delete(p.byHash, existing.tx.Hash())
		e := &entry{tx: tx, addedAt: time.Now()}
		sq.byNonce[tx.Nonce] = e
		p.byHash[hash] = e
		return nil
	}

	e := &entry{tx: tx, addedAt: time.Now()}
	sq.byNonce[tx.Nonce] = e
	p.byHash[hash] = e
	return nil
}

// replacesFee reports whether candidate beats incumbent by at least
// ReplacementBumpPercent on effective gas price.
func replacesFee(incumbent, candidate *types.Transaction) bool {
	old := incumbent.EffectiveGasPrice()
	next := candidate.EffectiveGasPrice()
	if old == nil || old.Sign() == 0 {
		return next != nil && next.Sign() > 0
	}
	threshold := new(big.Int).Mul(old, big.NewInt(100+ReplacementBumpPercent))
	threshold.Div(threshold, big.NewInt(100))
	return next != nil && next.Cmp(threshold) >= 0
}

func (p *TxPool) validate(tx *types.Transaction) error {
	if tx.Value != nil && tx.Value.Sign() < 0 {
		return ErrNegativeValue
	}
	if tx.Gas > p.cfg.BlockGasLimit {
		return ErrGasLimitExceeded
	}
	if tx.Gas < vm.IntrinsicGas(tx.Data) {
		return ErrIntrinsicGas
	}
	price := tx.EffectiveGasPrice()
	if p.cfg.MinGasPrice != nil && price.Cmp(p.cfg.MinGasPrice) < 0 {
		return ErrUnderpriced
	}
	cost := new(big.Int).Mul(price, new(big.Int).SetUint64(tx.Gas))
	cost.Add(cost, tx.Value)
	if p.state.GetBalance(tx.Sender).Cmp(cost) < 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// Remove drops a transaction from the pool (e.g. after block inclusion).
func (p *TxPool) Remove(hash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(hash)
}

func (p *TxPool) removeLocked(hash types.Hash) {
	e, ok := p.byHash[hash]
	if !ok {
		return
	}
	delete(p.byHash, hash)
	if sq, ok := p.bySender[e.tx.Sender]; ok {
		delete(sq.byNonce, e.tx.Nonce)
		if len(sq.byNonce) == 0 {
			delete(p.bySender, e.tx.Sender)
		}
	}
}

// Get retrieves a transaction by hash.
func (p *TxPool) Get(hash types.Hash) *types.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.byHash[hash]
	if !ok {
		return nil
	}
	return e.tx
}

// Count returns the total number of transactions held.
func (p *TxPool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byHash)
}

// Package selects up to MaxTxPackageCount transactions for block assembly:
// each sender's queue contributes its transactions in ascending nonce order
// starting at the sender's current state nonce, and the resulting candidate
// set is ordered by descending effective price, tie-broken by earlier
// admission time (§4.7, §4.9). Before returning a candidate, it is dropped
// (and removed from the pool's indices in one batch) if it has expired past
// the configured TTL or chain already knows its hash — e.g. a transaction
// re-added to the pool after a reorg but already included some other way.
func (p *TxPool) Package(chain ChainReader) []*types.Transaction {
	p.mu.RLock()
	var candidates []*entry
	for addr, sq := range p.bySender {
		expected := p.state.GetNonce(addr)
		for {
			e, ok := sq.byNonce[expected]
			if !ok {
				break
			}
			candidates = append(candidates, e)
			expected++
		}
	}
	p.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		pi := candidates[i].tx.EffectiveGasPrice()
		pj := candidates[j].tx.EffectiveGasPrice()
		cmp := pi.Cmp(pj)
		if cmp != 0 {
			return cmp > 0
		}
		return candidates[i].addedAt.Before(candidates[j].addedAt)
	})

	// Chain lookups run with no pool locks held (§5): a slow chain read must
	// not stall concurrent Add/Remove callers.
	cutoff := time.Now().Add(-p.cfg.TTL)
	var dropped []types.Hash
	out := make([]*types.Transaction, 0, len(candidates))
	for _, e := range candidates {
		expired := e.addedAt.Before(cutoff)
		knownToChain := chain != nil && chain.HasTransaction(e.tx.Hash())
		if expired || knownToChain {
			dropped = append(dropped, e.tx.Hash())
			continue
		}
		out = append(out, e.tx)
	}

	if len(dropped) > 0 {
		p.mu.Lock()
		for _, h := range dropped {
			p.removeLocked(h)
		}
		p.mu.Unlock()
	}

	if len(out) > MaxTxPackageCount {
		log.Warn("package candidate set truncated", "total", len(out), "limit", MaxTxPackageCount)
		out = out[:MaxTxPackageCount]
	}
	return out
}

// Stats summarizes the pool's occupancy for node-health reporting.
type Stats struct {
	Pending int
	Senders int
}

func (p *TxPool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{Pending: len(p.byHash), Senders: len(p.bySender)}
}

// SweepExpired removes transactions that have sat in the pool longer than
// the configured TTL, per §4.7's expiration rule.
func (p *TxPool) SweepExpired() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-p.cfg.TTL)
	var expired []types.Hash
	for hash, e := range p.byHash {
		if e.addedAt.Before(cutoff) {
			expired = append(expired, hash)
		}
	}
	for _, h := range expired {
		p.removeLocked(h)
	}
	return len(expired)
}

// Reset drops pool entries whose nonce has fallen below the sender's
// current state nonce, called after a block commits (§4.7).
func (p *TxPool) Reset(state StateReader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state

	for addr, sq := range p.bySender {
		stateNonce := state.GetNonce(addr)
		for nonce, e := range sq.byNonce {
			if nonce < stateNonce {
				delete(sq.byNonce, nonce)
				delete(p.byHash, e.tx.Hash())
			}
		}
		if len(sq.byNonce) == 0 {
			delete(p.bySender, addr)
		}
	}
}
