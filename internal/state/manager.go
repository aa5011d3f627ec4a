// Package state implements the persistent, async-write account and
// contract-storage layer (§4.3): accounts, per-address storage, immutable
// content-addressed code, snapshotting, and state-root delegation to the
// trie package.
package state

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/povfchain/node/internal/kv"
	"github.com/povfchain/node/internal/logging"
	"github.com/povfchain/node/internal/trie"
	"github.com/povfchain/node/internal/types"
	"github.com/povfchain/node/internal/wal"
)

var log = logging.Module("state")

var (
	ErrInsufficientBalance  = errors.New("state: insufficient balance")
	ErrContractSizeExceeded = errors.New("state: contract code exceeds max size")
	ErrSnapshotNotFound     = errors.New("state: snapshot not found")
)

// MaxContractSize is EIP-170's default limit (§3, §6).
const MaxContractSize = 24576

// Config controls the persistence and caching strategy.
type Config struct {
	WriteThrough  bool
	AsyncWrite    bool
	FlushInterval time.Duration
	CacheSize     int
}

// DefaultConfig matches the defaults implied by §6.
func DefaultConfig() Config {
	return Config{WriteThrough: true, AsyncWrite: false, FlushInterval: 5 * time.Second, CacheSize: 100_000}
}

// Manager is the account/storage/code layer over KV + WAL.
type Manager struct {
	cfg Config
	kv  *kv.Store
	wal *wal.WAL

	accountsMu sync.RWMutex // accounts-before-storage lock order (§5)
	accounts   map[types.Address]*types.Account
	dirty      map[types.Address]bool

	storageMu sync.RWMutex
	storage   map[types.Address]map[string][]byte
	storageDirty map[types.Address]map[string]bool

	code map[types.Hash][]byte // content-addressed, immutable once written

	snapshots map[uint64]*snapshot
	nextSnap  uint64
	snapMu    sync.Mutex

	hashMode trie.HashMode

	stopFlush chan struct{}
	flushDone chan struct{}
}

type snapshot struct {
	accounts map[types.Address]*types.Account
	storage  map[types.Address]map[string][]byte
	stateRoot types.Hash
}

// New constructs a Manager. hashMode selects the state-root hash function
// (§4.5/§9): production mode must use Keccak; test mode may use SHA-256 for
// speed. The mode is fixed at construction, never per-call.
func New(cfg Config, store *kv.Store, log_ *wal.WAL, hashMode trie.HashMode) *Manager {
	m := &Manager{
		cfg:          cfg,
		kv:           store,
		wal:          log_,
		accounts:     make(map[types.Address]*types.Account),
		dirty:        make(map[types.Address]bool),
		storage:      make(map[types.Address]map[string][]byte),
		storageDirty: make(map[types.Address]map[string]bool),
		code:         make(map[types.Hash][]byte),
		snapshots:    make(map[uint64]*snapshot),
		hashMode:     hashMode,
		stopFlush:    make(chan struct{}),
		flushDone:    make(chan struct{}),
	}
	if cfg.AsyncWrite {
		go m.flushLoop()
	}
	return m
}

// GetAccount materializes the default zero-state account on first read.
func (m *Manager) GetAccount(addr types.Address) *types.Account {
	m.accountsMu.RLock()
	a, ok := m.accounts[addr]
	m.accountsMu.RUnlock()
	if ok {
		return a.Copy()
	}

	// Miss: consult KV before materializing a zero account.
	if raw, err := m.kv.Get(kv.AccountKey(addr)); err == nil {
		acc, decErr := decodeAccount(raw)
		if decErr == nil {
			m.accountsMu.Lock()
			m.accounts[addr] = acc
			m.accountsMu.Unlock()
			return acc.Copy()
		}
	}
	return types.NewAccount()
}

// SetAccount stores a (possibly new) account, marking it dirty. It is only
// persisted to KV at this call if WriteThrough is set; otherwise the
// periodic flush loop or an explicit Flush() call does it.
func (m *Manager) SetAccount(addr types.Address, acc *types.Account) error {
	now := time.Now().Unix()
	m.accountsMu.Lock()
	if acc.CreatedAt == 0 {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now
	m.accounts[addr] = acc.Copy()
	m.dirty[addr] = true
	m.accountsMu.Unlock()

	if m.wal != nil {
		if err := m.appendAccountRecord(wal.KindUpdateAccount, addr, acc); err != nil {
			return err
		}
	}
	if m.cfg.WriteThrough {
		return m.persistAccount(addr, acc)
	}
	return nil
}

// DeleteAccount sets the tombstone flag and purges storage.
func (m *Manager) DeleteAccount(addr types.Address) error {
	m.accountsMu.Lock()
	acc, ok := m.accounts[addr]
	if !ok {
		acc = types.NewAccount()
	}
	acc.Deleted = true
	m.accounts[addr] = acc
	m.dirty[addr] = true
	m.accountsMu.Unlock()

	m.storageMu.Lock()
	delete(m.storage, addr)
	delete(m.storageDirty, addr)
	m.storageMu.Unlock()

	if m.wal != nil {
		if err := m.appendAccountRecord(wal.KindDeleteAccount, addr, acc); err != nil {
			return err
		}
	}
	if m.cfg.WriteThrough {
		if err := m.kv.Delete(kv.AccountKey(addr)); err != nil {
			return err
		}
		storedKeys, err := m.kv.IterPrefix(kv.StoragePrefix(addr))
		if err != nil {
			return err
		}
		batch := m.kv.NewBatch()
		for _, e := range storedKeys {
			batch.Delete(e.Key)
		}
		return m.kv.Write(batch)
	}
	return nil
}

// GetBalance returns the account's current balance (0 for unknown
// accounts, never an error — §7).
func (m *Manager) GetBalance(addr types.Address) *big.Int {
	return new(big.Int).Set(m.GetAccount(addr).Balance)
}

// AddBalance credits value to addr.
func (m *Manager) AddBalance(addr types.Address, value *big.Int) error {
	acc := m.GetAccount(addr)
	acc.Balance = new(big.Int).Add(acc.Balance, value)
	return m.SetAccount(addr, acc)
}

// SubtractBalance debits value from addr, failing before mutation if the
// balance would go negative.
func (m *Manager) SubtractBalance(addr types.Address, value *big.Int) error {
	acc := m.GetAccount(addr)
	if acc.Balance.Cmp(value) < 0 {
		return ErrInsufficientBalance
	}
	acc.Balance = new(big.Int).Sub(acc.Balance, value)
	return m.SetAccount(addr, acc)
}

func (m *Manager) GetNonce(addr types.Address) uint64 {
	return m.GetAccount(addr).Nonce
}

// IncrementNonce is atomic with respect to concurrent readers of addr: the
// writer lock is held across the whole read-modify-write (§4.3).
func (m *Manager) IncrementNonce(addr types.Address) error {
	m.accountsMu.Lock()
	acc, ok := m.accounts[addr]
	if !ok {
		acc = types.NewAccount()
	} else {
		acc = acc.Copy()
	}
	acc.Nonce++
	now := time.Now().Unix()
	if acc.CreatedAt == 0 {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now
	m.accounts[addr] = acc.Copy()
	m.dirty[addr] = true
	m.accountsMu.Unlock()

	if m.wal != nil {
		if err := m.appendAccountRecord(wal.KindUpdateAccount, addr, acc); err != nil {
			return err
		}
	}
	if m.cfg.WriteThrough {
		return m.persistAccount(addr, acc)
	}
	return nil
}

// GetCode returns the bytecode stored under codeHash, or nil if none is
// stored (or the hash is zero or the empty-code hash).
func (m *Manager) GetCode(codeHash types.Hash) []byte {
	if codeHash == (types.Hash{}) || codeHash == types.EmptyCodeHash {
		return nil
	}
	if c, ok := m.code[codeHash]; ok {
		return c
	}
	if raw, err := m.kv.Get(append([]byte("code_"), codeHash[:]...)); err == nil {
		m.code[codeHash] = raw
		return raw
	}
	return nil
}

// SetCode stores bytecode content-addressed by its hash. Code is immutable
// once written (§3, §9): re-setting the same hash is a no-op.
func (m *Manager) SetCode(codeHash types.Hash, code []byte) error {
	if len(code) > MaxContractSize {
		return ErrContractSizeExceeded
	}
	if _, ok := m.code[codeHash]; ok {
		return nil
	}
	m.code[codeHash] = code
	return m.kv.Put(append([]byte("code_"), codeHash[:]...), code)
}
