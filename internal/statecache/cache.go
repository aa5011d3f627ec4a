// Package statecache implements the synchronous read-through/write-back
// bridge described in §4.3/§9: the EVM operates on a single-threaded
// synchronous view while the account manager is async. In-memory hot maps
// serve account and storage reads directly, and a fastcache set holds
// immutable code blobs; misses are dispatched to a dedicated
// worker goroutine (never block-on from within the caller's own runtime,
// per §9's anti-deadlock note) that talks to the async state.Manager.
package statecache

import (
	"math/big"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/povfchain/node/internal/types"
)

// Manager is the minimal surface the cache needs from the account-state
// layer; satisfied by *state.Manager.
type Manager interface {
	GetAccount(addr types.Address) *types.Account
	SetAccount(addr types.Address, acc *types.Account) error
	DeleteAccount(addr types.Address) error
	GetStorage(addr types.Address, key []byte) ([]byte, bool)
	SetStorage(addr types.Address, key, value []byte) error
	DeleteStorage(addr types.Address, key []byte) error
	GetCode(codeHash types.Hash) []byte
	SetCode(codeHash types.Hash, code []byte) error
	Snapshot() (uint64, error)
	Restore(id uint64) error
}

// request/response types for the dedicated bridge worker.
type job struct {
	fn   func()
	done chan struct{}
}

// Cache is the synchronous Database contract the EVM executes against.
type Cache struct {
	backing Manager
	hot     *fastcache.Cache

	mu         sync.RWMutex
	accounts   map[types.Address]*types.Account
	dirtyAccts mapset.Set[types.Address]
	storage    map[types.Address]map[string][]byte
	dirtySlots map[types.Address]map[string]bool
	code       map[types.Hash][]byte

	jobs chan job
	done chan struct{}
}

// New constructs a Cache with a fastcache-backed hot set of approximately
// hotBytes capacity, and starts the dedicated bridge worker goroutine.
func New(backing Manager, hotBytes int) *Cache {
	c := &Cache{
		backing:    backing,
		hot:        fastcache.New(hotBytes),
		accounts:   make(map[types.Address]*types.Account),
		dirtyAccts: mapset.NewThreadUnsafeSet[types.Address](),
		storage:    make(map[types.Address]map[string][]byte),
		dirtySlots: make(map[types.Address]map[string]bool),
		code:       make(map[types.Hash][]byte),
		jobs:       make(chan job, 256),
		done:       make(chan struct{}),
	}
	go c.worker()
	return c
}

// worker is the single goroutine permitted to call into the async backing
// manager; it owns a dedicated stack so the bridge never nests a blocking
// call inside whatever runtime invoked the EVM (§9).
func (c *Cache) worker() {
	defer close(c.done)
	for j := range c.jobs {
		j.fn()
		close(j.done)
	}
}

// runOnWorker dispatches fn to the bridge goroutine and blocks until done.
// Safe to call from any goroutine except the worker itself.
func (c *Cache) runOnWorker(fn func()) {
	j := job{fn: fn, done: make(chan struct{})}
	c.jobs <- j
	<-j.done
}

// Close stops the bridge worker.
func (c *Cache) Close() {
	close(c.jobs)
	<-c.done
}

// GetAccount serves from the hot map first, then falls back to the async
// manager via the bridge worker.
func (c *Cache) GetAccount(addr types.Address) *types.Account {
	c.mu.RLock()
	if a, ok := c.accounts[addr]; ok {
		c.mu.RUnlock()
		return a.Copy()
	}
	c.mu.RUnlock()

	var acc *types.Account
	c.runOnWorker(func() {
		acc = c.backing.GetAccount(addr)
	})
	if acc == nil {
		acc = types.NewAccount()
	}

	c.mu.Lock()
	c.accounts[addr] = acc.Copy()
	c.mu.Unlock()
	return acc.Copy()
}

// SetAccount marks the entry dirty in the hot map; flushing to the backing
// manager happens only on an explicit Flush(), never inline, to keep the
// synchronous EVM path non-blocking.
func (c *Cache) SetAccount(addr types.Address, acc *types.Account) {
	c.mu.Lock()
	c.accounts[addr] = acc.Copy()
	c.dirtyAccts.Add(addr)
	c.mu.Unlock()
}

func (c *Cache) DeleteAccount(addr types.Address) {
	acc := c.GetAccount(addr)
	acc.Deleted = true
	c.SetAccount(addr, acc)
}

func (c *Cache) GetBalance(addr types.Address) *big.Int {
	return new(big.Int).Set(c.GetAccount(addr).Balance)
}

func (c *Cache) GetNonce(addr types.Address) uint64 {
	return c.GetAccount(addr).Nonce
}

func (c *Cache) SetNonce(addr types.Address, nonce uint64) {
	acc := c.GetAccount(addr)
	acc.Nonce = nonce
	c.SetAccount(addr, acc)
}
