package statecache

import "github.com/povfchain/node/internal/types"

func codeCacheKey(codeHash types.Hash) []byte {
	return append([]byte("code:"), codeHash[:]...)
}

// GetState reads a storage slot synchronously, falling back to the bridge
// worker on a hot-map miss.
func (c *Cache) GetState(addr types.Address, key []byte) ([]byte, bool) {
	c.mu.RLock()
	if slots, ok := c.storage[addr]; ok {
		if v, ok := slots[string(key)]; ok {
			c.mu.RUnlock()
			return v, true
		}
	}
	c.mu.RUnlock()

	var v []byte
	var ok bool
	c.runOnWorker(func() {
		v, ok = c.backing.GetStorage(addr, key)
	})
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	if c.storage[addr] == nil {
		c.storage[addr] = make(map[string][]byte)
	}
	c.storage[addr][string(key)] = v
	c.mu.Unlock()
	return v, true
}

// SetState writes a slot into the hot map; dirty and flushed later.
func (c *Cache) SetState(addr types.Address, key, value []byte) {
	c.mu.Lock()
	if c.storage[addr] == nil {
		c.storage[addr] = make(map[string][]byte)
	}
	c.storage[addr][string(key)] = append([]byte{}, value...)
	if c.dirtySlots[addr] == nil {
		c.dirtySlots[addr] = make(map[string]bool)
	}
	c.dirtySlots[addr][string(key)] = true
	c.mu.Unlock()
}

// DeleteState removes a slot entirely from the hot map (flushed as a
// deletion).
func (c *Cache) DeleteState(addr types.Address, key []byte) {
	c.mu.Lock()
	if slots, ok := c.storage[addr]; ok {
		delete(slots, string(key))
	}
	if c.dirtySlots[addr] == nil {
		c.dirtySlots[addr] = make(map[string]bool)
	}
	c.dirtySlots[addr][string(key)] = true
	c.mu.Unlock()
}

// GetCode serves bytecode from the fastcache hot set (code is immutable, so
// a hot entry never goes stale), then the pending-write map, then the
// backing manager via the bridge worker.
func (c *Cache) GetCode(codeHash types.Hash) []byte {
	if blob := c.hot.Get(nil, codeCacheKey(codeHash)); len(blob) > 0 {
		return blob
	}
	c.mu.RLock()
	if code, ok := c.code[codeHash]; ok {
		c.mu.RUnlock()
		return code
	}
	c.mu.RUnlock()

	var code []byte
	c.runOnWorker(func() {
		code = c.backing.GetCode(codeHash)
	})
	if len(code) > 0 {
		c.hot.Set(codeCacheKey(codeHash), code)
	}
	c.mu.Lock()
	c.code[codeHash] = code
	c.mu.Unlock()
	return code
}

func (c *Cache) SetCode(codeHash types.Hash, code []byte) {
	c.hot.Set(codeCacheKey(codeHash), code)
	c.mu.Lock()
	c.code[codeHash] = code
	c.mu.Unlock()
}

// Flush pushes every dirty account/storage/code entry through the bridge
// worker to the async backing manager. Block assembly calls it after
// executing a block's transactions and before computing the state root.
func (c *Cache) Flush() error {
	c.mu.Lock()
	dirtyA := make(map[types.Address]*types.Account, c.dirtyAccts.Cardinality())
	for a := range c.dirtyAccts.Iter() {
		dirtyA[a] = c.accounts[a]
	}
	c.dirtyAccts.Clear()

	dirtyS := make(map[types.Address]map[string][]byte, len(c.dirtySlots))
	for a, keys := range c.dirtySlots {
		inner := make(map[string][]byte)
		for k := range keys {
			if v, present := c.storage[a][k]; present {
				inner[k] = v
			} else {
				inner[k] = nil // tombstone: deleted
			}
		}
		dirtyS[a] = inner
	}
	c.dirtySlots = make(map[types.Address]map[string]bool)
	pendingCode := c.code
	c.mu.Unlock()

	var flushErr error
	c.runOnWorker(func() {
		for addr, acc := range dirtyA {
			if acc.Deleted {
				if err := c.backing.DeleteAccount(addr); err != nil {
					flushErr = err
					return
				}
				continue
			}
			if err := c.backing.SetAccount(addr, acc); err != nil {
				flushErr = err
				return
			}
		}
		for addr, slots := range dirtyS {
			for k, v := range slots {
				if v == nil {
					if err := c.backing.DeleteStorage(addr, []byte(k)); err != nil {
						flushErr = err
						return
					}
					continue
				}
				if err := c.backing.SetStorage(addr, []byte(k), v); err != nil {
					flushErr = err
					return
				}
			}
		}
		for hash, code := range pendingCode {
			if err := c.backing.SetCode(hash, code); err != nil {
				flushErr = err
				return
			}
		}
	})
	return flushErr
}

// CacheSnapshot is a hot-map checkpoint the EVM uses for call-frame
// rollback (REVERT), distinct from the durable state.Manager snapshot used
// across blocks.
type CacheSnapshot struct {
	accounts map[types.Address]*types.Account
	storage  map[types.Address]map[string][]byte
}

// Snapshot captures the current hot-map contents.
func (c *Cache) Snapshot() *CacheSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := &CacheSnapshot{
		accounts: make(map[types.Address]*types.Account, len(c.accounts)),
		storage:  make(map[types.Address]map[string][]byte, len(c.storage)),
	}
	for a, v := range c.accounts {
		snap.accounts[a] = v.Copy()
	}
	for a, slots := range c.storage {
		inner := make(map[string][]byte, len(slots))
		for k, v := range slots {
			inner[k] = append([]byte(nil), v...)
		}
		snap.storage[a] = inner
	}
	return snap
}

// RevertToSnapshot restores the hot map from a previously captured
// CacheSnapshot, discarding any writes made since.
func (c *Cache) RevertToSnapshot(snap *CacheSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts = snap.accounts
	c.storage = snap.storage
}
