package state

import (
	"bytes"
	"crypto/sha256"
	"sort"

	"github.com/povfchain/node/internal/trie"
	"github.com/povfchain/node/internal/types"
)

// ComputeStateRoot implements §4.5 steps 1-6: gather live accounts, sort by
// address, compute each account's storage root, encode the account record,
// build the MPT, and return the root node's hash.
func (m *Manager) ComputeStateRoot() (types.Hash, error) {
	addrs := m.liveAddresses()
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })

	entries := make([]trie.Entry, 0, len(addrs))
	for _, addr := range addrs {
		acc := m.GetAccount(addr)
		if acc.Deleted {
			continue
		}
		storageRoot := m.computeStorageRoot(addr)
		acc.StorageRoot = storageRoot
		// Wall-clock timestamps are not part of the hashed record, so the
		// root depends only on account contents, not on when they were written.
		acc.CreatedAt, acc.UpdatedAt = 0, 0

		enc, err := encodeAccount(acc)
		if err != nil {
			return types.Hash{}, err
		}
		entries = append(entries, trie.Entry{Path: trie.PathForAddress(addr), Value: enc})
	}

	db := m.trieDB()
	return trie.BuildRoot(db, m.hashMode, entries)
}

// computeStorageRoot hashes an address's storage as SHA-256 over the
// concatenation of (key||value) pairs in deterministic (sorted-key) order
// (§4.5 step 2).
func (m *Manager) computeStorageRoot(addr types.Address) types.Hash {
	slots := m.AllStorage(addr)
	if len(slots) == 0 {
		return types.Hash{}
	}
	keys := make([]string, 0, len(slots))
	for k := range slots {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write(slots[k])
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// liveAddresses returns every address the manager has ever materialized,
// combining the in-memory set with whatever KV already persisted.
func (m *Manager) liveAddresses() []types.Address {
	seen := make(map[types.Address]struct{})

	m.accountsMu.RLock()
	for a := range m.accounts {
		seen[a] = struct{}{}
	}
	m.accountsMu.RUnlock()

	if kvs, err := m.kv.IterPrefix([]byte("account_")); err == nil {
		for _, e := range kvs {
			var a types.Address
			copy(a[:], e.Key[len("account_"):])
			seen[a] = struct{}{}
		}
	}

	out := make([]types.Address, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	return out
}

func (m *Manager) trieDB() trie.TrieDB {
	return trie.NewKVTrieDB(
		func(key []byte) ([]byte, error) { return m.kv.Get(key) },
		func(key, value []byte) error { return m.kv.Put(key, value) },
		func(kvs map[string][]byte) error {
			batch := m.kv.NewBatch()
			for k, v := range kvs {
				batch.Put([]byte(k), v)
			}
			return m.kv.Write(batch)
		},
	)
}
