package state

import "github.com/povfchain/node/internal/types"

// GetStorage reads a single storage slot. An absent key and an explicitly
// empty value are distinguishable: absence returns (nil, false).
func (m *Manager) GetStorage(addr types.Address, key []byte) ([]byte, bool) {
	m.storageMu.RLock()
	if slots, ok := m.storage[addr]; ok {
		if v, ok := slots[string(key)]; ok {
			m.storageMu.RUnlock()
			return v, true
		}
	}
	m.storageMu.RUnlock()

	if raw, err := m.kv.Get(storageKeyFor(addr, key)); err == nil {
		m.storageMu.Lock()
		if m.storage[addr] == nil {
			m.storage[addr] = make(map[string][]byte)
		}
		m.storage[addr][string(key)] = raw
		m.storageMu.Unlock()
		return raw, true
	}
	return nil, false
}

// SetStorage writes a slot, persisting in-memory first and optionally to
// KV. Lock order is accounts-before-storage (§5); this method only touches
// storage so no accounts lock is taken.
func (m *Manager) SetStorage(addr types.Address, key, value []byte) error {
	m.storageMu.Lock()
	if m.storage[addr] == nil {
		m.storage[addr] = make(map[string][]byte)
	}
	m.storage[addr][string(key)] = append([]byte{}, value...)
	if m.storageDirty[addr] == nil {
		m.storageDirty[addr] = make(map[string]bool)
	}
	m.storageDirty[addr][string(key)] = true
	m.storageMu.Unlock()

	if m.wal != nil {
		if err := m.appendStorageRecord(addr, key, value, false); err != nil {
			return err
		}
	}
	if m.cfg.WriteThrough {
		return m.kv.Put(storageKeyFor(addr, key), value)
	}
	return nil
}

// DeleteStorage removes a slot entirely, rather than storing an empty
// value (§3).
func (m *Manager) DeleteStorage(addr types.Address, key []byte) error {
	m.storageMu.Lock()
	if slots, ok := m.storage[addr]; ok {
		delete(slots, string(key))
	}
	if dirty, ok := m.storageDirty[addr]; ok {
		delete(dirty, string(key))
	}
	m.storageMu.Unlock()

	if m.wal != nil {
		if err := m.appendStorageRecord(addr, key, nil, true); err != nil {
			return err
		}
	}
	if m.cfg.WriteThrough {
		return m.kv.Delete(storageKeyFor(addr, key))
	}
	return nil
}

func storageKeyFor(addr types.Address, key []byte) []byte {
	out := append([]byte("storage_"), addr[:]...)
	return append(out, key...)
}

// AllStorage returns every (key, value) pair for addr, combining the
// in-memory index with any KV-only entries. Used by state-root computation.
func (m *Manager) AllStorage(addr types.Address) map[string][]byte {
	out := make(map[string][]byte)
	prefix := append([]byte("storage_"), addr[:]...)
	if kvs, err := m.kv.IterPrefix(prefix); err == nil {
		for _, e := range kvs {
			out[string(e.Key[len(prefix):])] = e.Value
		}
	}
	m.storageMu.RLock()
	for k, v := range m.storage[addr] {
		out[k] = v
	}
	for k := range m.storageDirty[addr] {
		if _, stillPresent := m.storage[addr][k]; !stillPresent {
			delete(out, k)
		}
	}
	m.storageMu.RUnlock()
	return out
}
