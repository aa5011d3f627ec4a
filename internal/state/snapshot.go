package state

import "github.com/povfchain/node/internal/types"

// Snapshot creates a full, independently-addressable copy of the live
// accounts and storage maps plus the current state root, returning a
// monotonically increasing id.
func (m *Manager) Snapshot() (uint64, error) {
	root, err := m.ComputeStateRoot()
	if err != nil {
		return 0, err
	}

	m.accountsMu.RLock()
	accCopy := make(map[types.Address]*types.Account, len(m.accounts))
	for a, v := range m.accounts {
		accCopy[a] = v.Copy()
	}
	m.accountsMu.RUnlock()

	m.storageMu.RLock()
	storCopy := make(map[types.Address]map[string][]byte, len(m.storage))
	for a, slots := range m.storage {
		inner := make(map[string][]byte, len(slots))
		for k, v := range slots {
			inner[k] = append([]byte(nil), v...)
		}
		storCopy[a] = inner
	}
	m.storageMu.RUnlock()

	m.snapMu.Lock()
	id := m.nextSnap
	m.nextSnap++
	m.snapshots[id] = &snapshot{accounts: accCopy, storage: storCopy, stateRoot: root}
	m.snapMu.Unlock()
	return id, nil
}

// Restore atomically replaces the live maps with a previously taken
// snapshot's contents.
func (m *Manager) Restore(id uint64) error {
	m.snapMu.Lock()
	snap, ok := m.snapshots[id]
	m.snapMu.Unlock()
	if !ok {
		return ErrSnapshotNotFound
	}

	m.accountsMu.Lock()
	m.accounts = make(map[types.Address]*types.Account, len(snap.accounts))
	for a, v := range snap.accounts {
		m.accounts[a] = v.Copy()
	}
	m.dirty = make(map[types.Address]bool)
	m.accountsMu.Unlock()

	m.storageMu.Lock()
	m.storage = make(map[types.Address]map[string][]byte, len(snap.storage))
	for a, slots := range snap.storage {
		inner := make(map[string][]byte, len(slots))
		for k, v := range slots {
			inner[k] = append([]byte(nil), v...)
		}
		m.storage[a] = inner
	}
	m.storageDirty = make(map[types.Address]map[string]bool)
	m.storageMu.Unlock()
	return nil
}

// DiscardSnapshot releases a snapshot's memory.
func (m *Manager) DiscardSnapshot(id uint64) {
	m.snapMu.Lock()
	delete(m.snapshots, id)
	m.snapMu.Unlock()
}
