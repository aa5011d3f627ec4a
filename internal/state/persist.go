package state

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/povfchain/node/internal/kv"
	"github.com/povfchain/node/internal/types"
	"github.com/povfchain/node/internal/wal"
)

// accountRLP is the on-disk account encoding.
type accountRLP struct {
	Balance     []byte
	Nonce       uint64
	CodeHash    types.Hash
	StorageRoot types.Hash
	Kind        uint8
	CreatedAt   uint64 // rlp has no signed integers
	UpdatedAt   uint64
	Deleted     bool
}

func encodeAccount(a *types.Account) ([]byte, error) {
	return rlp.EncodeToBytes(&accountRLP{
		Balance:     a.Balance.Bytes(),
		Nonce:       a.Nonce,
		CodeHash:    a.CodeHash,
		StorageRoot: a.StorageRoot,
		Kind:        uint8(a.Kind),
		CreatedAt:   uint64(a.CreatedAt),
		UpdatedAt:   uint64(a.UpdatedAt),
		Deleted:     a.Deleted,
	})
}

func decodeAccount(raw []byte) (*types.Account, error) {
	var r accountRLP
	if err := rlp.DecodeBytes(raw, &r); err != nil {
		return nil, err
	}
	return &types.Account{
		Balance:     new(big.Int).SetBytes(r.Balance),
		Nonce:       r.Nonce,
		CodeHash:    r.CodeHash,
		StorageRoot: r.StorageRoot,
		Kind:        types.AccountKind(r.Kind),
		CreatedAt:   int64(r.CreatedAt),
		UpdatedAt:   int64(r.UpdatedAt),
		Deleted:     r.Deleted,
	}, nil
}

func (m *Manager) persistAccount(addr types.Address, acc *types.Account) error {
	enc, err := encodeAccount(acc)
	if err != nil {
		return err
	}
	return m.kv.Put(kv.AccountKey(addr), enc)
}

func (m *Manager) appendAccountRecord(kind wal.RecordKind, addr types.Address, acc *types.Account) error {
	payload, err := rlp.EncodeToBytes(&wal.AccountPayload{
		Address:     addr,
		Balance:     acc.Balance.Bytes(),
		Nonce:       acc.Nonce,
		CodeHash:    acc.CodeHash,
		StorageRoot: acc.StorageRoot,
		Kind:        uint8(acc.Kind),
	})
	if err != nil {
		return err
	}
	_, err = m.wal.Append(kind, payload)
	return err
}

func (m *Manager) appendStorageRecord(addr types.Address, key, value []byte, isDelete bool) error {
	payload, err := rlp.EncodeToBytes(&wal.StoragePayload{Address: addr, Key: key, Value: value})
	if err != nil {
		return err
	}
	kind := wal.KindWriteStorage
	if isDelete {
		kind = wal.KindDeleteStorage
	}
	_, err = m.wal.Append(kind, payload)
	return err
}

// Flush persists every dirty account/storage entry to KV, regardless of
// WriteThrough. Called explicitly or by the async flush loop.
func (m *Manager) Flush() error {
	m.accountsMu.Lock()
	dirtyAddrs := make([]types.Address, 0, len(m.dirty))
	for a := range m.dirty {
		dirtyAddrs = append(dirtyAddrs, a)
	}
	accountsSnapshot := make(map[types.Address]*types.Account, len(dirtyAddrs))
	for _, a := range dirtyAddrs {
		accountsSnapshot[a] = m.accounts[a]
	}
	m.dirty = make(map[types.Address]bool)
	m.accountsMu.Unlock()

	batch := m.kv.NewBatch()
	for addr, acc := range accountsSnapshot {
		if acc.Deleted {
			batch.Delete(kv.AccountKey(addr))
			continue
		}
		enc, err := encodeAccount(acc)
		if err != nil {
			return err
		}
		batch.Put(kv.AccountKey(addr), enc)
	}

	m.storageMu.Lock()
	for addr, dirtyKeys := range m.storageDirty {
		for k := range dirtyKeys {
			if v, present := m.storage[addr][k]; present {
				batch.Put(storageKeyFor(addr, []byte(k)), v)
			} else {
				batch.Delete(storageKeyFor(addr, []byte(k)))
			}
		}
	}
	m.storageDirty = make(map[types.Address]map[string]bool)
	m.storageMu.Unlock()

	return m.kv.Write(batch)
}

func (m *Manager) flushLoop() {
	defer close(m.flushDone)
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.Flush(); err != nil {
				log.Error("state: async flush failed", "err", err)
			}
		case <-m.stopFlush:
			return
		}
	}
}

// Close stops the background flush loop (if running) and performs a final
// flush.
func (m *Manager) Close() error {
	if m.cfg.AsyncWrite {
		close(m.stopFlush)
		<-m.flushDone
	}
	return m.Flush()
}
