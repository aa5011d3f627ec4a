package trie

import "github.com/povfchain/node/internal/types"

// TrieDB is the byte-store the trie is built on. §9 requires the trie to
// know nothing about accounts: it only gets/puts opaque node blobs keyed by
// their hash, and reads/writes a single root-hash pointer.
type TrieDB interface {
	GetNode(hash types.Hash) ([]byte, error)
	PutNode(hash types.Hash, data []byte) error
	BatchPutNodes(nodes map[types.Hash][]byte) error
	ReadRootHash() (types.Hash, bool, error)
	WriteRootHash(types.Hash) error
}

// kvTrieDB adapts the kv.Store (or any compatible store) to TrieDB without
// this package importing kv directly at the type-signature level, keeping
// the dependency edge (trie -> store interface) one-directional.
type kvTrieDB struct {
	get      func(key []byte) ([]byte, error)
	put      func(key, value []byte) error
	putBatch func(kvs map[string][]byte) error
}

func (d *kvTrieDB) nodeKey(hash types.Hash) []byte {
	return append([]byte("trie_node:"), hash[:]...)
}

func (d *kvTrieDB) GetNode(hash types.Hash) ([]byte, error) {
	return d.get(d.nodeKey(hash))
}

func (d *kvTrieDB) PutNode(hash types.Hash, data []byte) error {
	return d.put(d.nodeKey(hash), data)
}

func (d *kvTrieDB) BatchPutNodes(nodes map[types.Hash][]byte) error {
	kvs := make(map[string][]byte, len(nodes))
	for h, data := range nodes {
		kvs[string(d.nodeKey(h))] = data
	}
	return d.putBatch(kvs)
}

func (d *kvTrieDB) ReadRootHash() (types.Hash, bool, error) {
	raw, err := d.get([]byte("trie_root_hash"))
	if err != nil {
		return types.Hash{}, false, nil
	}
	var h types.Hash
	copy(h[:], raw)
	return h, true, nil
}

func (d *kvTrieDB) WriteRootHash(h types.Hash) error {
	return d.put([]byte("trie_root_hash"), h[:])
}

// NewKVTrieDB builds a TrieDB from the three primitive KV operations it
// needs, so the trie package has no import-time dependency on the concrete
// kv.Store type.
func NewKVTrieDB(get func([]byte) ([]byte, error), put func([]byte, []byte) error, putBatch func(map[string][]byte) error) TrieDB {
	return &kvTrieDB{get: get, put: put, putBatch: putBatch}
}

// MemTrieDB is an in-memory TrieDB, used by tests and dry-run root
// computations that should not touch the durable store.
type MemTrieDB struct {
	nodes map[types.Hash][]byte
	root  types.Hash
	has   bool
}

func NewMemTrieDB() *MemTrieDB {
	return &MemTrieDB{nodes: make(map[types.Hash][]byte)}
}

func (m *MemTrieDB) GetNode(hash types.Hash) ([]byte, error) {
	if v, ok := m.nodes[hash]; ok {
		return v, nil
	}
	return nil, errNodeNotFound
}

func (m *MemTrieDB) PutNode(hash types.Hash, data []byte) error {
	m.nodes[hash] = data
	return nil
}

func (m *MemTrieDB) BatchPutNodes(nodes map[types.Hash][]byte) error {
	for h, d := range nodes {
		m.nodes[h] = d
	}
	return nil
}

func (m *MemTrieDB) ReadRootHash() (types.Hash, bool, error) {
	return m.root, m.has, nil
}

func (m *MemTrieDB) WriteRootHash(h types.Hash) error {
	m.root = h
	m.has = true
	return nil
}
