package trie

import "github.com/povfchain/node/internal/types"

// Entry is a single (path, value) pair the trie is built over. Path is a
// nibble sequence (one nibble per byte, values 0-15); Value is opaque.
type Entry struct {
	Path  []byte
	Value []byte
}

// buildCtx accumulates freshly built nodes before they are batched to the
// TrieDB; kept as a plain map during construction since a single
// compute-root call only ever adds nodes (never reads stale ones back).
type buildCtx struct {
	mode  HashMode
	nodes map[types.Hash][]byte
}

func storeNode(n *Node, ctx *buildCtx) (types.Hash, error) {
	enc, err := encodeNode(n)
	if err != nil {
		return types.Hash{}, err
	}
	h := hashNode(ctx.mode, enc)
	ctx.nodes[h] = enc
	return h, nil
}

// BuildRoot computes the MPT root over entries (already address-sorted by
// the caller, per §4.5 step 1) and persists every constructed node plus the
// root pointer to db. Returns the root hash.
func BuildRoot(db TrieDB, mode HashMode, entries []Entry) (types.Hash, error) {
	ctx := &buildCtx{mode: mode, nodes: make(map[types.Hash][]byte)}
	root, err := buildSubtrie(entries, ctx)
	if err != nil {
		return types.Hash{}, err
	}
	if len(ctx.nodes) > 0 {
		if err := db.BatchPutNodes(ctx.nodes); err != nil {
			return types.Hash{}, err
		}
	}
	if err := db.WriteRootHash(root); err != nil {
		return types.Hash{}, err
	}
	return root, nil
}

// buildSubtrie constructs the node (or chain of nodes) covering entries,
// whose Path fields are relative to this call's position in the overall
// trie (i.e. already trimmed of any prefix consumed by ancestor nodes).
func buildSubtrie(entries []Entry, ctx *buildCtx) (types.Hash, error) {
	if len(entries) == 0 {
		return types.Hash{}, nil
	}
	if len(entries) == 1 {
		leaf := &Node{Kind: NodeLeaf, Path: append([]byte(nil), entries[0].Path...), Value: entries[0].Value}
		return storeNode(leaf, ctx)
	}

	prefix := append([]byte(nil), entries[0].Path...)
	for _, e := range entries[1:] {
		l := commonPrefixLen(prefix, e.Path)
		prefix = prefix[:l]
	}

	trimmed := make([]Entry, len(entries))
	for i, e := range entries {
		trimmed[i] = Entry{Path: e.Path[len(prefix):], Value: e.Value}
	}

	branchHash, err := buildBranch(trimmed, ctx)
	if err != nil {
		return types.Hash{}, err
	}
	if len(prefix) == 0 {
		return branchHash, nil
	}
	ext := &Node{Kind: NodeExtension, Path: prefix, Child: branchHash}
	return storeNode(ext, ctx)
}

// buildBranch builds a 16-way branch node from entries whose Path fields
// are relative to the branch (position 0 is the branch's own nibble
// selector).
func buildBranch(entries []Entry, ctx *buildCtx) (types.Hash, error) {
	branch := &Node{Kind: NodeBranch}
	groups := make(map[byte][]Entry)
	for _, e := range entries {
		if len(e.Path) == 0 {
			branch.Value = e.Value
			continue
		}
		nb := e.Path[0]
		groups[nb] = append(groups[nb], Entry{Path: e.Path[1:], Value: e.Value})
	}
	for nibble, group := range groups {
		childHash, err := buildSubtrie(group, ctx)
		if err != nil {
			return types.Hash{}, err
		}
		branch.Children[nibble] = childHash
	}
	return storeNode(branch, ctx)
}

// PathForAddress derives the 40-nibble path for an address-keyed entry.
func PathForAddress(addr types.Address) []byte {
	return bytesToNibbles(addr[:])
}
