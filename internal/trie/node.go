package trie

import (
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/povfchain/node/internal/types"
)

// NodeKind distinguishes the three MPT node shapes (§4.5).
type NodeKind uint8

const (
	NodeBranch NodeKind = iota
	NodeExtension
	NodeLeaf
)

// Node is the union of the three node shapes, encoded as RLP for hashing
// and storage. Exactly one of the kind-specific field groups is populated,
// selected by Kind.
type Node struct {
	Kind NodeKind

	// Branch: 16 children (zero Hash means absent) plus an optional value.
	Children [16]types.Hash
	Value    []byte // branch's own value, or leaf's value

	// Extension/Leaf: remaining nibble path.
	Path []byte // one nibble per byte, 0-15

	// Extension: hash of the single child.
	Child types.Hash
}

// encodableNode is the RLP wire shape; Node itself is not RLP-tagged
// directly so callers can freely zero/copy Node values.
type encodableNode struct {
	Kind     uint8
	Children [16]types.Hash
	Value    []byte
	Path     []byte
	Child    types.Hash
}

func encodeNode(n *Node) ([]byte, error) {
	return rlp.EncodeToBytes(&encodableNode{
		Kind:     uint8(n.Kind),
		Children: n.Children,
		Value:    n.Value,
		Path:     n.Path,
		Child:    n.Child,
	})
}

func decodeNode(raw []byte) (*Node, error) {
	var e encodableNode
	if err := rlp.DecodeBytes(raw, &e); err != nil {
		return nil, err
	}
	return &Node{
		Kind:     NodeKind(e.Kind),
		Children: e.Children,
		Value:    e.Value,
		Path:     e.Path,
		Child:    e.Child,
	}, nil
}

// IsEmpty reports whether a branch/extension child slot is unset.
func IsEmpty(h types.Hash) bool { return h == (types.Hash{}) }

// bytesToNibbles expands a byte path into one nibble per output byte.
func bytesToNibbles(b []byte) []byte {
	out := make([]byte, len(b)*2)
	for i, by := range b {
		out[i*2] = by >> 4
		out[i*2+1] = by & 0x0F
	}
	return out
}

// commonPrefixLen returns the length of the shared nibble prefix of a, b.
func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
