package trie

import (
	"bytes"

	"github.com/povfchain/node/internal/types"
)

// VerifyProof walks an ordered list of node encodings from root, checking
// each against the expected hash pointer along path, and accepts iff the
// final leaf's value matches expectedValue (inclusion) or the path
// terminates in a missing branch/divergent node consistent with
// expectedValue == nil (absence), per §4.5 / testable property 7.
func VerifyProof(mode HashMode, root types.Hash, path []byte, nodeEncodings [][]byte, expectedValue []byte) bool {
	current := root
	idx := 0

	for _, enc := range nodeEncodings {
		if hashNode(mode, enc) != current {
			return false
		}
		node, err := decodeNode(enc)
		if err != nil {
			return false
		}
		switch node.Kind {
		case NodeLeaf:
			remaining := path[idx:]
			if !bytes.Equal(node.Path, remaining) {
				return expectedValue == nil
			}
			return bytes.Equal(node.Value, expectedValue)

		case NodeExtension:
			n := len(node.Path)
			if idx+n > len(path) || !bytes.Equal(path[idx:idx+n], node.Path) {
				return expectedValue == nil
			}
			idx += n
			current = node.Child

		case NodeBranch:
			if idx == len(path) {
				return bytes.Equal(node.Value, expectedValue)
			}
			nibble := path[idx]
			child := node.Children[nibble]
			if IsEmpty(child) {
				return expectedValue == nil
			}
			idx++
			current = child

		default:
			return false
		}
	}
	return false
}

// GenerateProof walks db from root along path, collecting the encoding of
// every node visited, for later verification with VerifyProof. Stops early
// (successfully) at the first leaf or at a missing branch slot.
func GenerateProof(db TrieDB, mode HashMode, root types.Hash, path []byte) ([][]byte, error) {
	var encodings [][]byte
	current := root
	idx := 0

	for {
		if IsEmpty(current) {
			return encodings, nil
		}
		raw, err := db.GetNode(current)
		if err != nil {
			return nil, err
		}
		encodings = append(encodings, raw)
		node, err := decodeNode(raw)
		if err != nil {
			return nil, err
		}
		switch node.Kind {
		case NodeLeaf:
			return encodings, nil
		case NodeExtension:
			n := len(node.Path)
			if idx+n > len(path) || string(path[idx:idx+n]) != string(node.Path) {
				return encodings, nil
			}
			idx += n
			current = node.Child
		case NodeBranch:
			if idx == len(path) {
				return encodings, nil
			}
			nibble := path[idx]
			current = node.Children[nibble]
			idx++
		default:
			return encodings, nil
		}
	}
}
