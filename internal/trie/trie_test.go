package trie

import (
	"testing"

	"github.com/povfchain/node/internal/types"
	"github.com/stretchr/testify/require"
)

func addr(b byte) types.Address {
	var a types.Address
	for i := range a {
		a[i] = b
	}
	return a
}

func TestBuildRootOrderIndependent(t *testing.T) {
	entries1 := []Entry{
		{Path: PathForAddress(addr(0x01)), Value: []byte("a")},
		{Path: PathForAddress(addr(0x02)), Value: []byte("b")},
		{Path: PathForAddress(addr(0x03)), Value: []byte("c")},
	}
	entries2 := []Entry{entries1[2], entries1[0], entries1[1]}

	db1 := NewMemTrieDB()
	root1, err := BuildRoot(db1, HashModeTest, entries1)
	require.NoError(t, err)

	db2 := NewMemTrieDB()
	root2, err := BuildRoot(db2, HashModeTest, entries2)
	require.NoError(t, err)

	require.Equal(t, root1, root2)
}

func TestProofInclusionAndAbsence(t *testing.T) {
	a1, a2 := addr(0x01), addr(0x02)
	entries := []Entry{
		{Path: PathForAddress(a1), Value: []byte("alice")},
		{Path: PathForAddress(a2), Value: []byte("bob")},
	}
	db := NewMemTrieDB()
	root, err := BuildRoot(db, HashModeTest, entries)
	require.NoError(t, err)

	proof, err := GenerateProof(db, HashModeTest, root, PathForAddress(a1))
	require.NoError(t, err)
	require.True(t, VerifyProof(HashModeTest, root, PathForAddress(a1), proof, []byte("alice")))

	missing := addr(0x09)
	absProof, err := GenerateProof(db, HashModeTest, root, PathForAddress(missing))
	require.NoError(t, err)
	require.True(t, VerifyProof(HashModeTest, root, PathForAddress(missing), absProof, nil))

	// Mutating a proof node must break verification.
	if len(proof) > 0 {
		mutated := append([]byte(nil), proof[0]...)
		mutated[0] ^= 0xFF
		badProof := append([][]byte{mutated}, proof[1:]...)
		require.False(t, VerifyProof(HashModeTest, root, PathForAddress(a1), badProof, []byte("alice")))
	}
}
