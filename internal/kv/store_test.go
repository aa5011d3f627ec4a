package kv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrefixScan(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put([]byte("account_a"), []byte("1")))
	require.NoError(t, s.Put([]byte("account_b"), []byte("2")))
	require.NoError(t, s.Put([]byte("storage_x"), []byte("3")))

	got, err := s.IterPrefix([]byte("account_"))
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestBatchAtomic(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	b := s.NewBatch()
	b.Put([]byte("k1"), []byte("v1"))
	b.Put([]byte("k2"), []byte("v2"))
	require.NoError(t, s.Write(b))

	v, err := s.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)
}
