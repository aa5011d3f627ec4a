package wal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndRecover(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(DefaultConfig(dir))
	require.NoError(t, err)

	payload, err := rlpEncode(&AccountPayload{Nonce: 1})
	require.NoError(t, err)
	seq0, err := w.Append(KindCreateAccount, payload)
	require.NoError(t, err)
	require.Equal(t, uint64(0), seq0)

	var blockHash [32]byte
	blockHash[0] = 0xAB
	_, err = w.Checkpoint(7, blockHash)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	rec, err := Recover(DefaultConfig(dir))
	require.NoError(t, err)
	require.Len(t, rec.Records, 2)
	require.NotNil(t, rec.LastCheckpoint)
	require.Equal(t, uint64(7), rec.LastCheckpoint.BlockNumber)
	require.Equal(t, 1, rec.LastCheckpointIndex)
}

func TestReopenContinuesSequence(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(DefaultConfig(dir))
	require.NoError(t, err)

	payload, err := rlpEncode(&AccountPayload{Nonce: 1})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := w.Append(KindUpdateAccount, payload)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	w2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer w2.Close()
	seq, err := w2.Append(KindUpdateAccount, payload)
	require.NoError(t, err)
	require.Equal(t, uint64(3), seq)
}

func TestRotationRetention(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MaxFileSize = 64
	cfg.MaxFiles = 2
	w, err := Open(cfg)
	require.NoError(t, err)
	defer w.Close()

	payload, err := rlpEncode(&AccountPayload{Nonce: 1})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, err := w.Append(KindUpdateAccount, payload)
		require.NoError(t, err)
	}
	require.NoError(t, w.Truncate())
	nums, err := w.segmentNumbers()
	require.NoError(t, err)
	require.LessOrEqual(t, len(nums), cfg.MaxFiles)
}
