package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodeStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.TestMode = true
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.InitDataDir())

	n, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, n.Start())
	require.NoError(t, n.Stop())
}

func TestConfigValidateRejectsEmptyDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = ""
	require.Error(t, cfg.Validate())
}
