package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvsoup/kvsoup/internal/kverrors"
)

func TestCommandTreeWiresExpectedSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["server"])
	require.True(t, names["kv"])
	require.True(t, names["validate"])
}

func TestKVExitCodesMatchSpec(t *testing.T) {
	require.Equal(t, 2, kverrors.ExitCode(&kverrors.KeyMissing{Key: "x"}))
	require.Equal(t, 3, kverrors.ExitCode(&kverrors.HandshakeTimeout{}))
	require.Equal(t, 4, kverrors.ExitCode(&kverrors.CurveIncompatible{}))
	require.Equal(t, 5, kverrors.ExitCode(&kverrors.CookieMismatch{}))
	require.Equal(t, 0, kverrors.ExitCode(nil))
}
