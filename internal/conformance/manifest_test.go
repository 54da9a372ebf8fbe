package conformance

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManifestRoundTripWriteRead(t *testing.T) {
	dir := t.TempDir()
	cell := Cell{Client: "go", Server: "go", TLS: TLSAuto, Crypto: CryptoConfig{Name: "ec_256"}}
	m := NewPendingManifest(cell, cell.ID())
	m.MarkSuccess([]string{"key1"}, []string{filepath.Join(dir, "kv-data-key1")}, map[string]interface{}{"tls_mode": "auto"}, nil)

	path, err := m.Write(dir)
	require.NoError(t, err)
	require.FileExists(t, path)

	loaded, err := ReadManifest(path)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, loaded.Status)
	require.Equal(t, []string{"key1"}, loaded.KeysWritten)
}

func TestManifestMarkFailureCapturesError(t *testing.T) {
	cell := Cell{Client: "go", Server: "go", TLS: TLSDisabled, Crypto: CryptoConfig{Name: "none"}}
	m := NewPendingManifest(cell, cell.ID())
	m.MarkFailure(fmt.Errorf("boom"))
	require.Equal(t, StatusFailure, m.Status)
	require.Equal(t, "boom", m.Error)
}

func TestManifestPendingUntilFinalized(t *testing.T) {
	cell := Cell{Client: "go", Server: "go", TLS: TLSAuto, Crypto: CryptoConfig{Name: "ec_384"}}
	m := NewPendingManifest(cell, cell.ID())
	require.Equal(t, StatusPending, m.Status)
}
