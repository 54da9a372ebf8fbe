package conformance

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildMatrixSkipsIncompatibleServers(t *testing.T) {
	cfg := MatrixConfig{
		Implementations: []Implementation{"go", "pyvider"},
		TLSModes:        []TLSMode{TLSDisabled},
		CryptoConfigs:   DefaultCryptoConfigs,
	}
	cells := BuildMatrix(cfg, DefaultCompatibilityTable())

	for _, cell := range cells {
		require.NotEqual(t, Implementation("pyvider"), cell.Server)
	}
}

func TestBuildMatrixDisabledTLSCollapsesCrypto(t *testing.T) {
	cfg := MatrixConfig{
		Implementations: []Implementation{"go"},
		TLSModes:        []TLSMode{TLSDisabled},
		CryptoConfigs:   DefaultCryptoConfigs,
	}
	cells := BuildMatrix(cfg, DefaultCompatibilityTable())
	require.Len(t, cells, 1)
	require.Equal(t, "none", cells[0].Crypto.Name)
}

func TestBuildMatrixAutoTLSExpandsCrypto(t *testing.T) {
	cfg := MatrixConfig{
		Implementations: []Implementation{"go"},
		TLSModes:        []TLSMode{TLSAuto},
		CryptoConfigs:   DefaultCryptoConfigs,
	}
	cells := BuildMatrix(cfg, DefaultCompatibilityTable())
	require.Len(t, cells, len(DefaultCryptoConfigs))
}

func TestCellIDStable(t *testing.T) {
	cell := Cell{Client: "go", Server: "go", TLS: TLSAuto, Crypto: CryptoConfig{Name: "ec_256"}}
	require.Equal(t, "go_go_auto_ec_256", cell.ID())
}

func TestCryptoConfigCurve(t *testing.T) {
	require.Equal(t, "secp256r1", CryptoConfig{KeySize: 256}.Curve())
	require.Equal(t, "secp521r1", CryptoConfig{KeySize: 521}.Curve())
	require.Equal(t, "", CryptoConfig{KeySize: 2048}.Curve())
}

func TestCompatibilityTableReason(t *testing.T) {
	table := DefaultCompatibilityTable()
	cell := Cell{Client: "go", Server: "pyvider", TLS: TLSDisabled}
	require.False(t, table.Allowed(cell))
	require.NotEmpty(t, table.Reason(cell))
}
