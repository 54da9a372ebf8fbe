// Package conformance builds and executes the cross-implementation
// conformance matrix, recording a proof manifest per cell. It is the
// end-to-end oracle: a matrix cell passes iff its manifest exists with
// status "success" and the stored KV file contents match expectations.
package conformance

import "fmt"

// Implementation names a binary under test. "go" identifies this module's
// own cmd/kvsoup binary; other values name external (e.g. Python) binaries
// supplied via a path, treated as black boxes.
type Implementation string

// CryptoConfig names one of the matrix's crypto dimensions, mirroring
// RPC_KV_CRYPTO_CONFIGS from the original matrix_config.
type CryptoConfig struct {
	Name    string
	KeyType string // "rsa" or "ec"
	KeySize int    // RSA: 2048/4096; EC: 256/384/521
}

func (c CryptoConfig) Curve() string {
	switch c.KeySize {
	case 256:
		return "secp256r1"
	case 384:
		return "secp384r1"
	case 521:
		return "secp521r1"
	default:
		return ""
	}
}

// DefaultCryptoConfigs is the crypto dimension of the matrix, grounded on
// RPC_KV_CRYPTO_CONFIGS.
var DefaultCryptoConfigs = []CryptoConfig{
	{Name: "rsa_2048", KeyType: "rsa", KeySize: 2048},
	{Name: "rsa_4096", KeyType: "rsa", KeySize: 4096},
	{Name: "ec_256", KeyType: "ec", KeySize: 256},
	{Name: "ec_384", KeyType: "ec", KeySize: 384},
	{Name: "ec_521", KeyType: "ec", KeySize: 521},
}

// TLSMode is the matrix's TLS dimension.
type TLSMode string

const (
	TLSDisabled TLSMode = "disabled"
	TLSAuto     TLSMode = "auto"
)

// DefaultTLSModes is the TLS dimension of the matrix.
var DefaultTLSModes = []TLSMode{TLSDisabled, TLSAuto}

// DefaultImplementations is the client/server dimension of the matrix.
// Only "go" is runnable without an external binary; RunCell spawns
// whatever binary RunnerConfig.ServerPath names.
var DefaultImplementations = []Implementation{"go"}

// Cell is one tuple (client_impl, server_impl, tls_mode, crypto) under
// test, per the glossary's "Matrix cell" definition.
type Cell struct {
	Client Implementation
	Server Implementation
	TLS    TLSMode
	Crypto CryptoConfig
}

// ID renders a stable, human-readable identifier for the cell in the form
// "<client>_<server>_<tls>_<crypto>".
func (c Cell) ID() string {
	return fmt.Sprintf("%s_%s_%s_%s", c.Client, c.Server, c.TLS, c.Crypto.Name)
}

// MatrixConfig parameterizes matrix construction.
type MatrixConfig struct {
	Implementations []Implementation
	TLSModes        []TLSMode
	CryptoConfigs   []CryptoConfig
}

// DefaultMatrixConfig returns the matrix dimensions described in §4.G.
// It applies no compatibility filtering; BuildMatrix does that.
func DefaultMatrixConfig() MatrixConfig {
	return MatrixConfig{
		Implementations: DefaultImplementations,
		TLSModes:        DefaultTLSModes,
		CryptoConfigs:   DefaultCryptoConfigs,
	}
}

// BuildMatrix enumerates every (client, server, tls, crypto) tuple from
// the config's dimensions, then drops cells the compatibility table marks
// as documented-incompatible. TLSDisabled cells only vary by a single
// nominal crypto entry, since crypto configuration is meaningless without
// TLS; they collapse to one cell per (client, server) pair.
func BuildMatrix(cfg MatrixConfig, table CompatibilityTable) []Cell {
	var cells []Cell
	for _, client := range cfg.Implementations {
		for _, server := range cfg.Implementations {
			for _, tls := range cfg.TLSModes {
				if tls == TLSDisabled {
					cell := Cell{Client: client, Server: server, TLS: tls, Crypto: CryptoConfig{Name: "none"}}
					if table.Allowed(cell) {
						cells = append(cells, cell)
					}
					continue
				}
				for _, crypto := range cfg.CryptoConfigs {
					cell := Cell{Client: client, Server: server, TLS: tls, Crypto: crypto}
					if table.Allowed(cell) {
						cells = append(cells, cell)
					}
				}
			}
		}
	}
	return cells
}
