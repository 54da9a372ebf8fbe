package conformance

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCellKeyEncodesIdentity(t *testing.T) {
	cell := Cell{Client: "go", Server: "go", TLS: TLSAuto, Crypto: CryptoConfig{Name: "ec_256"}}
	key := cellKey(cell)
	require.True(t, strings.HasPrefix(key, "go_go_auto_ec_256_"))
	require.Len(t, strings.TrimPrefix(key, "go_go_auto_ec_256_"), 8)
}

func TestCellValueCarriesUserData(t *testing.T) {
	cell := Cell{Client: "go", Server: "go", TLS: TLSAuto, Crypto: CryptoConfig{Name: "ec_256"}}
	value, userData := cellValue(cell)
	require.Contains(t, string(value), "user_data")
	require.Equal(t, 1, userData["n"])
}

func TestCheckEquivalenceDetectsEnrichment(t *testing.T) {
	sent := []byte(`{"test":"ecdsa","user_data":{"n":1}}`)
	got := []byte(`{"test":"ecdsa","user_data":{"n":1},"server_handshake":{"tls_mode":"auto"}}`)

	handshake, ok := checkEquivalence(sent, got)
	require.True(t, ok)
	require.Equal(t, "auto", handshake["tls_mode"])
}

func TestCheckEquivalenceRejectsMissingField(t *testing.T) {
	sent := []byte(`{"test":"ecdsa"}`)
	got := []byte(`{"other":"value","server_handshake":{}}`)

	_, ok := checkEquivalence(sent, got)
	require.False(t, ok)
}

func TestCheckEquivalenceNonJSONComparesVerbatim(t *testing.T) {
	sent := []byte{0x01, 0x02, 0x03}
	_, ok := checkEquivalence(sent, sent)
	require.True(t, ok)

	_, ok = checkEquivalence(sent, []byte{0x09})
	require.False(t, ok)
}
