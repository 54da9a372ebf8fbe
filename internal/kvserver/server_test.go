package kvserver

import (
	"io"
	"os"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/require"

	"github.com/kvsoup/kvsoup/internal/kvservice"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("PLUGIN_MAGIC_COOKIE_KEY", "")
	t.Setenv("KV_STORAGE_DIR", "")
	t.Setenv("TLS_MODE", "")
	t.Setenv("PLUGIN_PROTOCOL_VERSIONS", "")

	cfg := ConfigFromEnv()
	require.Equal(t, kvservice.Handshake.MagicCookieKey, cfg.MagicCookieKey)
	require.Equal(t, kvservice.Handshake.MagicCookieValue, cfg.MagicCookieValue)
	require.Equal(t, TLSAuto, cfg.TLSMode)
	require.Equal(t, "1", cfg.ProtocolVersions)
	require.NotEmpty(t, cfg.StorageDir)
}

func TestCheckCookieRejectsMismatch(t *testing.T) {
	t.Setenv("BASIC_PLUGIN", "wrong")
	cfg := Config{MagicCookieKey: "BASIC_PLUGIN", MagicCookieValue: "hello"}
	err := checkCookie(cfg)
	require.Error(t, err)
}

func TestCheckCookieAccepts(t *testing.T) {
	t.Setenv("BASIC_PLUGIN", "hello")
	cfg := Config{MagicCookieKey: "BASIC_PLUGIN", MagicCookieValue: "hello"}
	require.NoError(t, checkCookie(cfg))
}

// TestRunRejectsCookieMismatchWritesStderrMessage is §8 concrete scenario
// 1: a client spawning this binary without the magic cookie env var set
// must see "Magic cookie mismatch" on the child's stderr, with no
// handshake line ever written.
func TestRunRejectsCookieMismatchWritesStderrMessage(t *testing.T) {
	t.Setenv("BASIC_PLUGIN", "wrong-value")
	cfg := Config{MagicCookieKey: "BASIC_PLUGIN", MagicCookieValue: "hello"}

	r, w, err := os.Pipe()
	require.NoError(t, err)
	origStderr := os.Stderr
	os.Stderr = w
	defer func() { os.Stderr = origStderr }()

	runErr := Run(cfg, hclog.NewNullLogger())

	w.Close()
	captured, err := io.ReadAll(r)
	require.NoError(t, err)

	require.Error(t, runErr)
	require.Contains(t, string(captured), "Magic cookie mismatch")
}

func newServeConfig() *plugin.ServeConfig {
	return &plugin.ServeConfig{HandshakeConfig: kvservice.Handshake}
}

func TestApplyTLSDisabled(t *testing.T) {
	sc := newServeConfig()
	applyTLS(sc, Config{TLSMode: TLSDisabled}, hclog.NewNullLogger())
	require.Nil(t, sc.TLSProvider)
}

func TestApplyTLSAutoCurveUsesBuiltin(t *testing.T) {
	sc := newServeConfig()
	applyTLS(sc, Config{TLSMode: TLSAuto, TLSCurve: "auto"}, hclog.NewNullLogger())
	require.Nil(t, sc.TLSProvider)
}

func TestApplyTLSExplicitCurveInstallsProvider(t *testing.T) {
	sc := newServeConfig()
	applyTLS(sc, Config{TLSMode: TLSAuto, TLSCurve: "secp384r1", TLSKeyType: "ec"}, hclog.NewNullLogger())
	require.NotNil(t, sc.TLSProvider)

	tlsConfig, err := sc.TLSProvider()
	require.NoError(t, err)
	require.Len(t, tlsConfig.Certificates, 1)
}

func TestApplyTLSRSAFallsBackToAutoMTLS(t *testing.T) {
	sc := newServeConfig()
	applyTLS(sc, Config{TLSMode: TLSAuto, TLSCurve: "secp384r1", TLSKeyType: "rsa"}, hclog.NewNullLogger())
	require.Nil(t, sc.TLSProvider)
}

func TestApplyTLSManualFallsBackToAutoMTLS(t *testing.T) {
	sc := newServeConfig()
	applyTLS(sc, Config{TLSMode: TLSManual}, hclog.NewNullLogger())
	require.Nil(t, sc.TLSProvider)
}

func TestApplyTLSUnknownCurveFallsBack(t *testing.T) {
	sc := newServeConfig()
	applyTLS(sc, Config{TLSMode: TLSAuto, TLSCurve: "bogus", TLSKeyType: "ec"}, hclog.NewNullLogger())
	require.Nil(t, sc.TLSProvider)
}
