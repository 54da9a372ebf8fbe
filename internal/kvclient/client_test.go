package kvclient

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvsoup/kvsoup/internal/kvcert"
)

func TestParseTargetBareAddress(t *testing.T) {
	target, err := ParseTarget("127.0.0.1:50051")
	require.NoError(t, err)
	require.Nil(t, target.TLSConfig)
	require.Equal(t, "127.0.0.1", target.Hostname)
}

func TestParseTargetHandshakeNoCert(t *testing.T) {
	target, err := ParseTarget("1|1|tcp|127.0.0.1:50051|grpc")
	require.NoError(t, err)
	require.Nil(t, target.TLSConfig)
	require.Equal(t, "127.0.0.1", target.Hostname)
}

func TestParseTargetHandshakeWithCert(t *testing.T) {
	certPEM, _, err := kvcert.Generate(kvcert.P384, kvcert.ServerIdentity)
	require.NoError(t, err)
	der, err := kvcert.LeafDER(certPEM)
	require.NoError(t, err)

	line := mustFormatHandshake("127.0.0.1:50051", der)
	target, err := ParseTarget(line)
	require.NoError(t, err)
	require.NotNil(t, target.TLSConfig)
	require.NotNil(t, target.ServerCert)
	require.Equal(t, "localhost", target.TLSConfig.ServerName)
}

func TestParseTargetRejectsMalformed(t *testing.T) {
	_, err := ParseTarget("1|1|tcp")
	require.Error(t, err)
}

func TestResolveClientCurveAutoDetectsFromCert(t *testing.T) {
	certPEM, _, err := kvcert.Generate(kvcert.P521, kvcert.ServerIdentity)
	require.NoError(t, err)
	cert, err := kvcert.ParseLeaf(certPEM)
	require.NoError(t, err)

	curve, err := resolveClientCurve("auto", cert, nopLogger())
	require.NoError(t, err)
	require.Equal(t, kvcert.P521, curve)
}

func TestResolveClientCurveFallsBackWithoutCert(t *testing.T) {
	curve, err := resolveClientCurve("auto", nil, nopLogger())
	require.NoError(t, err)
	require.Equal(t, kvcert.P256, curve)
}

func TestResolveClientCurveExplicit(t *testing.T) {
	curve, err := resolveClientCurve("secp384r1", nil, nopLogger())
	require.NoError(t, err)
	require.Equal(t, kvcert.P384, curve)
}

func TestCheckCurveCompatibilityRejectsECAgainstRSA(t *testing.T) {
	err := CheckCurveCompatibility("secp256r1", "rsa")
	require.Error(t, err)
}

func TestCheckCurveCompatibilityAllowsAuto(t *testing.T) {
	require.NoError(t, CheckCurveCompatibility("auto", "rsa"))
}
