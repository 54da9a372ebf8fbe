package handshake

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatAndParseRoundTrip(t *testing.T) {
	cert := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	line := Format(TCP, "127.0.0.1:54321", cert)
	require.True(t, strings.HasSuffix(line, "\n"))

	parsed, err := Parse(line)
	require.NoError(t, err)
	require.Equal(t, CoreVersion, parsed.CoreVersion)
	require.Equal(t, TCP, parsed.Network)
	require.Equal(t, "127.0.0.1:54321", parsed.Address)
	require.Equal(t, ProtocolGRPC, parsed.Protocol)
	require.Equal(t, cert, parsed.CertDER)
	require.True(t, parsed.HasCert())
}

func TestParseUnixNoCert(t *testing.T) {
	line := "1|1|unix|/tmp/plugin.sock|grpc\n"
	parsed, err := Parse(line)
	require.NoError(t, err)
	require.Equal(t, Unix, parsed.Network)
	require.False(t, parsed.HasCert())
}

func TestParseTrailingEmptyField(t *testing.T) {
	parsed, err := Parse("1|1|tcp|127.0.0.1:1234|grpc|\n")
	require.NoError(t, err)
	require.False(t, parsed.HasCert())
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse("xyz\n")
	require.Error(t, err)
}

func TestParseUnsupportedProtocol(t *testing.T) {
	_, err := Parse("1|1|tcp|127.0.0.1:1234|netrpc\n")
	require.Error(t, err)
}

func TestParsePaddingRestored(t *testing.T) {
	// A 5-byte DER payload base64-encodes to a string requiring padding;
	// Format must have stripped it, and Parse must restore it correctly.
	cert := []byte("hello")
	line := Format(TCP, "127.0.0.1:1", cert)
	require.NotContains(t, line, "=")
	parsed, err := Parse(line)
	require.NoError(t, err)
	require.Equal(t, cert, parsed.CertDER)
}

func TestReadTimeout(t *testing.T) {
	r, _ := nopPipe()
	_, err := ReadWithTimeout(r, 20*time.Millisecond, "")
	require.Error(t, err)
}

// nopPipe returns a reader that never produces data, to exercise the
// handshake read timeout path without a real subprocess.
func nopPipe() (*blockingReader, *blockingReader) {
	b := &blockingReader{ch: make(chan struct{})}
	return b, b
}

type blockingReader struct{ ch chan struct{} }

func (b *blockingReader) Read(p []byte) (int, error) {
	<-b.ch
	return 0, nil
}
