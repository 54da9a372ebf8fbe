// Package handshake formats and parses the single-line plugin handshake
// written to a server process's stdout, per the go-plugin wire protocol.
package handshake

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kvsoup/kvsoup/internal/kverrors"
)

// HANDSHAKE_EMITTED (§4.E) is performed by go-plugin's own plugin.Serve,
// which has no hook for substituting an external writer, so this package
// only covers the Format/Parse halves of the wire contract: Format is the
// independently-testable spec of the line go-plugin emits, and Parse is
// what the client side, the CLI's reattach path, and the conformance
// harness actually consume.

const (
	CoreVersion  = 1
	ProtoVersion = 1
	ProtocolGRPC = "grpc"

	// DefaultReadTimeout bounds how long the client waits for the
	// handshake line before giving up with HandshakeTimeout.
	DefaultReadTimeout = 15 * time.Second
)

// Network identifies the transport the handshake address belongs to.
type Network string

const (
	TCP  Network = "tcp"
	Unix Network = "unix"
)

// Line is the parsed form of a handshake line.
type Line struct {
	CoreVersion  int
	ProtoVersion int
	Network      Network
	Address      string
	Protocol     string
	CertDER      []byte // nil if the server advertised no certificate
}

// HasCert reports whether the handshake advertised a server certificate.
func (l Line) HasCert() bool { return len(l.CertDER) > 0 }

// Format renders the handshake line per the wire format in the spec's data
// model, terminated by a single '\n'. The certificate field is omitted
// entirely when certDER is empty.
func Format(network Network, address string, certDER []byte) string {
	fields := []string{
		strconv.Itoa(CoreVersion),
		strconv.Itoa(ProtoVersion),
		string(network),
		address,
		ProtocolGRPC,
	}
	if len(certDER) > 0 {
		fields = append(fields, stripPadding(base64.StdEncoding.EncodeToString(certDER)))
	}
	return strings.Join(fields, "|") + "\n"
}

func stripPadding(s string) string {
	return strings.TrimRight(s, "=")
}

func restorePadding(s string) string {
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return s
}

// Parse validates and decodes a single handshake line (without its
// trailing newline, though a trailing newline is tolerated).
func Parse(line string) (Line, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.Split(line, "|")
	if len(parts) < 5 {
		return Line{}, &kverrors.HandshakeMalformed{Line: line, Reason: fmt.Sprintf("expected at least 5 fields, got %d", len(parts))}
	}

	core, err := strconv.Atoi(parts[0])
	if err != nil {
		return Line{}, &kverrors.HandshakeMalformed{Line: line, Reason: "core_version is not an integer"}
	}
	if core != CoreVersion {
		return Line{}, &kverrors.ProtocolUnsupported{Field: "core_version", Value: parts[0]}
	}

	proto, err := strconv.Atoi(parts[1])
	if err != nil {
		return Line{}, &kverrors.HandshakeMalformed{Line: line, Reason: "proto_version is not an integer"}
	}

	network := Network(parts[2])
	if network != TCP && network != Unix {
		return Line{}, &kverrors.HandshakeMalformed{Line: line, Reason: fmt.Sprintf("unknown network %q", parts[2])}
	}

	address := parts[3]
	if address == "" {
		return Line{}, &kverrors.HandshakeMalformed{Line: line, Reason: "empty address"}
	}

	protocol := parts[4]
	if protocol != ProtocolGRPC {
		return Line{}, &kverrors.ProtocolUnsupported{Field: "protocol", Value: protocol}
	}

	result := Line{
		CoreVersion:  core,
		ProtoVersion: proto,
		Network:      network,
		Address:      address,
		Protocol:     protocol,
	}

	// Sixth field is optional, and an explicitly empty sixth field (a
	// trailing "|") is tolerated rather than treated as a certificate.
	if len(parts) >= 6 && parts[5] != "" {
		der, err := base64.StdEncoding.DecodeString(restorePadding(parts[5]))
		if err != nil {
			return Line{}, &kverrors.HandshakeMalformed{Line: line, Reason: "certificate field is not valid base64: " + err.Error()}
		}
		result.CertDER = der
	}

	return result, nil
}

// Read blocks until one handshake line is available on r or ctx is done,
// returning HandshakeTimeout on deadline and HandshakeMalformed on a
// line that fails to parse.
func Read(ctx context.Context, r io.Reader, stderr string) (Line, error) {
	start := time.Now()
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		br := bufio.NewReader(r)
		line, err := br.ReadString('\n')
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return Line{}, &kverrors.HandshakeTimeout{Waited: time.Since(start).String(), Stderr: stderr}
	case res := <-ch:
		if res.err != nil && res.line == "" {
			return Line{}, &kverrors.HandshakeTimeout{Waited: "n/a", Stderr: stderr}
		}
		return Parse(res.line)
	}
}

// ReadWithTimeout is a convenience wrapper around Read using
// DefaultReadTimeout (or the provided timeout if non-zero).
func ReadWithTimeout(r io.Reader, timeout time.Duration, stderr string) (Line, error) {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return Read(ctx, r, stderr)
}
