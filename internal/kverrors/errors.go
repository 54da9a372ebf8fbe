// Package kverrors defines the typed error taxonomy shared by the storage
// engine, gRPC surface, plugin client/server runtimes, and CLI.
package kverrors

import (
	"errors"
	"fmt"
)

// CookieMismatch is returned by the server when the magic cookie env var is
// absent or does not match the expected value. No handshake is emitted.
type CookieMismatch struct {
	Key      string
	Expected string
	Got      string
}

func (e *CookieMismatch) Error() string {
	if e.Got == "" {
		return fmt.Sprintf("Magic cookie mismatch: env %q not set (expected %q)", e.Key, e.Expected)
	}
	return fmt.Sprintf("Magic cookie mismatch: env %q=%q, expected %q", e.Key, e.Got, e.Expected)
}

// HandshakeTimeout is returned by the client when no handshake line arrives
// within the bounded read deadline.
type HandshakeTimeout struct {
	Waited string
	Stderr string
}

func (e *HandshakeTimeout) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("timed out waiting %s for handshake line", e.Waited)
	}
	return fmt.Sprintf("timed out waiting %s for handshake line; stderr: %s", e.Waited, e.Stderr)
}

// HandshakeMalformed is returned when the handshake line cannot be parsed.
type HandshakeMalformed struct {
	Line   string
	Reason string
}

func (e *HandshakeMalformed) Error() string {
	return fmt.Sprintf("malformed handshake line %q: %s", e.Line, e.Reason)
}

// ProtocolUnsupported is returned when the handshake advertises a protocol
// other than grpc, or a core/proto version this implementation doesn't know.
type ProtocolUnsupported struct {
	Field string
	Value string
}

func (e *ProtocolUnsupported) Error() string {
	return fmt.Sprintf("unsupported protocol field %s=%q", e.Field, e.Value)
}

// CurveIncompatible is returned by the client before dialing when the
// server's advertised curve cannot be matched by this runtime.
type CurveIncompatible struct {
	ServerCurve string
	ClientNote  string
}

func (e *CurveIncompatible) Error() string {
	return fmt.Sprintf("client cannot present a certificate compatible with server curve %s: %s", e.ServerCurve, e.ClientNote)
}

// TLSHandshakeFailed wraps a TLS-layer failure encountered while dialing.
type TLSHandshakeFailed struct {
	Err error
}

func (e *TLSHandshakeFailed) Error() string { return fmt.Sprintf("tls handshake failed: %v", e.Err) }
func (e *TLSHandshakeFailed) Unwrap() error  { return e.Err }

// LockTimeout is returned by the storage engine when a per-key file lock
// could not be acquired within the bounded wait.
type LockTimeout struct {
	Key    string
	Waited string
}

func (e *LockTimeout) Error() string {
	return fmt.Sprintf("timed out after %s acquiring lock for key %q", e.Waited, e.Key)
}

// NotFound is returned by the storage engine (and surfaced as gRPC
// NOT_FOUND, and as KeyMissing on the client) when a key has never been Put.
type NotFound struct {
	Key string
}

func (e *NotFound) Error() string { return fmt.Sprintf("key not found: %s", e.Key) }

// KeyMissing is the client-side typed form of a gRPC NOT_FOUND response.
type KeyMissing struct {
	Key string
}

func (e *KeyMissing) Error() string { return fmt.Sprintf("key not found: %s", e.Key) }

// EnrichmentFailed is a non-fatal condition: JSON enrichment on Put could
// not be marshaled back, so the original bytes were stored instead.
type EnrichmentFailed struct {
	Key string
	Err error
}

func (e *EnrichmentFailed) Error() string {
	return fmt.Sprintf("enrichment failed for key %q, stored original bytes: %v", e.Key, e.Err)
}
func (e *EnrichmentFailed) Unwrap() error { return e.Err }

// FilesystemConstraint is returned when a key cannot be used as a filename
// fragment (NUL byte, path separator, or excessive length).
type FilesystemConstraint struct {
	Key    string
	Reason string
}

func (e *FilesystemConstraint) Error() string {
	return fmt.Sprintf("key %q violates filesystem constraints: %s", e.Key, e.Reason)
}

// UnsupportedCurve is returned by the cert factory for an unrecognized
// curve name.
type UnsupportedCurve struct {
	Name string
}

func (e *UnsupportedCurve) Error() string { return fmt.Sprintf("unsupported curve: %s", e.Name) }

// as reports whether err's chain contains an error assignable to *T.
func as[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

// ExitCode maps a typed error from this package to the stable CLI exit
// code defined in the spec's CLI section. Unrecognized errors map to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch {
	case as[*KeyMissing](err), as[*NotFound](err):
		return 2
	case as[*HandshakeTimeout](err), as[*HandshakeMalformed](err), as[*ProtocolUnsupported](err):
		return 3
	case as[*CurveIncompatible](err), as[*TLSHandshakeFailed](err):
		return 4
	case as[*CookieMismatch](err):
		return 5
	default:
		return 1
	}
}
