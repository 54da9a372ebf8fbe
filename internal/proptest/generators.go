// Package proptest drives the spec's §8 testable properties with
// pgregory.net/rapid generators, respecting the key constraints documented
// in §6/§9 (no NUL bytes, no path separators, bounded length) so that a
// generated example never trips FilesystemConstraint by accident — that
// path has its own literal tests in kvstore.
package proptest

import (
	"strings"
	"unicode"

	"pgregory.net/rapid"
)

// safeKey generates a non-empty key that satisfies the filesystem
// constraints a conforming Store enforces: no NUL byte, no '/' or '\',
// length at most 240 bytes.
func safeKey(t *rapid.T) string {
	return rapid.StringMatching(`[a-zA-Z0-9_.\-]{1,64}`).Draw(t, "key")
}

// nonJSONValue generates an arbitrary byte string that will not parse as
// a JSON object, so the enrichment policy never fires and byte-for-byte
// round-trip comparisons stay valid, per the design note in §9 ("property
// tests comparing bytes verbatim MUST use non-JSON values").
func nonJSONValue(t *rapid.T) []byte {
	s := rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(t, "value")
	// A value whose first non-space byte is '{' could accidentally parse
	// as a JSON object; nudge that byte to one that can't start one.
	if trimmed := strings.TrimLeftFunc(string(s), unicode.IsSpace); strings.HasPrefix(trimmed, "{") {
		s[len(s)-len(trimmed)] = 'x'
	}
	return s
}

// jsonObjectValue generates a small JSON object payload (field names
// drawn from a constrained alphabet, string values) for exercising the
// enrichment invariant.
func jsonObjectValue(t *rapid.T) map[string]interface{} {
	n := rapid.IntRange(0, 5).Draw(t, "num_fields")
	obj := make(map[string]interface{}, n)
	for i := 0; i < n; i++ {
		field := rapid.StringMatching(`[a-z][a-z0-9_]{0,12}`).Draw(t, "field")
		if field == "server_handshake" {
			continue // reserved for the enrichment itself
		}
		obj[field] = rapid.StringMatching(`[a-zA-Z0-9 ]{0,20}`).Draw(t, "field_value")
	}
	return obj
}

// putSequence generates a sequence of 1-10 values to Put against the same
// key in order, for the last-writer-wins invariant.
func putSequence(t *rapid.T) [][]byte {
	n := rapid.IntRange(1, 10).Draw(t, "num_puts")
	seq := make([][]byte, n)
	for i := range seq {
		seq[i] = nonJSONValue(t)
	}
	return seq
}

// isLikelyJSONObject is a cheap heuristic used only to keep generators
// honest in their own tests; the real decision lives in kvservice.
func isLikelyJSONObject(b []byte) bool {
	trimmed := strings.TrimSpace(string(b))
	return strings.HasPrefix(trimmed, "{")
}
