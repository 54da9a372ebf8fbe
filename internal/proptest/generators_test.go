package proptest

import (
	"testing"

	"pgregory.net/rapid"
)

func TestNonJSONValueNeverParsesAsObject(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := nonJSONValue(t)
		if isLikelyJSONObject(v) {
			t.Fatalf("generated value looks like a JSON object: %q", v)
		}
	})
}

func TestSafeKeyRespectsFilesystemConstraints(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		k := safeKey(t)
		if k == "" {
			t.Fatal("safeKey produced an empty key")
		}
		if len(k) > 240 {
			t.Fatalf("safeKey produced a key longer than 240 bytes: %d", len(k))
		}
	})
}
