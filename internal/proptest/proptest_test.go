package proptest

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"

	"github.com/hashicorp/go-hclog"
	"pgregory.net/rapid"

	"github.com/kvsoup/kvsoup/internal/kvservice"
	"github.com/kvsoup/kvsoup/internal/kvstore"
)

// TestMain pins rapid's -rapid.checks flag to the profile named by
// PROPTEST_PROFILE (§4.I's quick/thorough split) before any property
// runs, unless the flag was already set explicitly on the command line.
func TestMain(m *testing.M) {
	flag.Parse()
	if f := flag.Lookup("rapid.checks"); f != nil && f.Value.String() == f.DefValue {
		_ = f.Value.Set(fmt.Sprintf("%d", Checks(ProfileFromEnv())))
	}
	os.Exit(m.Run())
}

func TestPropertyRoundTripNonJSON(t *testing.T) {
	rapid.Check(t, RoundTripNonJSON)
}

func TestPropertyLastWriterWinsSingleClient(t *testing.T) {
	rapid.Check(t, LastWriterWinsSingleClient)
}

func TestPropertyNotFoundForNeverPutKey(t *testing.T) {
	rapid.Check(t, NotFoundForNeverPutKey)
}

func TestPropertyEmptyKeyIsNoop(t *testing.T) {
	rapid.Check(t, EmptyKeyIsNoop)
}

func TestPropertyDurability(t *testing.T) {
	rapid.Check(t, Durability)
}

func TestPropertyRoundTripJSONObject(t *testing.T) {
	dir := t.TempDir()
	store, err := kvstore.New(dir, hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	srv := kvservice.NewGRPCServer(storeKV{store}, hclog.NewNullLogger())

	rapid.Check(t, func(t *rapid.T) {
		RoundTripJSONObject(t, srv)
	})
}

// TestRegressionSequenceIsDurable is the literal scenario 4 from §8: the
// historical fsync bug this implementation regression-tests against.
func TestRegressionSequenceIsDurable(t *testing.T) {
	dir := t.TempDir()
	store, err := kvstore.New(dir, hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx := context.Background()
	for _, v := range regressionSequence() {
		if err := store.Put(ctx, "k", v); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 || got[0] != 0x00 {
		t.Fatalf("regression sequence lost the final write: got %v", got)
	}
}

// storeKV adapts *kvstore.Store to kvservice.KV for the property test's
// in-process server, matching kvservice.StoreAdapter's role in production.
type storeKV struct{ store *kvstore.Store }

func (s storeKV) Put(ctx context.Context, key string, value []byte) error {
	return s.store.Put(ctx, key, value)
}

func (s storeKV) Get(ctx context.Context, key string) ([]byte, error) {
	return s.store.Get(ctx, key)
}
