package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/kvsoup/kvsoup/internal/kverrors"
)

func newTestStore(t *testing.T) *Store {
	dir := t.TempDir()
	s, err := New(dir, hclog.NewNullLogger())
	require.NoError(t, err)
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "alpha", []byte{0x01, 0x02, 0x03}))

	got, err := s.Get(ctx, "alpha")
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, got)

	data, err := os.ReadFile(filepath.Join(s.Dir(), "kv-data-alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, data)
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "never")
	require.Error(t, err)
	var nf *kverrors.NotFound
	require.ErrorAs(t, err, &nf)
}

func TestEmptyKeyIsNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "", []byte("ignored")))
	got, err := s.Get(ctx, "")
	require.NoError(t, err)
	require.Empty(t, got)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestLastWriterWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, v := range [][]byte{[]byte(""), []byte(""), []byte(""), []byte(""), {0x00}} {
		require.NoError(t, s.Put(ctx, "k", v))
	}

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte{0x00}, got)
}

func TestConcurrentWritesLinearize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Put(ctx, "shared", []byte{byte(i)})
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestFilesystemConstraintRejectsNulByte(t *testing.T) {
	s := newTestStore(t)
	err := s.Put(context.Background(), "bad\x00key", []byte("x"))
	require.Error(t, err)
	var fc *kverrors.FilesystemConstraint
	require.ErrorAs(t, err, &fc)
}

func TestFilesystemConstraintRejectsPathSeparator(t *testing.T) {
	s := newTestStore(t)
	err := s.Put(context.Background(), "a/b", []byte("x"))
	require.Error(t, err)
	var fc *kverrors.FilesystemConstraint
	require.ErrorAs(t, err, &fc)
}

func TestFilesystemConstraintRejectsLongKey(t *testing.T) {
	s := newTestStore(t)
	long := make([]byte, 241)
	for i := range long {
		long[i] = 'a'
	}
	err := s.Put(context.Background(), string(long), []byte("x"))
	require.Error(t, err)
	var fc *kverrors.FilesystemConstraint
	require.ErrorAs(t, err, &fc)
}
