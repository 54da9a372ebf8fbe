// Package kvstore implements the durable, file-backed key/value engine
// behind the KV gRPC surface: one file per key, last-writer-wins under a
// per-key exclusive lock, with fsync completed before the lock is released.
package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-hclog"

	"github.com/kvsoup/kvsoup/internal/kverrors"
)

const (
	filePrefix = "kv-data-"

	// DefaultLockTimeout bounds how long Put waits to acquire a key's
	// exclusive lock before giving up with LockTimeout.
	DefaultLockTimeout = 10 * time.Second
	lockPollInterval   = 25 * time.Millisecond

	// maxKeyLength is the filesystem constraint from the design notes: a
	// conforming implementation must reject rather than crash on keys
	// that can't safely become a filename fragment.
	maxKeyLength = 240
)

// Store is a file-backed KV engine rooted at a single directory.
type Store struct {
	dir         string
	logger      hclog.Logger
	lockTimeout time.Duration
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// New creates a Store rooted at dir. dir is created if it does not exist.
func New(dir string, logger hclog.Logger, opts ...Option) (*Store, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &Store{dir: dir, logger: logger, lockTimeout: DefaultLockTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the storage directory backing this Store.
func (s *Store) Dir() string { return s.dir }

// Path returns the filesystem path a key would be stored at, without
// validating the key or touching the filesystem.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, filePrefix+key)
}

// validateKey enforces the filesystem constraints from the design notes:
// no NUL bytes, no path separators, and a bounded length.
func validateKey(key string) error {
	if strings.ContainsRune(key, 0) {
		return &kverrors.FilesystemConstraint{Key: key, Reason: "contains a NUL byte"}
	}
	if strings.ContainsAny(key, "/\\") {
		return &kverrors.FilesystemConstraint{Key: key, Reason: "contains a path separator"}
	}
	if len(key) > maxKeyLength {
		return &kverrors.FilesystemConstraint{Key: key, Reason: "exceeds maximum key length"}
	}
	return nil
}

// Put persists value under key with last-writer-wins semantics: the write
// is lock-protected and fsync'd before the lock is released and the call
// returns, so an acknowledged Put is guaranteed durable. Put("", v) is a
// silent no-op.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return nil
	}
	if err := validateKey(key); err != nil {
		return err
	}

	path := s.Path(key)
	lock := flock.New(path)

	locked, err := s.tryLockContext(ctx, lock, false)
	if err != nil {
		return err
	}
	if !locked {
		return &kverrors.LockTimeout{Key: key, Waited: s.lockTimeout.String()}
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Error("failed to release lock", "key", key, "error", err)
		}
	}()

	return s.writeAndSync(path, value)
}

func (s *Store) writeAndSync(path string, value []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(value); err != nil {
		return err
	}
	// fsync is mandatory: an acknowledged Put must be durable before the
	// lock is released, even if the call's context is cancelled mid-way.
	return f.Sync()
}

// tryLockContext polls for the lock (exclusive, or shared when shared=true)
// with small back-off until acquired, ctx is cancelled, or the configured
// timeout elapses.
func (s *Store) tryLockContext(ctx context.Context, lock *flock.Flock, shared bool) (bool, error) {
	deadline := time.Now().Add(s.lockTimeout)
	for {
		var ok bool
		var err error
		if shared {
			ok, err = lock.TryRLock()
		} else {
			ok, err = lock.TryLock()
		}
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// Get reads the value stored for key. Get("") returns empty bytes without
// error. A key that was never Put returns kverrors.NotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	path := s.Path(key)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, &kverrors.NotFound{Key: key}
		}
		return nil, err
	}

	lock := flock.New(path)

	locked, err := s.tryLockContext(ctx, lock, true)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, &kverrors.LockTimeout{Key: key, Waited: s.lockTimeout.String()}
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Error("failed to release lock", "key", key, "error", err)
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &kverrors.NotFound{Key: key}
		}
		return nil, err
	}
	return data, nil
}
