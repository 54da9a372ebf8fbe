package kvservice

import (
	"context"

	"github.com/kvsoup/kvsoup/internal/kvstore"
)

// StoreAdapter adapts a *kvstore.Store to the KV interface expected by
// GRPCPlugin's server side.
type StoreAdapter struct {
	Store *kvstore.Store
}

func (a StoreAdapter) Put(ctx context.Context, key string, value []byte) error {
	return a.Store.Put(ctx, key, value)
}

func (a StoreAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	return a.Store.Get(ctx, key)
}
