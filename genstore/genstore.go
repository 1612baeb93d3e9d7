// Package genstore keeps one generation counter per cache storage key.
//
// A generation moves forward every time a key's value is replaced outside the
// normal fetch path (optimistic patch, authoritative write, removal, restore).
// A fetch records the generation before calling the remote store and only
// writes its result if the generation is unchanged when it returns, so a slow
// read can never overwrite a newer local write.
package genstore

import "context"

// GenStore abstracts where generations live.
// Use LocalGenStore (default) for in-process gens, or RedisGenStore when the
// value provider is shared as well.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, storageKey string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, storageKey string) (uint64, error)
	// Forget drops the generations of evicted keys.
	Forget(ctx context.Context, storageKeys ...string) error
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
