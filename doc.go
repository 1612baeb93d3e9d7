// Package ticketcache keeps a client-side view of a remote ticket API
// consistent across concurrent reads, optimistic writes, filter changes and
// failures.
//
// Components:
//   - QueryCache[V]: fingerprint -> value cache with freshness, stale-while-
//     revalidate, one in-flight fetch per key, and reference-counted eviction.
//   - Coordinator: create/update/delete/comment mutations with an optimistic
//     local patch, commit on success and byte-exact rollback on failure.
//   - Session: the context object wiring list, detail and comment caches and
//     the coordinator over one Remote. Construct with New, tear down with Close.
//
// Values are stored in a pluggable byte Provider (bigcache, ristretto, redis)
// through a Codec[V]. Every stored frame carries the key's generation:
//
//	obs := gen(k)            // before the remote read
//	v   := remote.Get(k)
//	if gen(k) == obs {       // no Set/Remove/Restore happened meanwhile
//	    store(k, v)
//	}
//
// Invalidation does not move generations. It flags the stored frame stale, so
// readers keep seeing the last known value while a refetch runs.
package ticketcache
