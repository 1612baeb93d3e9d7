package ticketcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"

	c "github.com/unkn0wn-root/ticketcache/codec"
	gen "github.com/unkn0wn-root/ticketcache/genstore"
	"github.com/unkn0wn-root/ticketcache/internal/wire"
	pr "github.com/unkn0wn-root/ticketcache/provider"
)

// entry is the in-memory bookkeeping for one key. The value itself lives in
// the provider as a wire frame.
type entry struct {
	refs      int
	idleSince time.Time // last fetch, write or release, whichever is later
	epoch     uint64    // bumped by Invalidate
	listeners map[uint64]Listener
}

func (e *entry) listenerList() []Listener {
	if len(e.listeners) == 0 {
		return nil
	}
	out := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		out = append(out, l)
	}
	return out
}

type counters struct {
	hits, staleHits, misses      atomic.Uint64
	fetches, shared, fetchErrors atomic.Uint64
	writesSkipped, selfHeals     atomic.Uint64
	evictions                    atomic.Uint64
}

// QueryCache maps keys (fingerprints or entity ids) to remotely loaded values.
//
// Reads never fail: a value is either served (possibly stale) or reported
// missing. Concurrent fetches for one key share a single remote call. Fetch
// results are written only if no direct write (Set, Remove, Restore) happened
// to the key while the fetch was in flight.
type QueryCache[V any] struct {
	ns        string
	provider  pr.Provider
	codec     c.Codec[V]
	load      LoadFunc[V]
	gen       gen.GenStore
	log       Logger
	hooks     Hooks
	now       func() time.Time
	cost      SetCostFunc
	retryable func(error) bool
	leaveOpen bool

	freshness time.Duration
	retention time.Duration
	ttl       time.Duration
	backoff   time.Duration
	timeout   time.Duration

	sf singleflight.Group

	// mu guards entries and serializes every provider write of this namespace.
	mu      sync.Mutex
	entries map[string]*entry
	nextID  uint64
	closed  bool

	base    context.Context
	cancel  context.CancelFunc
	flights sync.WaitGroup

	// background eviction
	ticker    *time.Ticker
	stopCh    chan struct{}
	sweepWg   sync.WaitGroup
	closeOnce sync.Once

	stats counters
}

// NewQueryCache validates opts and starts the eviction sweep unless disabled.
func NewQueryCache[V any](opts QueryOptions[V]) (*QueryCache[V], error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("ticketcache: provider is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("ticketcache: codec is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("ticketcache: namespace is required")
	}
	if opts.Load == nil {
		return nil, fmt.Errorf("ticketcache: load function is required")
	}

	qc := &QueryCache[V]{
		ns:        opts.Namespace,
		provider:  opts.Provider,
		codec:     opts.Codec,
		load:      opts.Load,
		entries:   make(map[string]*entry),
		leaveOpen: opts.LeaveOpen,
		ttl:       opts.StorageTTL,
	}

	qc.log = coalesce[Logger](opts.Logger, NopLogger{})
	qc.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	qc.freshness = coalesce(opts.Freshness, defaultFreshness)
	qc.retention = coalesce(opts.Retention, defaultRetention)
	qc.backoff = coalesce(opts.RetryBackoff, defaultRetryBackoff)
	qc.timeout = coalesce(opts.Timeout, defaultTimeout)
	sweep := coalesce(opts.CleanupInterval, defaultCleanupInterval)

	qc.now = time.Now
	if opts.Now != nil {
		qc.now = opts.Now
	}
	qc.cost = func(_ string, raw []byte) int64 { return int64(len(raw)) }
	if opts.ComputeSetCost != nil {
		qc.cost = opts.ComputeSetCost
	}
	qc.retryable = transient
	if opts.Retryable != nil {
		qc.retryable = opts.Retryable
	}

	if opts.GenStore != nil {
		qc.gen = opts.GenStore
	} else {
		qc.gen = gen.NewLocalGenStore()
	}

	qc.base, qc.cancel = context.WithCancel(context.Background())

	if !opts.DisableSweep {
		qc.ticker = time.NewTicker(sweep)
		qc.stopCh = make(chan struct{})
		qc.sweepWg.Add(1)
		go qc.sweepLoop()
	}
	return qc, nil
}

func (qc *QueryCache[V]) sweepLoop() {
	defer qc.sweepWg.Done()
	for {
		select {
		case <-qc.ticker.C:
			qc.Evict(qc.base)
		case <-qc.stopCh:
			return
		}
	}
}

// Namespace returns the storage namespace of this cache.
func (qc *QueryCache[V]) Namespace() string { return qc.ns }

// Get returns the cached value for key without touching the remote store.
// A stale hit schedules a background refetch and still returns the last known
// value. A miss (absent, corrupt or unreadable entry) returns ok=false.
func (qc *QueryCache[V]) Get(ctx context.Context, key string) (Lookup[V], bool) {
	lk, ok := qc.read(ctx, key)
	switch {
	case !ok:
		qc.stats.misses.Add(1)
	case lk.Stale:
		qc.stats.staleHits.Add(1)
		qc.refresh(key)
	default:
		qc.stats.hits.Add(1)
	}
	return lk, ok
}

// Peek is Get without statistics or background refresh.
func (qc *QueryCache[V]) Peek(ctx context.Context, key string) (Lookup[V], bool) {
	return qc.read(ctx, key)
}

// Query returns the cached value when present (stale-while-revalidate) and
// fetches it otherwise.
func (qc *QueryCache[V]) Query(ctx context.Context, key string) (Lookup[V], error) {
	if lk, ok := qc.Get(ctx, key); ok {
		return lk, nil
	}
	v, err := qc.Fetch(ctx, key)
	if err != nil {
		return Lookup[V]{}, err
	}
	return Lookup[V]{Value: v, FetchedAt: qc.now()}, nil
}

// Fetch loads key from the remote store. Concurrent callers for the same key
// share one remote call and receive the same value. The load runs detached
// from ctx (bounded by the cache timeout); a caller whose ctx ends stops
// waiting while the load completes for everyone else.
func (qc *QueryCache[V]) Fetch(ctx context.Context, key string) (V, error) {
	var zero V
	if qc.isClosed() {
		return zero, ErrClosed
	}
	ch := qc.sf.DoChan(key, qc.flight(key))
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		if r.Shared {
			qc.stats.shared.Add(1)
		}
		if r.Err != nil {
			return zero, r.Err
		}
		return r.Val.(V), nil
	}
}

// refresh starts a background fetch unless one is already in flight.
func (qc *QueryCache[V]) refresh(key string) {
	if qc.isClosed() {
		return
	}
	qc.log.Debug("background refetch", Fields{"ns": qc.ns, "key": key})
	qc.sf.DoChan(key, qc.flight(key))
}

func (qc *QueryCache[V]) flight(key string) func() (any, error) {
	return func() (any, error) {
		if !qc.begin() {
			return nil, ErrClosed
		}
		defer qc.flights.Done()
		qc.stats.fetches.Add(1)

		ctx, cancel := context.WithTimeout(qc.base, qc.timeout)
		defer cancel()

		sk := qc.storageKey(key)
		obsGen, genErr := qc.gen.Snapshot(ctx, sk)
		if genErr != nil {
			qc.hooks.GenSnapshotError(1, genErr)
			qc.log.Warn("gen snapshot error", Fields{"key": sk, "err": genErr})
		}
		obsEpoch := qc.observe(key)

		v, err := qc.loadWithRetry(ctx, key)
		if err != nil {
			qc.stats.fetchErrors.Add(1)
			qc.hooks.FetchFailed(sk, err)
			qc.log.Warn("fetch failed", Fields{"ns": qc.ns, "key": key, "err": err})
			qc.fetchFailed(ctx, key, err)
			return nil, err
		}
		if genErr == nil {
			qc.commit(ctx, key, v, obsGen, obsEpoch)
		}
		return v, nil
	}
}

// loadWithRetry retries a transient failure exactly once.
func (qc *QueryCache[V]) loadWithRetry(ctx context.Context, key string) (V, error) {
	var v V
	b := retry.WithMaxRetries(1, retry.NewConstant(qc.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var err error
		v, err = qc.load(ctx, key)
		if err != nil && qc.retryable(err) {
			qc.log.Debug("transient fetch failure; retrying", Fields{"ns": qc.ns, "key": key, "err": err})
			return retry.RetryableError(err)
		}
		return err
	})
	return v, err
}

// commit stores a fetched value iff the generation did not move during the
// fetch. An invalidation during the fetch keeps the new value flagged stale.
func (qc *QueryCache[V]) commit(ctx context.Context, key string, v V, obsGen, obsEpoch uint64) {
	payload, err := qc.codec.Encode(v)
	if err != nil {
		qc.log.Error("encode fetched value", Fields{"ns": qc.ns, "key": key, "err": err})
		return
	}
	sk := qc.storageKey(key)

	qc.mu.Lock()
	if qc.closed {
		qc.mu.Unlock()
		return
	}
	cur, err := qc.gen.Snapshot(ctx, sk)
	if err != nil || cur != obsGen {
		qc.mu.Unlock()
		qc.stats.writesSkipped.Add(1)
		qc.hooks.WriteSkipped(sk)
		qc.log.Debug("fetch write skipped (gen moved)", Fields{"key": sk, "obs": obsGen, "cur": cur})
		return
	}
	e := qc.ensure(key)
	now := qc.now()
	ok, werr := qc.writeLocked(ctx, sk, wire.Frame{
		Gen:       cur,
		FetchedAt: now,
		Stale:     e.epoch != obsEpoch,
		Payload:   payload,
	})
	e.idleSince = now
	ls := e.listenerList()
	qc.mu.Unlock()

	if werr != nil {
		qc.log.Warn("store fetched value", Fields{"key": sk, "err": werr})
		return
	}
	if ok {
		qc.notify(ls, Event{Namespace: qc.ns, Key: key, Kind: EventFetched})
	}
}

func (qc *QueryCache[V]) fetchFailed(ctx context.Context, key string, cause error) {
	qc.mu.Lock()
	if qc.closed {
		qc.mu.Unlock()
		return
	}
	qc.markStaleLocked(ctx, key)
	var ls []Listener
	if e := qc.entries[key]; e != nil {
		ls = e.listenerList()
	}
	qc.mu.Unlock()
	qc.notify(ls, Event{Namespace: qc.ns, Key: key, Kind: EventFetchFailed, Err: cause})
}

// Invalidate flags every entry whose key matches pred as stale. Values stay
// readable; the next Get triggers a refetch. Returns the number of entries
// matched.
func (qc *QueryCache[V]) Invalidate(ctx context.Context, pred func(key string) bool) int {
	type note struct {
		key string
		ls  []Listener
	}
	var notes []note

	qc.mu.Lock()
	if qc.closed {
		qc.mu.Unlock()
		return 0
	}
	for key, e := range qc.entries {
		if !pred(key) {
			continue
		}
		e.epoch++
		qc.markStaleLocked(ctx, key)
		notes = append(notes, note{key: key, ls: e.listenerList()})
	}
	qc.mu.Unlock()

	for _, n := range notes {
		qc.notify(n.ls, Event{Namespace: qc.ns, Key: n.key, Kind: EventInvalidated})
	}
	if len(notes) > 0 {
		qc.log.Debug("invalidated entries", Fields{"ns": qc.ns, "count": len(notes)})
	}
	return len(notes)
}

// InvalidateKey flags a single key stale.
func (qc *QueryCache[V]) InvalidateKey(ctx context.Context, key string) bool {
	return qc.Invalidate(ctx, func(k string) bool { return k == key }) > 0
}

// InvalidateAll flags every entry of this cache stale.
func (qc *QueryCache[V]) InvalidateAll(ctx context.Context) int {
	return qc.Invalidate(ctx, func(string) bool { return true })
}

// markStaleLocked rewrites the stored frame with the stale flag set, keeping
// its generation so the value stays readable. Caller holds mu.
func (qc *QueryCache[V]) markStaleLocked(ctx context.Context, key string) {
	sk := qc.storageKey(key)
	raw, ok, err := qc.provider.Get(ctx, sk)
	if err != nil || !ok {
		return
	}
	f, err := wire.Decode(raw)
	if err != nil || f.Stale {
		return
	}
	f.Stale = true
	if _, err := qc.writeLocked(ctx, sk, f); err != nil {
		qc.log.Warn("mark stale", Fields{"key": sk, "err": err})
	}
}

// Set writes v as the current value of key (optimistic patch or authoritative
// result). Any fetch in flight for key will not overwrite it.
func (qc *QueryCache[V]) Set(ctx context.Context, key string, v V) error {
	payload, err := qc.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("ticketcache: encode %s/%s: %w", qc.ns, key, err)
	}
	return qc.put(ctx, "set", key, EventUpdated, func(g uint64) *wire.Frame {
		return &wire.Frame{Gen: g, FetchedAt: qc.now(), Payload: payload}
	})
}

// Remove deletes key's value. Any fetch in flight for key will not restore it.
func (qc *QueryCache[V]) Remove(ctx context.Context, key string) error {
	return qc.put(ctx, "remove", key, EventRemoved, nil)
}

// Snapshot captures key's stored entry for a later Restore.
func (qc *QueryCache[V]) Snapshot(ctx context.Context, key string) (SnapshotEntry, error) {
	s := SnapshotEntry{Namespace: qc.ns, Key: key}
	sk := qc.storageKey(key)

	qc.mu.Lock()
	defer qc.mu.Unlock()
	if qc.closed {
		return s, ErrClosed
	}
	raw, ok, err := qc.provider.Get(ctx, sk)
	if err != nil {
		return s, &WriteError{Op: "snapshot", Key: key, StoreErr: err}
	}
	if !ok {
		return s, nil
	}
	f, err := wire.Decode(raw)
	if err != nil {
		// corrupt frames are never restored
		return s, nil
	}
	g, err := qc.gen.Snapshot(ctx, sk)
	if err != nil {
		qc.hooks.GenSnapshotError(1, err)
		return s, &WriteError{Op: "snapshot", Key: key, GenErr: err}
	}
	if f.Gen != g {
		return s, nil
	}
	s.Present = true
	s.Payload = bytes.Clone(f.Payload)
	s.FetchedAt = f.FetchedAt
	s.Stale = f.Stale
	return s, nil
}

// Restore puts a snapshot back: payload bytes, fetch time and staleness are
// exactly those captured. Restoring an absent snapshot removes the key.
func (qc *QueryCache[V]) Restore(ctx context.Context, s SnapshotEntry) error {
	if s.Namespace != qc.ns {
		return fmt.Errorf("%w: %q into %q", ErrNamespace, s.Namespace, qc.ns)
	}
	return qc.put(ctx, "restore", s.Key, EventRestored, func(g uint64) *wire.Frame {
		if !s.Present {
			return nil
		}
		return &wire.Frame{Gen: g, FetchedAt: s.FetchedAt, Stale: s.Stale, Payload: s.Payload}
	})
}

// put bumps key's generation and stores the frame built for the new
// generation, or deletes the value when frame returns nil.
func (qc *QueryCache[V]) put(ctx context.Context, op, key string, kind EventKind, frame func(gen uint64) *wire.Frame) error {
	sk := qc.storageKey(key)

	qc.mu.Lock()
	if qc.closed {
		qc.mu.Unlock()
		return ErrClosed
	}
	g, err := qc.gen.Bump(ctx, sk)
	if err != nil {
		qc.hooks.GenBumpError(sk, err)
		// without a new generation the old frame can't be trusted either
		delErr := qc.provider.Del(ctx, sk)
		qc.mu.Unlock()
		return &WriteError{Op: op, Key: key, GenErr: err, StoreErr: delErr}
	}

	var f *wire.Frame
	if frame != nil {
		f = frame(g)
	}
	if f == nil {
		err = qc.provider.Del(ctx, sk)
	} else {
		_, err = qc.writeLocked(ctx, sk, *f)
	}
	e := qc.ensure(key)
	e.idleSince = qc.now()
	ls := e.listenerList()
	qc.mu.Unlock()

	if err != nil {
		return &WriteError{Op: op, Key: key, StoreErr: err}
	}
	qc.notify(ls, Event{Namespace: qc.ns, Key: key, Kind: kind})
	return nil
}

// writeLocked encodes and stores a frame. Caller holds mu.
func (qc *QueryCache[V]) writeLocked(ctx context.Context, sk string, f wire.Frame) (bool, error) {
	raw, err := wire.Encode(f)
	if err != nil {
		return false, err
	}
	ok, err := qc.provider.Set(ctx, sk, raw, qc.cost(sk, raw), qc.ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		qc.hooks.ProviderSetRejected(sk)
		qc.log.Debug("provider rejected set (pressure)", Fields{"key": sk})
	}
	return ok, nil
}

// read decodes and validates the stored frame. Invalid frames are deleted.
func (qc *QueryCache[V]) read(ctx context.Context, key string) (Lookup[V], bool) {
	var zero Lookup[V]
	if qc.isClosed() {
		return zero, false
	}
	sk := qc.storageKey(key)
	raw, ok, err := qc.provider.Get(ctx, sk)
	if err != nil {
		qc.log.Warn("provider get failed", Fields{"key": sk, "err": err})
		return zero, false
	}
	if !ok {
		return zero, false
	}
	f, err := wire.Decode(raw)
	if err != nil {
		qc.selfHeal(ctx, sk, raw, "corrupt")
		return zero, false
	}
	g, err := qc.gen.Snapshot(ctx, sk)
	if err != nil {
		// can't validate; treat as miss without deleting
		qc.hooks.GenSnapshotError(1, err)
		qc.log.Warn("gen snapshot error", Fields{"key": sk, "err": err})
		return zero, false
	}
	if f.Gen != g {
		qc.selfHeal(ctx, sk, raw, "gen_mismatch")
		return zero, false
	}
	v, err := qc.codec.Decode(f.Payload)
	if err != nil {
		qc.selfHeal(ctx, sk, raw, "value_decode")
		return zero, false
	}
	return Lookup[V]{
		Value:     v,
		FetchedAt: f.FetchedAt,
		Stale:     f.Stale || qc.now().Sub(f.FetchedAt) > qc.freshness,
	}, true
}

// selfHeal deletes raw unless a writer replaced it since it was read.
func (qc *QueryCache[V]) selfHeal(ctx context.Context, sk string, raw []byte, reason string) {
	qc.mu.Lock()
	cur, ok, err := qc.provider.Get(ctx, sk)
	if err == nil && ok && bytes.Equal(cur, raw) {
		_ = qc.provider.Del(ctx, sk)
	}
	qc.mu.Unlock()
	qc.stats.selfHeals.Add(1)
	qc.hooks.SelfHeal(sk, reason)
	qc.log.Debug("self-healed entry", Fields{"key": sk, "reason": reason})
}

// Subscribe registers l for changes to key. The subscription counts as a
// reference: the entry is never evicted while subscribed. l may be nil.
func (qc *QueryCache[V]) Subscribe(key string, l Listener) (cancel func()) {
	qc.mu.Lock()
	e := qc.ensure(key)
	e.refs++
	qc.nextID++
	id := qc.nextID
	if l != nil {
		if e.listeners == nil {
			e.listeners = make(map[uint64]Listener)
		}
		e.listeners[id] = l
	}
	qc.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			qc.mu.Lock()
			defer qc.mu.Unlock()
			delete(e.listeners, id)
			if e.refs--; e.refs <= 0 {
				e.refs = 0
				e.idleSince = qc.now()
			}
		})
	}
}

// Acquire holds a reference to key without listening.
func (qc *QueryCache[V]) Acquire(key string) (release func()) {
	return qc.Subscribe(key, nil)
}

// Evict removes entries nobody references whose idle age exceeds the
// retention window, and forgets their generations.
func (qc *QueryCache[V]) Evict(ctx context.Context) int {
	qc.mu.Lock()
	if qc.closed {
		qc.mu.Unlock()
		return 0
	}
	now := qc.now()
	var gone []string
	for key, e := range qc.entries {
		if e.refs > 0 || now.Sub(e.idleSince) <= qc.retention {
			continue
		}
		sk := qc.storageKey(key)
		if err := qc.provider.Del(ctx, sk); err != nil {
			qc.log.Warn("evict delete failed", Fields{"key": sk, "err": err})
			continue
		}
		delete(qc.entries, key)
		gone = append(gone, sk)
	}
	if len(gone) > 0 {
		if err := qc.gen.Forget(ctx, gone...); err != nil {
			qc.log.Warn("forget generations", Fields{"ns": qc.ns, "count": len(gone), "err": err})
		}
	}
	qc.mu.Unlock()

	if n := len(gone); n > 0 {
		qc.stats.evictions.Add(uint64(n))
		qc.hooks.Evicted(qc.ns, n)
		qc.log.Debug("evicted entries", Fields{"ns": qc.ns, "count": n})
	}
	return len(gone)
}

// Keys returns the tracked keys in sorted order.
func (qc *QueryCache[V]) Keys() []string {
	qc.mu.Lock()
	out := make([]string, 0, len(qc.entries))
	for k := range qc.entries {
		out = append(out, k)
	}
	qc.mu.Unlock()
	sort.Strings(out)
	return out
}

func (qc *QueryCache[V]) Stats() Stats {
	return Stats{
		Hits:          qc.stats.hits.Load(),
		StaleHits:     qc.stats.staleHits.Load(),
		Misses:        qc.stats.misses.Load(),
		Fetches:       qc.stats.fetches.Load(),
		SharedFetches: qc.stats.shared.Load(),
		FetchErrors:   qc.stats.fetchErrors.Load(),
		WritesSkipped: qc.stats.writesSkipped.Load(),
		SelfHeals:     qc.stats.selfHeals.Load(),
		Evictions:     qc.stats.evictions.Load(),
	}
}

// Close stops the sweep, waits for in-flight fetches, deletes this cache's
// entries and, unless LeaveOpen was set, closes the GenStore and Provider.
// Nothing written by a closed cache is visible to a later one.
func (qc *QueryCache[V]) Close(ctx context.Context) error {
	var err error
	qc.closeOnce.Do(func() {
		if qc.stopCh != nil {
			close(qc.stopCh)
			qc.sweepWg.Wait()
			qc.ticker.Stop()
		}

		qc.mu.Lock()
		qc.closed = true
		keys := make([]string, 0, len(qc.entries))
		for k := range qc.entries {
			keys = append(keys, qc.storageKey(k))
		}
		qc.mu.Unlock()

		qc.cancel()
		qc.flights.Wait()

		for _, sk := range keys {
			_ = qc.provider.Del(ctx, sk) // best effort
		}
		qc.mu.Lock()
		qc.entries = make(map[string]*entry)
		qc.mu.Unlock()

		if !qc.leaveOpen {
			err = errors.Join(qc.gen.Close(ctx), qc.provider.Close(ctx))
		}
	})
	return err
}

// begin registers an in-flight fetch unless the cache is closed.
func (qc *QueryCache[V]) begin() bool {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	if qc.closed {
		return false
	}
	qc.flights.Add(1)
	return true
}

func (qc *QueryCache[V]) isClosed() bool {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	return qc.closed
}

// observe returns key's invalidation epoch, tracking the key if new.
func (qc *QueryCache[V]) observe(key string) uint64 {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	return qc.ensure(key).epoch
}

// ensure returns key's entry, creating it. Caller holds mu.
func (qc *QueryCache[V]) ensure(key string) *entry {
	e := qc.entries[key]
	if e == nil {
		e = &entry{idleSince: qc.now()}
		qc.entries[key] = e
	}
	return e
}

func (qc *QueryCache[V]) notify(ls []Listener, ev Event) {
	for _, l := range ls {
		l.OnEvent(ev)
	}
}

func (qc *QueryCache[V]) storageKey(key string) string {
	// isolate by namespace
	return "q:" + qc.ns + ":" + key
}
