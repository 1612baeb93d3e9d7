package ticketcache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/ticketcache/codec"
	gen "github.com/unkn0wn-root/ticketcache/genstore"
	pr "github.com/unkn0wn-root/ticketcache/provider"
	"github.com/unkn0wn-root/ticketcache/ticket"
)

// SetCostFunc computes the provider cost of a stored frame. Default: len(raw).
type SetCostFunc func(storageKey string, raw []byte) int64

// LoadFunc performs the remote read for a cache key.
type LoadFunc[V any] func(ctx context.Context, key string) (V, error)

// QueryOptions configure a QueryCache.
// Namespace, Provider, Codec and Load are required; others have sensible defaults.
type QueryOptions[V any] struct {
	// Required
	Namespace string // e.g. "list", "detail"; prefixed by the session id in a Session
	Provider  pr.Provider
	Codec     c.Codec[V]
	Load      LoadFunc[V]

	Freshness       time.Duration    // 0 => 5m; older values are served as stale
	Retention       time.Duration    // 0 => 10m; idle time before an unreferenced entry is evicted
	StorageTTL      time.Duration    // provider TTL per frame; 0 => no expiry
	CleanupInterval time.Duration    // 0 => 1m; eviction sweep period
	DisableSweep    bool             // no background Evict; call Evict yourself
	RetryBackoff    time.Duration    // 0 => 1s; wait before the single transient retry
	Timeout         time.Duration    // 0 => 10s; bound on one remote read
	Logger          Logger           // nil => NopLogger
	Hooks           Hooks            // nil => NopHooks
	GenStore        gen.GenStore     // nil => LocalGenStore (in-process)
	ComputeSetCost  SetCostFunc      // nil => len(raw)
	Retryable       func(error) bool // nil => errors exposing Transient() true
	Now             func() time.Time // nil => time.Now
	LeaveOpen       bool             // Close leaves Provider and GenStore open for their owner
}

// Lookup is a cached value as seen by a reader.
type Lookup[V any] struct {
	Value     V
	Stale     bool // invalidated, or older than the freshness window
	FetchedAt time.Time
}

// SnapshotEntry is a serializable copy of one stored entry, taken before an
// optimistic change and restored on rollback. Payload holds the codec bytes
// exactly as stored; an absent entry restores to absent.
type SnapshotEntry struct {
	Namespace string    `json:"namespace"`
	Key       string    `json:"key"`
	Present   bool      `json:"present"`
	Payload   []byte    `json:"payload,omitempty"`
	FetchedAt time.Time `json:"fetchedAt,omitempty"`
	Stale     bool      `json:"stale,omitempty"`
}

// EventKind tells a listener what happened to a key.
type EventKind uint8

const (
	EventFetched     EventKind = iota + 1 // a fetch stored a new value
	EventUpdated                          // a direct Set (optimistic or authoritative)
	EventInvalidated                      // the value was flagged stale
	EventRemoved                          // the value was removed
	EventRestored                         // a rollback snapshot was restored
	EventFetchFailed                      // a fetch failed; the previous value is kept
)

func (k EventKind) String() string {
	switch k {
	case EventFetched:
		return "fetched"
	case EventUpdated:
		return "updated"
	case EventInvalidated:
		return "invalidated"
	case EventRemoved:
		return "removed"
	case EventRestored:
		return "restored"
	case EventFetchFailed:
		return "fetch_failed"
	default:
		return "unknown"
	}
}

// Event is delivered to listeners after the change is visible to readers.
type Event struct {
	Namespace string
	Key       string
	Kind      EventKind
	Err       error // set for EventFetchFailed
}

// Listener observes changes to one cache key. OnEvent runs on the goroutine
// that made the change and must not block.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

// Stats are cumulative counters of one QueryCache.
type Stats struct {
	Hits          uint64
	StaleHits     uint64
	Misses        uint64
	Fetches       uint64 // remote loads started
	SharedFetches uint64 // callers that joined an in-flight load
	FetchErrors   uint64
	WritesSkipped uint64
	SelfHeals     uint64
	Evictions     uint64
}

// Remote is the REST boundary the session reads from and mutates through.
// remote.Client implements it.
type Remote interface {
	// ListTickets takes the canonical query string built by the fingerprint codec.
	ListTickets(ctx context.Context, rawQuery string) (ticket.List, error)
	GetTicket(ctx context.Context, id string) (ticket.Ticket, error)
	CreateTicket(ctx context.Context, req ticket.CreateRequest) (ticket.Ticket, error)
	UpdateTicket(ctx context.Context, id string, req ticket.UpdateRequest) (ticket.Ticket, error)
	DeleteTicket(ctx context.Context, id string) error
	ListComments(ctx context.Context, ticketID string) ([]ticket.Comment, error)
	AddComment(ctx context.Context, ticketID string, req ticket.CommentRequest) (ticket.Comment, error)
}
