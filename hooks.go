package ticketcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// A stored frame was deleted by the cache on read.
	// reason ∈ {"corrupt", "gen_mismatch", "value_decode"}
	SelfHeal(storageKey, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// GenStore errors (snapshot or bump).
	GenSnapshotError(count int, err error)
	GenBumpError(storageKey string, err error)

	// A remote read failed after retries. The previous value, if any, is kept
	// and flagged stale.
	FetchFailed(storageKey string, err error)

	// A fetch result was dropped because the key was written while the fetch
	// was in flight.
	WriteSkipped(storageKey string)

	// An eviction pass removed count entries from namespace.
	Evicted(namespace string, count int)

	// A mutation reached Committed or RolledBack. err is nil on commit.
	MutationSettled(kind MutationKind, entityID string, state MutationState, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)                                    {}
func (NopHooks) ProviderSetRejected(string)                                 {}
func (NopHooks) GenSnapshotError(int, error)                                {}
func (NopHooks) GenBumpError(string, error)                                 {}
func (NopHooks) FetchFailed(string, error)                                  {}
func (NopHooks) WriteSkipped(string)                                        {}
func (NopHooks) Evicted(string, int)                                        {}
func (NopHooks) MutationSettled(MutationKind, string, MutationState, error) {}
