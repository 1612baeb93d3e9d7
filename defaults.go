package ticketcache

import "time"

// Cache defaults. Lists and details share the freshness window; details are
// kept around longer since they change less often than list pages.
const (
	defaultFreshness        = 5 * time.Minute
	defaultRetention        = 10 * time.Minute
	defaultDetailRetention  = 30 * time.Minute
	defaultCommentFreshness = 2 * time.Minute
	defaultCommentRetention = 5 * time.Minute
	defaultCleanupInterval  = time.Minute
	defaultRetryBackoff     = time.Second
	defaultTimeout          = 10 * time.Second
	defaultPageSize         = 12
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
