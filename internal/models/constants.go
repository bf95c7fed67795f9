package models

import "time"

const (
	StatusPending    = "pending"
	StatusAccepted   = "accepted"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// StatusVerbs maps a target booking status to the transition verb on the
// remote API (POST /bookings/{id}/{verb}).
var StatusVerbs = map[string]string{
	StatusAccepted:   "accept",
	StatusInProgress: "start",
	StatusCompleted:  "complete",
	StatusCancelled:  "cancel",
}

// Cache collection names. The queue lives in its own table; these are the
// entity caches sharing the same store.
const (
	CollectionBookings  = "bookings"
	CollectionProviders = "providers"
	CollectionServices  = "services"
)

const (
	// MaxSyncRetries bounds retriable attempts per mutation; the mutation is
	// abandoned and surfaced as failed once the count is reached.
	MaxSyncRetries = 5

	// DefaultDebounceWindow is how long a connectivity signal must hold
	// steady before it is committed.
	DefaultDebounceWindow = 500 * time.Millisecond

	// DefaultCacheMaxAge is the expiry for reference data (providers,
	// services); bookings are never swept by age.
	DefaultCacheMaxAge = 24 * time.Hour

	// DefaultRequestTimeout bounds a single remote call so a hung request
	// cannot hold the sync lock forever.
	DefaultRequestTimeout = 30 * time.Second
)
