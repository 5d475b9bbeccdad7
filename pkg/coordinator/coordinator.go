// Package coordinator implements the Instance Coordinator (C7): claim
// arbitration over which running instance owns a symbol, so multiple
// collector processes never double-subscribe the same market data.
// Three implementations share one Coordinator contract: a single-
// instance no-op, a file-lock coordinator using an atomic-rename claim
// directory, and a Raft-backed coordinator for multi-node deployments.
package coordinator

import "time"

// Claim records which instance owns a symbol and when it last renewed
// its heartbeat, matching the persisted-state shape in spec.md §6.
type Claim struct {
	InstanceID  string    `json:"instanceId"`
	Symbol      string    `json:"symbol"`
	HeartbeatAt time.Time `json:"heartbeatAt"`
}

// Coordinator arbitrates symbol ownership across instances. A symbol is
// claimed by exactly one instance; a claim whose HeartbeatAt is older
// than TTL is reclaimable by any instance via ReclaimStale.
type Coordinator interface {
	// TryClaim attempts to claim symbol for this instance. It returns
	// true if the claim is now held by this instance (either newly
	// acquired or already owned), false if another instance holds it.
	TryClaim(symbol string) (bool, error)

	// Release gives up a claim this instance holds. Releasing a symbol
	// not held by this instance is a no-op.
	Release(symbol string) error

	// RefreshHeartbeat renews the HeartbeatAt timestamp on every claim
	// this instance currently holds.
	RefreshHeartbeat() error

	// GetOwned returns the symbols currently claimed by this instance.
	GetOwned() ([]string, error)

	// GetAllClaims returns every known claim, regardless of owner.
	GetAllClaims() ([]Claim, error)

	// ReclaimStale releases any claim whose HeartbeatAt is older than
	// TTL, making that symbol available again. It returns the symbols
	// that were reclaimed.
	ReclaimStale(ttl time.Duration) ([]string, error)
}

// DefaultTTL computes the default reclaim TTL from a heartbeat interval
// per spec.md §4.3: 3x the interval.
func DefaultTTL(heartbeatInterval time.Duration) time.Duration {
	return 3 * heartbeatInterval
}
