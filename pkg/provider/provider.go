// Package provider declares the abstract collaborator contracts the core
// engine depends on: a market-data provider client and an archive sink.
// Neither has a concrete implementation here — per spec.md §6 these are
// the only collaborators the core needs abstractly, the same way the
// teacher's pkg/client only declares a typed RPC surface without owning
// the transport.
package provider

import (
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/types"
)

// SubscriptionID is the id returned by a successful subscribe call.
// Values ≤ 0 indicate failure; types.FailedSubscriptionID (-1) is the
// sentinel the orchestrator stores for a failed attempt so it retries on
// the next Apply.
type SubscriptionID = int64

// EventHandler is invoked by a Client on arbitrary provider-owned
// goroutines whenever a new MarketEvent arrives. Handlers MUST NOT
// block — they exist only to call Pipeline.TryPublish and return.
type EventHandler func(*types.MarketEvent)

// Client is the market-data provider contract. A provider adapter
// (e.g. a websocket client for a specific vendor) implements this
// interface; the orchestrator depends only on it.
type Client interface {
	// SubscribeTrades requests a trade stream for spec and returns a
	// subscription id (≥ 1 on success).
	SubscribeTrades(spec *types.SymbolSpec) (SubscriptionID, error)

	// SubscribeMarketDepth requests a depth stream for spec (equities
	// only; callers must not invoke this for option symbols).
	SubscribeMarketDepth(spec *types.SymbolSpec) (SubscriptionID, error)

	// UnsubscribeTrades cancels a previously granted trade subscription.
	// Implementations must be idempotent and best-effort: an unknown or
	// already-cancelled id is not an error.
	UnsubscribeTrades(id SubscriptionID) error

	// UnsubscribeMarketDepth cancels a previously granted depth
	// subscription, with the same idempotent, best-effort contract.
	UnsubscribeMarketDepth(id SubscriptionID) error

	// OnEvent registers the callback invoked for every event the
	// provider delivers, across all active subscriptions.
	OnEvent(handler EventHandler)

	// IsEnabled reports whether this provider is currently usable
	// (credentials present, connectivity established).
	IsEnabled() bool
}

// Sink is the archive writer contract (spec.md §6). A single writer per
// (symbol, date, type) is assumed; the pipeline consumer serializes all
// calls into one Sink, so implementations need not be internally
// concurrency-safe across symbols unless they choose to be.
type Sink interface {
	Write(*types.MarketEvent) error
	Flush() error
	Close() error
}
