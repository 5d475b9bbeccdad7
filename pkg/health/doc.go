// Package health implements the Connection Health Monitor (C4): per-
// provider-channel heartbeat tracking, missed-heartbeat counting,
// reconnect counters, and a running latency distribution (min/max/mean/
// EWMA). A Monitor owns one ticker that checks every registered
// connection's staleness each HeartbeatInterval and raises Events on a
// Handler when a connection misses a heartbeat, is marked disconnected,
// or reconnects.
package health
