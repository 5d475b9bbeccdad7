/*
Package types defines the core data structures shared across the
collector: desired subscription state, the tagged-union market event,
connection health, cron schedules and their execution history,
degradation scores, and alerts.

All types favor plain value structs over inheritance; MarketEvent in
particular is a single struct with a Type discriminator and one
populated payload field per kind, rather than a family of event types
related by a marker interface.
*/
package types
