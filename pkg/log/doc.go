/*
Package log provides structured logging for the collector using zerolog.

Init configures the global logger once at startup (JSON for production,
console for development). WithComponent and the other WithXxx helpers
return a child logger carrying a fixed context field, the same way every
long-lived component (pipeline, orchestrator, scheduler, ...) tags its
own logs.
*/
package log
