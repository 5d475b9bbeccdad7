// Package coordinator implements the Instance Coordinator (C7): one
// Coordinator interface with a no-op (single-instance), file-lock
// (shared filesystem), and Raft-backed (multi-node) implementation, so
// the orchestrator can filter desired symbols through TryClaim before
// subscribing regardless of deployment topology.
package coordinator
