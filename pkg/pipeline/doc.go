// Package pipeline implements the bounded multi-producer, single-consumer
// event queue: non-blocking TryPublish, a single Run goroutine draining
// into a Sink in publish order, high-water-mark warnings at 70%/90%
// depth, and a bounded drain on shutdown.
package pipeline
