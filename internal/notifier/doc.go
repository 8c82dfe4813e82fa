// Package notifier delivers short operational notices to job owners and to
// the operator chat.
//
// Notices go through an async pipeline: a bounded queue, a small worker pool,
// a token-bucket limiter and jittered exponential retry. An optional dedup
// window suppresses identical notices, and can be persisted so it survives a
// restart. Lifecycle events are published on the event bus.
package notifier
