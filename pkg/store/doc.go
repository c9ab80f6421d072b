// Package store reconciles the daemon's node collection with local commands.
//
// NodeStore holds the authoritative collection as last reported by the
// daemon. Inbound messages (via Bind and a router) and local commands are
// serialized by a single mutex; every mutation publishes an immutable
// Snapshot. Snapshots are delivered to subscribers by one notifier goroutine
// in mutation order, so an observer never sees an older state after a newer
// one.
//
// Commands never mutate the collection optimistically. RequestSend and
// RequestToggle only transmit; the daemon answers with node-updated (or
// update-failed) and the store changes when that answer arrives.
//
// ConnectionStore mirrors the transport's connection state with the same
// subscription contract.
package store
