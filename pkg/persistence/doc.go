// Package persistence keeps the last known node snapshot on disk.
//
// The cache lets a client show the collection it saw last while the daemon
// is unreachable. It is a single JSON document per daemon; it is replaced on
// every saved snapshot and is never merged with live data.
package persistence
