// Package connection provides connection lifecycle management.
//
// A Manager tracks the state of a single logical connection and re-runs a
// ConnectFunc whenever the connection is lost.
//
// # Reconnection Strategy
//
// Reconnection uses a fixed delay, not a backoff:
//
//  1. The connection closes (cleanly, on error, or because an attempt failed)
//  2. The manager waits the configured delay (5 seconds by default)
//  3. One new attempt is made
//  4. On failure, go back to step 2
//
// There is no cap on the number of attempts unless one is configured.
//
// # States
//
//	DISCONNECTED -> CONNECTING -> CONNECTED
//	                    ^             |
//	                    |             v
//	                 RECONNECTING <---+
//
// CLOSED is terminal and entered only through Close.
package connection
