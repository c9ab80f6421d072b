// Package discovery finds node-control daemons with mDNS/DNS-SD.
//
// Daemons (or a sidecar announcing on their behalf) advertise the
// _nodesync._tcp service. The instance name is user-friendly; the TXT
// records describe how to open the websocket:
//
//	path   websocket path (default "/ws")
//	tls    "1" when the daemon expects wss://
//	codec  envelope codec, "json" when absent
//	ver    protocol version
//
// Browsing aggregates addresses per instance across interfaces, so one
// daemon reachable over IPv4 and IPv6 is reported once.
package discovery
