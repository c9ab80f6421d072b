// Package wire defines the message envelope exchanged with the node daemon.
//
// Every websocket frame carries exactly one envelope:
//
//	{"topic": "<name>", "payload": <any>}
//
// The payload is optional and its shape depends on the topic. Envelopes are
// encoded with a Codec. JSON is the default and travels in text frames; CBOR
// and MessagePack travel in binary frames and use the same field names.
//
// # Topics
//
// Client to daemon:
//   - get-nodes: request a full snapshot
//   - set-node: submit a full node
//   - toggle-node: flip a node's primary on/off state
//
// Daemon to client:
//   - nodes: full snapshot
//   - node-updated: a single node changed
//   - update-failed: a previous request failed
package wire
