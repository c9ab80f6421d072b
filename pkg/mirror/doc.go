// Package mirror republishes the node collection to an MQTT broker.
//
// Each node is published as retained JSON under <prefix>/nodes/<node_info_id>.
// A node that disappears from the collection is cleared with an empty
// retained message. The connection state is published to <prefix>/status,
// which is also registered as the client's last will.
package mirror
