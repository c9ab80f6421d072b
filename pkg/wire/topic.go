package wire

import "github.com/nodesync/nodesync-go/pkg/model"

// Topic names a message kind.
type Topic string

// Outbound topics.
const (
	TopicGetNodes   Topic = "get-nodes"
	TopicSetNode    Topic = "set-node"
	TopicToggleNode Topic = "toggle-node"
)

// Inbound topics.
const (
	TopicNodes        Topic = "nodes"
	TopicNodeUpdated  Topic = "node-updated"
	TopicUpdateFailed Topic = "update-failed"
)

// String returns the topic name.
func (t Topic) String() string {
	return string(t)
}

// IsInbound reports whether the daemon sends this topic.
func (t Topic) IsInbound() bool {
	switch t {
	case TopicNodes, TopicNodeUpdated, TopicUpdateFailed:
		return true
	default:
		return false
	}
}

// IsOutbound reports whether the client sends this topic.
func (t Topic) IsOutbound() bool {
	switch t {
	case TopicGetNodes, TopicSetNode, TopicToggleNode:
		return true
	default:
		return false
	}
}

// TogglePayload is the payload of a toggle-node message.
type TogglePayload struct {
	NodeID model.NodeID `json:"node_info_id" cbor:"node_info_id" msgpack:"node_info_id"`
}

// FailurePayload is the object form of an update-failed payload.
type FailurePayload struct {
	Message string `json:"message" cbor:"message" msgpack:"message"`
}
