package model

import (
	"fmt"
	"sort"
)

// NodeID identifies a node across the whole network ("<home_id>:<node_id>").
type NodeID string

// NewNodeID builds the stable node identifier used by the daemon.
func NewNodeID(homeID uint32, nodeID uint8) NodeID {
	return NodeID(fmt.Sprintf("%d:%d", homeID, nodeID))
}

// ValueID identifies a value within its node.
type ValueID string

// Genre classifies a value.
type Genre int

const (
	GenreBasic Genre = iota
	GenreUser
	GenreConfig
	GenreSystem
)

// String returns the genre name.
func (g Genre) String() string {
	switch g {
	case GenreBasic:
		return "Basic"
	case GenreUser:
		return "User"
	case GenreConfig:
		return "Config"
	case GenreSystem:
		return "System"
	default:
		return "UNKNOWN"
	}
}

// ValueType is the data type of a value.
type ValueType int

const (
	ValueTypeBool ValueType = iota
	ValueTypeByte
	ValueTypeDecimal
	ValueTypeInt
	ValueTypeList
	ValueTypeSchedule
	ValueTypeShort
	ValueTypeString
	ValueTypeButton
	ValueTypeRaw
)

// String returns the value type name.
func (t ValueType) String() string {
	switch t {
	case ValueTypeBool:
		return "Bool"
	case ValueTypeByte:
		return "Byte"
	case ValueTypeDecimal:
		return "Decimal"
	case ValueTypeInt:
		return "Int"
	case ValueTypeList:
		return "List"
	case ValueTypeSchedule:
		return "Schedule"
	case ValueTypeShort:
		return "Short"
	case ValueTypeString:
		return "String"
	case ValueTypeButton:
		return "Button"
	case ValueTypeRaw:
		return "Raw"
	default:
		return "UNKNOWN"
	}
}

// Value is a single data point of a node.
//
// Everything except String and ButtonPress is metadata reported by the daemon
// and treated as immutable once received.
type Value struct {
	ValueID        uint64    `json:"value_id" cbor:"value_id" msgpack:"value_id"`
	NodeID         uint8     `json:"node_id" cbor:"node_id" msgpack:"node_id"`
	Genre          Genre     `json:"genre" cbor:"genre" msgpack:"genre"`
	CommandClassID uint8     `json:"command_class_id" cbor:"command_class_id" msgpack:"command_class_id"`
	Type           ValueType `json:"type" cbor:"type" msgpack:"type"`
	ReadOnly       bool      `json:"read_only" cbor:"read_only" msgpack:"read_only"`
	WriteOnly      bool      `json:"write_only" cbor:"write_only" msgpack:"write_only"`
	Set            bool      `json:"set" cbor:"set" msgpack:"set"`
	Polled         bool      `json:"polled" cbor:"polled" msgpack:"polled"`
	Label          string    `json:"label" cbor:"label" msgpack:"label"`
	Units          string    `json:"units" cbor:"units" msgpack:"units"`
	Help           string    `json:"help" cbor:"help" msgpack:"help"`
	Min            int32     `json:"min" cbor:"min" msgpack:"min"`
	Max            int32     `json:"max" cbor:"max" msgpack:"max"`

	// String is the current value rendered as text. Client-writable.
	String string `json:"string" cbor:"string" msgpack:"string"`

	// ButtonPress asks the daemon to "press" a write-only button value.
	// It is only ever set on outgoing drafts.
	ButtonPress bool `json:"button_press,omitempty" cbor:"button_press,omitempty" msgpack:"button_press,omitempty"`
}

// Node is a device on the network as reported by the daemon.
type Node struct {
	ID               NodeID            `json:"node_info_id" cbor:"node_info_id" msgpack:"node_info_id"`
	HomeID           uint32            `json:"home_id" cbor:"home_id" msgpack:"home_id"`
	NodeID           uint8             `json:"node_id" cbor:"node_id" msgpack:"node_id"`
	BasicType        uint8             `json:"basic_type" cbor:"basic_type" msgpack:"basic_type"`
	GenericType      uint8             `json:"generic_type" cbor:"generic_type" msgpack:"generic_type"`
	SpecificType     uint8             `json:"specific_type" cbor:"specific_type" msgpack:"specific_type"`
	NodeType         string            `json:"node_type" cbor:"node_type" msgpack:"node_type"`
	ManufacturerName string            `json:"manufacturer_name" cbor:"manufacturer_name" msgpack:"manufacturer_name"`
	ProductName      string            `json:"product_name" cbor:"product_name" msgpack:"product_name"`
	Name             string            `json:"node_name" cbor:"node_name" msgpack:"node_name"`
	Location         string            `json:"location" cbor:"location" msgpack:"location"`
	ManufacturerID   string            `json:"manufacturer_id" cbor:"manufacturer_id" msgpack:"manufacturer_id"`
	ProductType      string            `json:"product_type" cbor:"product_type" msgpack:"product_type"`
	ProductID        string            `json:"product_id" cbor:"product_id" msgpack:"product_id"`
	Values           map[ValueID]Value `json:"values" cbor:"values" msgpack:"values"`
}

// Title returns the display title used by presentation code:
// the node name (or "Node <n>") followed by the location, if any.
func (n Node) Title() string {
	title := fmt.Sprintf("Node %d", n.NodeID)
	if n.Name != "" {
		title = n.Name
	}
	if n.Location != "" {
		title += " - " + n.Location
	}
	return title
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	c := n
	if n.Values != nil {
		c.Values = make(map[ValueID]Value, len(n.Values))
		for id, v := range n.Values {
			c.Values[id] = v
		}
	}
	return c
}

// ValueIDs returns the node's value ids in lexical order.
func (n Node) ValueIDs() []ValueID {
	ids := make([]ValueID, 0, len(n.Values))
	for id := range n.Values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CloneNodes deep-copies a node slice. A nil input yields an empty slice.
func CloneNodes(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}
