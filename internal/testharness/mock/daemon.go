// Package mock provides an in-process node daemon for tests.
package mock

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nodesync/nodesync-go/pkg/model"
	"github.com/nodesync/nodesync-go/pkg/wire"
)

// ErrUnknownNode is reported as update-failed for toggles of unknown nodes.
var ErrUnknownNode = errors.New("unknown node")

// Daemon is a websocket node daemon backed by an in-memory collection.
//
// get-nodes is answered with the full collection. set-node replaces the node
// and broadcasts node-updated. toggle-node flips every bool value of the node
// and broadcasts node-updated.
type Daemon struct {
	codec    wire.Codec
	upgrader websocket.Upgrader
	srv      *httptest.Server

	// mu guards the collection and serializes every socket write.
	mu       sync.Mutex
	nodes    []model.Node
	conns    map[*websocket.Conn]struct{}
	received []wire.Message
	failure  string
	accepted int
}

// NewDaemon starts a daemon speaking codec (nil selects JSON) with nodes.
func NewDaemon(codec wire.Codec, nodes ...model.Node) *Daemon {
	if codec == nil {
		codec = wire.JSON
	}
	d := &Daemon{
		codec: codec,
		nodes: model.CloneNodes(nodes),
		conns: make(map[*websocket.Conn]struct{}),
	}
	d.srv = httptest.NewServer(d)
	return d
}

// URL returns the ws:// URL of the daemon.
func (d *Daemon) URL() string {
	return "ws" + strings.TrimPrefix(d.srv.URL, "http") + "/ws"
}

// Close stops the daemon and drops every connection.
func (d *Daemon) Close() {
	d.DropConnections()
	d.srv.Close()
}

// SetFailure makes every following set-node fail with message. An empty
// message restores normal handling.
func (d *Daemon) SetFailure(message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failure = message
}

// Nodes returns a copy of the collection.
func (d *Daemon) Nodes() []model.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return model.CloneNodes(d.nodes)
}

// Received returns the topics received so far, in order.
func (d *Daemon) Received() []wire.Topic {
	d.mu.Lock()
	defer d.mu.Unlock()
	topics := make([]wire.Topic, len(d.received))
	for i, m := range d.received {
		topics[i] = m.Topic
	}
	return topics
}

// Count returns how many messages with topic were received.
func (d *Daemon) Count(topic wire.Topic) int {
	n := 0
	for _, t := range d.Received() {
		if t == topic {
			n++
		}
	}
	return n
}

// Accepted returns the number of upgraded connections so far.
func (d *Daemon) Accepted() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.accepted
}

// Connections returns the number of open connections.
func (d *Daemon) Connections() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// Push replaces or appends node and broadcasts node-updated.
func (d *Daemon) Push(node model.Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.upsertLocked(node)
	d.broadcastLocked(wire.TopicNodeUpdated, node)
}

// Replace swaps the collection and broadcasts nodes.
func (d *Daemon) Replace(nodes ...model.Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes = model.CloneNodes(nodes)
	d.broadcastLocked(wire.TopicNodes, d.nodes)
}

// DropConnections closes every open socket without a close frame.
func (d *Daemon) DropConnections() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for conn := range d.conns {
		conn.Close()
		delete(d.conns, conn)
	}
}

// ServeHTTP implements http.Handler.
func (d *Daemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	d.mu.Lock()
	d.conns[conn] = struct{}{}
	d.accepted++
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.conns, conn)
		d.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := d.codec.Decode(data)
		if err != nil {
			continue
		}
		d.handle(conn, msg)
	}
}

func (d *Daemon) handle(conn *websocket.Conn, msg wire.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.received = append(d.received, msg)

	switch msg.Topic {
	case wire.TopicGetNodes:
		d.writeLocked(conn, wire.TopicNodes, d.nodes)

	case wire.TopicSetNode:
		node, err := msg.DecodeNode()
		if err != nil {
			d.writeLocked(conn, wire.TopicUpdateFailed, err.Error())
			return
		}
		if d.failure != "" {
			d.writeLocked(conn, wire.TopicUpdateFailed, wire.FailurePayload{Message: d.failure})
			return
		}
		// Button presses are transient and never stored.
		for id, v := range node.Values {
			v.ButtonPress = false
			node.Values[id] = v
		}
		d.upsertLocked(node)
		d.broadcastLocked(wire.TopicNodeUpdated, node)

	case wire.TopicToggleNode:
		var p wire.TogglePayload
		if err := msg.Decode(&p); err != nil {
			d.writeLocked(conn, wire.TopicUpdateFailed, err.Error())
			return
		}
		i := d.indexLocked(p.NodeID)
		if i < 0 {
			d.writeLocked(conn, wire.TopicUpdateFailed, ErrUnknownNode.Error()+": "+string(p.NodeID))
			return
		}
		node := d.nodes[i].Clone()
		for id, v := range node.Values {
			if v.Type != model.ValueTypeBool || v.ReadOnly {
				continue
			}
			if v.String == "true" {
				v.String = "false"
			} else {
				v.String = "true"
			}
			node.Values[id] = v
		}
		d.nodes[i] = node
		d.broadcastLocked(wire.TopicNodeUpdated, node)
	}
}

func (d *Daemon) indexLocked(id model.NodeID) int {
	for i, n := range d.nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (d *Daemon) upsertLocked(node model.Node) {
	if i := d.indexLocked(node.ID); i >= 0 {
		d.nodes[i] = node.Clone()
		return
	}
	d.nodes = append(d.nodes, node.Clone())
}

func (d *Daemon) broadcastLocked(topic wire.Topic, payload any) {
	for conn := range d.conns {
		d.writeLocked(conn, topic, payload)
	}
}

func (d *Daemon) writeLocked(conn *websocket.Conn, topic wire.Topic, payload any) {
	data, err := d.codec.Encode(topic, payload)
	if err != nil {
		return
	}
	frameType := websocket.TextMessage
	if d.codec.Binary() {
		frameType = websocket.BinaryMessage
	}
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(frameType, data)
}

// Node builds a node with one writable switch ("sw") and one read-only
// meter ("pwr").
func Node(id model.NodeID, name string) model.Node {
	return model.Node{
		ID:   id,
		Name: name,
		Values: map[model.ValueID]model.Value{
			"sw":  {Label: "Switch", Type: model.ValueTypeBool, Genre: model.GenreUser, String: "false"},
			"pwr": {Label: "Power", Type: model.ValueTypeDecimal, Genre: model.GenreUser, ReadOnly: true, Units: "W", String: "0.0"},
		},
	}
}
