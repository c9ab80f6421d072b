package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nodesync/nodesync-go/pkg/log"
	"github.com/nodesync/nodesync-go/pkg/model"
	"github.com/nodesync/nodesync-go/pkg/router"
	"github.com/nodesync/nodesync-go/pkg/wire"
)

// Store errors.
var (
	ErrUnknownNode = errors.New("unknown node")
	ErrMissingID   = errors.New("node has no node_info_id")
	ErrNoSender    = errors.New("no sender")
	ErrStoreClosed = errors.New("store closed")
)

// Snapshot causes, recorded in protocol events.
const (
	CauseFetch   = "fetch"
	CauseReplace = "nodes"
	CauseUpdate  = "node-updated"
	CauseFailure = "update-failed"
	CauseRestore = "restore"
)

// Sender transmits an envelope. *transport.Transport implements it.
type Sender interface {
	Send(topic wire.Topic, payload any) error
}

// Config configures a NodeStore.
type Config struct {
	Sender         Sender
	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// NodeStore is the reconciliation store for the node collection.
type NodeStore struct {
	sender Sender
	logger *slog.Logger
	plog   log.Logger

	// mu serializes every mutation and command, including the send.
	mu      sync.Mutex
	nodes   []model.Node
	index   map[model.NodeID]int
	err     string
	loading bool
	version uint64
	closed  bool

	notify *notifier[Snapshot]
}

// NewNodeStore creates an empty store.
func NewNodeStore(cfg Config) *NodeStore {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")
	return &NodeStore{
		sender: cfg.Sender,
		logger: logger,
		plog:   log.OrNoop(cfg.ProtocolLogger),
		index:  make(map[model.NodeID]int),
		notify: newNotifier[Snapshot](logger),
	}
}

// Bind registers the store's handlers for the inbound topics.
func (s *NodeStore) Bind(r *router.Router) {
	r.Register(wire.TopicNodes, s.handleNodes)
	r.Register(wire.TopicNodeUpdated, s.handleNodeUpdated)
	r.Register(wire.TopicUpdateFailed, s.handleUpdateFailed)
}

func (s *NodeStore) handleNodes(msg wire.Message) error {
	nodes, err := msg.DecodeNodes()
	if err != nil {
		return err
	}
	return s.ApplyFullReplace(nodes)
}

func (s *NodeStore) handleNodeUpdated(msg wire.Message) error {
	node, err := msg.DecodeNode()
	if err != nil {
		return err
	}
	return s.ApplySingleUpdate(node)
}

func (s *NodeStore) handleUpdateFailed(msg wire.Message) error {
	text, err := msg.DecodeFailure()
	if err != nil {
		return err
	}
	s.RecordError(text)
	return nil
}

// RequestFetch clears the collection, marks the store loading and asks the
// daemon for a full snapshot. When get-nodes cannot be sent the store leaves
// the loading state and records the error.
func (s *NodeStore) RequestFetch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	s.nodes = nil
	s.index = make(map[model.NodeID]int)
	s.loading = true
	s.publishLocked(CauseFetch)

	if err := s.sendLocked(wire.TopicGetNodes, nil); err != nil {
		s.loading = false
		s.err = err.Error()
		s.publishLocked(CauseFailure)
		return err
	}
	return nil
}

// ApplyFullReplace replaces the collection with nodes and clears the error
// and loading flags. Nodes absent from the list are removed. A repeated id
// keeps its first position and its last content.
func (s *NodeStore) ApplyFullReplace(nodes []model.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	next := make([]model.Node, 0, len(nodes))
	index := make(map[model.NodeID]int, len(nodes))
	skipped := 0
	for _, n := range nodes {
		if n.ID == "" {
			skipped++
			continue
		}
		if i, ok := index[n.ID]; ok {
			next[i] = n.Clone()
			continue
		}
		index[n.ID] = len(next)
		next = append(next, n.Clone())
	}
	if skipped > 0 {
		s.logger.Warn("ignoring nodes without id", "count", skipped)
	}

	s.nodes = next
	s.index = index
	s.err = ""
	s.loading = false
	s.publishLocked(CauseReplace)
	return nil
}

// ApplySingleUpdate replaces the node with the same id, or appends it.
func (s *NodeStore) ApplySingleUpdate(node model.Node) error {
	if node.ID == "" {
		return ErrMissingID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if i, ok := s.index[node.ID]; ok {
		s.nodes[i] = node.Clone()
	} else {
		s.index[node.ID] = len(s.nodes)
		s.nodes = append(s.nodes, node.Clone())
	}
	s.publishLocked(CauseUpdate)
	return nil
}

// Restore seeds an empty, idle store with cached nodes. It is a no-op once
// the store holds data or a fetch is pending.
func (s *NodeStore) Restore(nodes []model.Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.loading || len(s.nodes) > 0 || len(nodes) == 0 {
		return false
	}
	for _, n := range nodes {
		if n.ID == "" {
			continue
		}
		if _, ok := s.index[n.ID]; ok {
			continue
		}
		s.index[n.ID] = len(s.nodes)
		s.nodes = append(s.nodes, n.Clone())
	}
	s.publishLocked(CauseRestore)
	return true
}

// RequestSend sends the full node as set-node. The collection is not touched.
func (s *NodeStore) RequestSend(node model.Node) error {
	if node.ID == "" {
		return ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.sendLocked(wire.TopicSetNode, node)
}

// RequestToggle asks the daemon to toggle a node. The collection is not
// touched; the daemon answers with node-updated.
func (s *NodeStore) RequestToggle(id model.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.sendLocked(wire.TopicToggleNode, wire.TogglePayload{NodeID: id})
}

// RequestPatch applies patch to the confirmed node and sends the result as
// set-node when it differs from the confirmed state. It reports whether a
// message was sent.
func (s *NodeStore) RequestPatch(id model.NodeID, patch model.NodePatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStoreClosed
	}

	i, ok := s.index[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	draft := model.NewDraft(s.nodes[i])
	if err := draft.Apply(patch); err != nil {
		return false, err
	}
	if !draft.Changed() {
		return false, nil
	}
	if err := s.sendLocked(wire.TopicSetNode, draft.Node()); err != nil {
		return false, err
	}
	return true, nil
}

// RecordError stores a daemon failure message. The collection is untouched.
func (s *NodeStore) RecordError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.logger.Warn("daemon reported failure", "message", message)
	s.err = message
	s.publishLocked(CauseFailure)
}

// Snapshot returns a copy of the current state.
func (s *NodeStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Node returns a copy of the confirmed node with id.
func (s *NodeStore) Node(id model.NodeID) (model.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return model.Node{}, false
	}
	return s.nodes[i].Clone(), true
}

// Subscribe registers fn for every future snapshot. fn runs on the notifier
// goroutine and must not call Close.
func (s *NodeStore) Subscribe(fn func(Snapshot)) Subscription {
	return s.notify.subscribe(fn)
}

// Unsubscribe stops delivery to sub. It reports whether sub was registered.
func (s *NodeStore) Unsubscribe(sub Subscription) bool {
	return s.notify.unsubscribe(sub)
}

// Subscribers returns the number of registered listeners.
func (s *NodeStore) Subscribers() int {
	return s.notify.count()
}

// Close delivers queued snapshots and stops the notifier.
func (s *NodeStore) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notify.close()
}

func (s *NodeStore) snapshotLocked() Snapshot {
	return Snapshot{
		Nodes:   model.CloneNodes(s.nodes),
		Err:     s.err,
		Loading: s.loading,
		Version: s.version,
	}
}

func (s *NodeStore) publishLocked(cause string) {
	s.version++
	snap := s.snapshotLocked()
	s.notify.publish(snap)

	s.plog.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionIn,
		Layer:     log.LayerStore,
		Category:  log.CategorySnapshot,
		Snapshot: &log.SnapshotEvent{
			Cause:   cause,
			Nodes:   len(snap.Nodes),
			Loading: snap.Loading,
			Err:     snap.Err,
		},
	})
}

func (s *NodeStore) sendLocked(topic wire.Topic, payload any) error {
	if s.sender == nil {
		s.logger.Warn("dropping command, no sender", "topic", topic)
		return ErrNoSender
	}
	if err := s.sender.Send(topic, payload); err != nil {
		s.logger.Warn("send failed", "topic", topic, "error", err)
		s.plog.Log(log.Event{
			Timestamp: time.Now(),
			Direction: log.DirectionOut,
			Layer:     log.LayerStore,
			Category:  log.CategoryError,
			Error: &log.ErrorEventData{
				Layer:   log.LayerStore,
				Message: err.Error(),
				Context: "send " + topic.String(),
			},
		})
		return fmt.Errorf("send %s: %w", topic, err)
	}
	return nil
}
