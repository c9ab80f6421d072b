package store

import (
	"github.com/nodesync/nodesync-go/pkg/model"
)

// Snapshot is an immutable copy of the store state.
type Snapshot struct {
	// Nodes in first-seen order.
	Nodes []model.Node `json:"nodes"`

	// Err is the last update-failed message; cleared by a full replace.
	Err string `json:"err,omitempty"`

	// Loading is set between RequestFetch and the next full replace.
	Loading bool `json:"loading,omitempty"`

	// Version increases with every mutation.
	Version uint64 `json:"version"`
}

// Node returns the node with id.
func (s Snapshot) Node(id model.NodeID) (model.Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return model.Node{}, false
}

// Len returns the number of nodes.
func (s Snapshot) Len() int {
	return len(s.Nodes)
}

// RemoteErr returns Err as a *RemoteError, or nil.
func (s Snapshot) RemoteErr() error {
	if s.Err == "" {
		return nil
	}
	return &RemoteError{Message: s.Err}
}

// RemoteError is a failure reported by the daemon.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "daemon: " + e.Message
}
