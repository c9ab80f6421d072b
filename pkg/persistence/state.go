package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nodesync/nodesync-go/pkg/model"
	"github.com/nodesync/nodesync-go/pkg/store"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// ErrUnsupportedVersion is returned for state files written by a newer format.
var ErrUnsupportedVersion = errors.New("unsupported state file version")

// SnapshotState is the cached node collection of one daemon.
type SnapshotState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// URL is the daemon the snapshot was received from.
	URL string `json:"url,omitempty"`

	// Nodes is the collection in store order.
	Nodes []model.Node `json:"nodes"`

	// Err is the daemon error that was pending when the snapshot was taken.
	Err string `json:"err,omitempty"`
}

// SnapshotStateStore manages persistence of snapshot state to a JSON file.
type SnapshotStateStore struct {
	mu   sync.Mutex
	path string
}

// NewSnapshotStateStore creates a new snapshot state store.
func NewSnapshotStateStore(path string) *SnapshotStateStore {
	return &SnapshotStateStore{path: path}
}

// Path returns the state file path.
func (s *SnapshotStateStore) Path() string {
	return s.path
}

// Save persists the state to disk. The file is replaced atomically.
func (s *SnapshotStateStore) Save(state *SnapshotState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}
	if state.Nodes == nil {
		state.Nodes = []model.Node{}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Load reads the state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *SnapshotStateStore) Load() (*SnapshotState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &SnapshotState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if state.Version > StateVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, state.Version)
	}

	return state, nil
}

// Clear removes the state file.
func (s *SnapshotStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Recorder saves store snapshots as they are published.
//
// Snapshots taken while a fetch is pending are skipped, so the cache keeps
// the previous collection until the daemon answers.
type Recorder struct {
	states *SnapshotStateStore
	url    string
	logger *slog.Logger

	mu          sync.Mutex
	lastVersion uint64
	saved       int
}

// NewRecorder creates a recorder for snapshots of the daemon at url.
func NewRecorder(states *SnapshotStateStore, url string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		states: states,
		url:    url,
		logger: logger.With("component", "snapshot-cache"),
	}
}

// Observe is a store listener.
func (r *Recorder) Observe(snap store.Snapshot) {
	if snap.Loading {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if snap.Version != 0 && snap.Version <= r.lastVersion {
		return
	}

	err := r.states.Save(&SnapshotState{
		URL:   r.url,
		Nodes: snap.Nodes,
		Err:   snap.Err,
	})
	if err != nil {
		r.logger.Warn("saving snapshot failed", "path", r.states.Path(), "error", err)
		return
	}
	r.lastVersion = snap.Version
	r.saved++
}

// Saved returns the number of snapshots written.
func (r *Recorder) Saved() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saved
}

// Restore loads the cache into st. Caches recorded for another daemon are
// ignored.
func (r *Recorder) Restore(st *store.NodeStore) (bool, error) {
	state, err := r.states.Load()
	if err != nil {
		return false, err
	}
	if state == nil {
		return false, nil
	}
	if state.URL != "" && r.url != "" && state.URL != r.url {
		r.logger.Info("ignoring cache of another daemon", "cached", state.URL, "url", r.url)
		return false, nil
	}
	ok := st.Restore(state.Nodes)
	if ok {
		r.logger.Info("restored cached snapshot", "nodes", len(state.Nodes), "saved_at", state.SavedAt)
	}
	return ok, nil
}
