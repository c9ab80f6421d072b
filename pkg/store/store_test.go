package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nodesync/nodesync-go/pkg/connection"
	"github.com/nodesync/nodesync-go/pkg/log"
	"github.com/nodesync/nodesync-go/pkg/model"
	"github.com/nodesync/nodesync-go/pkg/router"
	"github.com/nodesync/nodesync-go/pkg/wire"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(topic wire.Topic, payload any) error {
	args := m.Called(topic, payload)
	return args.Error(0)
}

type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLogger) Log(ev log.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureLogger) snapshots() []*log.SnapshotEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*log.SnapshotEvent
	for _, ev := range c.events {
		if ev.Snapshot != nil {
			out = append(out, ev.Snapshot)
		}
	}
	return out
}

func node(id model.NodeID, name string) model.Node {
	return model.Node{
		ID:   id,
		Name: name,
		Values: map[model.ValueID]model.Value{
			"sw":  {ValueID: 1, Label: "Switch", Type: model.ValueTypeBool, String: "False"},
			"pwr": {ValueID: 2, Label: "Power", Type: model.ValueTypeDecimal, ReadOnly: true, String: "0.0"},
		},
	}
}

func newTestStore(t *testing.T) (*NodeStore, *mockSender) {
	t.Helper()
	sender := &mockSender{}
	s := NewNodeStore(Config{Sender: sender})
	t.Cleanup(s.Close)
	return s, sender
}

// collect subscribes and returns a function that waits for n snapshots.
func collect(t *testing.T, s *NodeStore) func(n int) []Snapshot {
	t.Helper()
	ch := make(chan Snapshot, 64)
	s.Subscribe(func(snap Snapshot) { ch <- snap })
	return func(n int) []Snapshot {
		t.Helper()
		out := make([]Snapshot, 0, n)
		for len(out) < n {
			select {
			case snap := <-ch:
				out = append(out, snap)
			case <-time.After(2 * time.Second):
				t.Fatalf("got %d snapshots, want %d", len(out), n)
			}
		}
		return out
	}
}

func ids(nodes []model.Node) []model.NodeID {
	out := make([]model.NodeID, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestRequestFetch(t *testing.T) {
	s, sender := newTestStore(t)
	sender.On("Send", wire.TopicGetNodes, nil).Return(nil).Once()
	require.NoError(t, s.ApplyFullReplace([]model.Node{node("1:2", "a")}))
	s.RecordError("old failure")

	require.NoError(t, s.RequestFetch())

	snap := s.Snapshot()
	assert.Empty(t, snap.Nodes, "fetch clears the collection")
	assert.True(t, snap.Loading)
	assert.Equal(t, "old failure", snap.Err, "fetch leaves the error alone")
	sender.AssertExpectations(t)
}

func TestRequestFetchSendError(t *testing.T) {
	s, sender := newTestStore(t)
	sender.On("Send", wire.TopicGetNodes, nil).Return(errors.New("buffer full")).Once()

	err := s.RequestFetch()
	require.Error(t, err)

	snap := s.Snapshot()
	assert.False(t, snap.Loading, "a failed fetch must not stay loading")
	assert.Contains(t, snap.Err, "buffer full")
	sender.AssertExpectations(t)
}

func TestApplyFullReplace(t *testing.T) {
	s, sender := newTestStore(t)
	sender.On("Send", wire.TopicGetNodes, nil).Return(nil)
	require.NoError(t, s.RequestFetch())
	s.RecordError("boom")

	require.NoError(t, s.ApplyFullReplace([]model.Node{node("1:2", "a"), node("1:3", "b")}))

	snap := s.Snapshot()
	assert.Equal(t, []model.NodeID{"1:2", "1:3"}, ids(snap.Nodes))
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Err)

	// Nodes absent from the next full replace are removed.
	require.NoError(t, s.ApplyFullReplace([]model.Node{node("1:3", "b2")}))
	snap = s.Snapshot()
	assert.Equal(t, []model.NodeID{"1:3"}, ids(snap.Nodes))
	assert.Equal(t, "b2", snap.Nodes[0].Name)

	// Empty replace empties the collection.
	require.NoError(t, s.ApplyFullReplace(nil))
	assert.Empty(t, s.Snapshot().Nodes)
}

func TestApplyFullReplaceDuplicateIDs(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.ApplyFullReplace([]model.Node{
		node("1:2", "first"), node("1:3", "x"), node("1:2", "last"), {Name: "no id"},
	}))

	snap := s.Snapshot()
	assert.Equal(t, []model.NodeID{"1:2", "1:3"}, ids(snap.Nodes))
	assert.Equal(t, "last", snap.Nodes[0].Name)
}

func TestApplySingleUpdate(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.ApplyFullReplace([]model.Node{node("1:2", "a"), node("1:3", "b")}))

	require.NoError(t, s.ApplySingleUpdate(node("1:2", "a2")))
	require.NoError(t, s.ApplySingleUpdate(node("1:9", "new")))

	snap := s.Snapshot()
	assert.Equal(t, []model.NodeID{"1:2", "1:3", "1:9"}, ids(snap.Nodes), "replace in place, append unknown")
	assert.Equal(t, "a2", snap.Nodes[0].Name)

	// Idempotent.
	require.NoError(t, s.ApplySingleUpdate(node("1:9", "new")))
	assert.Equal(t, snap.Nodes, s.Snapshot().Nodes)

	assert.ErrorIs(t, s.ApplySingleUpdate(model.Node{Name: "anon"}), ErrMissingID)
}

func TestApplySingleUpdateBeforeFirstSnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.ApplySingleUpdate(node("1:2", "a")))
	assert.Equal(t, []model.NodeID{"1:2"}, ids(s.Snapshot().Nodes))
}

func TestRequestSendDoesNotMutate(t *testing.T) {
	s, sender := newTestStore(t)
	require.NoError(t, s.ApplyFullReplace([]model.Node{node("1:2", "a")}))
	before := s.Snapshot()

	edited := node("1:2", "renamed")
	sender.On("Send", wire.TopicSetNode, edited).Return(nil).Once()

	require.NoError(t, s.RequestSend(edited))

	after := s.Snapshot()
	assert.Equal(t, before.Nodes, after.Nodes)
	assert.Equal(t, before.Version, after.Version)
	sender.AssertExpectations(t)
}

func TestRequestToggle(t *testing.T) {
	s, sender := newTestStore(t)
	require.NoError(t, s.ApplyFullReplace([]model.Node{node("1:2", "a")}))
	before := s.Snapshot()

	sender.On("Send", wire.TopicToggleNode, wire.TogglePayload{NodeID: "1:2"}).Return(nil).Once()
	require.NoError(t, s.RequestToggle("1:2"))

	assert.Equal(t, before, s.Snapshot(), "toggle waits for node-updated")
	sender.AssertExpectations(t)
}

func TestRequestSendError(t *testing.T) {
	s, sender := newTestStore(t)
	plog := &captureLogger{}
	s.plog = plog
	sender.On("Send", mock.Anything, mock.Anything).Return(errors.New("buffer full"))

	err := s.RequestToggle("1:2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "toggle-node")

	plog.mu.Lock()
	defer plog.mu.Unlock()
	require.Len(t, plog.events, 1)
	assert.Equal(t, log.CategoryError, plog.events[0].Category)
}

func TestNoSender(t *testing.T) {
	s := NewNodeStore(Config{})
	defer s.Close()
	assert.ErrorIs(t, s.RequestToggle("1:2"), ErrNoSender)
}

func TestRecordError(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.ApplyFullReplace([]model.Node{node("1:2", "a")}))

	s.RecordError("node is asleep")

	snap := s.Snapshot()
	assert.Equal(t, "node is asleep", snap.Err)
	assert.Len(t, snap.Nodes, 1, "collection untouched")

	var remote *RemoteError
	require.ErrorAs(t, snap.RemoteErr(), &remote)
	assert.Equal(t, "node is asleep", remote.Message)
	assert.Equal(t, "daemon: node is asleep", remote.Error())
}

func TestRequestPatch(t *testing.T) {
	t.Run("SendsChangedNode", func(t *testing.T) {
		s, sender := newTestStore(t)
		require.NoError(t, s.ApplyFullReplace([]model.Node{node("1:2", "a")}))

		want := node("1:2", "a")
		v := want.Values["sw"]
		v.String = "True"
		want.Values["sw"] = v
		sender.On("Send", wire.TopicSetNode, want).Return(nil).Once()

		sent, err := s.RequestPatch("1:2", model.NodePatch{}.SetValue("sw", "True"))
		require.NoError(t, err)
		assert.True(t, sent)
		sender.AssertExpectations(t)

		confirmed, _ := s.Node("1:2")
		assert.Equal(t, "False", confirmed.Values["sw"].String, "confirmed node untouched")
	})

	t.Run("UnchangedIsNotSent", func(t *testing.T) {
		s, sender := newTestStore(t)
		require.NoError(t, s.ApplyFullReplace([]model.Node{node("1:2", "a")}))

		sent, err := s.RequestPatch("1:2", model.NodePatch{}.SetName("a").SetValue("sw", "False"))
		require.NoError(t, err)
		assert.False(t, sent)
		sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("ReadOnlyRejected", func(t *testing.T) {
		s, sender := newTestStore(t)
		require.NoError(t, s.ApplyFullReplace([]model.Node{node("1:2", "a")}))

		_, err := s.RequestPatch("1:2", model.NodePatch{}.SetValue("pwr", "9"))
		assert.ErrorIs(t, err, model.ErrReadOnlyValue)
		sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("UnknownNode", func(t *testing.T) {
		s, _ := newTestStore(t)
		_, err := s.RequestPatch("9:9", model.NodePatch{}.SetName("x"))
		assert.ErrorIs(t, err, ErrUnknownNode)
	})
}

func TestNodeReturnsCopy(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.ApplyFullReplace([]model.Node{node("1:2", "a")}))

	n, ok := s.Node("1:2")
	require.True(t, ok)
	n.Values["sw"] = model.Value{String: "mutated"}

	again, _ := s.Node("1:2")
	assert.Equal(t, "False", again.Values["sw"].String)

	_, ok = s.Node("nope")
	assert.False(t, ok)
}

func TestSnapshotsAreImmutable(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.ApplyFullReplace([]model.Node{node("1:2", "a")}))

	snap := s.Snapshot()
	snap.Nodes[0].Name = "mutated"

	assert.Equal(t, "a", s.Snapshot().Nodes[0].Name)
}

func TestNotificationOrder(t *testing.T) {
	s, sender := newTestStore(t)
	sender.On("Send", wire.TopicGetNodes, nil).Return(nil)
	wait := collect(t, s)

	require.NoError(t, s.RequestFetch())
	require.NoError(t, s.ApplyFullReplace([]model.Node{node("1:2", "a")}))
	require.NoError(t, s.ApplySingleUpdate(node("1:3", "b")))
	s.RecordError("failed")

	snaps := wait(4)
	for i := 1; i < len(snaps); i++ {
		assert.Greater(t, snaps[i].Version, snaps[i-1].Version)
	}
	assert.True(t, snaps[0].Loading)
	assert.Empty(t, snaps[0].Nodes)
	assert.Equal(t, []model.NodeID{"1:2"}, ids(snaps[1].Nodes))
	assert.Equal(t, []model.NodeID{"1:2", "1:3"}, ids(snaps[2].Nodes))
	assert.Equal(t, "failed", snaps[3].Err)
}

func TestConcurrentMutationsDeliveredInOrder(t *testing.T) {
	s, _ := newTestStore(t)
	wait := collect(t, s)

	const writers, updates = 4, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < updates; i++ {
				_ = s.ApplySingleUpdate(node(model.NewNodeID(1, uint8(w)), "x"))
			}
		}(w)
	}
	wg.Wait()

	snaps := wait(writers * updates)
	for i := 1; i < len(snaps); i++ {
		if snaps[i].Version != snaps[i-1].Version+1 {
			t.Fatalf("snapshot %d has version %d after %d", i, snaps[i].Version, snaps[i-1].Version)
		}
	}
	assert.Len(t, snaps[len(snaps)-1].Nodes, writers)
}

func TestUnsubscribe(t *testing.T) {
	s, _ := newTestStore(t)

	var mu sync.Mutex
	var got []uint64
	sub := s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		got = append(got, snap.Version)
		mu.Unlock()
	})
	wait := collect(t, s)
	assert.Equal(t, 2, s.Subscribers())
	assert.False(t, sub.IsZero())
	assert.NotEmpty(t, sub.ID())

	require.NoError(t, s.ApplySingleUpdate(node("1:2", "a")))
	wait(1)

	assert.True(t, s.Unsubscribe(sub))
	assert.False(t, s.Unsubscribe(sub), "second unsubscribe is a no-op")

	require.NoError(t, s.ApplySingleUpdate(node("1:3", "b")))
	wait(1)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1}, got)
}

func TestListenerPanicDoesNotStopDelivery(t *testing.T) {
	s, _ := newTestStore(t)
	s.Subscribe(func(Snapshot) { panic("listener bug") })
	wait := collect(t, s)

	require.NoError(t, s.ApplySingleUpdate(node("1:2", "a")))
	require.NoError(t, s.ApplySingleUpdate(node("1:3", "b")))
	assert.Len(t, wait(2), 2)
}

func TestCloseDrainsQueue(t *testing.T) {
	sender := &mockSender{}
	s := NewNodeStore(Config{Sender: sender})

	var mu sync.Mutex
	count := 0
	s.Subscribe(func(Snapshot) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		count++
		mu.Unlock()
	})
	for i := 0; i < 10; i++ {
		require.NoError(t, s.ApplySingleUpdate(node("1:2", "a")))
	}
	s.Close()

	mu.Lock()
	assert.Equal(t, 10, count)
	mu.Unlock()

	assert.ErrorIs(t, s.ApplySingleUpdate(node("1:2", "a")), ErrStoreClosed)
	assert.ErrorIs(t, s.RequestFetch(), ErrStoreClosed)
	s.Close()
}

func TestRestore(t *testing.T) {
	s, sender := newTestStore(t)

	assert.True(t, s.Restore([]model.Node{node("1:2", "cached")}))
	assert.Equal(t, "cached", s.Snapshot().Nodes[0].Name)
	assert.False(t, s.Restore([]model.Node{node("1:3", "x")}), "only an empty store is seeded")

	sender.On("Send", wire.TopicGetNodes, nil).Return(nil)
	require.NoError(t, s.RequestFetch())
	assert.False(t, s.Restore([]model.Node{node("1:3", "x")}), "not while loading")
}

func TestBind(t *testing.T) {
	s, _ := newTestStore(t)
	r := router.New(router.Config{})
	s.Bind(r)

	dispatch := func(topic wire.Topic, payload string) {
		r.Dispatch(wire.NewMessage(wire.JSON, topic, []byte(payload)))
	}

	dispatch(wire.TopicNodes, `[{"node_info_id":"1:2","node_name":"a"},{"node_info_id":"1:3"}]`)
	dispatch(wire.TopicNodeUpdated, `{"node_info_id":"1:3","node_name":"b"}`)
	dispatch(wire.TopicUpdateFailed, `{"message":"nope"}`)
	dispatch(wire.TopicNodeUpdated, `{"node_name":"no id"}`)
	dispatch(wire.TopicNodes, `{"bad":true}`)

	snap := s.Snapshot()
	assert.Equal(t, []model.NodeID{"1:2", "1:3"}, ids(snap.Nodes))
	assert.Equal(t, "b", snap.Nodes[1].Name)
	assert.Equal(t, "nope", snap.Err)
	assert.Equal(t, uint64(2), r.Failed(), "malformed payloads are swallowed")
	assert.ElementsMatch(t, []wire.Topic{wire.TopicNodes, wire.TopicNodeUpdated, wire.TopicUpdateFailed}, r.Topics())
}

func TestSnapshotProtocolEvents(t *testing.T) {
	plog := &captureLogger{}
	s := NewNodeStore(Config{ProtocolLogger: plog})
	defer s.Close()

	require.NoError(t, s.ApplyFullReplace([]model.Node{node("1:2", "a")}))
	s.RecordError("x")

	events := plog.snapshots()
	require.Len(t, events, 2)
	assert.Equal(t, CauseReplace, events[0].Cause)
	assert.Equal(t, 1, events[0].Nodes)
	assert.Equal(t, CauseFailure, events[1].Cause)
	assert.Equal(t, "x", events[1].Err)
}

func TestConnectionStore(t *testing.T) {
	c := NewConnectionStore(nil)
	defer c.Close()

	assert.Equal(t, connection.StateDisconnected, c.Status().State)
	assert.False(t, c.Connected())

	ch := make(chan ConnectionStatus, 8)
	sub := c.Subscribe(func(st ConnectionStatus) { ch <- st })

	c.OnStateChange(connection.StateDisconnected, connection.StateConnecting)
	c.OnStateChange(connection.StateConnecting, connection.StateConnected)
	c.OnStateChange(connection.StateConnecting, connection.StateConnected)

	var got []connection.State
	for i := 0; i < 2; i++ {
		select {
		case st := <-ch:
			got = append(got, st.State)
		case <-time.After(2 * time.Second):
			t.Fatal("missing status change")
		}
	}
	assert.Equal(t, []connection.State{connection.StateConnecting, connection.StateConnected}, got)
	assert.True(t, c.Connected())

	assert.True(t, c.Unsubscribe(sub))
	c.OnStateChange(connection.StateConnected, connection.StateReconnecting)
	assert.False(t, c.Connected())

	select {
	case st := <-ch:
		t.Errorf("unexpected delivery after unsubscribe: %v", st.State)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestConnectionStoreReconnectAttempts(t *testing.T) {
	c := NewConnectionStore(nil)
	defer c.Close()

	c.OnStateChange(connection.StateConnected, connection.StateReconnecting)
	c.OnReconnecting(3, time.Minute)

	st := c.Status()
	assert.Equal(t, connection.StateReconnecting, st.State)
	assert.Equal(t, 3, st.Attempt)
	assert.WithinDuration(t, time.Now().Add(time.Minute), st.RetryAt, 5*time.Second)

	c.OnStateChange(connection.StateReconnecting, connection.StateConnecting)
	assert.Equal(t, 3, c.Status().Attempt, "attempt kept while dialing")

	c.OnStateChange(connection.StateConnecting, connection.StateReconnecting)
	c.OnStateChange(connection.StateReconnecting, connection.StateDisconnected)
	c.OnGiveUp(connection.ErrReconnectsExhausted)

	st = c.Status()
	assert.Equal(t, connection.StateDisconnected, st.State)
	assert.Equal(t, connection.ErrReconnectsExhausted.Error(), st.Err)
	assert.True(t, st.RetryAt.IsZero())

	c.OnStateChange(connection.StateDisconnected, connection.StateConnecting)
	c.OnStateChange(connection.StateConnecting, connection.StateConnected)
	st = c.Status()
	assert.Empty(t, st.Err)
	assert.Zero(t, st.Attempt)
}
