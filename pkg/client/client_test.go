package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodesync/nodesync-go/internal/testharness/mock"
	"github.com/nodesync/nodesync-go/pkg/config"
	"github.com/nodesync/nodesync-go/pkg/connection"
	"github.com/nodesync/nodesync-go/pkg/discovery"
	"github.com/nodesync/nodesync-go/pkg/log"
	"github.com/nodesync/nodesync-go/pkg/model"
	"github.com/nodesync/nodesync-go/pkg/store"
	"github.com/nodesync/nodesync-go/pkg/wire"
)

const (
	waitTimeout = 3 * time.Second
	waitTick    = 5 * time.Millisecond
)

func testConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.Server.URL = url
	cfg.Reconnect.Delay = 20 * time.Millisecond
	cfg.Transport.ConnectTimeout = time.Second
	cfg.Transport.PingInterval = -1
	cfg.Transport.PongWait = -1
	return cfg
}

func startClient(t *testing.T, opts Options) *Client {
	t.Helper()
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Start(context.Background()))
	return c
}

func waitSynced(t *testing.T, c *Client, n int) store.Snapshot {
	t.Helper()
	var snap store.Snapshot
	require.Eventually(t, func() bool {
		snap = c.Nodes.Snapshot()
		return !snap.Loading && snap.Len() == n
	}, waitTimeout, waitTick)
	return snap
}

func TestClientFetchesOnConnect(t *testing.T) {
	daemon := mock.NewDaemon(nil, mock.Node("1:2", "lamp"), mock.Node("1:3", "plug"))
	t.Cleanup(daemon.Close)

	c := startClient(t, Options{Config: testConfig(daemon.URL())})

	snap := waitSynced(t, c, 2)
	assert.Equal(t, model.NodeID("1:2"), snap.Nodes[0].ID)
	assert.Equal(t, model.NodeID("1:3"), snap.Nodes[1].ID)
	assert.True(t, c.Connection.Connected())
	assert.Equal(t, 1, daemon.Count(wire.TopicGetNodes))
}

func TestClientRefetchesAfterReconnect(t *testing.T) {
	daemon := mock.NewDaemon(nil, mock.Node("1:2", "lamp"))
	t.Cleanup(daemon.Close)

	c := startClient(t, Options{Config: testConfig(daemon.URL())})
	waitSynced(t, c, 1)

	daemon.Replace(mock.Node("1:2", "lamp"), mock.Node("1:4", "heater"))
	waitSynced(t, c, 2)

	daemon.DropConnections()
	require.Eventually(t, func() bool {
		return daemon.Count(wire.TopicGetNodes) == 2 && c.Connection.Connected()
	}, waitTimeout, waitTick)
	assert.Equal(t, 2, daemon.Accepted())
	waitSynced(t, c, 2)
}

func TestClientStopsAfterMaxAttempts(t *testing.T) {
	daemon := mock.NewDaemon(nil)
	url := daemon.URL()
	daemon.Close()

	cfg := testConfig(url)
	cfg.Reconnect.MaxAttempts = 2
	c := startClient(t, Options{Config: cfg})

	require.Eventually(t, func() bool {
		return c.Connection.Status().Err != ""
	}, waitTimeout, waitTick)

	status := c.Connection.Status()
	assert.Equal(t, connection.StateDisconnected, status.State)
	assert.Contains(t, status.Err, connection.ErrReconnectsExhausted.Error())
	assert.False(t, status.Connected)
}

func TestClientToggle(t *testing.T) {
	daemon := mock.NewDaemon(nil, mock.Node("1:2", "lamp"))
	t.Cleanup(daemon.Close)

	c := startClient(t, Options{Config: testConfig(daemon.URL())})
	waitSynced(t, c, 1)

	require.NoError(t, c.Nodes.RequestToggle("1:2"))
	require.Eventually(t, func() bool {
		n, ok := c.Nodes.Node("1:2")
		return ok && n.Values["sw"].String == "true"
	}, waitTimeout, waitTick)

	n, _ := c.Nodes.Node("1:2")
	assert.Equal(t, "0.0", n.Values["pwr"].String, "read-only values untouched")
}

func TestClientPatchAndFailure(t *testing.T) {
	daemon := mock.NewDaemon(nil, mock.Node("1:2", "lamp"))
	t.Cleanup(daemon.Close)

	c := startClient(t, Options{Config: testConfig(daemon.URL())})
	waitSynced(t, c, 1)

	sent, err := c.Nodes.RequestPatch("1:2", model.NodePatch{}.SetName("desk lamp"))
	require.NoError(t, err)
	require.True(t, sent)
	require.Eventually(t, func() bool {
		n, _ := c.Nodes.Node("1:2")
		return n.Name == "desk lamp"
	}, waitTimeout, waitTick)

	daemon.SetFailure("node 1:2 is asleep")
	_, err = c.Nodes.RequestPatch("1:2", model.NodePatch{}.SetLocation("office"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return c.Nodes.Snapshot().Err == "node 1:2 is asleep"
	}, waitTimeout, waitTick)

	var remote *store.RemoteError
	require.True(t, errors.As(c.Nodes.Snapshot().RemoteErr(), &remote))

	n, _ := c.Nodes.Node("1:2")
	assert.Empty(t, n.Location, "failed update leaves the collection untouched")
}

func TestClientBuffersUntilDaemonIsUp(t *testing.T) {
	// Reserve an address, then stop listening so the first dials fail.
	daemon := mock.NewDaemon(nil, mock.Node("1:2", "lamp"))
	url := daemon.URL()
	daemon.Close()

	c := startClient(t, Options{Config: testConfig(url), FetchOnConnect: new(bool)})
	require.NoError(t, c.Nodes.RequestToggle("1:2"))
	require.NoError(t, c.Nodes.RequestSend(mock.Node("1:2", "renamed")))
	assert.Equal(t, 2, c.Transport.Buffered())
	assert.False(t, c.Connection.Connected())
}

func TestClientSnapshotCache(t *testing.T) {
	daemon := mock.NewDaemon(nil, mock.Node("1:2", "lamp"), mock.Node("1:3", "plug"))
	t.Cleanup(daemon.Close)

	cfg := testConfig(daemon.URL())
	cfg.StateDir = t.TempDir()

	first, err := New(Options{Config: cfg})
	require.NoError(t, err)
	require.NoError(t, first.Start(context.Background()))
	waitSynced(t, first, 2)
	require.NoError(t, first.Close())

	// Second run against the same URL, with the daemon gone.
	daemon.Close()
	second, err := New(Options{Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	require.NoError(t, second.Start(context.Background()))

	snap := second.Nodes.Snapshot()
	require.Equal(t, 2, snap.Len())
	assert.Equal(t, "lamp", snap.Nodes[0].Name)
}

type fakeToken struct{}

func (fakeToken) Wait() bool                     { return true }
func (fakeToken) WaitTimeout(time.Duration) bool { return true }
func (fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (fakeToken) Error() error { return nil }

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *fakePublisher) Publish(topic string, _ byte, _ bool, _ interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return fakeToken{}
}

func (p *fakePublisher) has(topic string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.topics {
		if t == topic {
			return true
		}
	}
	return false
}

func TestClientMirror(t *testing.T) {
	daemon := mock.NewDaemon(nil, mock.Node("1:2", "lamp"))
	t.Cleanup(daemon.Close)

	pub := &fakePublisher{}
	c := startClient(t, Options{Config: testConfig(daemon.URL()), Publisher: pub})
	waitSynced(t, c, 1)

	require.Eventually(t, func() bool {
		return pub.has("nodesync/nodes/1:2") && pub.has("nodesync/status")
	}, waitTimeout, waitTick)
	require.NotNil(t, c.Mirror())
}

func TestClientMetricsExporter(t *testing.T) {
	daemon := mock.NewDaemon(nil, mock.Node("1:2", "lamp"))
	t.Cleanup(daemon.Close)

	cfg := testConfig(daemon.URL())
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "127.0.0.1:0"

	c := startClient(t, Options{Config: cfg})
	waitSynced(t, c, 1)

	resp, err := http.Get("http://" + c.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "nodesync_buffered_messages 0")
	assert.Contains(t, text, "nodesync_connected 1")
	assert.Contains(t, text, "nodesync_nodes 1")
	assert.Contains(t, text, `nodesync_messages_total{direction="IN",topic="nodes"}`)
	assert.Contains(t, text, "nodesync_unrouted_messages_total 0")
	assert.Contains(t, text, "nodesync_handler_failures_total 0")
}

func TestClientProtocolCapture(t *testing.T) {
	daemon := mock.NewDaemon(wire.CBOR, mock.Node("1:2", "lamp"))
	t.Cleanup(daemon.Close)

	cfg := testConfig(daemon.URL())
	cfg.Codec = "cbor"
	cfg.Log.ProtocolFile = filepath.Join(t.TempDir(), "session"+log.FileExtension)

	c, err := New(Options{Config: cfg})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	waitSynced(t, c, 1)
	require.NoError(t, c.Close())

	r, err := log.NewFilteredReader(cfg.Log.ProtocolFile, log.Filter{Layer: ptr(log.LayerStore)})
	require.NoError(t, err)
	defer r.Close()

	var causes []string
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if ev.Snapshot != nil {
			causes = append(causes, ev.Snapshot.Cause)
		}
	}
	assert.Equal(t, []string{store.CauseFetch, store.CauseReplace}, causes)
}

func ptr[T any](v T) *T { return &v }

func TestNewErrors(t *testing.T) {
	cfg := testConfig("")
	cfg.Discovery.Enabled = true
	_, err := New(Options{Config: cfg})
	assert.ErrorIs(t, err, ErrNoURL)

	cfg = testConfig("http://daemon/ws")
	_, err = New(Options{Config: cfg})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestStartTwice(t *testing.T) {
	daemon := mock.NewDaemon(nil)
	t.Cleanup(daemon.Close)

	c := startClient(t, Options{Config: testConfig(daemon.URL())})
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)
}

type fakeBrowser struct {
	svc *discovery.DaemonService
	err error
}

func (b *fakeBrowser) Browse(context.Context) (<-chan *discovery.DaemonService, error) {
	return nil, errors.New("not implemented")
}

func (b *fakeBrowser) Find(_ context.Context, filter discovery.FilterFunc) (*discovery.DaemonService, error) {
	if b.err != nil {
		return nil, b.err
	}
	if filter != nil && !filter(b.svc) {
		return nil, discovery.ErrNotFound
	}
	return b.svc, nil
}

func (b *fakeBrowser) Stop() {}

func TestResolve(t *testing.T) {
	svc := &discovery.DaemonService{
		InstanceName: "hub",
		Port:         8080,
		Addresses:    []string{"10.0.0.5"},
		Path:         "/ws",
		Codec:        "msgpack",
	}

	t.Run("fills url and codec", func(t *testing.T) {
		cfg := testConfig("")
		cfg.Discovery.Enabled = true
		require.NoError(t, Resolve(context.Background(), cfg, &fakeBrowser{svc: svc}))
		assert.Equal(t, "ws://10.0.0.5:8080/ws", cfg.Server.URL)
		assert.Equal(t, "msgpack", cfg.Codec)
	})

	t.Run("explicit url wins", func(t *testing.T) {
		cfg := testConfig("ws://fixed/ws")
		cfg.Discovery.Enabled = true
		require.NoError(t, Resolve(context.Background(), cfg, &fakeBrowser{svc: svc}))
		assert.Equal(t, "ws://fixed/ws", cfg.Server.URL)
	})

	t.Run("instance filter", func(t *testing.T) {
		cfg := testConfig("")
		cfg.Discovery.Enabled = true
		cfg.Discovery.Instance = "other"
		err := Resolve(context.Background(), cfg, &fakeBrowser{svc: svc})
		assert.ErrorIs(t, err, ErrNoURL)
		assert.ErrorIs(t, err, discovery.ErrNotFound)
	})

	t.Run("no browser", func(t *testing.T) {
		cfg := testConfig("")
		cfg.Discovery.Enabled = true
		assert.ErrorIs(t, Resolve(context.Background(), cfg, nil), ErrNoURL)
	})
}

func TestConfigCodecReachesWire(t *testing.T) {
	daemon := mock.NewDaemon(wire.MsgPack, mock.Node("1:2", "lamp"))
	t.Cleanup(daemon.Close)

	cfg := testConfig(daemon.URL())
	cfg.Codec = "msgpack"
	c := startClient(t, Options{Config: cfg})
	waitSynced(t, c, 1)
	assert.Equal(t, "msgpack", c.Transport.Codec().Name())
	assert.True(t, strings.HasPrefix(c.Transport.URL(), "ws://"))
}
