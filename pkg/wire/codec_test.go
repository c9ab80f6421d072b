package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodesync/nodesync-go/pkg/model"
)

var allCodecs = []Codec{JSON, CBOR, MsgPack}

func sampleNode() model.Node {
	return model.Node{
		ID:       model.NewNodeID(1, 2),
		HomeID:   1,
		NodeID:   2,
		Name:     "lamp",
		Location: "hall",
		Values: map[model.ValueID]model.Value{
			"72057594076282881": {ValueID: 72057594076282881, Genre: model.GenreUser, Type: model.ValueTypeBool, String: "True"},
		},
	}
}

func TestCodecRoundTrip(t *testing.T) {
	for _, c := range allCodecs {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Encode(TopicSetNode, sampleNode())
			require.NoError(t, err)

			msg, err := c.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, TopicSetNode, msg.Topic)
			assert.Equal(t, c, msg.Codec())

			node, err := msg.DecodeNode()
			require.NoError(t, err)
			assert.Equal(t, sampleNode(), node)
		})
	}
}

func TestCodecOmitsAbsentPayload(t *testing.T) {
	data, err := JSON.Encode(TopicGetNodes, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic":"get-nodes"}`, string(data))

	for _, c := range allCodecs {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Encode(TopicGetNodes, nil)
			require.NoError(t, err)

			msg, err := c.Decode(data)
			require.NoError(t, err)
			assert.False(t, msg.HasPayload())
			assert.ErrorIs(t, msg.Decode(&struct{}{}), ErrNoPayload)
		})
	}
}

func TestCodecRejectsMalformed(t *testing.T) {
	for _, c := range allCodecs {
		t.Run(c.Name(), func(t *testing.T) {
			_, err := c.Decode([]byte{0xff, 0x00, '{'})
			assert.ErrorIs(t, err, ErrMalformedMessage)

			_, err = c.Encode("", nil)
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}

	_, err := JSON.Decode([]byte(`{"payload":[]}`))
	assert.ErrorIs(t, err, ErrMalformedMessage, "topic is required")
}

func TestJSONNullPayloadIsAbsent(t *testing.T) {
	msg, err := JSON.Decode([]byte(`{"topic":"nodes","payload":null}`))
	require.NoError(t, err)
	assert.False(t, msg.HasPayload())

	nodes, err := msg.DecodeNodes()
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestDecodeNodes(t *testing.T) {
	for _, c := range allCodecs {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Encode(TopicNodes, []model.Node{sampleNode()})
			require.NoError(t, err)
			msg, err := c.Decode(data)
			require.NoError(t, err)

			nodes, err := msg.DecodeNodes()
			require.NoError(t, err)
			require.Len(t, nodes, 1)
			assert.Equal(t, model.NodeID("1:2"), nodes[0].ID)
		})
	}
}

func TestDecodeNodeRequiresID(t *testing.T) {
	msg, err := JSON.Decode([]byte(`{"topic":"node-updated","payload":{"node_name":"x"}}`))
	require.NoError(t, err)

	_, err = msg.DecodeNode()
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestDecodeFailure(t *testing.T) {
	for _, c := range allCodecs {
		t.Run(c.Name()+"/string", func(t *testing.T) {
			data, err := c.Encode(TopicUpdateFailed, "node 1:2 unreachable")
			require.NoError(t, err)
			msg, err := c.Decode(data)
			require.NoError(t, err)

			text, err := msg.DecodeFailure()
			require.NoError(t, err)
			assert.Equal(t, "node 1:2 unreachable", text)
		})

		t.Run(c.Name()+"/object", func(t *testing.T) {
			data, err := c.Encode(TopicUpdateFailed, FailurePayload{Message: "bad value"})
			require.NoError(t, err)
			msg, err := c.Decode(data)
			require.NoError(t, err)

			text, err := msg.DecodeFailure()
			require.NoError(t, err)
			assert.Equal(t, "bad value", text)
		})
	}
}

func TestTogglePayloadShape(t *testing.T) {
	data, err := JSON.Encode(TopicToggleNode, TogglePayload{NodeID: "1:2"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic":"toggle-node","payload":{"node_info_id":"1:2"}}`, string(data))
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name    string
		want    Codec
		wantErr bool
	}{
		{"", JSON, false},
		{"json", JSON, false},
		{"cbor", CBOR, false},
		{"msgpack", MsgPack, false},
		{"xml", nil, true},
	}

	for _, tt := range tests {
		got, err := Lookup(tt.name)
		if tt.wantErr {
			assert.Error(t, err, tt.name)
			continue
		}
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got)
	}
}

func TestTopicDirection(t *testing.T) {
	assert.True(t, TopicNodes.IsInbound())
	assert.False(t, TopicNodes.IsOutbound())
	assert.True(t, TopicToggleNode.IsOutbound())
	assert.False(t, Topic("bogus").IsInbound())
}
