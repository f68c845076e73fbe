package realtime

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomKeyGlobal(t *testing.T) {
	assert.Equal(t, Global(), RoomKey{})
	assert.Equal(t, Global(), Private(GlobalRoomID))
	assert.True(t, Global().IsGlobal())
	assert.Equal(t, "messages-global", Global().ChannelName(ChannelMessages))
	assert.Equal(t, "typing-global", Global().ChannelName(ChannelTyping))
	assert.Equal(t, "00000000-0000-0000-0000-000000000000", Global().RoomID().String())
}

func TestRoomKeyPrivateChannelNames(t *testing.T) {
	id := uuid.MustParse("7f9c1d1e-3a2b-4c5d-8e9f-0a1b2c3d4e5f")
	key := Private(id)

	assert.False(t, key.IsGlobal())
	assert.Equal(t, "messages-private-7f9c1d1e-3a2b-4c5d-8e9f-0a1b2c3d4e5f", key.ChannelName(ChannelMessages))
	assert.Equal(t, "typing-private-7f9c1d1e-3a2b-4c5d-8e9f-0a1b2c3d4e5f", key.ChannelName(ChannelTyping))
	assert.Equal(t, key, Private(id))
	assert.NotEqual(t, key, Private(uuid.New()))
}

func TestRoomKeyDistinctIDsNeverShareChannels(t *testing.T) {
	seen := map[string]RoomKey{Global().ChannelName(ChannelMessages): Global()}
	for i := 0; i < 200; i++ {
		key := Private(uuid.New())
		name := key.ChannelName(ChannelMessages)
		prev, dup := seen[name]
		require.False(t, dup, "channel %s shared by %s and %s", name, prev, key)
		seen[name] = key
	}
}

func TestParseRoomKey(t *testing.T) {
	for _, raw := range []string{"", "global", "GLOBAL", " global ", GlobalRoomID.String()} {
		key, err := ParseRoomKey(raw)
		require.NoError(t, err, raw)
		assert.True(t, key.IsGlobal(), raw)
	}

	id := uuid.New()
	key, err := ParseRoomKey(id.String())
	require.NoError(t, err)
	assert.Equal(t, Private(id), key)

	_, err = ParseRoomKey("general")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
}

func TestRoomKeyJSON(t *testing.T) {
	id := uuid.New()
	payload, err := json.Marshal(map[string]RoomKey{"a": Global(), "b": Private(id)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"global","b":"`+id.String()+`"}`, string(payload))

	var decoded map[string]RoomKey
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, Global(), decoded["a"])
	assert.Equal(t, Private(id), decoded["b"])
}
