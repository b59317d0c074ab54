package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		wantType Type
		wantMsg  bool
		wantErr  bool
	}{
		{name: "ping", frame: `{"type":"ping","ts":12}`, wantType: TypePing, wantMsg: true},
		{name: "unknown type still decodes", frame: `{"type":"cursor","x":1}`, wantType: "cursor", wantMsg: true},
		{name: "malformed json", frame: `{"type":`, wantErr: true},
		{name: "missing type", frame: `{"ts":1}`, wantErr: true},
		{name: "bad field type keeps discriminator", frame: `{"type":"ack","version":"x"}`, wantType: TypeAck, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, msg, err := Decode([]byte(tt.frame))
			assert.Equal(t, tt.wantType, typ)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, msg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMsg, msg != nil)
		})
	}
}

func TestSnapshotFrame(t *testing.T) {
	v := int64(7)
	b := MustEncode(Snapshot(json.RawMessage(`{"shapes":[1,2]}`), "A", &v))

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "snapshot", got["type"])
	assert.Equal(t, "A", got["clientId"])
	assert.Equal(t, float64(7), got["version"])
	assert.Equal(t, map[string]any{"shapes": []any{float64(1), float64(2)}}, got["snapshot"])
}

func TestAckCarriesZeroVersion(t *testing.T) {
	b := MustEncode(Ack(0))
	assert.JSONEq(t, `{"type":"ack","version":0}`, string(b))
}

func TestIsCommentEvent(t *testing.T) {
	assert.True(t, IsCommentEvent(TypeCommentCreated))
	assert.True(t, IsCommentEvent(TypeCommentDeleted))
	assert.False(t, IsCommentEvent(TypeSnapshot))
}
