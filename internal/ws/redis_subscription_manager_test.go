package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"whiteboardsync/internal/protocol"
)

func TestRelayable(t *testing.T) {
	assert.True(t, relayable(protocol.MustEncode(protocol.CommentDeleted("c1"))))
	assert.True(t, relayable([]byte(`{"type":"comment.created","comment":{"id":"c1"}}`)))

	assert.False(t, relayable(protocol.MustEncode(protocol.Ping())), "only comment events cross instances")
	assert.False(t, relayable([]byte(`{"type":"snapshot","snapshot":{}}`)))
	assert.False(t, relayable([]byte(`not json`)))
}
