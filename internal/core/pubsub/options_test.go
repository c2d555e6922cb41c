package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConsumerOptions(t *testing.T) {
	opts := DefaultConsumerOptions()
	assert.Equal(t, 100, opts.ChannelBufSize)
	assert.Equal(t, DefaultAckWait, opts.AckWait)
	assert.Empty(t, opts.StreamName)
}

func TestApplyPublishOptions(t *testing.T) {
	assert.Empty(t, ApplyPublishOptions(nil).MsgID)

	cfg := ApplyPublishOptions([]PublishOption{WithMsgID("a"), WithMsgID("b")})
	assert.Equal(t, "b", cfg.MsgID)
}
