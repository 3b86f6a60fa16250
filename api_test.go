package reactor

import (
	"testing"
	"time"

	"github.com/legamerdc/reactor/buffer"
	"github.com/legamerdc/reactor/poller"
	"github.com/stretchr/testify/assert"
)

func TestConfigNormalize(t *testing.T) {
	c := Config{NumLoops: -3}.normalize()
	assert.Equal(t, "reactor", c.Name)
	assert.Equal(t, 0, c.NumLoops)
	assert.Equal(t, poller.KindEpoll, c.Poller)
	assert.Equal(t, DefaultPollTimeout, c.PollTimeout)
	assert.Equal(t, buffer.InitialSize, c.InitialBufferSize)
	assert.EqualValues(t, DefaultConnectRetryLimit, c.ConnectRetryLimit)

	c = Config{Name: "x", Poller: poller.KindPoll, PollTimeout: time.Second, ConnectRetryLimit: 2}.normalize()
	assert.Equal(t, "x", c.Name)
	assert.Equal(t, poller.KindPoll, c.Poller)
	assert.Equal(t, time.Second, c.PollTimeout)
	assert.EqualValues(t, 2, c.ConnectRetryLimit)
}
