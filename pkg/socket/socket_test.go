package socket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConnection(t *testing.T) {
	assert := assert.New(t)

	c := NewConnection(1234, 0)
	assert.Equal(uint32(1234), c.Port)
	assert.Equal(Listening, c.State)
	assert.Equal(DefaultBufferSize, c.Capacity())
	assert.Equal(0, c.Buffered())
	assert.False(c.Notifier.Pending())
}

func TestDeliverPreservesOrder(t *testing.T) {
	assert := assert.New(t)

	c := NewConnection(1, 64)
	assert.Equal(2, c.Deliver([]byte("AB")))
	assert.Equal(2, c.Deliver([]byte("CD")))
	assert.Equal(4, c.Buffered())

	buf := make([]byte, 16)
	n, err := c.Read(buf)
	assert.NoError(err)
	assert.Equal("ABCD", string(buf[:n]))
	assert.Equal(0, c.Buffered())

	n, err = c.Read(buf)
	assert.NoError(err)
	assert.Equal(0, n)
}

func TestDeliverOverflowKeepsPrefix(t *testing.T) {
	assert := assert.New(t)

	c := NewConnection(1, 4)
	assert.Equal(3, c.Deliver([]byte("abc")))
	assert.Equal(1, c.Deliver([]byte("def")))
	assert.Equal(0, c.Deliver([]byte("g")))
	assert.Equal(uint64(3), c.Dropped())

	buf := make([]byte, 8)
	n, _ := c.Read(buf)
	assert.Equal("abcd", string(buf[:n]))
}

func TestInfoSnapshot(t *testing.T) {
	c := NewConnection(7, 16)
	c.State = RequestReceived
	c.RemoteCID = 2
	c.RemotePort = 5
	c.Deliver([]byte("xy"))

	assert.Equal(t, Info{
		Port:       7,
		RemoteCID:  2,
		RemotePort: 5,
		State:      RequestReceived,
		Buffered:   2,
	}, c.Info())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "LISTEN", Listening.String())
	assert.Equal(t, "SHUTDOWN", ShuttingDown.String())
	assert.Equal(t, "State(9)", State(9).String())
}
