package socket

import (
	"fmt"

	"github.com/smallnest/ringbuffer"
)

// DefaultBufferSize is the receive buffer capacity of a connection, also
// advertised to peers as buf_alloc.
const DefaultBufferSize = 256 * 1024

type State int

const (
	Listening State = iota
	RequestReceived
	Connecting
	Connected
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Listening:
		return "LISTEN"
	case RequestReceived:
		return "REQUEST_RECEIVED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case ShuttingDown:
		return "SHUTDOWN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Connection is the per-port state of a bound vsock socket.
//
// A Connection is owned by the registry that created it and is not safe for
// concurrent use on its own: every access happens under the registry lock.
type Connection struct {
	Port       uint32
	RemoteCID  uint64 // valid once a request was received
	RemotePort uint32
	State      State
	Notifier   Notifier

	recvBuffer *ringbuffer.RingBuffer
	dropped    uint64
}

// Info is a point-in-time copy of a Connection.
type Info struct {
	Port       uint32
	RemoteCID  uint64
	RemotePort uint32
	State      State
	Buffered   int
	Dropped    uint64
}

func NewConnection(port uint32, bufferSize int) *Connection {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Connection{
		Port:       port,
		State:      Listening,
		recvBuffer: ringbuffer.New(bufferSize),
	}
}

// Deliver appends payload to the receive buffer in arrival order and returns
// how many bytes were kept. Bytes that do not fit are discarded.
func (c *Connection) Deliver(payload []byte) int {
	free := c.recvBuffer.Free()
	if len(payload) > free {
		c.dropped += uint64(len(payload) - free)
		payload = payload[:free]
	}
	if len(payload) == 0 {
		return 0
	}
	n, _ := c.recvBuffer.Write(payload)
	return n
}

// Read drains up to len(p) buffered bytes. It returns 0, nil when the buffer
// is empty.
func (c *Connection) Read(p []byte) (int, error) {
	if len(p) == 0 || c.recvBuffer.IsEmpty() {
		return 0, nil
	}
	return c.recvBuffer.Read(p)
}

// Buffered is the number of received bytes not yet drained.
func (c *Connection) Buffered() int {
	return c.recvBuffer.Length()
}

func (c *Connection) Capacity() int {
	return c.recvBuffer.Capacity()
}

// Dropped is the number of payload bytes discarded because the buffer was full.
func (c *Connection) Dropped() uint64 {
	return c.dropped
}

func (c *Connection) Info() Info {
	return Info{
		Port:       c.Port,
		RemoteCID:  c.RemoteCID,
		RemotePort: c.RemotePort,
		State:      c.State,
		Buffered:   c.Buffered(),
		Dropped:    c.dropped,
	}
}
