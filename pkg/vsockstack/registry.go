package vsockstack

import (
	"sync"

	"github.com/google/btree"
	"github.com/pkg/errors"

	"vsockmux/pkg/socket"
)

var ErrAddressInUse = errors.New("address already in use")

const registryDegree = 16

type registryEntry struct {
	port uint32
	conn *socket.Connection
}

func lessEntry(a, b registryEntry) bool {
	return a.port < b.port
}

// Registry maps local ports to connections. All access, including the
// packet pump's, is serialized by one lock.
type Registry struct {
	mu         sync.Mutex
	conns      *btree.BTreeG[registryEntry]
	bufferSize int
}

func NewRegistry(bufferSize int) *Registry {
	if bufferSize <= 0 {
		bufferSize = socket.DefaultBufferSize
	}
	return &Registry{
		conns:      btree.NewG[registryEntry](registryDegree, lessEntry),
		bufferSize: bufferSize,
	}
}

// Bind creates a listening connection on port.
func (r *Registry) Bind(port uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conns.Has(registryEntry{port: port}) {
		return errors.Wrapf(ErrAddressInUse, "vsock port %d", port)
	}
	r.conns.ReplaceOrInsert(registryEntry{
		port: port,
		conn: socket.NewConnection(port, r.bufferSize),
	})
	boundConnections.Set(float64(r.conns.Len()))
	return nil
}

// Lookup returns a snapshot of the connection bound to port.
func (r *Registry) Lookup(port uint32) (socket.Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.get(port)
	if c == nil {
		return socket.Info{}, false
	}
	return c.Info(), true
}

// Modify runs fn on the connection bound to port while holding the registry
// lock. fn must not call back into the registry. It reports whether port
// was bound.
func (r *Registry) Modify(port uint32, fn func(c *socket.Connection)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.get(port)
	if c == nil {
		return false
	}
	fn(c)
	return true
}

// Remove deletes the connection bound to port, if any.
func (r *Registry) Remove(port uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns.Delete(registryEntry{port: port})
	boundConnections.Set(float64(r.conns.Len()))
}

// Ports lists bound ports in ascending order.
func (r *Registry) Ports() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ports := make([]uint32, 0, r.conns.Len())
	r.conns.Ascend(func(e registryEntry) bool {
		ports = append(ports, e.port)
		return true
	})
	return ports
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns.Len()
}

// Clear discards every bound connection.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns.Clear(false)
	boundConnections.Set(0)
}

// BufferSize is the receive capacity given to new connections.
func (r *Registry) BufferSize() int {
	return r.bufferSize
}

// get must be called with mu held.
func (r *Registry) get(port uint32) *socket.Connection {
	e, ok := r.conns.Get(registryEntry{port: port})
	if !ok {
		return nil
	}
	return e.conn
}
