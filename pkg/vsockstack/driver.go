package vsockstack

import (
	"sync"

	"github.com/google/netstack/tcpip/buffer"

	"vsockmux/pkg/packet"
)

// Driver is the transport capability the packet pump consumes.
type Driver interface {
	// ProcessPacket hands at most one queued inbound packet to fn.
	ProcessPacket(fn func(hdr *packet.Header, payload buffer.View))

	// SendPacket lets fn fill size bytes of the next outbound packet and
	// submits it.
	SendPacket(size int, fn func(buf []byte)) error
}

// InterruptSource is implemented by drivers that signal packet arrival.
type InterruptSource interface {
	SetInterruptHandler(fn func())
}

// driverSlot holds the attached driver. Its lock is the driver lock: the
// pump holds it for a whole turn.
type driverSlot struct {
	mu  sync.Mutex
	drv Driver
}

func (s *driverSlot) set(d Driver) {
	s.mu.Lock()
	s.drv = d
	s.mu.Unlock()
}
