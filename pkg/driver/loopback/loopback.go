// Package loopback is an in-memory vsock driver. Packets are injected by the
// caller and replies are recorded instead of being transmitted.
package loopback

import (
	"sync"

	"github.com/google/netstack/tcpip/buffer"

	"vsockmux/pkg/packet"
)

type Packet struct {
	Header  packet.Header
	Payload []byte
}

type Driver struct {
	mu        sync.Mutex
	rx        []Packet
	tx        [][]byte
	interrupt func()
	sendErr   error
}

func New() *Driver {
	return &Driver{}
}

// Inject queues an inbound packet and raises the interrupt.
func (d *Driver) Inject(hdr packet.Header, payload []byte) {
	hdr.Len = uint32(len(payload))
	p := Packet{Header: hdr, Payload: append([]byte(nil), payload...)}

	d.mu.Lock()
	d.rx = append(d.rx, p)
	irq := d.interrupt
	d.mu.Unlock()

	if irq != nil {
		irq()
	}
}

func (d *Driver) ProcessPacket(fn func(hdr *packet.Header, payload buffer.View)) {
	d.mu.Lock()
	if len(d.rx) == 0 {
		d.mu.Unlock()
		return
	}
	p := d.rx[0]
	d.rx = d.rx[1:]
	d.mu.Unlock()

	fn(&p.Header, buffer.View(p.Payload))
}

func (d *Driver) SendPacket(size int, fn func(buf []byte)) error {
	d.mu.Lock()
	err := d.sendErr
	d.mu.Unlock()
	if err != nil {
		return err
	}

	buf := make([]byte, size)
	fn(buf)

	d.mu.Lock()
	d.tx = append(d.tx, buf)
	d.mu.Unlock()
	return nil
}

func (d *Driver) SetInterruptHandler(fn func()) {
	d.mu.Lock()
	d.interrupt = fn
	d.mu.Unlock()
}

// FailSends makes every following SendPacket return err. nil restores
// normal operation.
func (d *Driver) FailSends(err error) {
	d.mu.Lock()
	d.sendErr = err
	d.mu.Unlock()
}

// Queued is the number of injected packets not yet processed.
func (d *Driver) Queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rx)
}

// Sent decodes the headers of every packet sent so far.
func (d *Driver) Sent() []packet.Header {
	d.mu.Lock()
	defer d.mu.Unlock()

	hdrs := make([]packet.Header, 0, len(d.tx))
	for _, raw := range d.tx {
		hdr, err := packet.Unmarshal(raw)
		if err != nil {
			continue
		}
		hdrs = append(hdrs, hdr)
	}
	return hdrs
}
