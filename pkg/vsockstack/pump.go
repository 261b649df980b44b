package vsockstack

import (
	"sync"

	"github.com/google/netstack/tcpip/buffer"
	"github.com/google/netstack/waiter"
	"github.com/sirupsen/logrus"

	"vsockmux/pkg/executor"
	"vsockmux/pkg/packet"
	"vsockmux/pkg/socket"
)

// Pump moves inbound packets from the attached driver into the registry and
// answers the ones no connection expects.
type Pump struct {
	slot     *driverSlot
	registry *Registry
	bufAlloc uint32

	irqMu sync.Mutex
	irq   socket.Notifier
}

func newPump(slot *driverSlot, registry *Registry) *Pump {
	return &Pump{
		slot:     slot,
		registry: registry,
		bufAlloc: uint32(registry.BufferSize()),
	}
}

// Interrupt wakes the pump task. Drivers call it when a packet is queued.
func (p *Pump) Interrupt() {
	p.irqMu.Lock()
	defer p.irqMu.Unlock()
	p.irq.Fire()
}

// Poll runs one turn: at most one packet is handled. It returns Ready only
// when no driver is attached.
func (p *Pump) Poll(w *waiter.Entry) executor.Poll {
	// register before looking at the driver so an interrupt that races with
	// an empty poll still wakes us
	p.irqMu.Lock()
	p.irq.Register(w)
	p.irqMu.Unlock()

	p.slot.mu.Lock()
	defer p.slot.mu.Unlock()

	drv := p.slot.drv
	if drv == nil {
		stackLog.Info("no vsock driver attached, packet pump stops")
		return executor.Ready
	}

	if p.turn(drv) {
		// more packets may be queued, come back on the next scheduler pass
		executor.Wake(w)
	}
	return executor.Pending
}

// turn must be called with the driver lock held.
func (p *Pump) turn(drv Driver) bool {
	var (
		handled bool
		reply   *packet.Header
	)

	drv.ProcessPacket(func(hdr *packet.Header, payload buffer.View) {
		handled = true
		reply = p.dispatch(hdr, payload)
	})

	if reply != nil {
		p.sendReply(drv, reply)
	}
	return handled
}

// dispatch applies hdr to the registry and returns the reply to send, if
// any. The registry lock is released before it returns.
func (p *Pump) dispatch(hdr *packet.Header, payload buffer.View) *packet.Header {
	opLabel := hdr.Op.String()
	if !hdr.Op.Valid() {
		opLabel = "unknown"
	}
	packetsReceived.WithLabelValues(opLabel).Inc()

	log := stackLog.WithFields(logrus.Fields{
		"op":       hdr.Op,
		"type":     hdr.Type,
		"src-cid":  hdr.SrcCID,
		"src-port": hdr.SrcPort,
		"dst-port": hdr.DstPort,
	})

	if !hdr.Op.Valid() || !hdr.Type.Valid() {
		log.Warn("dropping vsock packet with unknown op or type")
		packetsDropped.WithLabelValues("malformed").Inc()
		return nil
	}

	p.registry.mu.Lock()
	defer p.registry.mu.Unlock()

	conn := p.registry.get(hdr.DstPort)

	switch {
	case conn != nil && hdr.Op == packet.OpRequest && hdr.Type == packet.TypeStream &&
		conn.State == socket.Listening:
		conn.State = socket.RequestReceived
		conn.RemoteCID = hdr.SrcCID
		conn.RemotePort = hdr.SrcPort
		conn.Notifier.Fire()
		log.Debug("connection request received")
		return nil

	case conn != nil && hdr.Type == packet.TypeStream && hdr.Op == packet.OpRw &&
		(conn.State == socket.Connected || conn.State == socket.ShuttingDown):
		if n := conn.Deliver(payload); n < len(payload) {
			overflowBytes.Add(float64(len(payload) - n))
			log.WithFields(logrus.Fields{
				"kept":    n,
				"dropped": len(payload) - n,
			}).Warn("receive buffer full, payload truncated")
		}
		conn.Notifier.Fire()
		return nil

	case hdr.Op == packet.OpCreditUpdate:
		log.WithField("header", hdr).Debug("credit update currently not supported")
		return nil

	case hdr.Op == packet.OpShutdown:
		if conn != nil {
			conn.State = socket.ShuttingDown
			conn.Notifier.Fire()
		}
		log.WithField("flags", hdr.Flags).Debug("peer shut down connection")
		return nil
	}

	op, fwdCnt := packet.OpReset, uint32(0)
	if hdr.Op == packet.OpCreditRequest {
		op = packet.OpCreditUpdate
		if conn != nil {
			fwdCnt = uint32(conn.Buffered())
		}
	}
	log.WithField("reply", op).Debug("unexpected vsock packet")

	reply := hdr.Reply(op, p.bufAlloc, fwdCnt)
	return &reply
}

func (p *Pump) sendReply(drv Driver, reply *packet.Header) {
	err := drv.SendPacket(packet.HeaderSize, func(buf []byte) {
		if err := reply.MarshalTo(buf); err != nil {
			stackLog.WithError(err).Error("cannot encode vsock reply")
		}
	})
	if err != nil {
		replyErrors.Inc()
		stackLog.WithError(err).WithField("reply", reply).Warn("failed to send vsock reply")
		return
	}
	repliesSent.WithLabelValues(reply.Op.String()).Inc()
}
