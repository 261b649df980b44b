// Package stream carries raw virtio-vsock packets over a byte stream.
//
// Each packet is its 44 byte header followed by exactly hdr.Len payload
// bytes. This is the framing a hybrid vsock proxy uses when it forwards
// guest packets over AF_UNIX or AF_VSOCK.
package stream

import (
	"io"
	"net"
	"sync"

	"github.com/google/netstack/tcpip/buffer"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"vsockmux/pkg/packet"
)

// MaxPayload bounds a single packet's payload.
const MaxPayload = 64 * 1024

var streamLog = logrus.WithFields(logrus.Fields{
	"source":    "vsockmux",
	"subsystem": "stream-driver",
})

// SetLogger replaces the package logger.
func SetLogger(logger *logrus.Entry) {
	streamLog = logger.WithField("subsystem", "stream-driver")
}

type inboundPacket struct {
	hdr     packet.Header
	payload []byte
}

type Driver struct {
	conn net.Conn

	mu        sync.Mutex
	rx        []inboundPacket
	interrupt func()
	err       error

	writeMu sync.Mutex
	done    chan struct{}
}

// New starts reading packets from conn.
func New(conn net.Conn) *Driver {
	d := &Driver{
		conn: conn,
		done: make(chan struct{}),
	}
	go d.readLoop()
	return d
}

func (d *Driver) readLoop() {
	defer close(d.done)

	hdrBuf := make([]byte, packet.HeaderSize)
	for {
		if _, err := io.ReadFull(d.conn, hdrBuf); err != nil {
			d.fail(errors.Wrap(err, "read vsock header"))
			return
		}
		hdr, err := packet.Unmarshal(hdrBuf)
		if err != nil {
			d.fail(err)
			return
		}
		if hdr.Len > MaxPayload {
			d.fail(errors.Errorf("vsock payload of %d bytes exceeds %d", hdr.Len, MaxPayload))
			return
		}
		payload := make([]byte, hdr.Len)
		if _, err := io.ReadFull(d.conn, payload); err != nil {
			d.fail(errors.Wrap(err, "read vsock payload"))
			return
		}

		d.mu.Lock()
		d.rx = append(d.rx, inboundPacket{hdr: hdr, payload: payload})
		irq := d.interrupt
		d.mu.Unlock()

		if irq != nil {
			irq()
		}
	}
}

func (d *Driver) fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()

	if errors.Cause(err) == io.EOF {
		streamLog.Info("vsock stream closed by peer")
		return
	}
	streamLog.WithError(err).Warn("vsock stream reader stopped")
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

	fn(&p.hdr, buffer.View(p.payload))
}

func (d *Driver) SendPacket(size int, fn func(buf []byte)) error {
	buf := make([]byte, size)
	fn(buf)

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if _, err := d.conn.Write(buf); err != nil {
		return errors.Wrap(err, "write vsock packet")
	}
	return nil
}

func (d *Driver) SetInterruptHandler(fn func()) {
	d.mu.Lock()
	d.interrupt = fn
	d.mu.Unlock()
}

// Err returns the error that stopped the reader, if any.
func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Done is closed once the reader has stopped.
func (d *Driver) Done() <-chan struct{} {
	return d.done
}

// Close closes the underlying connection and waits for the reader.
func (d *Driver) Close() error {
	err := d.conn.Close()
	<-d.done
	return err
}
