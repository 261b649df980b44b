// Package vsockstack demultiplexes inbound virtio-vsock packets to bound
// ports and drives the per-connection state machine.
//
// A Stack owns the connection registry and the packet pump. The pump runs as
// a single cooperative task on an executor and reaches the transport through
// the Driver attached to the stack.
package vsockstack

import (
	"github.com/sirupsen/logrus"

	"vsockmux/pkg/executor"
	"vsockmux/pkg/socket"
)

var stackLog = logrus.WithFields(logrus.Fields{
	"source":    "vsockmux",
	"subsystem": "vsockstack",
})

// SetLogger replaces the package logger.
func SetLogger(logger *logrus.Entry) {
	stackLog = logger.WithField("subsystem", "vsockstack")
}

type Stack struct {
	Registry *Registry

	slot *driverSlot
	pump *Pump
}

// New returns a stack whose connections buffer up to bufferSize bytes.
// A non-positive size selects socket.DefaultBufferSize.
func New(bufferSize int) *Stack {
	slot := &driverSlot{}
	registry := NewRegistry(bufferSize)
	return &Stack{
		Registry: registry,
		slot:     slot,
		pump:     newPump(slot, registry),
	}
}

// Init spawns the packet pump on exec. It must be called once.
func (s *Stack) Init(exec *executor.Executor) {
	stackLog.Info("initializing vsock interface")
	exec.Spawn("vsock-pump", s.pump)
}

// Attach makes d the driver the pump reads from.
func (s *Stack) Attach(d Driver) {
	s.slot.set(d)
	if src, ok := d.(InterruptSource); ok {
		src.SetInterruptHandler(s.pump.Interrupt)
	}
	s.pump.Interrupt()
}

// Detach removes the driver. The pump terminates on its next turn.
func (s *Stack) Detach() {
	s.slot.set(nil)
	s.pump.Interrupt()
}

// Interrupt wakes the packet pump.
func (s *Stack) Interrupt() {
	s.pump.Interrupt()
}

func (s *Stack) Bind(port uint32) error {
	return s.Registry.Bind(port)
}

func (s *Stack) Lookup(port uint32) (socket.Info, bool) {
	return s.Registry.Lookup(port)
}

func (s *Stack) Modify(port uint32, fn func(c *socket.Connection)) bool {
	return s.Registry.Modify(port, fn)
}

func (s *Stack) Remove(port uint32) {
	s.Registry.Remove(port)
}
