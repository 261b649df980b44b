package socket

import (
	"github.com/google/netstack/waiter"
)

// Notifier holds at most one waiter to wake when the connection changes.
//
// The zero value is empty and ready to use.
type Notifier struct {
	entry *waiter.Entry
}

// Register records e as the party to wake. Registering the entry that is
// already held is a no-op; any other entry replaces it.
//
// For connections in a registry, Fire runs with the registry lock held. The
// callback of e must not call back into the registry or it deadlocks; it
// may re-register on this Notifier, whose slot is cleared before the call.
func (n *Notifier) Register(e *waiter.Entry) {
	if e == nil || n.entry == e {
		return
	}
	n.entry = e
}

// Fire wakes the registered waiter, if any, and clears the slot.
func (n *Notifier) Fire() {
	e := n.entry
	if e == nil {
		return
	}
	n.entry = nil
	if e.Callback != nil {
		e.Callback.Callback(e)
	}
}

// Pending reports whether a waiter is registered.
func (n *Notifier) Pending() bool {
	return n.entry != nil
}
