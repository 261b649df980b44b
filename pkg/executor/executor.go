// Package executor runs cooperative tasks. A task is polled on its own
// goroutine; when it reports Pending it is parked until something fires the
// waker it was polled with.
package executor

import (
	"context"
	"sync"

	"github.com/google/netstack/waiter"
	"github.com/sirupsen/logrus"
)

type Poll int

const (
	Pending Poll = iota
	Ready
)

// Task is a unit of cooperative work. Poll must not block; a task that
// cannot make progress registers w with whatever will wake it and returns
// Pending.
type Task interface {
	Poll(w *waiter.Entry) Poll
}

// TaskFunc adapts a function to Task.
type TaskFunc func(w *waiter.Entry) Poll

func (f TaskFunc) Poll(w *waiter.Entry) Poll {
	return f(w)
}

var executorLog = logrus.WithFields(logrus.Fields{
	"source":    "vsockmux",
	"subsystem": "executor",
})

// SetLogger replaces the package logger.
func SetLogger(logger *logrus.Entry) {
	executorLog = logger.WithField("subsystem", "executor")
}

type Executor struct {
	ctx context.Context
	wg  sync.WaitGroup
}

func New(ctx context.Context) *Executor {
	return &Executor{ctx: ctx}
}

// Spawn starts polling t. It returns immediately.
func (e *Executor) Spawn(name string, t Task) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(name, t)
	}()
}

func (e *Executor) run(name string, t Task) {
	log := executorLog.WithField("task", name)
	entry, wake := waiter.NewChannelEntry(nil)

	log.Debug("task spawned")
	for {
		if t.Poll(&entry) == Ready {
			log.Debug("task finished")
			return
		}
		select {
		case <-wake:
		case <-e.ctx.Done():
			log.WithError(e.ctx.Err()).Debug("task cancelled")
			return
		}
	}
}

// Wait blocks until every spawned task has finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Wake fires w without unregistering it from anything.
func Wake(w *waiter.Entry) {
	if w != nil && w.Callback != nil {
		w.Callback.Callback(w)
	}
}
