package executor

import (
	"context"
	"io/ioutil"
	"sync"
	"testing"
	"time"

	"github.com/google/netstack/waiter"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func init() {
	executorLog.Logger.Level = logrus.DebugLevel
	executorLog.Logger.Out = ioutil.Discard
}

func waitDone(t *testing.T, e *Executor) {
	done := make(chan struct{})
	go func() {
		e.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks did not finish")
	}
}

func TestTaskRunsUntilReady(t *testing.T) {
	polls := 0
	e := New(context.Background())
	e.Spawn("counter", TaskFunc(func(w *waiter.Entry) Poll {
		polls++
		if polls == 3 {
			return Ready
		}
		// yield and ask to be polled again
		Wake(w)
		return Pending
	}))
	waitDone(t, e)
	assert.Equal(t, 3, polls)
}

func TestTaskParkedUntilWoken(t *testing.T) {
	var mu sync.Mutex
	var parked *waiter.Entry
	polls := 0
	registered := make(chan struct{}, 1)

	e := New(context.Background())
	e.Spawn("parked", TaskFunc(func(w *waiter.Entry) Poll {
		mu.Lock()
		defer mu.Unlock()
		polls++
		if polls > 1 {
			return Ready
		}
		parked = w
		registered <- struct{}{}
		return Pending
	}))

	<-registered
	mu.Lock()
	w := parked
	mu.Unlock()
	Wake(w)

	waitDone(t, e)
	assert.Equal(t, 2, polls)
}

func TestCancelStopsParkedTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := New(ctx)
	e.Spawn("forever", TaskFunc(func(w *waiter.Entry) Poll {
		return Pending
	}))
	cancel()
	waitDone(t, e)
}
