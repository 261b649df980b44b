package repl

import (
	"bytes"
	"context"
	"io/ioutil"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vsockmux/pkg/driver/loopback"
	"vsockmux/pkg/executor"
	"vsockmux/pkg/socket"
	"vsockmux/pkg/vsockstack"
)

func newRunningStack(t *testing.T) (*vsockstack.Stack, *loopback.Driver) {
	logger := logrus.New()
	logger.Out = ioutil.Discard
	vsockstack.SetLogger(logrus.NewEntry(logger))
	executor.SetLogger(logrus.NewEntry(logger))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := vsockstack.New(0)
	lb := loopback.New()
	s.Attach(lb)
	s.Init(executor.New(ctx))
	return s, lb
}

func run(r *Repl, script string) string {
	var out bytes.Buffer
	r.Run(strings.NewReader(script), &out)
	return out.String()
}

func TestBindInjectList(t *testing.T) {
	s, lb := newRunningStack(t)
	r := New(s, lb, 3)

	out := run(r, "bind 1234\ninject request 2 5 1234\n")
	assert.NotContains(t, out, "error")

	assert.Eventually(t, func() bool {
		info, ok := s.Lookup(1234)
		return ok && info.State == socket.RequestReceived
	}, 5*time.Second, 10*time.Millisecond)

	out = run(r, "ls\n")
	assert.Contains(t, out, "1234")
	assert.Contains(t, out, "REQUEST_RECEIVED")
	assert.Contains(t, out, "2:5")
}

func TestStateReadAndSent(t *testing.T) {
	s, lb := newRunningStack(t)
	r := New(s, lb, 3)

	run(r, "bind 80\nstate 80 connected\ninject rw 2 5 80 hello world\ninject credit-request 2 5 9999\n")
	assert.Eventually(t, func() bool {
		return len(lb.Sent()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	out := run(r, "read 80\nsent\n")
	assert.Contains(t, out, `"hello world"`)
	assert.Contains(t, out, "CREDIT_UPDATE")

	info, ok := s.Lookup(80)
	require.True(t, ok)
	assert.Equal(t, 0, info.Buffered)
}

func TestErrors(t *testing.T) {
	s, lb := newRunningStack(t)
	r := New(s, lb, 3)

	out := run(r, "bind 1\nbind 1\nbogus\nbind x\nstate 2 connected\nstate 1 flying\ninject nope 2 5 1\nread 7\n")
	assert.Contains(t, out, "address already in use")
	assert.Contains(t, out, `unknown command "bogus"`)
	assert.Contains(t, out, `invalid port "x"`)
	assert.Contains(t, out, "port 2 is not bound")
	assert.Contains(t, out, `unknown state "flying"`)
	assert.Contains(t, out, `unknown op "nope"`)
	assert.Contains(t, out, "port 7 is not bound")

	noLoopback := New(s, nil, 3)
	out = run(noLoopback, "inject rw 2 5 1\nsent\n")
	assert.Contains(t, out, "inject requires the loopback transport")
	assert.Contains(t, out, "sent requires the loopback transport")

	run(r, "rm 1\n")
	_, ok := s.Lookup(1)
	assert.False(t, ok)
}

func TestCommandErrorsCarryStack(t *testing.T) {
	s, lb := newRunningStack(t)
	r := New(s, lb, 3)

	type stackTracer interface {
		StackTrace() errors.StackTrace
	}
	for _, line := range []string{"bogus", "read", "inject", "state 1 connected"} {
		err := r.exec(strings.Fields(line), ioutil.Discard)
		require.Error(t, err, line)
		_, ok := err.(stackTracer)
		assert.True(t, ok, "%q: %v", line, err)
	}
}
