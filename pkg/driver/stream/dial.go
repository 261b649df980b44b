package stream

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mdlayher/vsock"
	"github.com/pkg/errors"
)

const (
	VSockScheme = "vsock"
	UnixScheme  = "unix"
)

var vsockDial = func(cid, port uint32) (net.Conn, error) {
	return vsock.Dial(cid, port, nil)
}

// Dial connects to addr and returns a driver reading from it.
//
// Supported address formats are:
//   - vsock://<cid>:<port>
//   - unix://<path>
//
// A positive timeout bounds connection setup on both transports. AF_VSOCK has
// no native dial timeout: a vsock dial that outlives it is abandoned and the
// late connection closed.
func Dial(addr string, timeout time.Duration) (*Driver, error) {
	conn, err := dial(addr, timeout)
	if err != nil {
		return nil, err
	}
	streamLog.WithField("address", addr).Info("vsock stream connected")
	return New(conn), nil
}

func dial(addr string, timeout time.Duration) (net.Conn, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid transport address %q", addr)
	}

	switch u.Scheme {
	case VSockScheme:
		cid, port, err := parseVSockAddr(u.Host)
		if err != nil {
			return nil, err
		}
		return dialVSock(cid, port, timeout)
	case UnixScheme:
		path := u.Path
		if u.Host != "" {
			path = u.Host + u.Path
		}
		if path == "" {
			return nil, errors.Errorf("missing socket path in %q", addr)
		}
		conn, err := net.DialTimeout("unix", path, timeout)
		if err != nil {
			return nil, errors.Wrapf(err, "dial unix %s", path)
		}
		return conn, nil
	default:
		return nil, errors.Errorf("unsupported transport scheme %q", u.Scheme)
	}
}

func dialVSock(cid, port uint32, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		conn, err := vsockDial(cid, port)
		if err != nil {
			return nil, errors.Wrapf(err, "dial vsock %d:%d", cid, port)
		}
		return conn, nil
	}

	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := vsockDial(cid, port)
		done <- result{conn, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, errors.Wrapf(r.err, "dial vsock %d:%d", cid, port)
		}
		return r.conn, nil
	case <-timer.C:
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, errors.Errorf("dial vsock %d:%d: timed out after %s", cid, port, timeout)
	}
}

func parseVSockAddr(hostport string) (uint32, uint32, error) {
	parts := strings.Split(hostport, ":")
	if len(parts) != 2 {
		return 0, 0, errors.Errorf("invalid vsock address %q, want <cid>:<port>", hostport)
	}
	cid, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "invalid vsock cid %q", parts[0])
	}
	port, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "invalid vsock port %q", parts[1])
	}
	return uint32(cid), uint32(port), nil
}
