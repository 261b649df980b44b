package repl

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"

	"vsockmux/pkg/driver/loopback"
	"vsockmux/pkg/packet"
	"vsockmux/pkg/socket"
	"vsockmux/pkg/vsockstack"
)

var states = map[string]socket.State{
	"listen":     socket.Listening,
	"request":    socket.RequestReceived,
	"connecting": socket.Connecting,
	"connected":  socket.Connected,
	"shutdown":   socket.ShuttingDown,
}

var ops = map[string]packet.Op{
	"request":        packet.OpRequest,
	"response":       packet.OpResponse,
	"rst":            packet.OpReset,
	"shutdown":       packet.OpShutdown,
	"rw":             packet.OpRw,
	"credit-update":  packet.OpCreditUpdate,
	"credit-request": packet.OpCreditRequest,
}

// Repl is a line oriented debug console over a stack. lb may be nil when the
// stack is not backed by the loopback driver.
type Repl struct {
	stack    *vsockstack.Stack
	lb       *loopback.Driver
	guestCID uint64
}

func New(s *vsockstack.Stack, lb *loopback.Driver, guestCID uint64) *Repl {
	return &Repl{stack: s, lb: lb, guestCID: guestCID}
}

// Run reads commands from in until it is exhausted.
func (r *Repl) Run(in io.Reader, out io.Writer) {
	reader := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !reader.Scan() {
			break
		}
		fields := strings.Fields(reader.Text())
		if len(fields) == 0 {
			continue
		}
		if err := r.exec(fields, out); err != nil {
			fmt.Fprintln(out, err)
		}
	}
}

func (r *Repl) exec(fields []string, out io.Writer) error {
	switch fields[0] {
	case "ls":
		r.list(out)
	case "bind":
		port, err := portArg(fields, 1)
		if err != nil {
			return err
		}
		return r.stack.Bind(port)
	case "rm":
		port, err := portArg(fields, 1)
		if err != nil {
			return err
		}
		r.stack.Remove(port)
	case "state":
		if len(fields) != 3 {
			return errors.Errorf("usage: state <port> <%s>", strings.Join(stateNames(), "|"))
		}
		port, err := portArg(fields, 1)
		if err != nil {
			return err
		}
		state, ok := states[fields[2]]
		if !ok {
			return errors.Errorf("unknown state %q", fields[2])
		}
		if !r.stack.Modify(port, func(c *socket.Connection) { c.State = state }) {
			return errors.Errorf("port %d is not bound", port)
		}
	case "read":
		port, err := portArg(fields, 1)
		if err != nil {
			return err
		}
		var data []byte
		ok := r.stack.Modify(port, func(c *socket.Connection) {
			data = make([]byte, c.Buffered())
			n, _ := c.Read(data)
			data = data[:n]
		})
		if !ok {
			return errors.Errorf("port %d is not bound", port)
		}
		fmt.Fprintf(out, "%q\n", data)
	case "inject":
		return r.inject(fields)
	case "sent":
		if r.lb == nil {
			return errors.Errorf("sent requires the loopback transport")
		}
		for _, h := range r.lb.Sent() {
			fmt.Fprintln(out, h)
		}
	default:
		return errors.Errorf("unknown command %q", fields[0])
	}
	return nil
}

func (r *Repl) list(out io.Writer) {
	w := tabwriter.NewWriter(out, 1, 1, 3, ' ', 0)
	fmt.Fprintln(w, "Port\tState\tRemote\tBuffered")
	for _, port := range r.stack.Registry.Ports() {
		info, ok := r.stack.Lookup(port)
		if !ok {
			continue
		}
		remote := "-"
		if info.State != socket.Listening {
			remote = fmt.Sprintf("%d:%d", info.RemoteCID, info.RemotePort)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", info.Port, info.State, remote, info.Buffered)
	}
	w.Flush()
}

// inject <op> <src_cid> <src_port> <dst_port> [payload]
func (r *Repl) inject(fields []string) error {
	if r.lb == nil {
		return errors.Errorf("inject requires the loopback transport")
	}
	if len(fields) < 5 {
		return errors.Errorf("usage: inject <op> <src_cid> <src_port> <dst_port> [payload]")
	}
	op, ok := ops[fields[1]]
	if !ok {
		return errors.Errorf("unknown op %q", fields[1])
	}
	cid, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return errors.Errorf("invalid cid %q", fields[2])
	}
	srcPort, err := portArg(fields, 3)
	if err != nil {
		return err
	}
	dstPort, err := portArg(fields, 4)
	if err != nil {
		return err
	}
	var payload []byte
	if len(fields) > 5 {
		payload = []byte(strings.Join(fields[5:], " "))
	}

	r.lb.Inject(packet.Header{
		SrcCID:  cid,
		DstCID:  r.guestCID,
		SrcPort: srcPort,
		DstPort: dstPort,
		Type:    packet.TypeStream,
		Op:      op,
	}, payload)
	return nil
}

func portArg(fields []string, i int) (uint32, error) {
	if len(fields) <= i {
		return 0, errors.Errorf("missing port argument")
	}
	p, err := strconv.ParseUint(fields[i], 10, 32)
	if err != nil {
		return 0, errors.Errorf("invalid port %q", fields[i])
	}
	return uint32(p), nil
}

func stateNames() []string {
	return []string{"listen", "request", "connecting", "connected", "shutdown"}
}
