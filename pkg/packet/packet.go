package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// HeaderSize is the size of a virtio-vsock header on the wire.
const HeaderSize = 44

// Field offsets, all little-endian.
const (
	offSrcCID   = 0
	offDstCID   = 8
	offSrcPort  = 16
	offDstPort  = 20
	offLen      = 24
	offType     = 28
	offOp       = 30
	offFlags    = 32
	offBufAlloc = 36
	offFwdCnt   = 40
)

// Well-known context ids.
const (
	CIDHypervisor uint64 = 0
	CIDLocal      uint64 = 1
	CIDHost       uint64 = 2
)

var ErrShortHeader = errors.New("vsock header too short")

type Op uint16

const (
	OpInvalid       Op = 0
	OpRequest       Op = 1
	OpResponse      Op = 2
	OpReset         Op = 3
	OpShutdown      Op = 4
	OpRw            Op = 5
	OpCreditUpdate  Op = 6
	OpCreditRequest Op = 7
)

// Valid reports whether op decodes to a recognized operation.
func (op Op) Valid() bool {
	return op >= OpRequest && op <= OpCreditRequest
}

func (op Op) String() string {
	switch op {
	case OpInvalid:
		return "INVALID"
	case OpRequest:
		return "REQUEST"
	case OpResponse:
		return "RESPONSE"
	case OpReset:
		return "RST"
	case OpShutdown:
		return "SHUTDOWN"
	case OpRw:
		return "RW"
	case OpCreditUpdate:
		return "CREDIT_UPDATE"
	case OpCreditRequest:
		return "CREDIT_REQUEST"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint16(op))
	}
}

type Type uint16

const (
	TypeStream    Type = 1
	TypeSeqPacket Type = 2
)

func (t Type) Valid() bool {
	return t == TypeStream || t == TypeSeqPacket
}

func (t Type) String() string {
	switch t {
	case TypeStream:
		return "STREAM"
	case TypeSeqPacket:
		return "SEQPACKET"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint16(t))
	}
}

// Shutdown flags carried by OpShutdown.
const (
	ShutdownRecv uint32 = 1
	ShutdownSend uint32 = 2
)

// Header is a decoded virtio-vsock packet header.
type Header struct {
	SrcCID   uint64
	DstCID   uint64
	SrcPort  uint32
	DstPort  uint32
	Len      uint32
	Type     Type
	Op       Op
	Flags    uint32
	BufAlloc uint32
	FwdCnt   uint32
}

// Unmarshal decodes the first HeaderSize bytes of buf.
func Unmarshal(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errors.Wrapf(ErrShortHeader, "got %d bytes, want %d", len(buf), HeaderSize)
	}
	return Header{
		SrcCID:   binary.LittleEndian.Uint64(buf[offSrcCID:]),
		DstCID:   binary.LittleEndian.Uint64(buf[offDstCID:]),
		SrcPort:  binary.LittleEndian.Uint32(buf[offSrcPort:]),
		DstPort:  binary.LittleEndian.Uint32(buf[offDstPort:]),
		Len:      binary.LittleEndian.Uint32(buf[offLen:]),
		Type:     Type(binary.LittleEndian.Uint16(buf[offType:])),
		Op:       Op(binary.LittleEndian.Uint16(buf[offOp:])),
		Flags:    binary.LittleEndian.Uint32(buf[offFlags:]),
		BufAlloc: binary.LittleEndian.Uint32(buf[offBufAlloc:]),
		FwdCnt:   binary.LittleEndian.Uint32(buf[offFwdCnt:]),
	}, nil
}

// MarshalTo writes h into the first HeaderSize bytes of buf.
func (h *Header) MarshalTo(buf []byte) error {
	if len(buf) < HeaderSize {
		return errors.Wrapf(ErrShortHeader, "destination has %d bytes, want %d", len(buf), HeaderSize)
	}
	binary.LittleEndian.PutUint64(buf[offSrcCID:], h.SrcCID)
	binary.LittleEndian.PutUint64(buf[offDstCID:], h.DstCID)
	binary.LittleEndian.PutUint32(buf[offSrcPort:], h.SrcPort)
	binary.LittleEndian.PutUint32(buf[offDstPort:], h.DstPort)
	binary.LittleEndian.PutUint32(buf[offLen:], h.Len)
	binary.LittleEndian.PutUint16(buf[offType:], uint16(h.Type))
	binary.LittleEndian.PutUint16(buf[offOp:], uint16(h.Op))
	binary.LittleEndian.PutUint32(buf[offFlags:], h.Flags)
	binary.LittleEndian.PutUint32(buf[offBufAlloc:], h.BufAlloc)
	binary.LittleEndian.PutUint32(buf[offFwdCnt:], h.FwdCnt)
	return nil
}

// Marshal returns h encoded into a fresh HeaderSize buffer.
func (h *Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	_ = h.MarshalTo(buf)
	return buf
}

// Reply returns a control header addressed back to the sender of h:
// cids and ports swapped, no payload, no flags.
func (h *Header) Reply(op Op, bufAlloc, fwdCnt uint32) Header {
	return Header{
		SrcCID:   h.DstCID,
		DstCID:   h.SrcCID,
		SrcPort:  h.DstPort,
		DstPort:  h.SrcPort,
		Len:      0,
		Type:     h.Type,
		Op:       op,
		Flags:    0,
		BufAlloc: bufAlloc,
		FwdCnt:   fwdCnt,
	}
}

func (h Header) String() string {
	return fmt.Sprintf("%s %s %d:%d -> %d:%d len=%d buf_alloc=%d fwd_cnt=%d",
		h.Type, h.Op, h.SrcCID, h.SrcPort, h.DstCID, h.DstPort, h.Len, h.BufAlloc, h.FwdCnt)
}
