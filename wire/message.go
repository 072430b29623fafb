package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

const (
	// HeaderSize is the size of message header.
	HeaderSize = 8

	// Version is the only supported protocol version.
	Version uint8 = 0
)

// CmdType is the type of message.
type CmdType uint8

// Message types.
const (
	CmdHello        CmdType = 0x00
	CmdStatus       CmdType = 0x01
	CmdData         CmdType = 0x02
	CmdPing         CmdType = 0x03
	CmdLookup       CmdType = 0x04
	CmdInvoke       CmdType = 0x05
	CmdAddObject    CmdType = 0x06
	CmdRemoveObject CmdType = 0x07
	CmdSubscribe    CmdType = 0x08
	CmdUnsubscribe  CmdType = 0x09
	CmdNotify       CmdType = 0x10
	CmdMonitor      CmdType = 0x11
)

var cmdNames = map[CmdType]string{
	CmdHello:        "HELLO",
	CmdStatus:       "STATUS",
	CmdData:         "DATA",
	CmdPing:         "PING",
	CmdLookup:       "LOOKUP",
	CmdInvoke:       "INVOKE",
	CmdAddObject:    "ADD_OBJECT",
	CmdRemoveObject: "REMOVE_OBJECT",
	CmdSubscribe:    "SUBSCRIBE",
	CmdUnsubscribe:  "UNSUBSCRIBE",
	CmdNotify:       "NOTIFY",
	CmdMonitor:      "MONITOR",
}

func (c CmdType) String() string {
	if name, ok := cmdNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CMD(%d)", uint8(c))
}

// Header is the fixed header of message.
type Header struct {
	Version uint8
	Type    CmdType
	Seq     uint16
	Peer    uint32
}

// ParseHeader reads header from the first HeaderSize bytes of b.
func ParseHeader(b []byte) Header {
	return Header{
		Version: b[0],
		Type:    CmdType(b[1]),
		Seq:     binary.BigEndian.Uint16(b[2:4]),
		Peer:    binary.BigEndian.Uint32(b[4:8]),
	}
}

// Put writes header into the first HeaderSize bytes of b.
func (h Header) Put(b []byte) {
	b[0] = h.Version
	b[1] = byte(h.Type)
	binary.BigEndian.PutUint16(b[2:4], h.Seq)
	binary.BigEndian.PutUint32(b[4:8], h.Peer)
}

func (h Header) String() string {
	return fmt.Sprintf("%s seq=%d peer=%08x", h.Type, h.Seq, h.Peer)
}

// Message is a header followed by the blob of attributes.
type Message struct {
	Header Header
	Attrs  AttrSeq
}

// Reader fills the buffer completely or fails.
type Reader interface {
	Get(b []byte) error
}

// ReadMessage reads message from r. Attributes of the message reference buf.
func ReadMessage(r Reader, buf []byte) (Message, error) {
	if len(buf) < HeaderSize+TagSize {
		return Message{}, errors.WithStack(ErrBufferOverflow)
	}

	pre := buf[:HeaderSize+TagSize]
	if err := r.Get(pre); err != nil {
		return Message{}, err
	}

	header := ParseHeader(pre)
	if header.Version != Version {
		return Message{}, invalidDataf("unsupported version %d", header.Version)
	}

	tag := ParseTag(pre[HeaderSize:])
	if err := tag.Validate(); err != nil {
		return Message{}, err
	}

	payload := buf[HeaderSize+TagSize:]
	if tag.InnerSize() > len(payload) {
		return Message{}, invalidDataf("message of %d bytes exceeds buffer of %d bytes", tag.InnerSize(),
			len(payload))
	}
	payload = payload[:tag.InnerSize()]
	if len(payload) > 0 {
		if err := r.Get(payload); err != nil {
			return Message{}, err
		}
	}

	return Message{Header: header, Attrs: AttrSeq(payload)}, nil
}

// WriteMessage encodes header and attributes into buf. If buf is nil, new buffer is allocated.
func WriteMessage(buf []byte, header Header, attrs ...Attr) ([]byte, error) {
	b := &Builder{}
	if buf != nil {
		b = NewBuilder(buf)
	}

	hdr, err := b.reserve(HeaderSize)
	if err != nil {
		return nil, err
	}
	header.Put(hdr)

	n, err := b.Nest(uint8(AttrUnspec), false)
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		if err := b.PutAttr(a); err != nil {
			return nil, err
		}
	}
	if err := b.Unnest(n); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
