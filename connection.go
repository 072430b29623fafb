package ubus

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/ubus/wire"
)

// Config is the config of connection.
type Config struct {
	// MaxMessageSize is the size of the receive buffer, the largest message the connection accepts.
	MaxMessageSize uint64
}

// DefaultConfig is the default config of connection.
var DefaultConfig = Config{
	MaxMessageSize: 64 * 1024,
}

var errClosed = errors.New("connection closed")

// Connection is a client connection to the bus. It executes one request at a time and must not be
// used from inside callbacks of its own requests.
type Connection struct {
	transport Transport
	peer      uint32
	seq       uint16
	buf       []byte

	busy   atomic.Bool
	closed atomic.Bool
	err    error
}

// New creates connection on top of transport and waits for the hello message sent by the bus.
func New(ctx context.Context, transport Transport, config Config) (*Connection, error) {
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultConfig.MaxMessageSize
	}
	if config.MaxMessageSize < wire.HeaderSize+wire.TagSize {
		return nil, errors.Errorf("max message size %d is too small", config.MaxMessageSize)
	}

	c := &Connection{
		transport: transport,
		buf:       make([]byte, config.MaxMessageSize),
	}

	msg, err := c.receive()
	if err != nil {
		return nil, err
	}
	if msg.Header.Type != wire.CmdHello {
		return nil, errors.Wrapf(wire.ErrInvalidData, "hello message expected, got %s", msg.Header.Type)
	}
	c.peer = msg.Header.Peer

	logger.Get(ctx).Debug("Ubus connection established", zap.Uint32("peer", c.peer))

	return c, nil
}

// Peer returns the id assigned to the connection by the bus.
func (c *Connection) Peer() uint32 {
	return c.peer
}

// Close closes the transport if it is closable. Connection can't be used afterwards.
// It may be called while request is in progress to unblock it.
func (c *Connection) Close() error {
	c.closed.Store(true)
	if closer, ok := c.transport.(io.Closer); ok {
		return errors.WithStack(closer.Close())
	}
	return nil
}

func (c *Connection) begin() error {
	if !c.busy.CompareAndSwap(false, true) {
		return errors.WithStack(ErrConnectionBusy)
	}
	if c.closed.Load() {
		c.busy.Store(false)
		return errors.WithStack(errClosed)
	}
	if c.err != nil {
		c.busy.Store(false)
		return errors.Wrap(ErrConnectionFailed, c.err.Error())
	}
	return nil
}

func (c *Connection) end() {
	c.busy.Store(false)
}

func (c *Connection) fail(err error) error {
	c.err = err
	return err
}

func (c *Connection) receive() (wire.Message, error) {
	msg, err := wire.ReadMessage(c.transport, c.buf)
	if err != nil {
		if errors.Is(err, wire.ErrInvalidData) {
			return wire.Message{}, c.fail(err)
		}
		return wire.Message{}, c.fail(errors.Wrap(err, "receiving message"))
	}
	return msg, nil
}

// request sends the message and reads replies of the same sequence until status arrives.
// Attributes of every data reply are passed to onData.
func (c *Connection) request(
	ctx context.Context,
	header wire.Header,
	attrs []wire.Attr,
	onData func(attrs wire.AttrSeq) error,
) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	log := logger.Get(ctx)

	c.seq++
	header.Version = wire.Version
	header.Seq = c.seq

	out, err := wire.WriteMessage(nil, header, attrs...)
	if err != nil {
		return err
	}
	if err := c.transport.Put(out); err != nil {
		return c.fail(errors.Wrap(err, "sending request"))
	}

	log.Debug("Ubus request sent", zap.Stringer("cmd", header.Type), zap.Uint16("seq", header.Seq))

	for {
		msg, err := c.receive()
		if err != nil {
			return err
		}

		if msg.Header.Seq != header.Seq {
			log.Debug("Unrelated ubus message dropped", zap.Stringer("message", msg.Header),
				zap.Uint16("expectedSeq", header.Seq))
			continue
		}

		switch msg.Header.Type {
		case wire.CmdStatus:
			status, err := statusOf(msg.Attrs)
			if err != nil {
				return err
			}
			if status != StatusOK {
				return errors.WithStack(StatusError{Code: status})
			}
			return nil
		case wire.CmdData:
			if err := onData(msg.Attrs); err != nil {
				return err
			}
		default:
			log.Debug("Unexpected ubus message ignored", zap.Stringer("message", msg.Header))
		}
	}
}
