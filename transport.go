package ubus

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// DefaultSocket is the path of the bus socket on a typical system.
const DefaultSocket = "/var/run/ubus/ubus.sock"

// Transport sends and receives exact-sized chunks of bytes, blocking until done.
type Transport interface {
	// Put writes all the bytes.
	Put(b []byte) error

	// Get fills the whole buffer.
	Get(b []byte) error
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// StreamTransport implements Transport on top of byte stream.
type StreamTransport struct {
	stream  io.ReadWriter
	timeout time.Duration
}

// NewStreamTransport creates transport. If timeout is non-zero and stream supports deadlines,
// each Put and Get fails when not completed in time.
func NewStreamTransport(stream io.ReadWriter, timeout time.Duration) *StreamTransport {
	return &StreamTransport{
		stream:  stream,
		timeout: timeout,
	}
}

// Put writes all the bytes.
func (t *StreamTransport) Put(b []byte) error {
	if err := t.setDeadline(); err != nil {
		return err
	}
	for len(b) > 0 {
		n, err := t.stream.Write(b)
		if err != nil {
			return errors.WithStack(err)
		}
		b = b[n:]
	}
	return nil
}

// Get fills the whole buffer.
func (t *StreamTransport) Get(b []byte) error {
	if err := t.setDeadline(); err != nil {
		return err
	}
	_, err := io.ReadFull(t.stream, b)
	return errors.WithStack(err)
}

// Close closes the stream if it is closable.
func (t *StreamTransport) Close() error {
	if c, ok := t.stream.(io.Closer); ok {
		return errors.WithStack(c.Close())
	}
	return nil
}

func (t *StreamTransport) setDeadline() error {
	if t.timeout <= 0 {
		return nil
	}
	if d, ok := t.stream.(deadliner); ok {
		return errors.WithStack(d.SetDeadline(time.Now().Add(t.timeout)))
	}
	return nil
}

// DialConfig is the config of connection dialed to the bus socket.
type DialConfig struct {
	Config

	// Timeout bounds connecting and every single read and write. Zero means no timeout.
	Timeout time.Duration
}

// Dial connects to the bus socket at path and performs the handshake.
func Dial(ctx context.Context, path string, config DialConfig) (*Connection, error) {
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", path)
	}

	c, err := New(ctx, NewStreamTransport(conn, config.Timeout), config.Config)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}
