package ubus

import (
	"bytes"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/qa"
	"github.com/outofforest/ubus/wire"
)

const (
	testPeer  = 0x1234
	testObjID = 0x2770adca
)

type scriptTransport struct {
	in     bytes.Buffer
	out    bytes.Buffer
	getErr error
	closed bool
}

func (t *scriptTransport) Put(b []byte) error {
	t.out.Write(b)
	return nil
}

func (t *scriptTransport) Get(b []byte) error {
	if t.getErr != nil {
		return t.getErr
	}
	if _, err := io.ReadFull(&t.in, b); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (t *scriptTransport) Close() error {
	t.closed = true
	return nil
}

func (t *scriptTransport) reply(requireT *require.Assertions, header wire.Header, attrs ...wire.Attr) {
	out, err := wire.WriteMessage(nil, header, attrs...)
	requireT.NoError(err)
	t.in.Write(out)
}

func (t *scriptTransport) status(requireT *require.Assertions, seq uint16, status StatusCode) {
	t.reply(requireT, wire.Header{Type: wire.CmdStatus, Seq: seq, Peer: testPeer}, wire.Status(status))
}

func (t *scriptTransport) request(requireT *require.Assertions) wire.Message {
	msg, err := wire.ReadMessage(NewStreamTransport(&t.out, 0), make([]byte, 1024))
	requireT.NoError(err)
	return msg
}

func newTestConnection(t *testing.T, requireT *require.Assertions) (*Connection, *scriptTransport) {
	transport := &scriptTransport{}
	transport.reply(requireT, wire.Header{Type: wire.CmdHello, Peer: testPeer})

	c, err := New(qa.NewContext(t), transport, Config{})
	requireT.NoError(err)
	return c, transport
}

func attrsOf(requireT *require.Assertions, msg wire.Message) []wire.Attr {
	attrs := []wire.Attr{}
	for attr, err := range msg.Attrs.All() {
		requireT.NoError(err)
		attrs = append(attrs, attr)
	}
	return attrs
}

func TestHandshake(t *testing.T) {
	requireT := require.New(t)

	transport := &scriptTransport{}
	transport.in.Write([]byte{
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x12, 0x34,
		0x00, 0x00, 0x00, 0x04,
	})

	c, err := New(qa.NewContext(t), transport, Config{})
	requireT.NoError(err)
	requireT.EqualValues(0x1234, c.Peer())
	requireT.Zero(transport.out.Len())
}

func TestHandshakeNotHello(t *testing.T) {
	requireT := require.New(t)

	transport := &scriptTransport{}
	transport.status(requireT, 0, StatusOK)

	_, err := New(qa.NewContext(t), transport, Config{})
	requireT.ErrorIs(err, wire.ErrInvalidData)
}

func TestHandshakeTransportFailure(t *testing.T) {
	requireT := require.New(t)

	_, err := New(qa.NewContext(t), &scriptTransport{}, Config{})
	requireT.ErrorIs(err, io.EOF)
}

func TestConfigTooSmall(t *testing.T) {
	requireT := require.New(t)

	_, err := New(qa.NewContext(t), &scriptTransport{}, Config{MaxMessageSize: 8})
	requireT.Error(err)
}

func TestInvoke(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	c, transport := newTestConnection(t, requireT)

	result, err := wire.EncodeFields(wire.Field{Name: "up", Value: wire.String("true")})
	requireT.NoError(err)
	transport.reply(requireT, wire.Header{Type: wire.CmdData, Seq: 1, Peer: testPeer},
		wire.ObjID(testObjID), wire.Data(result))
	transport.status(requireT, 1, StatusOK)

	results := []wire.Field{}
	requireT.NoError(c.Invoke(ctx, testObjID, "status", nil, func(fields wire.FieldSeq) error {
		for f, err := range fields.All() {
			requireT.NoError(err)
			results = append(results, f)
		}
		return nil
	}))
	requireT.Equal([]wire.Field{{Name: "up", Value: wire.String("true")}}, results)

	req := transport.request(requireT)
	requireT.Equal(wire.Header{Type: wire.CmdInvoke, Seq: 1, Peer: testObjID}, req.Header)
	requireT.Equal([]wire.Attr{
		wire.ObjID(testObjID),
		wire.Method("status"),
		wire.Data{},
	}, attrsOf(requireT, req))
}

func TestInvokeFields(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	c, transport := newTestConnection(t, requireT)

	for _, v := range []wire.Value{wire.Int32(1), wire.Int32(2)} {
		result, err := wire.EncodeFields(wire.Field{Name: "v", Value: v})
		requireT.NoError(err)
		transport.reply(requireT, wire.Header{Type: wire.CmdData, Seq: 1, Peer: testPeer}, wire.Data(result))
	}
	transport.reply(requireT, wire.Header{Type: wire.CmdData, Seq: 1, Peer: testPeer}, wire.ObjID(testObjID))
	transport.status(requireT, 1, StatusOK)

	results, err := c.InvokeFields(ctx, testObjID, "count", wire.Field{Name: "limit", Value: wire.Int32(2)})
	requireT.NoError(err)
	requireT.Equal([]wire.Field{
		{Name: "v", Value: wire.Int32(1)},
		{Name: "v", Value: wire.Int32(2)},
	}, results)

	req := transport.request(requireT)
	attrs := attrsOf(requireT, req)
	requireT.Len(attrs, 3)
	args, err := attrs[2].(wire.Data).Fields().Collect()
	requireT.NoError(err)
	requireT.Equal([]wire.Field{{Name: "limit", Value: wire.Int32(2)}}, args)
}

func TestLookup(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	c, transport := newTestConnection(t, requireT)

	transport.reply(requireT, wire.Header{Type: wire.CmdData, Seq: 1, Peer: testPeer},
		wire.ObjPath("network.device"),
		wire.ObjID(0x1),
		wire.ObjType(0xaa),
		wire.Signature{"status": wire.Table{}},
	)
	transport.reply(requireT, wire.Header{Type: wire.CmdData, Seq: 1, Peer: testPeer},
		wire.ObjPath("network.interface"),
		wire.ObjID(0x2),
		wire.Signature{"up": wire.Table{"name": wire.Int32(wire.TypeString)}},
	)
	transport.status(requireT, 1, StatusOK)

	objects, err := c.Objects(ctx, "network.*")
	requireT.NoError(err)
	requireT.Equal([]Object{
		{
			Path: "network.device",
			ID:   0x1,
			Type: 0xaa,
			Methods: map[string]Method{
				"status": {Name: "status", Args: map[string]wire.BlobMsgType{}},
			},
		},
		{
			Path: "network.interface",
			ID:   0x2,
			Methods: map[string]Method{
				"up": {Name: "up", Args: map[string]wire.BlobMsgType{"name": wire.TypeString}},
			},
		},
	}, objects)

	req := transport.request(requireT)
	requireT.Equal(wire.Header{Type: wire.CmdLookup, Seq: 1}, req.Header)
	requireT.Equal([]wire.Attr{wire.ObjPath("network.*")}, attrsOf(requireT, req))
}

func TestLookupAll(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	c, transport := newTestConnection(t, requireT)
	transport.status(requireT, 1, StatusOK)

	objects, err := c.Objects(ctx, "")
	requireT.NoError(err)
	requireT.Empty(objects)

	req := transport.request(requireT)
	requireT.Empty(attrsOf(requireT, req))
}

func TestLookupID(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	c, transport := newTestConnection(t, requireT)

	transport.reply(requireT, wire.Header{Type: wire.CmdData, Seq: 1, Peer: testPeer},
		wire.ObjPath("network.device"),
		wire.ObjID(0x1),
		wire.Signature{"status": wire.Table{}},
	)
	transport.status(requireT, 1, StatusOK)

	id, err := c.LookupID(ctx, "network.device")
	requireT.NoError(err)
	requireT.EqualValues(0x1, id)
}

func TestLookupIDNotFound(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	c, transport := newTestConnection(t, requireT)
	transport.status(requireT, 1, StatusOK)

	_, err := c.LookupID(ctx, "missing")
	requireT.ErrorIs(err, ErrNotFound)
}

func TestLookupInvalidObject(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	c, transport := newTestConnection(t, requireT)
	transport.reply(requireT, wire.Header{Type: wire.CmdData, Seq: 1, Peer: testPeer},
		wire.ObjPath("network.device"),
	)
	transport.status(requireT, 1, StatusOK)

	_, err := c.Objects(ctx, "")
	requireT.ErrorIs(err, wire.ErrInvalidData)
}

func TestLookupInvalidSignature(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	c, transport := newTestConnection(t, requireT)
	transport.reply(requireT, wire.Header{Type: wire.CmdData, Seq: 1, Peer: testPeer},
		wire.ObjPath("network.device"),
		wire.ObjID(0x1),
		wire.Signature{"status": wire.Table{"name": wire.String("string")}},
	)
	transport.status(requireT, 1, StatusOK)

	_, err := c.Objects(ctx, "")
	requireT.ErrorIs(err, wire.ErrInvalidData)
}

func TestUnrelatedMessagesIgnored(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	c, transport := newTestConnection(t, requireT)

	stale, err := wire.EncodeFields(wire.Field{Name: "stale", Value: wire.Bool(true)})
	requireT.NoError(err)
	transport.reply(requireT, wire.Header{Type: wire.CmdData, Seq: 100, Peer: testPeer}, wire.Data(stale))
	transport.status(requireT, 100, StatusNotFound)
	transport.reply(requireT, wire.Header{Type: wire.CmdPing, Seq: 1, Peer: testPeer})
	transport.status(requireT, 1, StatusOK)

	results, err := c.InvokeFields(ctx, testObjID, "status")
	requireT.NoError(err)
	requireT.Empty(results)
}

func TestStatusError(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	c, transport := newTestConnection(t, requireT)
	transport.status(requireT, 1, StatusMethodNotFound)
	transport.status(requireT, 2, StatusOK)

	err := c.Invoke(ctx, testObjID, "missing", nil, nil)
	var statusErr StatusError
	requireT.ErrorAs(err, &statusErr)
	requireT.Equal(StatusMethodNotFound, statusErr.Code)
	requireT.Equal("ubus returned status 3 (METHOD_NOT_FOUND)", statusErr.Error())

	requireT.NoError(c.Invoke(ctx, testObjID, "status", nil, nil))
}

func TestStatusWithoutCode(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	c, transport := newTestConnection(t, requireT)
	transport.reply(requireT, wire.Header{Type: wire.CmdStatus, Seq: 1, Peer: testPeer})

	requireT.ErrorIs(c.Invoke(ctx, testObjID, "status", nil, nil), wire.ErrInvalidData)
}

func TestCallbackError(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	c, transport := newTestConnection(t, requireT)

	result, err := wire.EncodeFields(wire.Field{Name: "up", Value: wire.String("true")})
	requireT.NoError(err)
	for range 2 {
		transport.reply(requireT, wire.Header{Type: wire.CmdData, Seq: 1, Peer: testPeer}, wire.Data(result))
	}
	transport.status(requireT, 1, StatusOK)
	transport.status(requireT, 2, StatusOK)

	errCallback := errors.New("callback failed")
	var calls int
	err = c.Invoke(ctx, testObjID, "status", nil, func(wire.FieldSeq) error {
		calls++
		return errCallback
	})
	requireT.ErrorIs(err, errCallback)
	requireT.Equal(1, calls)

	requireT.NoError(c.Invoke(ctx, testObjID, "status", nil, nil))
}

func TestInvalidResult(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	c, transport := newTestConnection(t, requireT)
	transport.reply(requireT, wire.Header{Type: wire.CmdData, Seq: 1, Peer: testPeer},
		wire.Data([]byte{0x83, 0x00, 0x00, 0x08, 0x00, 0x40, 'a', 0x00}))
	transport.status(requireT, 1, StatusOK)

	_, err := c.InvokeFields(ctx, testObjID, "status")
	requireT.ErrorIs(err, wire.ErrInvalidData)
}

func TestSequenceWraps(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	c, transport := newTestConnection(t, requireT)
	c.seq = 0xfffe
	transport.status(requireT, 0xffff, StatusOK)
	transport.status(requireT, 0, StatusOK)

	requireT.NoError(c.Invoke(ctx, testObjID, "a", nil, nil))
	requireT.NoError(c.Invoke(ctx, testObjID, "b", nil, nil))

	requireT.EqualValues(0xffff, transport.request(requireT).Header.Seq)
	requireT.EqualValues(0, transport.request(requireT).Header.Seq)
}

func TestReentrantCall(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	c, transport := newTestConnection(t, requireT)

	result, err := wire.EncodeFields(wire.Field{Name: "up", Value: wire.String("true")})
	requireT.NoError(err)
	transport.reply(requireT, wire.Header{Type: wire.CmdData, Seq: 1, Peer: testPeer}, wire.Data(result))
	transport.status(requireT, 1, StatusOK)

	err = c.Invoke(ctx, testObjID, "status", nil, func(wire.FieldSeq) error {
		return c.Invoke(ctx, testObjID, "status", nil, nil)
	})
	requireT.ErrorIs(err, ErrConnectionBusy)
}

func TestTransportFailurePoisons(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	c, transport := newTestConnection(t, requireT)
	transport.getErr = errors.WithStack(io.ErrClosedPipe)

	requireT.ErrorIs(c.Invoke(ctx, testObjID, "status", nil, nil), io.ErrClosedPipe)

	transport.getErr = nil
	transport.status(requireT, 2, StatusOK)
	requireT.ErrorIs(c.Invoke(ctx, testObjID, "status", nil, nil), ErrConnectionFailed)
}

func TestFramingFailurePoisons(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	c, transport := newTestConnection(t, requireT)
	transport.reply(requireT, wire.Header{Version: 3, Type: wire.CmdStatus, Seq: 1}, wire.Status(0))

	requireT.ErrorIs(c.Invoke(ctx, testObjID, "status", nil, nil), wire.ErrInvalidData)
	requireT.ErrorIs(c.Invoke(ctx, testObjID, "status", nil, nil), ErrConnectionFailed)
}

func TestClose(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	c, transport := newTestConnection(t, requireT)
	requireT.NoError(c.Close())
	requireT.True(transport.closed)

	requireT.Error(c.Invoke(ctx, testObjID, "status", nil, nil))
	requireT.Zero(transport.out.Len())
}
