// Package bus implements scripted bus peer used by integration tests of the client.
package bus

import (
	"context"
	"io"
	"net"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/ubus"
	"github.com/outofforest/ubus/wire"
)

// HandlerFunc executes method. Each returned reply is sent as the data attribute of separate data message.
type HandlerFunc func(args []wire.Field) (replies [][]byte, status ubus.StatusCode)

// Method is a method exposed by object.
type Method struct {
	Args    map[string]wire.BlobMsgType
	Handler HandlerFunc
}

// Object is an object exposed by the bus.
type Object struct {
	Path    string
	ID      uint32
	Type    uint32
	Methods map[string]Method
}

// Config is the config of the bus.
type Config struct {
	// FirstPeer is the peer id assigned to the first client, next clients get subsequent ids.
	FirstPeer uint32
	Objects   []Object

	// InjectUnrelated makes the bus send messages of other sequence numbers before replying.
	InjectUnrelated bool

	// InjectUnexpected makes the bus send ping message of the request's sequence number before replying.
	InjectUnexpected bool
}

// Run serves clients connecting to ls.
func Run(ctx context.Context, ls net.Listener, config Config) error {
	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("closer", parallel.Fail, func(ctx context.Context) error {
			<-ctx.Done()
			_ = ls.Close()
			return errors.WithStack(ctx.Err())
		})
		spawn("listener", parallel.Fail, func(ctx context.Context) error {
			peer := config.FirstPeer
			for {
				conn, err := ls.Accept()
				if err != nil {
					if ctx.Err() != nil {
						return errors.WithStack(ctx.Err())
					}
					return errors.WithStack(err)
				}

				connPeer := peer
				peer++
				spawn("conn", parallel.Continue, func(ctx context.Context) error {
					return runConn(ctx, conn, connPeer, config)
				})
			}
		})

		return nil
	})
}

func runConn(ctx context.Context, conn net.Conn, peer uint32, config Config) error {
	log := logger.Get(ctx).With(zap.Uint32("peer", peer))

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("closer", parallel.Fail, func(ctx context.Context) error {
			<-ctx.Done()
			_ = conn.Close()
			return errors.WithStack(ctx.Err())
		})
		spawn("handler", parallel.Exit, func(ctx context.Context) error {
			s := &session{
				transport: ubus.NewStreamTransport(conn, 0),
				peer:      peer,
				config:    config,
			}

			if err := s.send(wire.Header{Type: wire.CmdHello, Peer: peer}); err != nil {
				return err
			}

			buf := make([]byte, ubus.DefaultConfig.MaxMessageSize)
			for {
				msg, err := wire.ReadMessage(s.transport, buf)
				if err != nil {
					if ctx.Err() != nil {
						return errors.WithStack(ctx.Err())
					}
					if errors.Is(err, io.EOF) {
						return nil
					}
					return err
				}

				log.Debug("Request received", zap.Stringer("message", msg.Header))

				if err := s.handle(msg); err != nil {
					return err
				}
			}
		})

		return nil
	})
}

type session struct {
	transport *ubus.StreamTransport
	peer      uint32
	config    Config
}

func (s *session) send(header wire.Header, attrs ...wire.Attr) error {
	header.Version = wire.Version
	out, err := wire.WriteMessage(nil, header, attrs...)
	if err != nil {
		return err
	}
	return s.transport.Put(out)
}

func (s *session) status(seq uint16, status ubus.StatusCode, attrs ...wire.Attr) error {
	return s.send(wire.Header{Type: wire.CmdStatus, Seq: seq, Peer: s.peer},
		append([]wire.Attr{wire.Status(status)}, attrs...)...)
}

func (s *session) inject(seq uint16) error {
	if s.config.InjectUnrelated {
		other := seq + 0x8000
		if err := s.send(wire.Header{Type: wire.CmdData, Seq: other, Peer: s.peer},
			wire.Data(MustEncode(wire.Field{Name: "unrelated", Value: wire.Bool(true)}))); err != nil {
			return err
		}
		if err := s.status(other, ubus.StatusNotFound); err != nil {
			return err
		}
	}
	if s.config.InjectUnexpected {
		if err := s.send(wire.Header{Type: wire.CmdPing, Seq: seq, Peer: s.peer}); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) handle(msg wire.Message) error {
	seq := msg.Header.Seq
	if err := s.inject(seq); err != nil {
		return err
	}

	switch msg.Header.Type {
	case wire.CmdLookup:
		return s.lookup(seq, msg.Attrs)
	case wire.CmdInvoke:
		return s.invoke(seq, msg.Attrs)
	default:
		return s.status(seq, ubus.StatusInvalidCommand)
	}
}

func (s *session) lookup(seq uint16, attrs wire.AttrSeq) error {
	var pattern string
	for attr, err := range attrs.All() {
		if err != nil {
			return err
		}
		if path, ok := attr.(wire.ObjPath); ok {
			pattern = string(path)
		}
	}

	var found bool
	for _, obj := range s.config.Objects {
		if !matches(pattern, obj.Path) {
			continue
		}
		found = true

		sig := wire.Signature{}
		for name, m := range obj.Methods {
			policy := wire.Table{}
			for arg, t := range m.Args {
				policy[arg] = wire.Int32(t)
			}
			sig[name] = policy
		}

		if err := s.send(wire.Header{Type: wire.CmdData, Seq: seq, Peer: s.peer},
			wire.ObjPath(obj.Path),
			wire.ObjID(obj.ID),
			wire.ObjType(obj.Type),
			sig,
		); err != nil {
			return err
		}
	}

	if !found && pattern != "" {
		return s.status(seq, ubus.StatusNotFound)
	}
	return s.status(seq, ubus.StatusOK)
}

func (s *session) invoke(seq uint16, attrs wire.AttrSeq) error {
	var objID uint32
	var method string
	var args []wire.Field
	for attr, err := range attrs.All() {
		if err != nil {
			return err
		}
		switch a := attr.(type) {
		case wire.ObjID:
			objID = uint32(a)
		case wire.Method:
			method = string(a)
		case wire.Data:
			args, err = a.Fields().Collect()
			if err != nil {
				return s.status(seq, ubus.StatusInvalidArgument, wire.ObjID(objID))
			}
		}
	}

	obj, exists := s.object(objID)
	if !exists {
		return s.status(seq, ubus.StatusNotFound, wire.ObjID(objID))
	}
	m, exists := obj.Methods[method]
	if !exists {
		return s.status(seq, ubus.StatusMethodNotFound, wire.ObjID(objID))
	}

	replies, status := m.Handler(args)
	for _, reply := range replies {
		if err := s.send(wire.Header{Type: wire.CmdData, Seq: seq, Peer: s.peer},
			wire.ObjID(objID),
			wire.Data(reply),
		); err != nil {
			return err
		}
	}
	return s.status(seq, status, wire.ObjID(objID))
}

func (s *session) object(id uint32) (Object, bool) {
	for _, obj := range s.config.Objects {
		if obj.ID == id {
			return obj, true
		}
	}
	return Object{}, false
}

func matches(pattern, path string) bool {
	if pattern == "" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(path, prefix)
	}
	return pattern == path
}

// MustEncode encodes fields and panics on failure.
func MustEncode(fields ...wire.Field) []byte {
	b, err := wire.EncodeFields(fields...)
	if err != nil {
		panic(err)
	}
	return b
}
