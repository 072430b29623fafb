package wire

import (
	"encoding/binary"
	"fmt"
	"iter"
	"slices"

	"github.com/samber/lo"
)

// AttrID is the id of attribute carried by message.
type AttrID uint8

// Attribute ids.
const (
	AttrUnspec      AttrID = 0x00
	AttrStatus      AttrID = 0x01
	AttrObjPath     AttrID = 0x02
	AttrObjID       AttrID = 0x03
	AttrMethod      AttrID = 0x04
	AttrObjType     AttrID = 0x05
	AttrSignature   AttrID = 0x06
	AttrData        AttrID = 0x07
	AttrTarget      AttrID = 0x08
	AttrActive      AttrID = 0x09
	AttrNoReply     AttrID = 0x0a
	AttrSubscribers AttrID = 0x0b
	AttrUser        AttrID = 0x0c
	AttrGroup       AttrID = 0x0d
)

var attrNames = map[AttrID]string{
	AttrUnspec:      "unspec",
	AttrStatus:      "status",
	AttrObjPath:     "objpath",
	AttrObjID:       "objid",
	AttrMethod:      "method",
	AttrObjType:     "objtype",
	AttrSignature:   "signature",
	AttrData:        "data",
	AttrTarget:      "target",
	AttrActive:      "active",
	AttrNoReply:     "no_reply",
	AttrSubscribers: "subscribers",
	AttrUser:        "user",
	AttrGroup:       "group",
}

func (id AttrID) String() string {
	if name, ok := attrNames[id]; ok {
		return name
	}
	return fmt.Sprintf("attr(%d)", uint8(id))
}

// Attr is an attribute of message.
type Attr interface {
	// AttrID returns the id attribute is encoded with.
	AttrID() AttrID

	put(b *Builder) error
}

type (
	// Status is the status code reported by peer.
	Status int32

	// ObjPath is the path of object.
	ObjPath string

	// ObjID is the numeric id of object.
	ObjID uint32

	// Method is the name of method.
	Method string

	// ObjType is the numeric type of object.
	ObjType uint32

	// Signature declares methods of object, each one as a table of argument types.
	Signature Table

	// Data is the sequence of named values passed to or returned from method.
	Data []byte

	// Target is the id of the peer message is addressed to.
	Target uint32

	// Active flags active subscription.
	Active bool

	// NoReply requests invocation without reply.
	NoReply bool

	// Subscribers is the nested list of subscribers.
	Subscribers []byte

	// User is the user name.
	User string

	// Group is the group name.
	Group string

	// UnknownAttr keeps raw bytes of attribute of unrecognized id.
	UnknownAttr struct {
		ID   AttrID
		Data []byte
	}
)

// AttrID returns AttrStatus.
func (Status) AttrID() AttrID { return AttrStatus }

// AttrID returns AttrObjPath.
func (ObjPath) AttrID() AttrID { return AttrObjPath }

// AttrID returns AttrObjID.
func (ObjID) AttrID() AttrID { return AttrObjID }

// AttrID returns AttrMethod.
func (Method) AttrID() AttrID { return AttrMethod }

// AttrID returns AttrObjType.
func (ObjType) AttrID() AttrID { return AttrObjType }

// AttrID returns AttrSignature.
func (Signature) AttrID() AttrID { return AttrSignature }

// AttrID returns AttrData.
func (Data) AttrID() AttrID { return AttrData }

// AttrID returns AttrTarget.
func (Target) AttrID() AttrID { return AttrTarget }

// AttrID returns AttrActive.
func (Active) AttrID() AttrID { return AttrActive }

// AttrID returns AttrNoReply.
func (NoReply) AttrID() AttrID { return AttrNoReply }

// AttrID returns AttrSubscribers.
func (Subscribers) AttrID() AttrID { return AttrSubscribers }

// AttrID returns AttrUser.
func (User) AttrID() AttrID { return AttrUser }

// AttrID returns AttrGroup.
func (Group) AttrID() AttrID { return AttrGroup }

// AttrID returns the id of unknown attribute.
func (u UnknownAttr) AttrID() AttrID { return u.ID }

func (a Status) put(b *Builder) error { return b.PutUint32(uint8(AttrStatus), uint32(a)) }

func (a ObjPath) put(b *Builder) error { return b.PutString(uint8(AttrObjPath), string(a)) }

func (a ObjID) put(b *Builder) error { return b.PutUint32(uint8(AttrObjID), uint32(a)) }

func (a Method) put(b *Builder) error { return b.PutString(uint8(AttrMethod), string(a)) }

func (a ObjType) put(b *Builder) error { return b.PutUint32(uint8(AttrObjType), uint32(a)) }

func (a Signature) put(b *Builder) error {
	n, err := b.Nest(uint8(AttrSignature), false)
	if err != nil {
		return err
	}
	names := lo.Keys(a)
	slices.Sort(names)
	for _, name := range names {
		if err := b.PutField(name, a[name]); err != nil {
			return err
		}
	}
	return b.Unnest(n)
}

func (a Data) put(b *Builder) error { return b.Put(uint8(AttrData), a) }

func (a Target) put(b *Builder) error { return b.PutUint32(uint8(AttrTarget), uint32(a)) }

func (a Active) put(b *Builder) error { return b.PutBool(uint8(AttrActive), bool(a)) }

func (a NoReply) put(b *Builder) error { return b.PutBool(uint8(AttrNoReply), bool(a)) }

func (a Subscribers) put(b *Builder) error { return b.Put(uint8(AttrSubscribers), a) }

func (a User) put(b *Builder) error { return b.PutString(uint8(AttrUser), string(a)) }

func (a Group) put(b *Builder) error { return b.PutString(uint8(AttrGroup), string(a)) }

func (a UnknownAttr) put(b *Builder) error { return b.Put(uint8(a.ID), a.Data) }

// Fields returns lazily decoded values carried by data attribute.
func (a Data) Fields() FieldSeq {
	return FieldSeq(a)
}

// Blobs returns nested blobs of subscribers attribute.
func (a Subscribers) Blobs() BlobSeq {
	return BlobSeq(a)
}

// PutAttr appends attribute.
func (b *Builder) PutAttr(a Attr) error {
	return a.put(b)
}

// DecodeAttr decodes blob found at the top level of message.
func DecodeAttr(blob Blob) (Attr, error) {
	id := AttrID(blob.Tag.ID())
	data := blob.Data
	switch id {
	case AttrStatus:
		v, err := decodeUint32(id, data)
		return Status(v), err
	case AttrObjPath:
		s, err := decodeString(data)
		return ObjPath(s), err
	case AttrObjID:
		v, err := decodeUint32(id, data)
		return ObjID(v), err
	case AttrMethod:
		s, err := decodeString(data)
		return Method(s), err
	case AttrObjType:
		v, err := decodeUint32(id, data)
		return ObjType(v), err
	case AttrSignature:
		fields, err := decodeFields(data, 0)
		if err != nil {
			return nil, err
		}
		sig := make(Signature, len(fields))
		for _, f := range fields {
			sig[f.Name] = f.Value
		}
		return sig, nil
	case AttrData:
		return Data(data), nil
	case AttrTarget:
		v, err := decodeUint32(id, data)
		return Target(v), err
	case AttrActive:
		v, err := decodeBool(id, data)
		return Active(v), err
	case AttrNoReply:
		v, err := decodeBool(id, data)
		return NoReply(v), err
	case AttrSubscribers:
		return Subscribers(data), nil
	case AttrUser:
		s, err := decodeString(data)
		return User(s), err
	case AttrGroup:
		s, err := decodeString(data)
		return Group(s), err
	default:
		return UnknownAttr{ID: id, Data: data}, nil
	}
}

func decodeUint32(id AttrID, b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, invalidDataf("%d bytes too short for attribute %s", len(b), id)
	}
	return binary.BigEndian.Uint32(b), nil
}

func decodeBool(id AttrID, b []byte) (bool, error) {
	if len(b) < 1 {
		return false, invalidDataf("attribute %s is empty", id)
	}
	return b[0] != 0, nil
}

// AttrSeq is the encoded sequence of message attributes.
type AttrSeq []byte

// All iterates over decoded attributes. Iteration stops at the first error.
func (s AttrSeq) All() iter.Seq2[Attr, error] {
	return func(yield func(Attr, error) bool) {
		for blob, err := range BlobSeq(s).All() {
			if err != nil {
				yield(nil, err)
				return
			}
			attr, err := DecodeAttr(blob)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(attr, nil) {
				return
			}
		}
	}
}
