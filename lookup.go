package ubus

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/outofforest/ubus/wire"
)

// Method describes method of object.
type Method struct {
	Name string

	// Args maps names of arguments to their types.
	Args map[string]wire.BlobMsgType
}

// Object describes object registered on the bus.
type Object struct {
	Path    string
	ID      uint32
	Type    uint32
	Methods map[string]Method
}

func (o Object) String() string {
	return fmt.Sprintf("%s @0x%08x type=%08x", o.Path, o.ID, o.Type)
}

// Lookup enumerates objects matching path, all of them if path is empty. onObject is called for each one.
//
// Error returned by onObject doesn't stop the request, the connection keeps reading until the bus reports
// the status, and then the first such error is returned.
func (c *Connection) Lookup(ctx context.Context, path string, onObject func(obj Object) error) error {
	var attrs []wire.Attr
	if path != "" {
		attrs = append(attrs, wire.ObjPath(path))
	}

	var objErr error
	err := c.request(ctx, wire.Header{Type: wire.CmdLookup}, attrs, func(attrs wire.AttrSeq) error {
		obj, err := decodeObject(attrs)
		if err != nil {
			return err
		}
		if objErr == nil {
			objErr = onObject(obj)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return objErr
}

// Objects returns objects matching path, all of them if path is empty.
func (c *Connection) Objects(ctx context.Context, path string) ([]Object, error) {
	objects := []Object{}
	if err := c.Lookup(ctx, path, func(obj Object) error {
		objects = append(objects, obj)
		return nil
	}); err != nil {
		return nil, err
	}
	return objects, nil
}

// LookupID returns the id of the first object matching path.
func (c *Connection) LookupID(ctx context.Context, path string) (uint32, error) {
	obj, err := c.lookupOne(ctx, path)
	if err != nil {
		return 0, err
	}
	return obj.ID, nil
}

func (c *Connection) lookupOne(ctx context.Context, path string) (Object, error) {
	var found *Object
	if err := c.Lookup(ctx, path, func(obj Object) error {
		if found == nil {
			found = &obj
		}
		return nil
	}); err != nil {
		return Object{}, err
	}
	if found == nil {
		return Object{}, errors.Wrapf(ErrNotFound, "path %q", path)
	}
	return *found, nil
}

func decodeObject(attrs wire.AttrSeq) (Object, error) {
	obj := Object{Methods: map[string]Method{}}
	var pathFound, idFound bool
	for attr, err := range attrs.All() {
		if err != nil {
			return Object{}, err
		}

		switch a := attr.(type) {
		case wire.ObjPath:
			obj.Path = string(a)
			pathFound = true
		case wire.ObjID:
			obj.ID = uint32(a)
			idFound = true
		case wire.ObjType:
			obj.Type = uint32(a)
		case wire.Signature:
			if err := addMethods(obj.Methods, a); err != nil {
				return Object{}, err
			}
		}
	}

	if !pathFound || !idFound {
		return Object{}, errors.Wrap(wire.ErrInvalidData, "object description without path or id")
	}
	return obj, nil
}

func addMethods(methods map[string]Method, sig wire.Signature) error {
	for name, policy := range sig {
		table, ok := policy.(wire.Table)
		if !ok {
			return errors.Wrapf(wire.ErrInvalidData, "signature of method %q is %s, not table", name, policy.Type())
		}

		method := Method{
			Name: name,
			Args: make(map[string]wire.BlobMsgType, len(table)),
		}
		for arg, v := range table {
			t, ok := v.(wire.Int32)
			if !ok {
				return errors.Wrapf(wire.ErrInvalidData, "type of argument %q of method %q is %s, not int32",
					arg, name, v.Type())
			}
			method.Args[arg] = wire.BlobMsgType(t)
		}
		methods[name] = method
	}
	return nil
}
