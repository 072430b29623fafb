package ubus

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"slices"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/outofforest/ubus/wire"
)

// ArgsFromJSON encodes arguments of method given as JSON object. Only the fields declared by the method
// are encoded, fields of array, table and unknown types are skipped.
func (o Object) ArgsFromJSON(method string, data []byte) ([]byte, error) {
	m, exists := o.Methods[method]
	if !exists {
		return nil, errors.Wrapf(ErrUnknownMethod, "object %q has no method %q", o.Path, method)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []byte{}, nil
	}

	var args map[string]json.RawMessage
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, errors.Wrapf(wire.ErrInvalidData, "arguments are not JSON object: %s", err)
	}

	names := lo.Keys(args)
	slices.Sort(names)

	b := &wire.Builder{}
	for _, name := range names {
		t, exists := m.Args[name]
		if !exists {
			continue
		}
		v, err := argFromJSON(t, args[name])
		if err != nil {
			return nil, errors.Wrapf(err, "argument %q", name)
		}
		if v == nil {
			continue
		}
		if err := b.PutField(name, v); err != nil {
			return nil, err
		}
	}
	return b.Bytes(), nil
}

func argFromJSON(t wire.BlobMsgType, raw json.RawMessage) (wire.Value, error) {
	switch t {
	case wire.TypeString:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, errors.Wrap(wire.ErrInvalidData, "string expected")
		}
		return wire.String(v), nil
	case wire.TypeInt64:
		v, err := intFromJSON(raw, math.MinInt64, math.MaxInt64)
		return wire.Int64(v), err
	case wire.TypeInt32:
		v, err := intFromJSON(raw, math.MinInt32, math.MaxInt32)
		return wire.Int32(v), err
	case wire.TypeInt16:
		v, err := intFromJSON(raw, math.MinInt16, math.MaxInt16)
		return wire.Int16(v), err
	case wire.TypeBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return wire.Bool(b), nil
		}
		v, err := intFromJSON(raw, math.MinInt8, math.MaxInt8)
		return wire.Int8(v), err
	case wire.TypeDouble:
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, errors.Wrap(wire.ErrInvalidData, "number expected")
		}
		return wire.Double(v), nil
	default:
		return nil, nil
	}
}

func intFromJSON(raw json.RawMessage, minV, maxV int64) (int64, error) {
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, errors.Wrap(wire.ErrInvalidData, "integer expected")
	}
	if v < minV || v > maxV {
		return 0, errors.Wrapf(wire.ErrInvalidData, "integer %d out of range", v)
	}
	return v, nil
}

// Call looks up the object at path, invokes its method with arguments given as JSON object and returns
// produced values as JSON object.
func (c *Connection) Call(ctx context.Context, path, method string, args []byte) ([]byte, error) {
	obj, err := c.lookupOne(ctx, path)
	if err != nil {
		return nil, err
	}

	encoded, err := obj.ArgsFromJSON(method, args)
	if err != nil {
		return nil, err
	}

	results := []wire.Field{}
	if err := c.Invoke(ctx, obj.ID, method, encoded, collect(&results)); err != nil {
		return nil, err
	}

	return wire.MarshalFieldsJSON(results)
}
