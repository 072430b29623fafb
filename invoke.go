package ubus

import (
	"context"

	"github.com/outofforest/ubus/wire"
)

// ResultFunc receives values returned by a method. Values reference the receive buffer of the connection
// and are valid only until the function returns.
type ResultFunc func(results wire.FieldSeq) error

// Invoke calls method of object. Args is the encoded sequence of named values, see wire.EncodeFields.
// onResult is called once for every data message returned by the method.
//
// Error returned by onResult doesn't stop the request, the connection keeps reading until the bus reports
// the status, and then the first such error is returned.
func (c *Connection) Invoke(ctx context.Context, objID uint32, method string, args []byte, onResult ResultFunc) error {
	var resultErr error
	err := c.request(ctx,
		wire.Header{
			Type: wire.CmdInvoke,
			Peer: objID,
		},
		[]wire.Attr{
			wire.ObjID(objID),
			wire.Method(method),
			wire.Data(args),
		},
		func(attrs wire.AttrSeq) error {
			data, exists, err := dataOf(attrs)
			if err != nil {
				return err
			}
			if exists && onResult != nil && resultErr == nil {
				resultErr = onResult(data.Fields())
			}
			return nil
		},
	)
	if err != nil {
		return err
	}
	return resultErr
}

// InvokeFields calls method of object passing args and returns all the values it produced.
func (c *Connection) InvokeFields(
	ctx context.Context,
	objID uint32,
	method string,
	args ...wire.Field,
) ([]wire.Field, error) {
	encoded, err := wire.EncodeFields(args...)
	if err != nil {
		return nil, err
	}

	results := []wire.Field{}
	if err := c.Invoke(ctx, objID, method, encoded, collect(&results)); err != nil {
		return nil, err
	}
	return results, nil
}
