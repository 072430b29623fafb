package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// MarshalJSON renders array as JSON list, names of the elements are dropped.
func (a Array) MarshalJSON() ([]byte, error) {
	values := make([]Value, 0, len(a))
	for _, f := range a {
		values = append(values, f.Value)
	}
	return json.Marshal(values)
}

// MarshalJSON renders unknown value as a descriptive string.
func (u Unknown) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("type=%d data=%x", uint8(u.ID), u.Data))
}

// MarshalFieldsJSON renders fields as JSON object keeping their order.
func MarshalFieldsJSON(fields []Field) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "rendering field %q", f.Name)
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
