package ubus

import (
	"github.com/pkg/errors"

	"github.com/outofforest/ubus/wire"
)

func statusOf(attrs wire.AttrSeq) (StatusCode, error) {
	for attr, err := range attrs.All() {
		if err != nil {
			return 0, err
		}
		if status, ok := attr.(wire.Status); ok {
			return StatusCode(status), nil
		}
	}
	return 0, errors.Wrap(wire.ErrInvalidData, "status message without status attribute")
}

func dataOf(attrs wire.AttrSeq) (wire.Data, bool, error) {
	for attr, err := range attrs.All() {
		if err != nil {
			return nil, false, err
		}
		if data, ok := attr.(wire.Data); ok {
			return data, true, nil
		}
	}
	return nil, false, nil
}

func collect(results *[]wire.Field) ResultFunc {
	return func(fields wire.FieldSeq) error {
		for f, err := range fields.All() {
			if err != nil {
				return err
			}
			*results = append(*results, f)
		}
		return nil
	}
}
