package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalFieldsJSON(t *testing.T) {
	requireT := require.New(t)

	out, err := MarshalFieldsJSON([]Field{
		{Name: "up", Value: String("true")},
		{Name: "mtu", Value: Int32(1500)},
		{Name: "carrier", Value: Bool(false)},
		{Name: "ports", Value: Array{{Value: String("lan1")}, {Value: String("lan2")}}},
		{Name: "stats", Value: Table{"tx": Int64(10), "rx": Int64(20)}},
		{Name: "raw", Value: Unknown{ID: 0x42, Data: []byte{0xab, 0xcd}}},
	})
	requireT.NoError(err)
	requireT.JSONEq(`{
		"up": "true",
		"mtu": 1500,
		"carrier": false,
		"ports": ["lan1", "lan2"],
		"stats": {"rx": 20, "tx": 10},
		"raw": "type=66 data=abcd"
	}`, string(out))
}

func TestMarshalFieldsJSONOrder(t *testing.T) {
	requireT := require.New(t)

	out, err := MarshalFieldsJSON([]Field{
		{Name: "z", Value: Int16(1)},
		{Name: "a", Value: Double(0.5)},
	})
	requireT.NoError(err)
	requireT.Equal(`{"z":1,"a":0.5}`, string(out))

	out, err = MarshalFieldsJSON(nil)
	requireT.NoError(err)
	requireT.Equal(`{}`, string(out))
}
