package handler_test

import (
	"testing"

	"github.com/bitsbeam/cosmonauts/pkg/handler"
	"github.com/stretchr/testify/require"
)

func TestJSONSerializerRoundTrip(t *testing.T) {
	type payload struct {
		Class string `json:"class"`
		Args  []any  `json:"args"`
	}

	in := payload{Class: "SendEmail", Args: []any{"a@example.com", float64(3)}}

	data, err := handler.Default.Marshal(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, handler.Default.Unmarshal(data, &out))
	require.Equal(t, in, out)
}
