package transport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest([]byte(`{"jsonrpc":"2.0","method":"cursor","params":{"x":1,"y":2},"id":1}`))
	require.NoError(t, err)
	require.Equal(t, "2.0", req.JSONRPC)
	require.Equal(t, "cursor", req.Method)
	require.Equal(t, json.RawMessage(`{"x":1,"y":2}`), req.Params)
}

func TestParseRequest_Invalid(t *testing.T) {
	_, err := ParseRequest([]byte(`{"jsonrpc":"2.0","id":1}`))
	require.Error(t, err)

	_, err = ParseRequest([]byte(`not json`))
	require.Error(t, err)
}

func TestNewError(t *testing.T) {
	b, err := json.Marshal(NewError(1, ErrApplication, "session not found", "SESSION_NOT_FOUND"))
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"session not found","data":"SESSION_NOT_FOUND"}}`, string(b))
}
