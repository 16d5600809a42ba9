package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest_RoundTrip(t *testing.T) {
	req, err := NewRequest("wasm_contractSmartState", []interface{}{"n1contract", map[string]int{"limit": 2}}, NewIDInt(7))
	require.NoError(t, err)

	data, err := req.Bytes()
	require.NoError(t, err)

	var parsed Request
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, Version, parsed.JSONRPC)
	assert.Equal(t, "wasm_contractSmartState", parsed.Method)
	assert.JSONEq(t, `["n1contract",{"limit":2}]`, string(parsed.Params))

	id, ok := parsed.ID.Int64()
	require.True(t, ok)
	assert.Equal(t, int64(7), id)
}

func TestNewRequest_NilParamsOmitted(t *testing.T) {
	req, err := NewRequest("status", nil, NewIDInt(1))
	require.NoError(t, err)

	data, err := req.Bytes()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"status","id":1}`, string(data))
}

func TestRequest_WithIDLeavesOriginal(t *testing.T) {
	req, err := NewRequest("status", nil, NewIDString("caller"))
	require.NoError(t, err)

	ws := req.WithID(NewIDInt(9))
	assert.Equal(t, "caller", req.ID.Value())
	id, ok := ws.ID.Int64()
	require.True(t, ok)
	assert.Equal(t, int64(9), id)
	assert.Equal(t, req.Method, ws.Method)
}

func TestResponse_IsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want bool
	}{
		{"no error", nil, false},
		{"invalid params", NewError(CodeInvalidParams, "bad"), false},
		{"contract parse error", NewError(CodeServerError, "Error parsing into type mixnet_contract::QueryMsg"), false},
		{"internal error", NewError(CodeInternalError, "node is catching up"), true},
		{"method not found", NewError(CodeMethodNotFound, "Method not found"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &Response{JSONRPC: Version, Error: tt.err}
			assert.Equal(t, tt.want, resp.IsRetryableError())
		})
	}
}

func TestResponse_ResultIsNull(t *testing.T) {
	resp, err := ParseResponse([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
	require.NoError(t, err)
	assert.True(t, resp.ResultIsNull())

	resp, err = NewResponse(NewIDInt(1), map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.False(t, resp.ResultIsNull())

	var out map[string]string
	require.NoError(t, resp.GetResultAs(&out))
	assert.Equal(t, "b", out["a"])
}

func TestError_Error(t *testing.T) {
	assert.Equal(t, "rpc error -32601: Method not found", ErrMethodNotFound.Error())
}
