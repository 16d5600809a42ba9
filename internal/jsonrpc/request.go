package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Request is an outbound JSON-RPC call to a validator
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      ID              `json:"id"`
}

// NewRequest builds a request, encoding params when present
func NewRequest(method string, params interface{}, id ID) (*Request, error) {
	req := &Request{JSONRPC: Version, Method: method, ID: id}
	if params == nil {
		return req, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s params: %w", method, err)
	}
	req.Params = raw
	return req, nil
}

// WithID returns a copy carrying id. Params are shared since requests are
// never mutated after construction.
func (r *Request) WithID(id ID) *Request {
	out := *r
	out.ID = id
	return &out
}

// Bytes returns the request as JSON bytes
func (r *Request) Bytes() ([]byte, error) {
	return json.Marshal(r)
}
