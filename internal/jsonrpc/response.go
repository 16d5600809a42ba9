package jsonrpc

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Response represents a JSON-RPC response
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      ID              `json:"id"`
}

// HasError returns true if the response contains an error
func (r *Response) HasError() bool {
	return r.Error != nil
}

// ResultIsNull returns true if the response result is JSON null
func (r *Response) ResultIsNull() bool {
	if r == nil {
		return true
	}
	if len(r.Result) == 0 {
		return true
	}
	return bytes.Equal(r.Result, []byte("null"))
}

// NewResponse creates a successful response
func NewResponse(id ID, result interface{}) (*Response, error) {
	resp := &Response{
		JSONRPC: Version,
		ID:      id,
	}

	if result != nil {
		resultBytes, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		resp.Result = resultBytes
	}

	return resp, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(id ID, err *Error) *Response {
	return &Response{
		JSONRPC: Version,
		Error:   err,
		ID:      id,
	}
}

// ParseResponse parses a JSON-RPC response from bytes
func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Bytes returns the response as JSON bytes
func (r *Response) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// nonRetryableMessages are contract or request errors that every validator
// would answer the same way
var nonRetryableMessages = []string{
	"query wasm contract failed",
	"error parsing into type",
	"unknown variant",
	"contract: not found",
	"invalid address",
}

// IsRetryableError checks if the error is worth sending to another validator.
// Client errors and deterministic contract errors are not.
func (r *Response) IsRetryableError() bool {
	if r.Error == nil {
		return false
	}

	switch r.Error.Code {
	case CodeParseError, CodeInvalidRequest, CodeInvalidParams:
		return false
	}

	msg := strings.ToLower(r.Error.Message)
	for _, m := range nonRetryableMessages {
		if strings.Contains(msg, m) {
			return false
		}
	}

	return true
}

// GetResultAs unmarshals the result into the provided type
func (r *Response) GetResultAs(v interface{}) error {
	if r.Result == nil {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}
