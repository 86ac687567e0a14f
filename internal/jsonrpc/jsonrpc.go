// Package jsonrpc implements the JSON-RPC 2.0 wire model the gateway routes
// on. Messages are decoded loosely: ids, params and results stay raw so the
// gateway can forward payloads without interpreting them.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the protocol version every message must carry.
const Version = "2.0"

// Kind classifies a decoded message per the JSON-RPC 2.0 taxonomy.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindNotification
	KindResponse
)

// String makes Kind satisfy the fmt.Stringer interface.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "invalid"
	}
}

// Message is a loosely decoded JSON-RPC 2.0 envelope.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// HasID reports whether the message carries a usable id. A literal null id is
// treated as absent.
func (m *Message) HasID() bool {
	return len(m.ID) > 0 && !bytes.Equal(m.ID, []byte("null"))
}

// Kind classifies the message. A request has a method and an id, a
// notification has a method and no id, a response has an id and a result or
// error. Anything else is invalid.
func (m *Message) Kind() Kind {
	switch {
	case m.Method != "" && m.HasID():
		return KindRequest
	case m.Method != "":
		return KindNotification
	case m.HasID() && (len(m.Result) > 0 || m.Error != nil):
		return KindResponse
	default:
		return KindInvalid
	}
}

// ErrorObject is the error member of a JSON-RPC 2.0 response.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *ErrorObject) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Response is a fully formed JSON-RPC 2.0 response. Unlike Message its id is
// always serialized; responses to unparseable requests carry a null id.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// NewResponse builds a success response carrying the marshaled result.
func NewResponse(id json.RawMessage, result interface{}) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return &Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewError builds an error response with the given code and message. A nil id
// serializes as null.
func NewError(id json.RawMessage, code int, message string) *Response {
	if message == "" {
		message = CodeText(code)
	}
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &ErrorObject{Code: code, Message: message},
	}
}

// ParseBody decodes an HTTP request body that holds either a single JSON-RPC
// message or a batch array. It returns the decoded messages and whether the
// body was a batch. An empty batch is an error, matching the JSON-RPC 2.0
// requirement that batches be non-empty.
func ParseBody(body []byte) ([]Message, bool, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, false, fmt.Errorf("empty body")
	}

	if trimmed[0] == '[' {
		var batch []Message
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, true, fmt.Errorf("parsing batch: %w", err)
		}
		if len(batch) == 0 {
			return nil, true, fmt.Errorf("empty batch")
		}
		return batch, true, nil
	}

	var msg Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, false, fmt.Errorf("parsing message: %w", err)
	}
	return []Message{msg}, false, nil
}
