// Package wcproto defines the JSON wire format exchanged with the bridge and the
// wallet, plus the persisted session record.
package wcproto

import (
	"encoding/json"
	"fmt"
)

// Envelope types understood by the bridge.
const (
	TypePub = "pub"
	TypeSub = "sub"
	TypeAck = "ack"
)

// JSONRPCVersion is stamped on every request and response.
const JSONRPCVersion = "2.0"

// Envelope is the routing unit exchanged with the bridge. Payload holds a JSON
// encoded EncryptedPayload for pub messages and is empty for sub messages.
type Envelope struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Silent  bool   `json:"silent"`
	TTL     int    `json:"ttl,omitempty"`
}

// EncryptedPayload is the hex encoded AEAD output and the nonce it was sealed with.
type EncryptedPayload struct {
	Data  string `json:"data"`
	Nonce string `json:"nonce"`
}

// ClientMeta describes an application or a wallet to the other side.
type ClientMeta struct {
	Description string   `json:"description" yaml:"description"`
	URL         string   `json:"url" yaml:"url"`
	Icons       []string `json:"icons" yaml:"icons"`
	Name        string   `json:"name" yaml:"name"`
}

// Request is a JSON-RPC request.
type Request struct {
	ID      uint64          `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// RPCErrorPayload is the error member of a JSON-RPC response.
type RPCErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCErrorPayload) String() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// Response is a JSON-RPC response.
type Response struct {
	ID      uint64           `json:"id"`
	JSONRPC string           `json:"jsonrpc"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *RPCErrorPayload `json:"error,omitempty"`
}

// Message is the union used to classify an incoming payload before decoding it
// as a Request or a Response.
type Message struct {
	ID     uint64           `json:"id"`
	Method string           `json:"method,omitempty"`
	Params json.RawMessage  `json:"params,omitempty"`
	Result json.RawMessage  `json:"result,omitempty"`
	Error  *RPCErrorPayload `json:"error,omitempty"`
}

// IsRequest reports whether the message names a method.
func (m *Message) IsRequest() bool {
	return m.Method != ""
}

// NewRequest builds a request with params marshalled to JSON.
func NewRequest(id uint64, method string, params any) (*Request, error) {
	if params == nil {
		params = []any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}
	return &Request{ID: id, JSONRPC: JSONRPCVersion, Method: method, Params: raw}, nil
}

// NewErrorResponse builds a JSON-RPC error response.
func NewErrorResponse(id uint64, code int, message string) *Response {
	return &Response{
		ID:      id,
		JSONRPC: JSONRPCVersion,
		Error:   &RPCErrorPayload{Code: code, Message: message},
	}
}

// NewResultResponse builds a JSON-RPC success response.
func NewResultResponse(id uint64, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{ID: id, JSONRPC: JSONRPCVersion, Result: raw}, nil
}

// Standard JSON-RPC error codes used by the session engine.
const (
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603

	// CodeUserRejected is the EIP-1193 code wallets send when the user declines.
	CodeUserRejected = 4001
)
