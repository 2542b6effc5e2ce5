// File: internal/mcp/jsonrpc.go
// Description: Wire-level JSON-RPC 2.0 encoding for the MCP stdio channel.
// One JSON value per line; a message with an id is a request or response, one
// without is a notification.

package mcp

import (
	"encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

const jsonRPCVersion = "2.0"

// request is an outbound JSON-RPC message. A nil ID makes it a notification.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      *int64      `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// rpcError mirrors the JSON-RPC error object.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// message is any inbound frame: response (ID set) or notification (Method
// set, ID absent).
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (m *message) isNotification() bool { return m.ID == nil && m.Method != "" }

// encodeRequest serializes one outbound request or notification frame,
// without the trailing newline the transport adds.
func encodeRequest(id *int64, method string, params interface{}) ([]byte, error) {
	return codec.Marshal(request{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	})
}

// decodeMessage parses one inbound frame. Anything that is not a JSON-RPC
// 2.0 object is reported as a FrameError so the caller can drop it without
// tearing down the channel.
func decodeMessage(frame []byte) (*message, error) {
	var msg message
	if err := codec.Unmarshal(frame, &msg); err != nil {
		return nil, &FrameError{Frame: frame, Err: err}
	}
	if msg.JSONRPC != jsonRPCVersion {
		return nil, &FrameError{Frame: frame, Err: fmt.Errorf("unexpected jsonrpc version %q", msg.JSONRPC)}
	}
	if msg.ID == nil && msg.Method == "" {
		return nil, &FrameError{Frame: frame, Err: fmt.Errorf("frame is neither response nor notification")}
	}
	return &msg, nil
}
