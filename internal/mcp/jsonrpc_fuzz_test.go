//go:build go1.18
// +build go1.18

// File: internal/mcp/jsonrpc_fuzz_test.go
package mcp

import (
	"testing"
	"unicode/utf8"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
)

// FuzzDecodeMessage asserts that arbitrary inbound frames never panic the
// decoder and that every accepted frame is classifiable.
func FuzzDecodeMessage(f *testing.F) {
	f.Add([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`))
	f.Add([]byte(`{"jsonrpc":"2.0","id":2,"error":{"code":-32000,"message":"boom"}}`))
	f.Add([]byte(`{"jsonrpc":"2.0","method":"notifications/message","params":{}}`))
	f.Add([]byte(`not json at all`))

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := decodeMessage(data)
		if err != nil {
			return
		}
		if msg.ID == nil && msg.Method == "" {
			t.Fatalf("decoder accepted an unclassifiable frame: %q", data)
		}
	})
}

// FuzzEncodeDecodeRoundTrip builds structured requests from fuzzer input and
// verifies the encoder's output always survives the decoder.
func FuzzEncodeDecodeRoundTrip(f *testing.F) {
	f.Add([]byte("tools/call seed"))

	f.Fuzz(func(t *testing.T, data []byte) {
		fz := fuzz.NewConsumer(data)
		method, err := fz.GetString()
		if err != nil || method == "" || !utf8.ValidString(method) {
			// The JSON encoder replaces invalid UTF-8, which would break the
			// byte-for-byte round-trip comparison below.
			return
		}
		rawID, err := fz.GetInt()
		if err != nil {
			return
		}
		id := int64(rawID)

		frame, err := encodeRequest(&id, method, map[string]interface{}{"seed": true})
		if err != nil {
			t.Fatalf("encodeRequest failed: %v", err)
		}
		msg, err := decodeMessage(frame)
		if err != nil {
			t.Fatalf("own request did not decode: %v", err)
		}
		if msg.ID == nil || *msg.ID != id {
			t.Fatalf("correlation id lost in round trip: want %d, got %v", id, msg.ID)
		}
		if msg.Method != method {
			t.Fatalf("method lost in round trip: want %q, got %q", method, msg.Method)
		}
	})
}
