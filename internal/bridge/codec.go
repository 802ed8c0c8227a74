package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedFrame is returned by DecodePeerMessage when an inbound
// frame cannot be parsed or does not match the expected envelope shape.
// Callers must treat this as log-and-drop, never as a fatal error.
var ErrMalformedFrame = errors.New("bridge: malformed frame")

// frameTerminator is the single byte appended to every framed-socket
// record.
const frameTerminator = 0x00

// rpcEnvelope is the JSON-RPC-shaped wrapper every outbound SSE and
// framed-socket record carries.
type rpcEnvelope struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Result  Event  `json:"result"`
}

// EncodeJSON renders an event as a bare JSON object, with no transport
// framing. Nothing in this package calls it; the dashboard reads the
// SSE feed instead.
func EncodeJSON(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// EncodeFramedSocket renders an event as a JSON-RPC envelope followed by
// a single null-byte record terminator, for delivery over the
// framed-socket transport.
func EncodeFramedSocket(evt Event) ([]byte, error) {
	data, err := json.Marshal(rpcEnvelope{JSONRPC: "2.0", ID: evt.TaskID, Result: evt})
	if err != nil {
		return nil, fmt.Errorf("encode framed-socket record: %w", err)
	}
	out := make([]byte, 0, len(data)+1)
	out = append(out, data...)
	out = append(out, frameTerminator)
	return out, nil
}

// EncodeSSE renders an event as an SSE `data: <json-rpc envelope>\n\n`
// record.
func EncodeSSE(evt Event) ([]byte, error) {
	data, err := json.Marshal(rpcEnvelope{JSONRPC: "2.0", ID: evt.TaskID, Result: evt})
	if err != nil {
		return nil, fmt.Errorf("encode SSE record: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

// peerRPCMessage is the JSON-RPC-shaped inbound envelope a peer sends.
type peerRPCMessage struct {
	JSONRPC string     `json:"jsonrpc"`
	Method  string     `json:"method"`
	Params  peerParams `json:"params"`
}

type peerParams struct {
	Message peerMessageBody `json:"message"`
}

type peerMessageBody struct {
	Content peerContent `json:"content"`
}

type peerContent struct {
	Text *string             `json:"text,omitempty"`
	Data *peerConfirmContent `json:"data,omitempty"`
}

type peerConfirmContent struct {
	Kind              string `json:"kind"`
	ToolCallID        string `json:"tool_call_id"`
	SelectedOptionID  string `json:"selected_option_id"`
}

// PeerMessageKind classifies a decoded inbound peer message.
type PeerMessageKind int

const (
	PeerMessageUnknown PeerMessageKind = iota
	PeerMessagePrompt
	PeerMessageConfirmation
)

// PeerMessage is the decoded, classified form of an inbound peer frame,
// ready for the Input Router.
type PeerMessage struct {
	Kind PeerMessageKind

	// PeerMessagePrompt
	Text string

	// PeerMessageConfirmation
	ToolCallID       string
	SelectedOptionID string
}

// DecodePeerMessage parses a raw inbound frame (with or without a
// trailing null-byte terminator) into a classified PeerMessage. It
// returns ErrMalformedFrame for anything that fails to parse as the
// expected JSON-RPC envelope; it never panics on malformed input.
func DecodePeerMessage(raw []byte) (PeerMessage, error) {
	raw = bytes.TrimSuffix(raw, []byte{frameTerminator})
	raw = bytes.TrimSpace(raw)

	var msg peerRPCMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return PeerMessage{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if msg.Method != "message/stream" {
		return PeerMessage{Kind: PeerMessageUnknown}, nil
	}

	content := msg.Params.Message.Content
	switch {
	case content.Text != nil:
		return PeerMessage{Kind: PeerMessagePrompt, Text: *content.Text}, nil
	case content.Data != nil && content.Data.Kind == "TOOL_CALL_CONFIRMATION":
		return PeerMessage{
			Kind:             PeerMessageConfirmation,
			ToolCallID:       content.Data.ToolCallID,
			SelectedOptionID: content.Data.SelectedOptionID,
		}, nil
	default:
		return PeerMessage{Kind: PeerMessageUnknown}, nil
	}
}

// StripFrameTerminator removes a trailing null-byte record terminator,
// if present, and reports whether the remainder is valid JSON — used by
// the framing round-trip test (§8 property 7).
func StripFrameTerminator(raw []byte) ([]byte, bool) {
	stripped := bytes.TrimSuffix(raw, []byte{frameTerminator})
	return stripped, json.Valid(stripped)
}
