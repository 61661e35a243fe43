// Package protocol implements the wire encoding for the coordinator <-> agent
// control channel. Every message is a tagged sum with a "type" discriminator
// in snake_case. Text frames carry JSON for every message kind except
// ScreenshotResponse, which travels as MessagePack because it embeds raw
// JPEG bytes.
//
// Message kinds:
//
//	server -> agent: auth_challenge, screenshot_request
//	agent  -> server: auth_response, screenshot_response
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MessageType identifies the kind of message carried by an envelope.
type MessageType string

const (
	// TypeAuthChallenge is sent by the coordinator immediately after accept.
	TypeAuthChallenge MessageType = "auth_challenge"

	// TypeAuthResponse is sent by the agent in reply to AuthChallenge.
	TypeAuthResponse MessageType = "auth_response"

	// TypeScreenshotRequest is sent by the coordinator to ask for a capture.
	TypeScreenshotRequest MessageType = "screenshot_request"

	// TypeScreenshotResponse is sent by the agent with the captured images.
	TypeScreenshotResponse MessageType = "screenshot_response"
)

// AuthChallenge is sent server -> agent right after the WebSocket upgrade.
// Nonce is a fresh per-connection random value, hex-encoded.
type AuthChallenge struct {
	Type  MessageType `json:"type" msgpack:"type"`
	Nonce string      `json:"nonce" msgpack:"nonce"`
}

// NewAuthChallenge builds an AuthChallenge envelope for the given nonce.
func NewAuthChallenge(nonce string) AuthChallenge {
	return AuthChallenge{Type: TypeAuthChallenge, Nonce: nonce}
}

// AuthResponse is sent agent -> server in reply to AuthChallenge.
// HMAC is the lowercase hex-encoded HMAC-SHA256 of the nonce, keyed by the
// shared secret.
type AuthResponse struct {
	Type MessageType `json:"type" msgpack:"type"`
	Name string      `json:"name" msgpack:"name"`
	HMAC string      `json:"hmac" msgpack:"hmac"`
}

// ScreenshotRequest is sent server -> agent to ask for an immediate capture.
type ScreenshotRequest struct {
	Type      MessageType `json:"type" msgpack:"type"`
	RequestID string      `json:"request_id" msgpack:"request_id"`
}

// NewScreenshotRequest builds a ScreenshotRequest envelope for requestID.
func NewScreenshotRequest(requestID string) ScreenshotRequest {
	return ScreenshotRequest{Type: TypeScreenshotRequest, RequestID: requestID}
}

// ScreenshotData is one captured monitor's worth of image bytes.
// Data is opaque to the coordinator — typically JPEG, never validated here.
type ScreenshotData struct {
	Monitor uint32 `json:"monitor" msgpack:"monitor"`
	Data    []byte `json:"data" msgpack:"data"`
}

// ScreenshotResponse is sent agent -> server as the reply to a
// ScreenshotRequest. It always travels as a binary (MessagePack) frame —
// never JSON — because of the embedded image bytes.
type ScreenshotResponse struct {
	Type        MessageType      `json:"type" msgpack:"type"`
	RequestID   string           `json:"request_id" msgpack:"request_id"`
	Screenshots []ScreenshotData `json:"screenshots" msgpack:"screenshots"`
}

// typeOnly is used to sniff the "type" discriminator before fully decoding.
type typeOnly struct {
	Type MessageType `json:"type" msgpack:"type"`
}

// EncodeText JSON-encodes a text-frame message (AuthChallenge, AuthResponse,
// or ScreenshotRequest). ScreenshotResponse must use EncodeBinary instead.
func EncodeText(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode text frame: %w", err)
	}
	return b, nil
}

// DecodeTextType returns the MessageType discriminator of a text frame
// without fully decoding it, so the caller can dispatch to the right struct.
func DecodeTextType(b []byte) (MessageType, error) {
	var t typeOnly
	if err := json.Unmarshal(b, &t); err != nil {
		return "", fmt.Errorf("protocol: sniff text frame type: %w", err)
	}
	return t.Type, nil
}

// DecodeAuthResponse decodes a JSON-encoded AuthResponse text frame.
func DecodeAuthResponse(b []byte) (AuthResponse, error) {
	var m AuthResponse
	if err := json.Unmarshal(b, &m); err != nil {
		return AuthResponse{}, fmt.Errorf("protocol: decode auth_response: %w", err)
	}
	return m, nil
}

// EncodeBinary MessagePack-encodes a ScreenshotResponse for binary transport.
func EncodeBinary(v ScreenshotResponse) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode binary frame: %w", err)
	}
	return b, nil
}

// DecodeBinaryType returns the MessageType discriminator of a binary frame
// without fully decoding it.
func DecodeBinaryType(b []byte) (MessageType, error) {
	var t typeOnly
	if err := msgpack.Unmarshal(b, &t); err != nil {
		return "", fmt.Errorf("protocol: sniff binary frame type: %w", err)
	}
	return t.Type, nil
}

// DecodeScreenshotResponse decodes a MessagePack-encoded ScreenshotResponse.
func DecodeScreenshotResponse(b []byte) (ScreenshotResponse, error) {
	var m ScreenshotResponse
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return ScreenshotResponse{}, fmt.Errorf("protocol: decode screenshot_response: %w", err)
	}
	return m, nil
}
