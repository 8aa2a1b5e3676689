// Copyright 2025 QNet Project

package wire

import (
	"encoding/json"
	"fmt"

	"github.com/qnet-project/qnet-core/pkg/crypto/hashing"
)

// CurrentVersion is the only frame version this build emits. IngressVersions
// lists every version this build still accepts for backward compatibility;
// today that's just CurrentVersion.
const CurrentVersion = 1

var IngressVersions = []int{1}

// FrameType tags the payload carried by a Frame.
type FrameType string

const (
	FrameTransaction FrameType = "tx"
	FrameCommit      FrameType = "commit"
	FrameReveal      FrameType = "reveal"
	FrameMicroblock  FrameType = "microblock"
	FrameMacroblock  FrameType = "macroblock"
	FramePing        FrameType = "ping"
	FrameGetHeaders  FrameType = "get_headers"
	FrameGetBlocks   FrameType = "get_blocks"
	FrameGetSnapshot FrameType = "get_snapshot"
	FrameNegotiate   FrameType = "negotiate"
)

// Frame is the envelope every peer message travels in, per spec.md §6:
// {version, type, payload, peer_sig}. Payload is the canonical-JSON encoding
// of the typed message named by Type; Frame itself is what crosses the wire
// (binary framing is a length-prefixed encoding of this struct's JSON form,
// left to the transport layer — every hash-relevant byte still flows
// through Payload's canonical JSON).
type Frame struct {
	Version int             `json:"version"`
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
	PeerSig string          `json:"peer_sig"`
}

// NegotiateResponse is returned when a peer sends a frame whose Version this
// build does not understand.
type NegotiateResponse struct {
	SupportedVersions []int `json:"supported_versions"`
}

// ErrUnsupportedVersion is returned by DecodeFrame when a frame names a
// version not present in IngressVersions.
type ErrUnsupportedVersion struct {
	Got int
}

func (e *ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("wire: unsupported frame version %d (supported: %v)", e.Got, IngressVersions)
}

// NewFrame builds a Frame around an arbitrary payload value, marshaling it
// to canonical JSON so the payload bytes the recipient hashes are exactly
// the bytes the sender hashed.
func NewFrame(typ FrameType, payload interface{}, peerSig string) (*Frame, error) {
	canon, err := hashing.MarshalCanonical(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: encode frame payload: %w", err)
	}
	return &Frame{
		Version: CurrentVersion,
		Type:    typ,
		Payload: canon,
		PeerSig: peerSig,
	}, nil
}

// DecodeFrame parses raw bytes into a Frame and rejects unsupported
// versions up front, before the caller ever looks at Type or Payload.
func DecodeFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("wire: decode frame: %w", err)
	}
	if !supportedVersion(f.Version) {
		return nil, &ErrUnsupportedVersion{Got: f.Version}
	}
	return &f, nil
}

func supportedVersion(v int) bool {
	for _, sv := range IngressVersions {
		if sv == v {
			return true
		}
	}
	return false
}

// Negotiate builds the response a peer should send back when it rejects an
// unsupported version.
func Negotiate() *NegotiateResponse {
	return &NegotiateResponse{SupportedVersions: append([]int(nil), IngressVersions...)}
}

// Unmarshal decodes the frame's payload into v.
func (f *Frame) Unmarshal(v interface{}) error {
	return json.Unmarshal(f.Payload, v)
}
