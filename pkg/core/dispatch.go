// Copyright 2025 QNet Project

package core

import (
	"fmt"

	"github.com/qnet-project/qnet-core/pkg/qnerrors"
	"github.com/qnet-project/qnet-core/pkg/wire"
)

// Dispatch decodes a raw peer frame and routes it to the matching ingress
// operation, per spec.md §6's network frame contract. wire.DecodeFrame
// rejects unknown versions, which Dispatch returns as CodePeerMisbehaving;
// Dispatch does not build the negotiation reply (wire.Negotiate does). The
// frame's peer_sig is not verified, neither here nor in wire.DecodeFrame.
func (c *Core) Dispatch(raw []byte) error {
	frame, err := wire.DecodeFrame(raw)
	if err != nil {
		if _, unsupported := err.(*wire.ErrUnsupportedVersion); unsupported {
			return qnerrors.Wrap(qnerrors.CodePeerMisbehaving, "unsupported frame version", err)
		}
		return qnerrors.Wrap(qnerrors.CodeValidation, "malformed frame", err)
	}

	switch frame.Type {
	case wire.FrameTransaction:
		var tx wire.Transaction
		if err := frame.Unmarshal(&tx); err != nil {
			return qnerrors.Wrap(qnerrors.CodeValidation, "decode transaction payload", err)
		}
		result := c.SubmitTransaction(tx)
		if !result.Accepted {
			return qnerrors.New(qnerrors.CodeValidation, result.RejectReason)
		}
		return nil

	case wire.FrameCommit:
		var commit wire.Commit
		if err := frame.Unmarshal(&commit); err != nil {
			return qnerrors.Wrap(qnerrors.CodeValidation, "decode commit payload", err)
		}
		c.SubmitCommit(commit)
		return nil

	case wire.FrameReveal:
		var reveal wire.Reveal
		if err := frame.Unmarshal(&reveal); err != nil {
			return qnerrors.Wrap(qnerrors.CodeValidation, "decode reveal payload", err)
		}
		c.SubmitReveal(reveal)
		return nil

	case wire.FrameMicroblock:
		var mb wire.Microblock
		if err := frame.Unmarshal(&mb); err != nil {
			return qnerrors.Wrap(qnerrors.CodeValidation, "decode microblock payload", err)
		}
		c.SubmitMicroblock(mb)
		return nil

	case wire.FrameMacroblock:
		var block wire.Block
		if err := frame.Unmarshal(&block); err != nil {
			return qnerrors.Wrap(qnerrors.CodeValidation, "decode macroblock payload", err)
		}
		return c.SubmitMacroblock(&block)

	case wire.FramePing:
		var ping wire.PingRecord
		if err := frame.Unmarshal(&ping); err != nil {
			return qnerrors.Wrap(qnerrors.CodeValidation, "decode ping payload", err)
		}
		result := c.Ping(ping.NodeID)
		if !result.Recorded {
			return qnerrors.New(qnerrors.CodeNotEligible, result.Reason)
		}
		return nil

	case wire.FrameGetHeaders, wire.FrameGetBlocks, wire.FrameGetSnapshot:
		// Sync requests are answered by the caller via GetSyncData directly
		// (the reply travels back over whatever transport received this
		// frame); Dispatch only validates that the payload decodes.
		var cursor struct {
			Cursor uint64 `json:"cursor"`
		}
		return frame.Unmarshal(&cursor)

	default:
		return qnerrors.New(qnerrors.CodeValidation, fmt.Sprintf("core: unknown frame type %q", frame.Type))
	}
}
