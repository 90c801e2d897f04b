// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of ssh-agentd.
//
// ssh-agentd is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package agentconn implements the ConnectionFSM: the per-connection,
// length-prefixed framing state machine that turns a raw byte stream
// into a sequence of request frames.
package agentconn

import (
	"encoding/binary"

	"github.com/jeremyhahn/ssh-agentd/pkg/agentwire"
)

// phase names the FSM's position between its single suspension point
// ("need more bytes") and the next one.
type phase int

const (
	phaseLength phase = iota
	phaseOverlongDrain
	phasePayload
)

// FrameKind distinguishes the two outcomes Feed can report for one
// accepted frame.
type FrameKind int

const (
	// FrameOverlong is emitted the instant a frame's declared length is
	// seen to be at or above AGENT_MAX_MSGLEN-4, before any of its
	// payload has been read off the wire. The caller must allocate a
	// ResponseSlot for it immediately and prefill it with the FAILURE
	// reply (early-failure-before-drain, §4.4 step 2); the FSM itself
	// discards the oversized payload as it streams in.
	FrameOverlong FrameKind = iota
	// FramePayload is emitted once a normal frame's full payload has
	// been buffered and is ready for the RequestHandler.
	FramePayload
)

// Frame is one unit of output from Feed.
type Frame struct {
	Kind    FrameKind
	Payload []byte // only set for FramePayload
}

// FSM is the per-connection framing state machine described in §4.4.
// Its entire state is (buf, needed, phase) plus the implicit resume
// point of the next Feed call — there is no internal concurrency, and
// cancellation is performed by simply discarding the FSM.
type FSM struct {
	phase   phase
	lenBuf  [4]byte
	lenPos  int
	needed  int
	buf     []byte
	maxLen  uint32
}

// New returns an FSM bounded by maxMsgLen (AGENT_MAX_MSGLEN unless a
// test or config override says otherwise).
func New(maxMsgLen uint32) *FSM {
	if maxMsgLen == 0 {
		maxMsgLen = agentwire.AgentMaxMsgLen
	}
	return &FSM{maxLen: maxMsgLen}
}

// Feed advances the state machine with newly-arrived bytes and
// returns every frame that became complete as a result, in arrival
// order. It survives arbitrary socket chunking: data may be split at
// any byte boundary across calls.
func (f *FSM) Feed(data []byte) []Frame {
	var frames []Frame
	for len(data) > 0 {
		switch f.phase {
		case phaseLength:
			n := copy(f.lenBuf[f.lenPos:], data)
			f.lenPos += n
			data = data[n:]
			if f.lenPos < 4 {
				continue
			}
			f.lenPos = 0
			L := binary.BigEndian.Uint32(f.lenBuf[:])
			if L >= f.maxLen-4 {
				frames = append(frames, Frame{Kind: FrameOverlong})
				f.phase = phaseOverlongDrain
				f.needed = int(L)
				if f.needed == 0 {
					f.phase = phaseLength
				}
			} else {
				f.phase = phasePayload
				f.needed = int(L)
				f.buf = make([]byte, 0, L)
				if f.needed == 0 {
					frames = append(frames, Frame{Kind: FramePayload, Payload: f.buf})
					f.phase = phaseLength
				}
			}

		case phaseOverlongDrain:
			n := f.needed
			if n > len(data) {
				n = len(data)
			}
			data = data[n:]
			f.needed -= n
			if f.needed == 0 {
				f.phase = phaseLength
			}

		case phasePayload:
			n := f.needed - len(f.buf)
			if n > len(data) {
				n = len(data)
			}
			f.buf = append(f.buf, data[:n]...)
			data = data[n:]
			if len(f.buf) == f.needed {
				frames = append(frames, Frame{Kind: FramePayload, Payload: f.buf})
				f.buf = nil
				f.phase = phaseLength
			}
		}
	}
	return frames
}
