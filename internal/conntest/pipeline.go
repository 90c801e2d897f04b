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

// Package conntest drives a ConnectionFSM, ResponseQueue and
// RequestHandler together, the way agentlisten.handleConn does, without
// a real socket. It exists so the interaction between those three
// packages can be exercised end-to-end, including completion orders a
// single synchronous handler loop never produces on its own.
package conntest

import (
	"context"
	"encoding/binary"

	"github.com/jeremyhahn/ssh-agentd/internal/agentconn"
	"github.com/jeremyhahn/ssh-agentd/internal/agentqueue"
	"github.com/jeremyhahn/ssh-agentd/pkg/agentdispatch"
	"github.com/jeremyhahn/ssh-agentd/pkg/agentwire"
	"github.com/jeremyhahn/ssh-agentd/pkg/correlation"
)

// Pipeline wires one connection's FSM and ResponseQueue to a shared
// Handler, mirroring agentlisten.Listener.handleConn's per-connection
// loop but returning framed reply bytes directly instead of writing to
// a net.Conn.
type Pipeline struct {
	handler *agentdispatch.Handler
	fsm     *agentconn.FSM
	queue   *agentqueue.Queue
}

// New returns a Pipeline dispatching through handler, bounding frames
// at maxLen (AGENT_MAX_MSGLEN if zero).
func New(handler *agentdispatch.Handler, maxLen uint32) *Pipeline {
	if maxLen == 0 {
		maxLen = agentwire.AgentMaxMsgLen
	}
	return &Pipeline{
		handler: handler,
		fsm:     agentconn.New(maxLen),
		queue:   agentqueue.New(),
	}
}

// Feed delivers data as if it had just arrived on the connection's
// socket, dispatching every completed frame synchronously and
// returning any framed replies now ready to write. This is the
// synchronous-completion path every real request takes.
func (p *Pipeline) Feed(data []byte) [][]byte {
	var out [][]byte
	for _, frame := range p.fsm.Feed(data) {
		out = append(out, p.dispatch(frame)...)
	}
	return out
}

func (p *Pipeline) dispatch(frame agentconn.Frame) [][]byte {
	slot := p.queue.Enqueue()
	if frame.Kind == agentconn.FrameOverlong {
		return frameAll(p.queue.Complete(slot, []byte{agentwire.SSHAgentFailure}))
	}
	ctx := correlation.WithCorrelationID(context.Background(), correlation.NewID())
	reply := p.handler.Handle(ctx, frame.Payload, agentdispatch.Opts{})
	return frameAll(p.queue.Complete(slot, reply))
}

// EnqueueDeferred reserves this frame's place in egress order without
// dispatching it yet, returning a slot that CompleteDeferred must later
// resolve. Used to simulate a handler that finishes out of submission
// order (S6), which a synchronous dispatch loop cannot otherwise
// produce.
func (p *Pipeline) EnqueueDeferred() agentqueue.SlotID {
	return p.queue.Enqueue()
}

// CompleteDeferred resolves a slot previously reserved by
// EnqueueDeferred, dispatching its request body now and returning any
// replies the completion unblocks (in FIFO submission order).
func (p *Pipeline) CompleteDeferred(slot agentqueue.SlotID, body []byte) [][]byte {
	ctx := correlation.WithCorrelationID(context.Background(), correlation.NewID())
	reply := p.handler.Handle(ctx, body, agentdispatch.Opts{})
	return frameAll(p.queue.Complete(slot, reply))
}

func frameAll(replies [][]byte) [][]byte {
	out := make([][]byte, 0, len(replies))
	for _, r := range replies {
		out = append(out, frameOne(r))
	}
	return out
}

func frameOne(payload []byte) []byte {
	framed := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(framed[:4], uint32(len(payload)))
	copy(framed[4:], payload)
	return framed
}
