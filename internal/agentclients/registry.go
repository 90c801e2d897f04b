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

// Package agentclients implements the ClientRegistry: bookkeeping that
// tracks every in-flight PendingOp per connected client so they can
// all be cancelled at once when the client disconnects.
package agentclients

import (
	"sync"

	"github.com/jeremyhahn/ssh-agentd/internal/agentqueue"
)

// ClientID identifies one registered client (one connection, in this
// agent's transport model).
type ClientID uint64

// PendingOp represents a request accepted from a client whose reply
// has not yet been written. It is linked into two places conceptually
// — the owning Client's in-flight set here, and its connection's
// ResponseQueue slot — though the only structural link this package
// owns is the former; agentlisten threads the ResponseQueue connection
// by keeping Slot alongside.
//
// Every handler in this agent completes synchronously (the dispatch
// table never blocks or awaits external completion — see the
// randomness-prohibition and single-threaded scheduling rules), so in
// practice a PendingOp's lifetime here is extremely short: tracked at
// submission, untracked at completion, almost always without ever
// being raced by a disconnect. The registry exists so that a future
// genuinely asynchronous op (the spec's "awaiting-external" variant)
// has somewhere to register its cancellation.
type PendingOp struct {
	// RequestID is the correlation id (a UUID string, see
	// pkg/correlation) generated once when the request was accepted; it
	// is what ties this op's log lines together, not the ResponseQueue
	// slot, which is reused across requests.
	RequestID string
	Slot      agentqueue.SlotID

	mu         sync.Mutex
	client     *Client
	cancelFunc func()
}

// Client returns the owning client handle, or nil if the operation
// has been cancelled (client disconnected). A handler that suspends
// and later resumes must check this and exit without producing output
// if it observes nil.
func (op *PendingOp) Client() *Client {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.client
}

// OnCancel registers a callback invoked exactly once if this op is
// cancelled before it completes, to withdraw any scheduled
// resumption. It is a no-op if the op has already been cancelled.
func (op *PendingOp) OnCancel(f func()) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.cancelFunc = f
}

func (op *PendingOp) cancel() {
	op.mu.Lock()
	op.client = nil
	cancelFunc := op.cancelFunc
	op.cancelFunc = nil
	op.mu.Unlock()
	if cancelFunc != nil {
		cancelFunc()
	}
}

// Client is one registered connection's handle. Holding a *Client
// lets a PendingOp observe, via Client(), whether its owner is still
// connected.
type Client struct {
	id ClientID

	mu  sync.Mutex
	ops map[string]*PendingOp
}

// ID returns the client's registry handle.
func (c *Client) ID() ClientID {
	return c.id
}

// Track registers op as in-flight for this client. Untrack must be
// called when the op completes normally so the registry doesn't hold
// it forever.
func (c *Client) Track(op *PendingOp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	op.mu.Lock()
	op.client = c
	op.mu.Unlock()
	if c.ops == nil {
		c.ops = make(map[string]*PendingOp)
	}
	c.ops[op.RequestID] = op
}

// Untrack removes op from the in-flight set after it completes
// normally (not via cancellation).
func (c *Client) Untrack(op *PendingOp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ops, op.RequestID)
}

// cancelAll cancels every still-tracked PendingOp and returns them.
func (c *Client) cancelAll() []*PendingOp {
	c.mu.Lock()
	ops := make([]*PendingOp, 0, len(c.ops))
	for _, op := range c.ops {
		ops = append(ops, op)
	}
	c.ops = nil
	c.mu.Unlock()

	for _, op := range ops {
		op.cancel()
	}
	return ops
}

// Registry is the process-wide table of connected clients.
type Registry struct {
	mu      sync.Mutex
	nextID  ClientID
	clients map[ClientID]*Client
}

// NewRegistry returns an empty ClientRegistry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[ClientID]*Client)}
}

// Register creates and returns a new client handle, to be called at
// connection accept.
func (r *Registry) Register() *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c := &Client{id: r.nextID}
	r.clients[c.id] = c
	return c
}

// Unregister removes client from the registry and cancels every
// PendingOp still tracked for it, to be called at connection close.
// The returned ops have already had their cancellation callback
// invoked (if any); callers typically use this to discard the
// corresponding ResponseQueue slots without writing any reply bytes.
func (r *Registry) Unregister(client *Client) []*PendingOp {
	r.mu.Lock()
	delete(r.clients, client.id)
	r.mu.Unlock()
	return client.cancelAll()
}

// Count returns the number of currently-registered clients.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
