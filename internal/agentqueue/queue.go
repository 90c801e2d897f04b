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

// Package agentqueue implements the ResponseQueue: a per-connection
// FIFO that preserves reply ordering across asynchronous handlers.
package agentqueue

// SlotID identifies a ResponseSlot within one Queue. It is only
// meaningful relative to the Queue that issued it.
type SlotID int

const none SlotID = -1

// slotNode is one entry in the slab-allocated intrusive doubly linked
// list. Nodes are addressed by index rather than pointer so unlink and
// free are O(1) without ever holding a bare pointer into a slice that
// might reallocate.
type slotNode struct {
	inUse bool
	ready bool
	reply []byte
	prev  SlotID
	next  SlotID
}

// Queue is one connection's ResponseQueue. Slots are created in
// request-arrival order via Enqueue and released, in that same order,
// only once they and every slot ahead of them are ready — this gives
// strict FIFO egress without requiring handlers to complete in order
// (§4.5).
type Queue struct {
	slab []slotNode
	free []SlotID
	head SlotID
	tail SlotID
}

// New returns an empty ResponseQueue.
func New() *Queue {
	return &Queue{head: none, tail: none}
}

func (q *Queue) alloc() SlotID {
	if n := len(q.free); n > 0 {
		id := q.free[n-1]
		q.free = q.free[:n-1]
		return id
	}
	q.slab = append(q.slab, slotNode{})
	return SlotID(len(q.slab) - 1)
}

func (q *Queue) release(id SlotID) {
	q.slab[id] = slotNode{}
	q.free = append(q.free, id)
}

// Enqueue creates a new pending ResponseSlot at the tail of the queue
// and returns its id. Called at request-arrival time, before the
// request has even been dispatched to the RequestHandler.
func (q *Queue) Enqueue() SlotID {
	id := q.alloc()
	q.slab[id] = slotNode{inUse: true, prev: q.tail, next: none}
	if q.tail == none {
		q.head = id
	} else {
		q.slab[q.tail].next = id
	}
	q.tail = id
	return id
}

func (q *Queue) unlink(id SlotID) {
	n := q.slab[id]
	if n.prev != none {
		q.slab[n.prev].next = n.next
	} else {
		q.head = n.next
	}
	if n.next != none {
		q.slab[n.next].prev = n.prev
	} else {
		q.tail = n.prev
	}
}

// drain writes out every ready slot starting at the head, stopping at
// the first slot that is still pending (or the list is empty).
func (q *Queue) drain() [][]byte {
	var out [][]byte
	for q.head != none && q.slab[q.head].ready {
		id := q.head
		out = append(out, q.slab[id].reply)
		q.unlink(id)
		q.release(id)
	}
	return out
}

// Complete stores reply as the finalized bytes for slot id and marks
// it ready. It returns every reply now unblocked at the head of the
// queue, in FIFO order, ready to be written to the socket — this may
// be more than one slot if id completed a run of already-ready
// successors, or it may be empty if id is not yet at the head.
func (q *Queue) Complete(id SlotID, reply []byte) [][]byte {
	if !q.slab[id].inUse {
		return nil
	}
	q.slab[id].reply = reply
	q.slab[id].ready = true
	return q.drain()
}

// Cancel discards slot id without ever producing reply bytes for it
// (used when a PendingOp is cancelled on client disconnect, or — for
// a connection kept alive — when a suspended handler resumes to find
// its client handle gone). If id was blocking the head of the queue,
// cancelling it may unblock replies that were already ready behind
// it; those are returned just as Complete would return them.
func (q *Queue) Cancel(id SlotID) [][]byte {
	if !q.slab[id].inUse {
		return nil
	}
	q.unlink(id)
	q.release(id)
	return q.drain()
}

// Len reports the number of slots currently outstanding (pending or
// ready-but-not-yet-drained).
func (q *Queue) Len() int {
	n := 0
	for id := q.head; id != none; id = q.slab[id].next {
		n++
	}
	return n
}

// Empty reports whether the queue has no outstanding slots.
func (q *Queue) Empty() bool {
	return q.head == none
}
