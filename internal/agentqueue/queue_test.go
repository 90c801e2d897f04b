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

package agentqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueCompleteInOrder(t *testing.T) {
	q := New()
	s1 := q.Enqueue()
	s2 := q.Enqueue()

	out1 := q.Complete(s1, []byte("r1"))
	require.Equal(t, [][]byte{[]byte("r1")}, out1)

	out2 := q.Complete(s2, []byte("r2"))
	require.Equal(t, [][]byte{[]byte("r2")}, out2)

	assert.True(t, q.Empty())
}

// S6 - out-of-order completion preserves egress order: R1 (slow) and
// R2 (fast) are submitted in order; R2's handler finishes first but
// its bytes must not reach the wire before R1's.
func TestOutOfOrderCompletionPreservesEgressOrder(t *testing.T) {
	q := New()
	r1 := q.Enqueue() // sign, simulated-slow
	r2 := q.Enqueue() // list, fast

	// R2 finishes first: nothing drains yet because R1 is still pending.
	out := q.Complete(r2, []byte("r2-reply"))
	assert.Empty(t, out)
	assert.Equal(t, 2, q.Len())

	// R1 finishes: both replies drain now, in arrival order.
	out = q.Complete(r1, []byte("r1-reply"))
	assert.Equal(t, [][]byte{[]byte("r1-reply"), []byte("r2-reply")}, out)
	assert.True(t, q.Empty())
}

func TestThreeInFlightPartialDrain(t *testing.T) {
	q := New()
	a := q.Enqueue()
	b := q.Enqueue()
	c := q.Enqueue()

	assert.Empty(t, q.Complete(b, []byte("b")))
	assert.Empty(t, q.Complete(c, []byte("c")))

	out := q.Complete(a, []byte("a"))
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, out)
}

func TestCancelAtHeadUnblocksReadySuccessor(t *testing.T) {
	q := New()
	a := q.Enqueue()
	b := q.Enqueue()

	q.Complete(b, []byte("b-reply"))
	out := q.Cancel(a)
	assert.Equal(t, [][]byte{[]byte("b-reply")}, out)
	assert.True(t, q.Empty())
}

func TestCancelMiddleOfListDoesNotProduceOutput(t *testing.T) {
	q := New()
	a := q.Enqueue()
	b := q.Enqueue()
	c := q.Enqueue()

	out := q.Cancel(b)
	assert.Empty(t, out)
	assert.Equal(t, 2, q.Len())

	// c is not at the head (a still precedes it), so completing it out
	// of order produces no output yet.
	out = q.Complete(c, []byte("c"))
	assert.Empty(t, out)

	// Completing a, now the head, drains both a and the already-ready c.
	out = q.Complete(a, []byte("a"))
	assert.Equal(t, [][]byte{[]byte("a"), []byte("c")}, out)
}

func TestCancelUnknownSlotDoesNotPanic(t *testing.T) {
	q := New()
	a := q.Enqueue()
	q.Cancel(a)
	assert.NotPanics(t, func() { q.Cancel(a) })
}

func TestSlabReuseAfterDrain(t *testing.T) {
	q := New()
	s1 := q.Enqueue()
	q.Complete(s1, []byte("x"))
	assert.True(t, q.Empty())

	s2 := q.Enqueue()
	out := q.Complete(s2, []byte("y"))
	assert.Equal(t, [][]byte{[]byte("y")}, out)
}

func TestLenAndEmpty(t *testing.T) {
	q := New()
	assert.True(t, q.Empty())
	assert.Equal(t, 0, q.Len())

	a := q.Enqueue()
	assert.Equal(t, 1, q.Len())
	assert.False(t, q.Empty())

	q.Complete(a, []byte("ok"))
	assert.True(t, q.Empty())
}
