package cyclecleaner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

func TestCleanRemovesCycle(t *testing.T) {
	a := &tpmodel.Stop{PrimaryIdentifier: "A"}
	b := &tpmodel.Stop{PrimaryIdentifier: "B"}
	c := &tpmodel.Stop{PrimaryIdentifier: "C"}

	tp := tpmodel.NewTransferPattern(a)

	nA := tp.NewNode(a)
	nB := tp.NewNode(b)
	nC := tp.NewNode(c)

	// C <- B <- A, and a spurious back-arc A <- C closing a cycle.
	tp.AddArc(nC, tpmodel.TPArc{To: nB})
	tp.AddArc(nB, tpmodel.TPArc{To: nA})
	tp.AddArc(nA, tpmodel.TPArc{To: nC})

	tp.PutTarget(c, nC)

	Clean(tp)

	assert.Empty(t, tp.Arcs(nA), "the arc closing the cycle back into A must be removed")
	assert.Len(t, tp.Arcs(nB), 1)
	assert.Len(t, tp.Arcs(nC), 1)
}

func TestCleanIsNoOpOnAcyclicDAG(t *testing.T) {
	a := &tpmodel.Stop{PrimaryIdentifier: "A"}
	b := &tpmodel.Stop{PrimaryIdentifier: "B"}
	c := &tpmodel.Stop{PrimaryIdentifier: "C"}

	tp := tpmodel.NewTransferPattern(a)
	nA := tp.NewNode(a)
	nB := tp.NewNode(b)
	nC := tp.NewNode(c)

	tp.AddArc(nC, tpmodel.TPArc{To: nB})
	tp.AddArc(nB, tpmodel.TPArc{To: nA})
	tp.PutTarget(c, nC)

	before := map[tpmodel.TPNode]int{nA: len(tp.Arcs(nA)), nB: len(tp.Arcs(nB)), nC: len(tp.Arcs(nC))}

	Clean(tp)

	assert.Equal(t, before[nA], len(tp.Arcs(nA)))
	assert.Equal(t, before[nB], len(tp.Arcs(nB)))
	assert.Equal(t, before[nC], len(tp.Arcs(nC)))
}

func TestCleanAllowsDisjointPathsThroughSameNode(t *testing.T) {
	// Two distinct predecessor paths from C both reaching A through
	// different intermediates must both survive: C<-B<-A and C<-D<-A.
	a := &tpmodel.Stop{PrimaryIdentifier: "A"}
	b := &tpmodel.Stop{PrimaryIdentifier: "B"}
	d := &tpmodel.Stop{PrimaryIdentifier: "D"}
	c := &tpmodel.Stop{PrimaryIdentifier: "C"}

	tp := tpmodel.NewTransferPattern(a)
	nA := tp.NewNode(a)
	nB := tp.NewNode(b)
	nD := tp.NewNode(d)
	nC := tp.NewNode(c)

	tp.AddArc(nC, tpmodel.TPArc{To: nB})
	tp.AddArc(nC, tpmodel.TPArc{To: nD})
	tp.AddArc(nB, tpmodel.TPArc{To: nA})
	tp.AddArc(nD, tpmodel.TPArc{To: nA})
	tp.PutTarget(c, nC)

	Clean(tp)

	assert.Len(t, tp.Arcs(nC), 2, "two disjoint predecessor paths meeting at A are both legal")
	assert.Len(t, tp.Arcs(nB), 1)
	assert.Len(t, tp.Arcs(nD), 1)
}
