package pathunfolder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

func TestUnfoldLinearChain(t *testing.T) {
	a := &tpmodel.Stop{PrimaryIdentifier: "A"}
	b := &tpmodel.Stop{PrimaryIdentifier: "B"}
	c := &tpmodel.Stop{PrimaryIdentifier: "C"}

	tp := tpmodel.NewTransferPattern(a)
	nA := tp.NewNode(a)
	nB := tp.NewNode(b)
	nC := tp.NewNode(c)

	tp.AddArc(nC, tpmodel.TPArc{To: nB, Walking: false})
	tp.AddArc(nB, tpmodel.TPArc{To: nA, Walking: false})

	paths := Unfold(tp, nC)

	require.Len(t, paths, 1)
	require.Len(t, paths[0], 2)
	assert.Equal(t, "A", paths[0][0].From.PrimaryIdentifier)
	assert.Equal(t, "B", paths[0][0].To.PrimaryIdentifier)
	assert.Equal(t, "B", paths[0][1].From.PrimaryIdentifier)
	assert.Equal(t, "C", paths[0][1].To.PrimaryIdentifier)
}

func TestUnfoldForksAtBranch(t *testing.T) {
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

	paths := Unfold(tp, nC)

	require.Len(t, paths, 2)
	for _, p := range paths {
		require.Len(t, p, 2)
		assert.Equal(t, "A", p[0].From.PrimaryIdentifier)
		assert.Equal(t, "C", p[1].To.PrimaryIdentifier)
	}
}

func TestUnfoldSourceOnlyPath(t *testing.T) {
	a := &tpmodel.Stop{PrimaryIdentifier: "A"}
	tp := tpmodel.NewTransferPattern(a)
	nA := tp.NewNode(a)

	paths := Unfold(tp, nA)
	require.Len(t, paths, 1)
	assert.Empty(t, paths[0], "a target identical to the source has zero legs")
}
