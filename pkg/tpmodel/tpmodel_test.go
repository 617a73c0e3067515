package tpmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopEqual(t *testing.T) {
	a := &Stop{PrimaryIdentifier: "A"}
	a2 := &Stop{PrimaryIdentifier: "A", Name: "different name"}
	b := &Stop{PrimaryIdentifier: "B"}

	assert.True(t, a.Equal(a2), "stops with the same identifier are equal regardless of other fields")
	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(nil))
}

func TestTripPatternPositionOf(t *testing.T) {
	a, b, c := &Stop{PrimaryIdentifier: "A"}, &Stop{PrimaryIdentifier: "B"}, &Stop{PrimaryIdentifier: "C"}
	p := &TripPattern{Code: "P1", Stops: []*Stop{a, b, c}}

	assert.Equal(t, 0, p.PositionOf(a))
	assert.Equal(t, 2, p.PositionOf(c))
	assert.Equal(t, -1, p.PositionOf(&Stop{PrimaryIdentifier: "D"}))
}

func TestDelayScenarioInvariant(t *testing.T) {
	p := &TripPattern{Code: "P1"}

	_, err := NewDelayScenario([]DelayScenarioEntry{{TripPattern: p, MinDelaySecs: 0}})
	require.Error(t, err, "minDelaySecs must be > 0")

	s, err := NewDelayScenario([]DelayScenarioEntry{{TripPattern: p, MinDelaySecs: 60}})
	require.NoError(t, err)
	assert.Equal(t, "P1", s.Fingerprint())
}

func TestDelayScenarioFingerprintIgnoresOrderAndMagnitude(t *testing.T) {
	p1 := &TripPattern{Code: "P1"}
	p2 := &TripPattern{Code: "P2"}

	a, err := NewDelayScenario([]DelayScenarioEntry{{TripPattern: p1, MinDelaySecs: 60}, {TripPattern: p2, MinDelaySecs: 120}})
	require.NoError(t, err)

	b, err := NewDelayScenario([]DelayScenarioEntry{{TripPattern: p2, MinDelaySecs: 999}, {TripPattern: p1, MinDelaySecs: 1}})
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	var nilScenario *DelayScenario
	assert.Equal(t, "", nilScenario.Fingerprint())
}

func TestDirectConnectionIndex(t *testing.T) {
	a, b, c := &Stop{PrimaryIdentifier: "A"}, &Stop{PrimaryIdentifier: "B"}, &Stop{PrimaryIdentifier: "C"}
	p := &TripPattern{Code: "P1", Stops: []*Stop{a, b, c}}

	idx := NewDirectConnectionIndex([]*TripPattern{p})

	conns := idx.DirectConnections(a, c)
	require.Len(t, conns, 1)
	assert.Equal(t, 0, conns[0].FromPos)
	assert.Equal(t, 2, conns[0].ToPos)

	// no connection the wrong direction
	assert.Empty(t, idx.DirectConnections(c, a))
}

func TestDirectConnectionIndexRoundTripsThroughVisits(t *testing.T) {
	a, b := &Stop{PrimaryIdentifier: "A"}, &Stop{PrimaryIdentifier: "B"}
	p := &TripPattern{Code: "P1", Stops: []*Stop{a, b}}

	idx := NewDirectConnectionIndex([]*TripPattern{p})
	visits := idx.AllVisits()

	rebuilt := NewDirectConnectionIndexFromVisits(visits)
	conns := rebuilt.DirectConnections(a, b)
	require.Len(t, conns, 1)
	assert.Equal(t, "P1", conns[0].TripPattern.Code)
}

func TestTransferPatternArenaAndArcs(t *testing.T) {
	source := &Stop{PrimaryIdentifier: "A"}
	target := &Stop{PrimaryIdentifier: "C"}
	mid := &Stop{PrimaryIdentifier: "B"}

	tp := NewTransferPattern(source)

	nSource := tp.NewNode(source)
	nMid := tp.NewNode(mid)
	nTarget := tp.NewNode(target)

	tp.AddArc(nTarget, TPArc{To: nMid, Walking: false})
	tp.AddArc(nMid, TPArc{To: nSource, Walking: false})
	tp.PutTarget(target, nTarget)

	assert.True(t, tp.HasArc(nTarget, nMid, false))
	assert.False(t, tp.HasArc(nTarget, nMid, true))

	node, ok := tp.Target(target)
	require.True(t, ok)
	assert.Equal(t, nTarget, node)

	assert.Equal(t, mid, tp.Stop(nMid))
	assert.Len(t, tp.Arcs(nTarget), 1)
}

func TestHasArcForScenarioDistinguishesProvenance(t *testing.T) {
	tp := NewTransferPattern(&Stop{PrimaryIdentifier: "A"})
	n1 := tp.NewNode(&Stop{PrimaryIdentifier: "A"})
	n2 := tp.NewNode(&Stop{PrimaryIdentifier: "B"})

	pattern := &TripPattern{Code: "P1"}
	scenario, err := NewDelayScenario([]DelayScenarioEntry{{TripPattern: pattern, MinDelaySecs: 60}})
	require.NoError(t, err)

	tp.AddArc(n2, TPArc{To: n1, Walking: false})

	assert.True(t, tp.HasArcForScenario(n2, n1, false, nil), "the static arc itself matches a nil-scenario lookup")
	assert.False(t, tp.HasArcForScenario(n2, n1, false, scenario), "a scenario-tagged lookup doesn't match the static arc")

	tp.AddArc(n2, TPArc{To: n1, Walking: false, Scenario: scenario})

	assert.True(t, tp.HasArcForScenario(n2, n1, false, scenario))
	assert.Len(t, tp.Arcs(n2), 2, "static and dynamic arcs to the same endpoint both survive")
}

func TestRemoveArcsToSwapPop(t *testing.T) {
	tp := NewTransferPattern(&Stop{PrimaryIdentifier: "A"})
	n1 := tp.NewNode(&Stop{PrimaryIdentifier: "A"})
	n2 := tp.NewNode(&Stop{PrimaryIdentifier: "B"})
	n3 := tp.NewNode(&Stop{PrimaryIdentifier: "C"})

	tp.AddArc(n3, TPArc{To: n1, Walking: false})
	tp.AddArc(n3, TPArc{To: n2, Walking: false})

	tp.RemoveArcsTo(n3, n1)

	arcs := tp.Arcs(n3)
	require.Len(t, arcs, 1)
	assert.Equal(t, n2, arcs[0].To)
}

func TestTransferPatternIndexGetAndMerge(t *testing.T) {
	source := &Stop{PrimaryIdentifier: "A"}
	target := &Stop{PrimaryIdentifier: "B"}

	tp := NewTransferPattern(source)
	n1 := tp.NewNode(source)
	tp.PutTarget(target, n1)

	idx := NewTransferPatternIndex(nil)
	idx.Put(source, tp)

	_, _, ok := idx.GetTransferPattern(source, target)
	assert.True(t, ok)

	_, _, ok = idx.GetTransferPattern(source, &Stop{PrimaryIdentifier: "nowhere"})
	assert.False(t, ok)

	other := NewTransferPatternIndex(nil)
	otherSource := &Stop{PrimaryIdentifier: "Z"}
	otherTP := NewTransferPattern(otherSource)
	other.Put(otherSource, otherTP)

	idx.Merge(other)
	assert.ElementsMatch(t, []string{"A", "Z"}, idx.Sources())
}

func TestSortStopsByIndex(t *testing.T) {
	stops := []*Stop{
		{PrimaryIdentifier: "C", Index: 2},
		{PrimaryIdentifier: "A", Index: 0},
		{PrimaryIdentifier: "B", Index: 1},
	}

	SortStopsByIndex(stops)

	assert.Equal(t, []string{"A", "B", "C"}, []string{stops[0].PrimaryIdentifier, stops[1].PrimaryIdentifier, stops[2].PrimaryIdentifier})
}
