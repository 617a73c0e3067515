package tpeditor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridhop/transferpatterns/pkg/search"
	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

func TestAddBuildsChainAcrossBoardingBoundary(t *testing.T) {
	a := &tpmodel.Stop{PrimaryIdentifier: "A"}
	b := &tpmodel.Stop{PrimaryIdentifier: "B"}
	c := &tpmodel.Stop{PrimaryIdentifier: "C"}

	p1 := &tpmodel.TripPattern{Code: "P1"}
	p2 := &tpmodel.TripPattern{Code: "P2"}

	root := &search.State{Stop: a, ArrivalSecs: 0, BackMode: search.BackModeRoot}
	atB := &search.State{Stop: b, ArrivalSecs: 480, BackMode: search.BackModeBoard, ViaPattern: p1, Prev: root}
	atC := &search.State{Stop: c, ArrivalSecs: 600, BackMode: search.BackModeBoard, ViaPattern: p2, Prev: atB}

	e := NewEditor(a)
	e.Add(map[string][]*search.State{"C": {atC}}, nil)

	pattern := e.Create()

	node, ok := pattern.Target(c)
	require.True(t, ok)

	arcs := pattern.Arcs(node)
	require.Len(t, arcs, 1)
	assert.Equal(t, b, pattern.Stop(arcs[0].To))
	assert.False(t, arcs[0].Walking)

	next := pattern.Arcs(arcs[0].To)
	require.Len(t, next, 1)
	assert.Equal(t, a, pattern.Stop(next[0].To))

	delays := e.GetPossibleDelays()
	assert.Equal(t, 120, delays["P2"])
	assert.Equal(t, 480, delays["P1"])
}

func TestAddSkipsRidingThroughStates(t *testing.T) {
	a := &tpmodel.Stop{PrimaryIdentifier: "A"}
	b := &tpmodel.Stop{PrimaryIdentifier: "B"}
	c := &tpmodel.Stop{PrimaryIdentifier: "C"}

	p1 := &tpmodel.TripPattern{Code: "P1"}

	root := &search.State{Stop: a, ArrivalSecs: 0, BackMode: search.BackModeRoot}
	atB := &search.State{Stop: b, ArrivalSecs: 300, BackMode: search.BackModeBoard, ViaPattern: p1, Prev: root}
	ridingAtC := &search.State{Stop: c, ArrivalSecs: 600, BackMode: search.BackModeRide, ViaPattern: p1, Prev: atB}

	e := NewEditor(a)
	e.Add(map[string][]*search.State{"C": {ridingAtC}}, nil)

	pattern := e.Create()
	node, ok := pattern.Target(c)
	require.True(t, ok)

	// the ride-through state at C is collapsed straight back to A: no
	// intermediate node is created for the non-stop-visiting state itself.
	arcs := pattern.Arcs(node)
	require.Len(t, arcs, 1)
	assert.Equal(t, a, pattern.Stop(arcs[0].To))
}

func TestAddSkipsTargetEqualToRoot(t *testing.T) {
	a := &tpmodel.Stop{PrimaryIdentifier: "A"}
	root := &search.State{Stop: a, ArrivalSecs: 0, BackMode: search.BackModeRoot}

	e := NewEditor(a)
	e.Add(map[string][]*search.State{"A": {root}}, nil)

	_, ok := e.Create().Target(a)
	assert.False(t, ok, "the root stop is never its own target")
}

func TestAddDoesNotDuplicateArcsAcrossRepeatedSamples(t *testing.T) {
	a := &tpmodel.Stop{PrimaryIdentifier: "A"}
	b := &tpmodel.Stop{PrimaryIdentifier: "B"}
	p1 := &tpmodel.TripPattern{Code: "P1"}

	root := &search.State{Stop: a, ArrivalSecs: 0, BackMode: search.BackModeRoot}
	atB := &search.State{Stop: b, ArrivalSecs: 300, BackMode: search.BackModeBoard, ViaPattern: p1, Prev: root}

	e := NewEditor(a)
	e.Add(map[string][]*search.State{"B": {atB}}, nil)
	e.Add(map[string][]*search.State{"B": {atB}}, nil)

	node, ok := e.Create().Target(b)
	require.True(t, ok)
	assert.Len(t, e.Create().Arcs(node), 1, "adding the same chain twice must not duplicate the arc")
}

func TestAddTracksWalkingArcs(t *testing.T) {
	a := &tpmodel.Stop{PrimaryIdentifier: "A"}
	b := &tpmodel.Stop{PrimaryIdentifier: "B"}

	root := &search.State{Stop: a, ArrivalSecs: 0, BackMode: search.BackModeRoot}
	atB := &search.State{Stop: b, ArrivalSecs: 300, BackMode: search.BackModeWalk, ViaWalking: true, Prev: root}

	e := NewEditor(a)
	e.Add(map[string][]*search.State{"B": {atB}}, nil)

	node, ok := e.Create().Target(b)
	require.True(t, ok)

	arcs := e.Create().Arcs(node)
	require.Len(t, arcs, 1)
	assert.True(t, arcs[0].Walking)
}

func TestTrackPossibleDelayIgnoredUnderScenario(t *testing.T) {
	a := &tpmodel.Stop{PrimaryIdentifier: "A"}
	b := &tpmodel.Stop{PrimaryIdentifier: "B"}
	p1 := &tpmodel.TripPattern{Code: "P1"}

	scenario, err := tpmodel.NewDelayScenario([]tpmodel.DelayScenarioEntry{{TripPattern: p1, MinDelaySecs: 60}})
	require.NoError(t, err)

	root := &search.State{Stop: a, ArrivalSecs: 0, BackMode: search.BackModeRoot}
	atB := &search.State{Stop: b, ArrivalSecs: 300, BackMode: search.BackModeBoard, ViaPattern: p1, Prev: root}

	e := NewEditor(a)
	e.Add(map[string][]*search.State{"B": {atB}}, scenario)

	assert.Empty(t, e.GetPossibleDelays(), "possibleDelays only accumulates under the static (nil-scenario) pass")
}

func TestDynamicArcAddedAlongsideStaticArc(t *testing.T) {
	a := &tpmodel.Stop{PrimaryIdentifier: "A"}
	b := &tpmodel.Stop{PrimaryIdentifier: "B"}
	p1 := &tpmodel.TripPattern{Code: "P1"}

	scenario, err := tpmodel.NewDelayScenario([]tpmodel.DelayScenarioEntry{{TripPattern: p1, MinDelaySecs: 60}})
	require.NoError(t, err)

	root := &search.State{Stop: a, ArrivalSecs: 0, BackMode: search.BackModeRoot}
	atB := &search.State{Stop: b, ArrivalSecs: 300, BackMode: search.BackModeBoard, ViaPattern: p1, Prev: root}

	e := NewEditor(a)
	e.Add(map[string][]*search.State{"B": {atB}}, nil)
	e.Add(map[string][]*search.State{"B": {atB}}, scenario)

	node, ok := e.Create().Target(b)
	require.True(t, ok)
	assert.Len(t, e.Create().Arcs(node), 2, "static and dynamic arcs between the same stops coexist")
}
