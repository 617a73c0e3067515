package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridhop/transferpatterns/pkg/builder"
	"github.com/gridhop/transferpatterns/pkg/config"
	"github.com/gridhop/transferpatterns/pkg/timetableview"
	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

var serviceDate = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func stop(id string, index int) *tpmodel.Stop {
	return &tpmodel.Stop{PrimaryIdentifier: id, Index: index}
}

func trip(times ...int) tpmodel.TripTimes {
	stopTimes := make([]tpmodel.StopTime, 0, len(times))
	for _, t := range times {
		stopTimes = append(stopTimes, tpmodel.StopTime{ArrivalSecs: t, DepartureSecs: t})
	}
	return tpmodel.TripTimes{ServiceID: "weekday", StopTimes: stopTimes}
}

// fixture is a small network where A->C has both a transfer route (P1 then
// P2 at B, arriving 08:20) and a slower direct pattern (P3, arriving
// 08:24). D is isolated: no pattern serves it.
func fixture(t *testing.T) (*timetableview.InMemory, *tpmodel.TransferPatternIndex, map[string]*tpmodel.Stop) {
	t.Helper()

	a, b, c, d := stop("A", 0), stop("B", 1), stop("C", 2), stop("D", 3)

	p1 := &tpmodel.TripPattern{
		Code:      "P1",
		Stops:     []*tpmodel.Stop{a, b},
		Timetable: tpmodel.Timetable{trip(28800, 29100)}, // A@08:00, B@08:05
	}
	p2 := &tpmodel.TripPattern{
		Code:      "P2",
		Stops:     []*tpmodel.Stop{b, c},
		Timetable: tpmodel.Timetable{trip(29400, 30000)}, // B@08:10, C@08:20
	}
	p3 := &tpmodel.TripPattern{
		Code:      "P3",
		Stops:     []*tpmodel.Stop{a, c},
		Timetable: tpmodel.Timetable{trip(29100, 30240)}, // A@08:05, C@08:24
	}

	view := timetableview.NewInMemory(
		[]*tpmodel.Stop{a, b, c, d},
		[]*tpmodel.TripPattern{p1, p2, p3},
		serviceDate,
	)

	cfg := config.Default()
	cfg.DelayScenario.Policy = config.DelayPolicySimple

	o := builder.New(cfg, view, nil, serviceDate, t.TempDir(), "test.graph")

	idx, err := o.BuildChunk(context.Background(), 1, 1)
	require.NoError(t, err)

	stops := map[string]*tpmodel.Stop{"A": a, "B": b, "C": c, "D": d}
	return view, idx, stops
}

func request(from, to *tpmodel.Stop) Request {
	return Request{
		From:                  Endpoint{Stop: from},
		To:                    Endpoint{Stop: to},
		DateTime:              serviceDate.Add(28500 * time.Second), // 07:55
		MaxWalkDistanceMetres: 500,
	}
}

func TestFindJourneysPicksTransferRouteOnTime(t *testing.T) {
	view, idx, stops := fixture(t)

	engine := Engine{Index: idx, View: view}

	journeys, err := engine.FindJourneys(context.Background(), request(stops["A"], stops["C"]))
	require.NoError(t, err)
	require.NotEmpty(t, journeys)

	// display order: arrival ascending, so the 08:20 transfer journey
	// leads the slower direct one.
	first := journeys[0]
	assert.Equal(t, serviceDate.Add(30000*time.Second), first.ArriveAt())
	require.Len(t, first.Legs, 2)
	assert.Equal(t, "P1", first.Legs[0].TripPattern.Code)
	assert.Equal(t, "P2", first.Legs[1].TripPattern.Code)
}

func TestFindJourneysUnderRealtimeDelayPrefersAlternative(t *testing.T) {
	view, idx, stops := fixture(t)

	// delay P2 beyond the scenario threshold the build discovered.
	delayed, err := tpmodel.NewDelayScenario([]tpmodel.DelayScenarioEntry{
		{TripPattern: view.TripPatterns()[1], MinDelaySecs: 301},
	})
	require.NoError(t, err)
	view.SetOverlay(timetableview.Overlay{Scenario: delayed})
	defer view.ClearOverlay()

	engine := Engine{Index: idx, View: view}

	journeys, err := engine.FindJourneys(context.Background(), request(stops["A"], stops["C"]))
	require.NoError(t, err)
	require.NotEmpty(t, journeys)

	// the direct P3 journey (08:24) now beats the delayed transfer
	// journey (08:25:01) and leads the result.
	first := journeys[0]
	assert.Equal(t, serviceDate.Add(30240*time.Second), first.ArriveAt())
	require.Len(t, first.Legs, 1)
	assert.Equal(t, "P3", first.Legs[0].TripPattern.Code)

	for _, j := range journeys {
		assert.NotEqual(t, serviceDate.Add(30000*time.Second), j.ArriveAt(), "the undelayed P2 arrival no longer exists")
	}
}

func TestIsolatedSourceHasEmptyTargets(t *testing.T) {
	_, idx, _ := fixture(t)

	require.Contains(t, idx.Patterns, "D")
	assert.Empty(t, idx.Patterns["D"].Targets(), "a source with no outgoing transit has an empty targets map")
}

func TestFindJourneysVertexNotFound(t *testing.T) {
	view, idx, stops := fixture(t)

	engine := Engine{Index: idx, View: view}

	_, err := engine.FindJourneys(context.Background(), Request{
		From:     Endpoint{},
		To:       Endpoint{Stop: stops["C"]},
		DateTime: serviceDate.Add(28500 * time.Second),
	})
	require.Error(t, err)

	var vnf *VertexNotFoundError
	assert.ErrorAs(t, err, &vnf)
}

func TestFindJourneysNoPatternBetweenStopsReturnsEmpty(t *testing.T) {
	view, idx, stops := fixture(t)

	engine := Engine{Index: idx, View: view}

	journeys, err := engine.FindJourneys(context.Background(), request(stops["C"], stops["A"]))
	require.NoError(t, err)
	assert.Empty(t, journeys, "no pattern runs C->A, so no journey materializes")
}

func TestFindJourneysContextCancellation(t *testing.T) {
	view, idx, stops := fixture(t)

	engine := Engine{Index: idx, View: view}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.FindJourneys(ctx, request(stops["A"], stops["C"]))
	assert.ErrorIs(t, err, context.Canceled)
}
