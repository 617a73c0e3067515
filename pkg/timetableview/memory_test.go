package timetableview

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

var serviceDate = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func stop(id string) *tpmodel.Stop { return &tpmodel.Stop{PrimaryIdentifier: id} }

func trip(times ...int) tpmodel.TripTimes {
	stopTimes := make([]tpmodel.StopTime, 0, len(times))
	for _, t := range times {
		stopTimes = append(stopTimes, tpmodel.StopTime{ArrivalSecs: t, DepartureSecs: t})
	}
	return tpmodel.TripTimes{ServiceID: "weekday", StopTimes: stopTimes}
}

func fixtureView() (*InMemory, *tpmodel.Stop, *tpmodel.Stop, *tpmodel.TripPattern, *tpmodel.TripPattern) {
	a, b := stop("A"), stop("B")

	p1 := &tpmodel.TripPattern{
		Code:      "P1",
		Stops:     []*tpmodel.Stop{a, b},
		Timetable: tpmodel.Timetable{trip(28800, 29400), trip(32400, 33000)}, // 08:00 and 09:00
	}
	p2 := &tpmodel.TripPattern{
		Code:      "P2",
		Stops:     []*tpmodel.Stop{a, b},
		Timetable: tpmodel.Timetable{trip(30600, 31200)}, // 08:30
	}

	return NewInMemory([]*tpmodel.Stop{a, b}, []*tpmodel.TripPattern{p1, p2}, serviceDate), a, b, p1, p2
}

func TestScheduledDeparturesOrderedAcrossPatterns(t *testing.T) {
	view, a, _, _, _ := fixtureView()

	departures := view.ScheduledDepartures(a)
	require.Len(t, departures, 3)

	assert.Equal(t, "P1", departures[0].TripPattern.Code)
	assert.Equal(t, "P2", departures[1].TripPattern.Code)
	assert.Equal(t, "P1", departures[2].TripPattern.Code)
	for i := 1; i < len(departures); i++ {
		assert.False(t, departures[i].DepartureAt.Before(departures[i-1].DepartureAt))
	}
}

func TestNextTripPicksEarliestAtOrAfter(t *testing.T) {
	view, a, _, p1, _ := fixtureView()

	dep, ok := view.NextTrip(p1, a, serviceDate.Add(29000*time.Second))
	require.True(t, ok)
	assert.Equal(t, serviceDate.Add(32400*time.Second), dep.DepartureAt, "the 08:00 trip is already gone; the 09:00 one is next")

	_, ok = view.NextTrip(p1, a, serviceDate.Add(40000*time.Second))
	assert.False(t, ok, "no trips remain that day")
}

func TestNextTripUnknownStop(t *testing.T) {
	view, _, _, p1, _ := fixtureView()

	_, ok := view.NextTrip(p1, stop("Z"), serviceDate)
	assert.False(t, ok)
}

func TestOverlayShiftsOnlyMentionedPatterns(t *testing.T) {
	view, a, _, p1, p2 := fixtureView()

	scenario, err := tpmodel.NewDelayScenario([]tpmodel.DelayScenarioEntry{{TripPattern: p1, MinDelaySecs: 300}})
	require.NoError(t, err)

	view.SetOverlay(Overlay{Scenario: scenario})

	shifted := view.TimetableFor(p1)
	assert.Equal(t, 28800+300, shifted[0].StopTimes[0].DepartureSecs)
	assert.Equal(t, 28800, p1.Timetable[0].StopTimes[0].DepartureSecs, "the base schedule is never mutated")

	untouched := view.TimetableFor(p2)
	assert.Equal(t, 30600, untouched[0].StopTimes[0].DepartureSecs)

	dep, ok := view.NextTrip(p1, a, serviceDate.Add(28900*time.Second))
	require.True(t, ok)
	assert.Equal(t, serviceDate.Add((28800+300)*time.Second), dep.DepartureAt, "the delayed 08:00 trip is still catchable at 08:01:40")

	view.ClearOverlay()
	restored := view.TimetableFor(p1)
	assert.Equal(t, 28800, restored[0].StopTimes[0].DepartureSecs)
}
