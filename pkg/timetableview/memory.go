package timetableview

import (
	"sort"
	"time"

	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

// InMemory is a TimetableView backed by a fixed slice of stops and trip
// patterns held entirely in memory. It is the reference implementation
// used by tests and small builds; LoadFromMongo builds one from the
// MongoDB timetable store for production builds.
type InMemory struct {
	stops        []*tpmodel.Stop
	tripPatterns []*tpmodel.TripPattern

	serviceDate time.Time

	overlay Overlay
}

// NewInMemory builds a view over stops and tripPatterns. serviceDate
// anchors each trip pattern's StopTime offsets (seconds since midnight)
// to absolute times.
func NewInMemory(stops []*tpmodel.Stop, tripPatterns []*tpmodel.TripPattern, serviceDate time.Time) *InMemory {
	return &InMemory{
		stops:        stops,
		tripPatterns: tripPatterns,
		serviceDate:  serviceDate,
	}
}

func (v *InMemory) Stops() []*tpmodel.Stop { return v.stops }

func (v *InMemory) TripPatterns() []*tpmodel.TripPattern { return v.tripPatterns }

func (v *InMemory) SetOverlay(overlay Overlay) { v.overlay = overlay }

func (v *InMemory) ClearOverlay() { v.overlay = Overlay{} }

func (v *InMemory) ScheduledDepartures(stop *tpmodel.Stop) []Departure {
	var departures []Departure

	for _, pattern := range v.tripPatterns {
		pos := pattern.PositionOf(stop)
		if pos < 0 {
			continue
		}

		timetable := v.effectiveTimetable(pattern)
		for _, trip := range timetable {
			st := trip.StopTimes[pos]
			departures = append(departures, Departure{
				TripPattern: pattern,
				StopPos:     pos,
				ServiceID:   trip.ServiceID,
				DepartureAt: v.absolute(st.DepartureSecs),
				ArrivalAt:   v.absolute(st.ArrivalSecs),
			})
		}
	}

	sort.Slice(departures, func(i, j int) bool {
		return departures[i].DepartureAt.Before(departures[j].DepartureAt)
	})

	return departures
}

func (v *InMemory) NextTrip(pattern *tpmodel.TripPattern, stop *tpmodel.Stop, departAt time.Time) (Departure, bool) {
	pos := pattern.PositionOf(stop)
	if pos < 0 {
		return Departure{}, false
	}

	timetable := v.effectiveTimetable(pattern)

	var best *tpmodel.TripTimes
	var bestDeparture time.Time

	for i := range timetable {
		trip := &timetable[i]
		candidate := v.absolute(trip.StopTimes[pos].DepartureSecs)
		if candidate.Before(departAt) {
			continue
		}
		if best == nil || candidate.Before(bestDeparture) {
			best = trip
			bestDeparture = candidate
		}
	}

	if best == nil {
		return Departure{}, false
	}

	return Departure{
		TripPattern: pattern,
		StopPos:     pos,
		ServiceID:   best.ServiceID,
		DepartureAt: bestDeparture,
		ArrivalAt:   v.absolute(best.StopTimes[pos].ArrivalSecs),
	}, true
}

func (v *InMemory) TimetableFor(pattern *tpmodel.TripPattern) tpmodel.Timetable {
	return v.effectiveTimetable(pattern)
}

// effectiveTimetable applies the active overlay's delay, if any, to
// pattern's timetable without mutating the base schedule.
func (v *InMemory) effectiveTimetable(pattern *tpmodel.TripPattern) tpmodel.Timetable {
	if v.overlay.Scenario == nil {
		return pattern.Timetable
	}

	delaySecs := 0
	for _, entry := range v.overlay.Scenario.Entries {
		if entry.TripPattern.Equal(pattern) {
			delaySecs = entry.MinDelaySecs
			break
		}
	}

	if delaySecs == 0 {
		return pattern.Timetable
	}

	shifted := make(tpmodel.Timetable, len(pattern.Timetable))
	for i, trip := range pattern.Timetable {
		stopTimes := make([]tpmodel.StopTime, len(trip.StopTimes))
		for j, st := range trip.StopTimes {
			stopTimes[j] = tpmodel.StopTime{
				ArrivalSecs:   st.ArrivalSecs + delaySecs,
				DepartureSecs: st.DepartureSecs + delaySecs,
			}
		}
		shifted[i] = tpmodel.TripTimes{ServiceID: trip.ServiceID, StopTimes: stopTimes}
	}

	return shifted
}

func (v *InMemory) absolute(secondsSinceMidnight int) time.Time {
	return v.serviceDate.Add(time.Duration(secondsSinceMidnight) * time.Second)
}
