package tpmodel

import "fmt"

// TripPattern is an ordered sequence of stops served by a family of trips
// sharing the same stop sequence. Identity is Code; trip patterns are
// immutable after load.
type TripPattern struct {
	Code string `groups:"basic"`

	Stops []*Stop `groups:"basic"`

	Timetable Timetable `groups:"basic"`
}

// StopTime is the arrival/departure offset (seconds since midnight of the
// trip's service day) of one trip at one stop-position.
type StopTime struct {
	ArrivalSecs   int
	DepartureSecs int
}

// TripTimes is one scheduled trip's stop times, one per stop-position in
// the owning TripPattern.
type TripTimes struct {
	ServiceID string
	StopTimes []StopTime
}

// Timetable is the list of per-trip schedules for a TripPattern.
type Timetable []TripTimes

// PositionOf returns the stop-position of stop within the pattern, or -1.
func (p *TripPattern) PositionOf(stop *Stop) int {
	for i, s := range p.Stops {
		if s.Equal(stop) {
			return i
		}
	}
	return -1
}

func (p *TripPattern) String() string {
	return fmt.Sprintf("TripPattern(%s)", p.Code)
}

// Equal compares trip patterns by identity (Code).
func (p *TripPattern) Equal(other *TripPattern) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.Code == other.Code
}
