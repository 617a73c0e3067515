package search

import (
	"time"

	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

// BackMode classifies how a State was reached, which is what
// TransferPatternEditor's stop-visiting predicate inspects: only Root,
// Walk and Board states are "stop-visiting"; Ride states (riding through
// a stop without boarding) are skipped when the editor walks the chain
// backward.
type BackMode int

const (
	// BackModeRoot marks the source stop itself.
	BackModeRoot BackMode = iota
	// BackModeWalk marks a stop reached by a walking leg.
	BackModeWalk
	// BackModeBoard marks a stop reached by boarding a trip pattern,
	// the leg-switch boundary.
	BackModeBoard
	// BackModeRide marks a stop reached by continuing on the same trip
	// without boarding; not a stop-visiting state.
	BackModeRide
)

// State is one node in an earliest-arrival state chain: a settled
// arrival at a stop, within a transfer round, with a pointer back to the
// state it was reached from.
type State struct {
	Stop *tpmodel.Stop

	ArrivalSecs int
	Transfers   int

	BackMode BackMode
	Prev     *State

	// ViaPattern/ViaWalking describe the leg that produced this state;
	// both are zero on the root state.
	ViaPattern *tpmodel.TripPattern
	ViaWalking bool
}

// ServiceDayTime anchors ArrivalSecs to an absolute time given the
// search's service date, for StreetRouter/TimetableView calls that want
// a time.Time.
func (s *State) ServiceDayTime(serviceDate time.Time) time.Time {
	return serviceDate.Add(time.Duration(s.ArrivalSecs) * time.Second)
}
