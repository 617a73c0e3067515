// Package timetableview defines the read-only view of a timetable that
// OneToAllSearch and ConnectionMaterializer query against, plus its
// in-memory implementation and LoadFromMongo, which fills that in-memory
// view from MongoDB for production builds.
package timetableview

import (
	"time"

	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

// Departure is one scheduled departure of a trip pattern from a stop.
type Departure struct {
	TripPattern *tpmodel.TripPattern
	StopPos     int
	ServiceID   string
	DepartureAt time.Time
	ArrivalAt   time.Time
}

// Overlay holds a temporary perturbation applied on top of the base
// timetable: a DelayScenario shifts the arrival/departure times of the
// trip patterns it mentions forward by its minimum delay, without
// mutating the underlying schedule.
type Overlay struct {
	Scenario *tpmodel.DelayScenario
}

// TimetableView is the read-only interface the transfer-pattern builder
// and query path use to ask "what departs here, and when does a given
// trip reach each later stop". TimetableView and
// StreetRouter are the two external collaborators the rest of this
// module is built against; this package supplies reference
// implementations, not the production timetable source itself.
type TimetableView interface {
	// Stops returns every stop in the timetable.
	Stops() []*tpmodel.Stop

	// TripPatterns returns every trip pattern in the timetable.
	TripPatterns() []*tpmodel.TripPattern

	// ScheduledDepartures returns every departure at stop, across all
	// trip patterns and trips, ordered by DepartureAt.
	ScheduledDepartures(stop *tpmodel.Stop) []Departure

	// NextTrip returns the first Departure of pattern passing through
	// stop at or after departAt, honoring any active overlay. The second
	// return is false if the pattern has no more trips that day.
	NextTrip(pattern *tpmodel.TripPattern, stop *tpmodel.Stop, departAt time.Time) (Departure, bool)

	// TimetableFor returns the full per-trip timetable of pattern,
	// reflecting any active overlay.
	TimetableFor(pattern *tpmodel.TripPattern) tpmodel.Timetable

	// SetOverlay installs a scenario overlay; subsequent NextTrip and
	// TimetableFor calls reflect it until ClearOverlay is called.
	SetOverlay(overlay Overlay)

	// ClearOverlay removes any active overlay.
	ClearOverlay()
}
