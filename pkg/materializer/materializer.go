// Package materializer implements ConnectionMaterializer: it turns a
// PathUnfolder leg sequence into a concrete, time-stamped Journey, or
// rejects it. A per-request WalkCache saves repeated StreetRouter
// queries for the same (from, to) pair within one request.
package materializer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gridhop/transferpatterns/pkg/pathunfolder"
	"github.com/gridhop/transferpatterns/pkg/streetrouter"
	"github.com/gridhop/transferpatterns/pkg/timetableview"
	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

// Leg is one fully materialized leg of a Journey: a ride or a walk with
// concrete departure/arrival times.
type Leg struct {
	From *tpmodel.Stop
	To   *tpmodel.Stop

	Walking bool

	TripPattern *tpmodel.TripPattern
	FromPos     int
	ToPos       int

	DepartAt time.Time
	ArriveAt time.Time
}

// Journey is a materialized candidate itinerary, ready for ParetoFilter.
type Journey struct {
	Legs []Leg
}

func (j *Journey) DepartAt() time.Time { return j.Legs[0].DepartAt }
func (j *Journey) ArriveAt() time.Time { return j.Legs[len(j.Legs)-1].ArriveAt }
func (j *Journey) Transfers() int {
	legs := 0
	for _, l := range j.Legs {
		if !l.Walking {
			legs++
		}
	}
	if legs == 0 {
		return 0
	}
	return legs - 1
}

// legInfeasibleError marks a per-journey materialization rejection: no
// walking path, no feasible next trip, or an inapplicable delay
// scenario. It never aborts the batch.
type legInfeasibleError struct {
	reason string
}

func (e *legInfeasibleError) Error() string { return "materializer: leg infeasible: " + e.reason }

// cachedWalk is the WalkCache entry shape, serialized through
// MarshalBinary/UnmarshalBinary so non-string values survive the
// eko/gocache redis store.
type cachedWalk struct {
	Found        bool `json:"found"`
	DurationSecs int  `json:"duration_secs"`
}

func (c *cachedWalk) MarshalBinary() ([]byte, error) {
	return json.Marshal(c)
}

func (c *cachedWalk) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, c)
}

// WalkCache is a walking-path cache keyed by (from, to), owned by one
// request and discarded when the request ends. It is backed by the
// shared Redis instance but every key carries a short TTL and a random
// per-request prefix, so TTL expiry reclaims it without a scan even if
// the caller never explicitly clears it.
type WalkCache struct {
	cache     *cache.Cache[string]
	requestID string
}

// NewWalkCache opens a fresh request-scoped walk cache against client.
func NewWalkCache(client *redis.Client) *WalkCache {
	redisStore := redisstore.NewRedis(client, store.WithExpiration(2*time.Minute))
	return &WalkCache{
		cache:     cache.New[string](redisStore),
		requestID: uuid.NewString(),
	}
}

func (w *WalkCache) key(from, to *tpmodel.Stop) string {
	return fmt.Sprintf("walkcache:%s:%s:%s", w.requestID, from.PrimaryIdentifier, to.PrimaryIdentifier)
}

func (w *WalkCache) lookup(ctx context.Context, from, to *tpmodel.Stop) (*cachedWalk, bool) {
	if w == nil {
		return nil, false
	}
	raw, err := w.cache.Get(ctx, w.key(from, to))
	if err != nil {
		return nil, false
	}
	var cached cachedWalk
	if err := cached.UnmarshalBinary([]byte(raw)); err != nil {
		return nil, false
	}
	return &cached, true
}

func (w *WalkCache) store(ctx context.Context, from, to *tpmodel.Stop, walk *cachedWalk) {
	if w == nil {
		return
	}
	data, err := walk.MarshalBinary()
	if err != nil {
		log.Debug().Err(err).Msg("materializer: walk cache encode failed")
		return
	}
	if err := w.cache.Set(ctx, w.key(from, to), string(data)); err != nil {
		log.Debug().Err(err).Msg("materializer: walk cache write failed")
	}
}

// Materializer resolves PathUnfolder legs against a TimetableView and
// StreetRouter, producing fully time-stamped Journeys.
type Materializer struct {
	Index             *tpmodel.TransferPatternIndex
	View              timetableview.TimetableView
	Router            streetrouter.StreetRouter
	WalkCache         *WalkCache
	BoardingDwellSecs int
}

// New returns a Materializer with the default boarding dwell (60s).
func New(index *tpmodel.TransferPatternIndex, view timetableview.TimetableView, router streetrouter.StreetRouter, walkCache *WalkCache) *Materializer {
	return &Materializer{
		Index:             index,
		View:              view,
		Router:            router,
		WalkCache:         walkCache,
		BoardingDwellSecs: 60,
	}
}

// Materialize resolves one unfolded leg sequence into a Journey:
// attach walking endpoints, fill in concrete departures forward, then
// shift the first walk. serviceDate anchors departSecs (seconds since
// that day's midnight) to absolute time.
func (m *Materializer) Materialize(ctx context.Context, legs []pathunfolder.Leg, requestStart, requestEnd *tpmodel.Stop, serviceDate time.Time, departSecs int) (*Journey, error) {
	if len(legs) == 0 {
		return nil, &legInfeasibleError{reason: "empty leg sequence"}
	}

	legs = attachWalkingEndpoints(legs, requestStart, requestEnd)

	materialized, err := m.materializeForward(ctx, legs, serviceDate, departSecs)
	if err != nil {
		return nil, err
	}

	shiftFirstWalk(materialized)

	return &Journey{Legs: materialized}, nil
}

// attachWalkingEndpoints implements step 1: if the unfolded path doesn't
// already start/end at the request's actual endpoints, either extend an
// existing walking leg or prepend/append a new one.
func attachWalkingEndpoints(legs []pathunfolder.Leg, requestStart, requestEnd *tpmodel.Stop) []pathunfolder.Leg {
	out := make([]pathunfolder.Leg, len(legs))
	copy(out, legs)

	if !out[0].From.Equal(requestStart) {
		if out[0].Walking {
			out[0].From = requestStart
		} else {
			out = append([]pathunfolder.Leg{{From: requestStart, To: out[0].From, Walking: true}}, out...)
		}
	}

	last := len(out) - 1
	if !out[last].To.Equal(requestEnd) {
		if out[last].Walking {
			out[last].To = requestEnd
		} else {
			out = append(out, pathunfolder.Leg{From: out[last].To, To: requestEnd, Walking: true})
		}
	}

	return out
}

// materializeForward implements step 2: walk the leg sequence forward,
// resolving each into a concrete departure/arrival, rejecting the whole
// journey the moment one leg can't be resolved.
func (m *Materializer) materializeForward(ctx context.Context, legs []pathunfolder.Leg, serviceDate time.Time, departSecs int) ([]Leg, error) {
	result := make([]Leg, 0, len(legs))
	currentSecs := departSecs

	for _, leg := range legs {
		if leg.Walking {
			walked, err := m.materializeWalk(ctx, leg, serviceDate, currentSecs)
			if err != nil {
				return nil, err
			}
			result = append(result, walked)
			currentSecs += int(walked.ArriveAt.Sub(walked.DepartAt) / time.Second)
			continue
		}

		ridden, err := m.materializeRide(leg, serviceDate, currentSecs)
		if err != nil {
			return nil, err
		}

		if leg.Scenario != nil {
			if applicable, err := m.scenarioApplicable(leg.Scenario, serviceDate); err != nil {
				return nil, err
			} else if !applicable {
				return nil, &legInfeasibleError{reason: "delay scenario not applicable"}
			}
		}

		result = append(result, ridden)
		currentSecs = secsSinceMidnight(ridden.ArriveAt, serviceDate) + m.BoardingDwellSecs
	}

	return result, nil
}

func (m *Materializer) materializeWalk(ctx context.Context, leg pathunfolder.Leg, serviceDate time.Time, currentSecs int) (Leg, error) {
	departAt := serviceDate.Add(time.Duration(currentSecs) * time.Second)

	if cached, ok := m.WalkCache.lookup(ctx, leg.From, leg.To); ok {
		if !cached.Found {
			return Leg{}, &legInfeasibleError{reason: "no walking path (cached)"}
		}
		arriveAt := departAt.Add(time.Duration(cached.DurationSecs) * time.Second)
		return Leg{From: leg.From, To: leg.To, Walking: true, DepartAt: departAt, ArriveAt: arriveAt}, nil
	}

	path, ok := m.Router.Walk(ctx, leg.From, leg.To, departAt)
	if !ok {
		m.WalkCache.store(ctx, leg.From, leg.To, &cachedWalk{Found: false})
		return Leg{}, &legInfeasibleError{reason: "no walking path"}
	}

	m.WalkCache.store(ctx, leg.From, leg.To, &cachedWalk{Found: true, DurationSecs: int(path.Duration / time.Second)})

	return Leg{From: leg.From, To: leg.To, Walking: true, DepartAt: departAt, ArriveAt: departAt.Add(path.Duration)}, nil
}

func (m *Materializer) materializeRide(leg pathunfolder.Leg, serviceDate time.Time, currentSecs int) (Leg, error) {
	candidates := m.Index.DirectConnectionsBetween(leg.From, leg.To)
	if len(candidates) == 0 {
		return Leg{}, &legInfeasibleError{reason: "no direct connection"}
	}

	var best *tpmodel.DirectConnection
	var bestDeparture timetableview.Departure
	found := false

	for i := range candidates {
		candidate := candidates[i]

		departure, ok := m.View.NextTrip(candidate.TripPattern, candidate.TripPattern.Stops[candidate.FromPos], serviceDate.Add(time.Duration(currentSecs)*time.Second))
		if !ok {
			continue
		}

		if !found || departure.DepartureAt.Before(bestDeparture.DepartureAt) {
			best = &candidates[i]
			bestDeparture = departure
			found = true
		}
	}

	if !found {
		return Leg{}, &legInfeasibleError{reason: "no feasible next trip"}
	}

	timetable := m.View.TimetableFor(best.TripPattern)
	arriveAt := bestDeparture.DepartureAt
	for _, trip := range timetable {
		if trip.StopTimes[best.FromPos].DepartureSecs == secsSinceMidnight(bestDeparture.DepartureAt, serviceDate) {
			arriveAt = serviceDate.Add(time.Duration(trip.StopTimes[best.ToPos].ArrivalSecs) * time.Second)
			break
		}
	}

	return Leg{
		From:        leg.From,
		To:          leg.To,
		TripPattern: best.TripPattern,
		FromPos:     best.FromPos,
		ToPos:       best.ToPos,
		DepartAt:    bestDeparture.DepartureAt,
		ArriveAt:    arriveAt,
	}, nil
}

// scenarioApplicable decides whether a dynamic arc may be used: the
// realtime overlay's actual delay, for every pattern the scenario
// mentions, must meet or exceed the scenario's recorded minimum.
func (m *Materializer) scenarioApplicable(scenario *tpmodel.DelayScenario, serviceDate time.Time) (bool, error) {
	for _, entry := range scenario.Entries {
		overlayed := m.View.TimetableFor(entry.TripPattern)
		scheduled := entry.TripPattern.Timetable

		maxDelay := maxArrivalDelay(scheduled, overlayed)
		if maxDelay < entry.MinDelaySecs {
			return false, nil
		}
	}

	return true, nil
}

// maxArrivalDelay returns the largest per-stop arrival delay of overlayed
// relative to scheduled, across every trip/stop position they share.
func maxArrivalDelay(scheduled, overlayed tpmodel.Timetable) int {
	max := 0
	for i, trip := range scheduled {
		if i >= len(overlayed) {
			break
		}
		for pos, st := range trip.StopTimes {
			if pos >= len(overlayed[i].StopTimes) {
				break
			}
			delay := overlayed[i].StopTimes[pos].ArrivalSecs - st.ArrivalSecs
			if delay > max {
				max = delay
			}
		}
	}
	return max
}

// shiftFirstWalk implements step 3: if the journey opens with a walking
// leg followed by a ride, the walk could have started later than
// departSecs: shift it so it ends exactly when the ride departs.
func shiftFirstWalk(legs []Leg) {
	if len(legs) < 2 || !legs[0].Walking || legs[1].Walking {
		return
	}

	duration := legs[0].ArriveAt.Sub(legs[0].DepartAt)
	legs[0].ArriveAt = legs[1].DepartAt
	legs[0].DepartAt = legs[0].ArriveAt.Add(-duration)
}

func secsSinceMidnight(t, serviceDate time.Time) int {
	return int(t.Sub(serviceDate) / time.Second)
}
