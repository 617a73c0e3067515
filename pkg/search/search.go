// Package search implements OneToAllSearch: a bounded-transfer,
// multi-target earliest-arrival search from one source stop.
// It runs in rounds the way RAPTOR does (round r holds the best
// arrival reachable using at most r transfers) rather than a priority
// queue, since the transfer bound is small and fixed.
package search

import (
	"context"
	"sort"
	"time"

	"github.com/gridhop/transferpatterns/pkg/streetrouter"
	"github.com/gridhop/transferpatterns/pkg/timetableview"
	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

// Params fixes the parameters the builder always runs OneToAllSearch
// with.
type Params struct {
	MaxTransfers      int
	MaxWalkMetres     float64
	ServiceDate       time.Time
	BoardingDwellSecs int
}

// flag is the per-stop settled-state bookkeeping for one search, keyed by
// stop identifier, the same shape as a Dijkstra visited/distance array,
// since a round's scan never revisits a stop once its arrival is final
// for that round.
type flag struct {
	best    *State
	touched bool
}

// OneToAllSearch runs the search once, from source, departing at
// departSecs, and returns, per stop, every state chain that improved on
// that stop's best arrival, in the order found. Later rounds use more
// transfers, so a chain with more transfers is only kept if it arrives
// earlier than every chain already recorded for that stop.
func OneToAllSearch(
	ctx context.Context,
	view timetableview.TimetableView,
	router streetrouter.StreetRouter,
	source *tpmodel.Stop,
	departSecs int,
	allStops []*tpmodel.Stop,
	params Params,
) (map[string][]*State, error) {
	root := &State{Stop: source, ArrivalSecs: departSecs, Transfers: 0, BackMode: BackModeRoot}

	best := map[string]*flag{
		source.PrimaryIdentifier: {best: root},
	}

	results := map[string][]*State{
		source.PrimaryIdentifier: {root},
	}

	marked := []*State{root}

	for round := 0; round <= params.MaxTransfers && len(marked) > 0; round++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		improved := scanRoutes(view, marked, best, params)

		walked, err := scanWalks(ctx, router, improved, allStops, best, params)
		if err != nil {
			return nil, err
		}

		all := append(improved, walked...)
		for _, s := range all {
			results[s.Stop.PrimaryIdentifier] = append(results[s.Stop.PrimaryIdentifier], s)
		}

		marked = all
	}

	return results, nil
}

// scanRoutes performs one round's transit scan: for every trip pattern
// passing through a marked stop, board the earliest catchable trip and
// ride it forward, settling every later stop whose arrival improves.
func scanRoutes(view timetableview.TimetableView, marked []*State, best map[string]*flag, params Params) []*State {
	var improved []*State

	patterns := patternsToScan(view, marked)

	for _, pattern := range patterns {
		timetable := view.TimetableFor(pattern)
		if len(timetable) == 0 {
			continue
		}

		boardState, boardPos, catchSecs, ok := earliestBoarding(pattern, timetable, marked, best)
		if !ok {
			continue
		}

		var ridePrev *State = boardState
		var boarded bool

		for pos := boardPos; pos < len(pattern.Stops); pos++ {
			stop := pattern.Stops[pos]

			arrivalSecs := catchSecs
			if pos > boardPos {
				arrivalSecs = tripArrivalAt(timetable, boardState, boardPos, pos)
			}

			backMode := BackModeRide
			transfers := ridePrev.Transfers
			if !boarded {
				backMode = BackModeBoard
				transfers = ridePrev.Transfers + 1
				boarded = true
			}

			candidate := &State{
				Stop:        stop,
				ArrivalSecs: arrivalSecs,
				Transfers:   transfers,
				BackMode:    backMode,
				Prev:        ridePrev,
				ViaPattern:  pattern,
			}

			if settle(best, candidate) {
				improved = append(improved, candidate)
			}

			ridePrev = candidate
		}
	}

	return improved
}

// patternsToScan returns every distinct trip pattern passing through any
// marked stop, in a stable order.
func patternsToScan(view timetableview.TimetableView, marked []*State) []*tpmodel.TripPattern {
	markedStops := make(map[string]bool, len(marked))
	for _, s := range marked {
		markedStops[s.Stop.PrimaryIdentifier] = true
	}

	seen := map[string]bool{}
	var patterns []*tpmodel.TripPattern

	for _, pattern := range view.TripPatterns() {
		if seen[pattern.Code] {
			continue
		}
		for _, stop := range pattern.Stops {
			if markedStops[stop.PrimaryIdentifier] {
				patterns = append(patterns, pattern)
				seen[pattern.Code] = true
				break
			}
		}
	}

	sort.Slice(patterns, func(i, j int) bool { return patterns[i].Code < patterns[j].Code })

	return patterns
}

// earliestBoarding finds the earliest marked state on pattern and the
// earliest trip catchable there, returning the boarding state, its
// stop-position, and the catch time.
func earliestBoarding(pattern *tpmodel.TripPattern, timetable tpmodel.Timetable, marked []*State, best map[string]*flag) (*State, int, int, bool) {
	var boardState *State
	boardPos := -1
	catchSecs := int(^uint(0) >> 1)

	for _, s := range marked {
		pos := pattern.PositionOf(s.Stop)
		if pos < 0 || pos == len(pattern.Stops)-1 {
			continue
		}

		current := best[s.Stop.PrimaryIdentifier].best
		if current.ArrivalSecs > s.ArrivalSecs {
			continue // s has since been superseded by a better arrival
		}

		earliest := int(^uint(0) >> 1)
		for _, trip := range timetable {
			dep := trip.StopTimes[pos].DepartureSecs
			if dep >= s.ArrivalSecs && dep < earliest {
				earliest = dep
			}
		}

		if earliest < catchSecs {
			catchSecs = earliest
			boardState = s
			boardPos = pos
		}
	}

	if boardState == nil {
		return nil, 0, 0, false
	}

	return boardState, boardPos, catchSecs, true
}

// tripArrivalAt returns the arrival time at stop-position pos of the
// specific trip that was caught at boardPos, identified by its departure
// time at boardPos: the earliest one at or after boardState's arrival,
// as earliestBoarding chose it.
func tripArrivalAt(timetable tpmodel.Timetable, boardState *State, boardPos, pos int) int {
	caught := -1
	for i, trip := range timetable {
		dep := trip.StopTimes[boardPos].DepartureSecs
		if dep >= boardState.ArrivalSecs && (caught < 0 || dep < timetable[caught].StopTimes[boardPos].DepartureSecs) {
			caught = i
		}
	}
	if caught < 0 {
		return 0
	}
	return timetable[caught].StopTimes[pos].ArrivalSecs
}

// scanWalks tries a walking transfer from every stop that improved this
// round to every stop in allStops within params.MaxWalkMetres. A
// production StreetRouter would only return candidates already close by;
// this keeps the contract simple for the reference router.
func scanWalks(ctx context.Context, router streetrouter.StreetRouter, improved []*State, allStops []*tpmodel.Stop, best map[string]*flag, params Params) ([]*State, error) {
	if router == nil {
		return nil, nil
	}

	var walked []*State

	for _, from := range improved {
		for _, to := range allStops {
			if to.PrimaryIdentifier == from.Stop.PrimaryIdentifier {
				continue
			}

			path, ok := router.Walk(ctx, from.Stop, to, from.ServiceDayTime(params.ServiceDate))
			if !ok {
				continue
			}
			if params.MaxWalkMetres > 0 && path.Distance > params.MaxWalkMetres {
				continue
			}

			candidate := &State{
				Stop:        to,
				ArrivalSecs: from.ArrivalSecs + int(path.Duration/time.Second),
				Transfers:   from.Transfers,
				BackMode:    BackModeWalk,
				Prev:        from,
				ViaWalking:  true,
			}

			if settle(best, candidate) {
				walked = append(walked, candidate)
			}
		}
	}

	return walked, nil
}

// settle records candidate as the new best state for its stop if it
// arrives earlier (or equal arrival at fewer transfers), returning
// whether it was recorded.
func settle(best map[string]*flag, candidate *State) bool {
	f, ok := best[candidate.Stop.PrimaryIdentifier]
	if !ok {
		best[candidate.Stop.PrimaryIdentifier] = &flag{best: candidate, touched: true}
		return true
	}

	if candidate.ArrivalSecs < f.best.ArrivalSecs ||
		(candidate.ArrivalSecs == f.best.ArrivalSecs && candidate.Transfers < f.best.Transfers) {
		f.best = candidate
		f.touched = true
		return true
	}

	return false
}
