// Package pareto implements the final two steps of query-time journey
// selection: Pareto-filtering materialized journeys by (departure,
// arrival, transfers) and sorting the survivors for display.
package pareto

import (
	"sort"
	"time"

	"github.com/gridhop/transferpatterns/pkg/materializer"
	"github.com/gridhop/transferpatterns/pkg/util"
)

// Journey is the subset of materializer.Journey's behavior the filter and
// sorter need, so this package doesn't have to import the concrete type
// just to compare three fields.
type Journey interface {
	DepartAt() time.Time
	ArriveAt() time.Time
	Transfers() int
}

// Dominates reports whether a Pareto-dominates b: a is at least as good
// as b on every one of (later departure, earlier arrival, fewer
// transfers) and strictly better on at least one.
func Dominates(a, b Journey) bool {
	departGE := !a.DepartAt().Before(b.DepartAt())
	arriveLE := !a.ArriveAt().After(b.ArriveAt())
	transfersLE := a.Transfers() <= b.Transfers()

	if !departGE || !arriveLE || !transfersLE {
		return false
	}

	return a.DepartAt().After(b.DepartAt()) ||
		a.ArriveAt().Before(b.ArriveAt()) ||
		a.Transfers() < b.Transfers()
}

// functionalHash identifies a journey by its materialized leg endpoints
// and times, not its identity: two candidates that resolved to the same
// concrete itinerary (e.g. reached via two different DAG paths that
// happened to pick the same trips) collapse to one before filtering.
func functionalHash(j *materializer.Journey) string {
	hash := ""
	for _, leg := range j.Legs {
		hash += leg.From.PrimaryIdentifier + ">" + leg.To.PrimaryIdentifier + "@" +
			leg.DepartAt.Format(time.RFC3339) + "-" + leg.ArriveAt.Format(time.RFC3339) + ";"
	}
	return hash
}

// Filter deduplicates candidates by functional hash, then reduces them to
// their Pareto-maximal subset: a candidate survives unless some other
// surviving candidate dominates it.
func Filter(candidates []*materializer.Journey) []*materializer.Journey {
	deduped := dedupe(candidates)

	kept := make([]*materializer.Journey, len(deduped))
	copy(kept, deduped)

	util.InPlaceFilter(&kept, func(candidate *materializer.Journey) bool {
		for _, other := range deduped {
			if other == candidate {
				continue
			}
			if Dominates(other, candidate) {
				return false
			}
		}
		return true
	})

	return kept
}

func dedupe(candidates []*materializer.Journey) []*materializer.Journey {
	seen := map[string]bool{}
	var deduped []*materializer.Journey

	for _, c := range candidates {
		h := functionalHash(c)
		if seen[h] {
			continue
		}
		seen[h] = true
		deduped = append(deduped, c)
	}

	return deduped
}

// Sort orders journeys for display: arrival time ascending, then total
// duration ascending.
func Sort(journeys []*materializer.Journey) {
	sort.SliceStable(journeys, func(i, j int) bool {
		a, b := journeys[i], journeys[j]

		if !a.ArriveAt().Equal(b.ArriveAt()) {
			return a.ArriveAt().Before(b.ArriveAt())
		}

		return a.ArriveAt().Sub(a.DepartAt()) < b.ArriveAt().Sub(b.DepartAt())
	})
}

// FilterAndSort is the convenience entry point combining Filter and Sort,
// the shape the query path (pkg/query's Engine.FindJourneys) actually calls.
func FilterAndSort(candidates []*materializer.Journey) []*materializer.Journey {
	kept := Filter(candidates)
	Sort(kept)
	return kept
}
