package tpmodel

// DirectConnection represents "ride TripPattern from stop-position FromPos
// to ToPos with no transfer." FromPos < ToPos always holds.
type DirectConnection struct {
	TripPattern *TripPattern
	FromPos     int
	ToPos       int
}

// DirectConnectionIndex maps each stop to every (TripPattern, position) it
// is visited at, so direct connections between any two stops can be
// enumerated on the fly. Built once, during chunk 1's construction only.
type DirectConnectionIndex struct {
	byStop map[string][]stopVisit
}

type stopVisit struct {
	pattern *TripPattern
	pos     int
}

// NewDirectConnectionIndex builds the index over every stop-visit of
// every trip pattern.
func NewDirectConnectionIndex(tripPatterns []*TripPattern) *DirectConnectionIndex {
	idx := &DirectConnectionIndex{byStop: map[string][]stopVisit{}}

	for _, pattern := range tripPatterns {
		for pos, stop := range pattern.Stops {
			idx.byStop[stop.PrimaryIdentifier] = append(idx.byStop[stop.PrimaryIdentifier], stopVisit{
				pattern: pattern,
				pos:     pos,
			})
		}
	}

	return idx
}

// StopVisit is one (TripPattern, position) appearance of a stop,
// exported for tpindex's persistence format.
type StopVisit struct {
	Pattern *TripPattern
	Pos     int
}

// AllVisits returns the full byStop map, keyed by stop identifier, for
// serialization.
func (idx *DirectConnectionIndex) AllVisits() map[string][]StopVisit {
	result := make(map[string][]StopVisit, len(idx.byStop))
	for stopID, visits := range idx.byStop {
		exported := make([]StopVisit, len(visits))
		for i, v := range visits {
			exported[i] = StopVisit{Pattern: v.pattern, Pos: v.pos}
		}
		result[stopID] = exported
	}
	return result
}

// NewDirectConnectionIndexFromVisits reconstructs a DirectConnectionIndex
// from a previously-exported AllVisits map, used when deserializing a
// merged chunk file.
func NewDirectConnectionIndexFromVisits(visits map[string][]StopVisit) *DirectConnectionIndex {
	idx := &DirectConnectionIndex{byStop: map[string][]stopVisit{}}
	for stopID, vs := range visits {
		internal := make([]stopVisit, len(vs))
		for i, v := range vs {
			internal[i] = stopVisit{pattern: v.Pattern, pos: v.Pos}
		}
		idx.byStop[stopID] = internal
	}
	return idx
}

// DirectConnections returns every DirectConnection (p, i, j) with
// p.Stops[i] == from, p.Stops[j] == to and i < j.
func (idx *DirectConnectionIndex) DirectConnections(from, to *Stop) []DirectConnection {
	if idx == nil {
		return nil
	}

	var result []DirectConnection

	for _, visit := range idx.byStop[from.PrimaryIdentifier] {
		toPos := visit.pattern.PositionOf(to)
		if toPos <= visit.pos {
			continue
		}

		result = append(result, DirectConnection{
			TripPattern: visit.pattern,
			FromPos:     visit.pos,
			ToPos:       toPos,
		})
	}

	return result
}
