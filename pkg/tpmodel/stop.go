// Package tpmodel holds the shared data model for transfer-pattern
// construction and query: stops, trip patterns, delay scenarios and the
// transfer-pattern DAG itself.
package tpmodel

import "golang.org/x/exp/slices"

// Stop is a transit stop. Identity is PrimaryIdentifier; Index is a dense
// integer assigned at load time, used only to split stops into stable,
// contiguous chunks for the builder.
type Stop struct {
	PrimaryIdentifier string `groups:"basic"`

	Name string `groups:"basic"`

	Latitude  float64 `groups:"basic"`
	Longitude float64 `groups:"basic"`

	// Index is a dense, load-order integer used only for chunk
	// partitioning; it carries no meaning across rebuilds and is never
	// persisted in the chunk format.
	Index int `groups:"internal" json:"-"`
}

// Equal compares stops by identity (PrimaryIdentifier).
func (s *Stop) Equal(other *Stop) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.PrimaryIdentifier == other.PrimaryIdentifier
}

// SortStopsByIndex sorts stops into stable, dense-index order for chunk
// partitioning (builder.Orchestrator relies on this ordering).
func SortStopsByIndex(stops []*Stop) {
	slices.SortFunc(stops, func(a, b *Stop) int {
		return a.Index - b.Index
	})
}
