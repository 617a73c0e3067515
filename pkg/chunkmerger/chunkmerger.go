// Package chunkmerger combines the per-worker chunk indices a build
// produces into one merged TransferPatternIndex, canonicalizing Stop and
// TripPattern references against the first chunk.
package chunkmerger

import (
	"context"

	"github.com/jinzhu/copier"
	"github.com/sourcegraph/conc/pool"

	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

// Merge combines chunks, in order, into a single index. chunks[0] is
// canonical: every Stop/TripPattern reference in later chunks is
// rewritten to point at chunks[0]'s copy before being folded in. Only
// chunks[0] is expected to carry a DirectConnectionIndex, per the
// build-time rule that only chunk 1 builds one.
func Merge(ctx context.Context, chunks []*tpmodel.TransferPatternIndex) (*tpmodel.TransferPatternIndex, error) {
	if len(chunks) == 0 {
		return tpmodel.NewTransferPatternIndex(nil), nil
	}

	canonicalStops, canonicalPatterns := canonicalReferences(chunks[0])

	merged := tpmodel.NewTransferPatternIndex(chunks[0].DirectConnections)
	for sourceID, pattern := range chunks[0].Patterns {
		merged.Patterns[sourceID] = pattern
	}

	if len(chunks) == 1 {
		return merged, nil
	}

	p := pool.NewWithResults[*canonicalizedChunk]().WithContext(ctx)

	for _, chunk := range chunks[1:] {
		chunk := chunk
		p.Go(func(ctx context.Context) (*canonicalizedChunk, error) {
			return canonicalize(chunk, canonicalStops, canonicalPatterns)
		})
	}

	canonicalized, err := p.Wait()
	if err != nil {
		return nil, err
	}

	for _, c := range canonicalized {
		for sourceID, pattern := range c.patterns {
			merged.Patterns[sourceID] = pattern
		}
	}

	return merged, nil
}

type canonicalizedChunk struct {
	patterns map[string]*tpmodel.TransferPattern
}

// canonicalReferences indexes chunk 0's stops and trip patterns by their
// stable labels, so later chunks can be rewritten against them. Each
// canonical Stop is defensively cloned via copier so that a later
// in-place mutation of chunk 0's own objects (e.g. its Index field,
// reused as scratch space during chunk partitioning) can never leak into
// already-merged patterns from other chunks.
func canonicalReferences(first *tpmodel.TransferPatternIndex) (map[string]*tpmodel.Stop, map[string]*tpmodel.TripPattern) {
	stops := map[string]*tpmodel.Stop{}
	patterns := map[string]*tpmodel.TripPattern{}

	// Chunk 0's DirectConnectionIndex spans the whole network (only chunk 1
	// builds one, over every trip pattern), so it supplies a canonical copy
	// for stops and trip patterns chunk 0's own DAGs never touch.
	if first.DirectConnections != nil {
		for _, visits := range first.DirectConnections.AllVisits() {
			for _, v := range visits {
				patterns[v.Pattern.Code] = v.Pattern
				for _, stop := range v.Pattern.Stops {
					addCanonicalStop(stops, stop)
				}
			}
		}
	}

	for _, pattern := range first.Patterns {
		addCanonicalStop(stops, pattern.Source)

		for i := 0; i < pattern.NodeCount(); i++ {
			node := tpmodel.TPNode(i)
			addCanonicalStop(stops, pattern.Stop(node))

			for _, arc := range pattern.Arcs(node) {
				if arc.Scenario == nil {
					continue
				}
				for _, e := range arc.Scenario.Entries {
					patterns[e.TripPattern.Code] = e.TripPattern
				}
			}
		}
	}

	return stops, patterns
}

func addCanonicalStop(stops map[string]*tpmodel.Stop, stop *tpmodel.Stop) {
	if _, ok := stops[stop.PrimaryIdentifier]; ok {
		return
	}

	var clone tpmodel.Stop
	if err := copier.Copy(&clone, stop); err != nil {
		stops[stop.PrimaryIdentifier] = stop
		return
	}

	stops[stop.PrimaryIdentifier] = &clone
}

// canonicalize walks every TPNode and TPArc of chunk once, rewriting
// Stop and TripPattern references to chunk 0's canonical copies by
// label/code lookup. It never mutates chunk's own
// pattern: rewriteReferences always builds a fresh TransferPattern.
func canonicalize(chunk *tpmodel.TransferPatternIndex, canonicalStops map[string]*tpmodel.Stop, canonicalPatterns map[string]*tpmodel.TripPattern) (*canonicalizedChunk, error) {
	result := &canonicalizedChunk{patterns: map[string]*tpmodel.TransferPattern{}}

	for sourceID, pattern := range chunk.Patterns {
		canonicalSource, err := resolveStop(pattern.Source, canonicalStops)
		if err != nil {
			return nil, err
		}

		rewritten, err := rewriteReferences(pattern, canonicalSource, canonicalStops, canonicalPatterns)
		if err != nil {
			return nil, err
		}

		result.patterns[sourceID] = rewritten
	}

	return result, nil
}

// rewriteReferences rebuilds a TransferPattern node-for-node against
// canonical Stop/TripPattern objects, looked up by stable label/code.
func rewriteReferences(pattern *tpmodel.TransferPattern, canonicalSource *tpmodel.Stop, canonicalStops map[string]*tpmodel.Stop, canonicalPatterns map[string]*tpmodel.TripPattern) (*tpmodel.TransferPattern, error) {
	rewritten := tpmodel.NewTransferPattern(canonicalSource)

	for i := 0; i < pattern.NodeCount(); i++ {
		node := tpmodel.TPNode(i)
		stop, err := resolveStop(pattern.Stop(node), canonicalStops)
		if err != nil {
			return nil, err
		}
		rewritten.NewNode(stop)
	}

	for i := 0; i < pattern.NodeCount(); i++ {
		node := tpmodel.TPNode(i)
		for _, arc := range pattern.Arcs(node) {
			scenario, err := resolveScenario(arc.Scenario, canonicalPatterns)
			if err != nil {
				return nil, err
			}
			rewritten.AddArc(node, tpmodel.TPArc{To: arc.To, Walking: arc.Walking, Scenario: scenario})
		}
	}

	for _, node := range pattern.Targets() {
		target, err := resolveStop(pattern.Stop(node), canonicalStops)
		if err != nil {
			return nil, err
		}
		rewritten.PutTarget(target, node)
	}

	return rewritten, nil
}

func resolveStop(stop *tpmodel.Stop, canonical map[string]*tpmodel.Stop) (*tpmodel.Stop, error) {
	resolved, ok := canonical[stop.PrimaryIdentifier]
	if !ok {
		return nil, &unknownStopError{label: stop.PrimaryIdentifier}
	}
	return resolved, nil
}

func resolveScenario(scenario *tpmodel.DelayScenario, canonical map[string]*tpmodel.TripPattern) (*tpmodel.DelayScenario, error) {
	if scenario == nil {
		return nil, nil
	}

	entries := make([]tpmodel.DelayScenarioEntry, 0, len(scenario.Entries))
	for _, e := range scenario.Entries {
		pattern, ok := canonical[e.TripPattern.Code]
		if !ok {
			return nil, &unknownTripPatternError{code: e.TripPattern.Code}
		}
		entries = append(entries, tpmodel.DelayScenarioEntry{TripPattern: pattern, MinDelaySecs: e.MinDelaySecs})
	}

	return tpmodel.NewDelayScenario(entries)
}

type unknownStopError struct {
	label string
}

func (e *unknownStopError) Error() string {
	return "chunkmerger: UnknownStop " + e.label
}

type unknownTripPatternError struct {
	code string
}

func (e *unknownTripPatternError) Error() string {
	return "chunkmerger: UnknownTripPattern " + e.code
}
