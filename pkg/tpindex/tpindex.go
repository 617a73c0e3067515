// Package tpindex persists a TransferPatternIndex to the on-disk chunk
// format: gzip'd, sheriff-group-filtered JSON. Each
// worker writes one `chunk_<n>_<m>` file; ChunkMerger reads them back in
// and combines them into `merged/<graph filename>`.
package tpindex

import (
	"compress/gzip"
	"encoding/json"
	"io"

	"github.com/liip/sheriff"

	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

// wireIndex is the on-disk shape of a TransferPatternIndex. Stop and
// TripPattern references are stored as stable identifiers/codes rather
// than full objects; the `internal` field group (dense stop indices
// used only for chunk partitioning) is never written.
type wireIndex struct {
	Patterns             map[string]wirePattern `groups:"basic"`
	StopVisits           []wireStopVisit        `groups:"basic" json:",omitempty"`
	HasDirectConnections bool                   `groups:"basic"`
}

type wirePattern struct {
	Source  string         `groups:"basic"`
	Nodes   []wireNode     `groups:"basic"`
	Targets map[string]int `groups:"basic"`
}

type wireNode struct {
	StopID string    `groups:"basic"`
	Arcs   []wireArc `groups:"basic"`
}

type wireArc struct {
	To       int           `groups:"basic"`
	Walking  bool          `groups:"basic"`
	Scenario *wireScenario `groups:"basic" json:",omitempty"`
}

type wireScenario struct {
	Entries []wireScenarioEntry `groups:"basic"`
}

type wireScenarioEntry struct {
	PatternCode  string `groups:"basic"`
	MinDelaySecs int    `groups:"basic"`
}

type wireStopVisit struct {
	StopID      string `groups:"basic"`
	PatternCode string `groups:"basic"`
	Pos         int    `groups:"basic"`
}

// Marshal writes idx to w as gzip'd, sheriff-filtered JSON.
func Marshal(w io.Writer, idx *tpmodel.TransferPatternIndex) error {
	wire := toWire(idx)

	reduced, err := sheriff.Marshal(&sheriff.Options{Groups: []string{"basic"}}, wire)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(w)
	defer gz.Close()

	return json.NewEncoder(gz).Encode(reduced)
}

func toWire(idx *tpmodel.TransferPatternIndex) wireIndex {
	wire := wireIndex{Patterns: map[string]wirePattern{}}

	for sourceID, pattern := range idx.Patterns {
		wire.Patterns[sourceID] = wirePatternOf(pattern)
	}

	if idx.DirectConnections != nil {
		wire.HasDirectConnections = true
		for stopID, visits := range idx.DirectConnections.AllVisits() {
			for _, v := range visits {
				wire.StopVisits = append(wire.StopVisits, wireStopVisit{
					StopID:      stopID,
					PatternCode: v.Pattern.Code,
					Pos:         v.Pos,
				})
			}
		}
	}

	return wire
}

func wirePatternOf(pattern *tpmodel.TransferPattern) wirePattern {
	nodeCount := pattern.NodeCount()
	nodes := make([]wireNode, nodeCount)

	for i := 0; i < nodeCount; i++ {
		node := tpmodel.TPNode(i)
		stop := pattern.Stop(node)

		arcs := make([]wireArc, 0, len(pattern.Arcs(node)))
		for _, arc := range pattern.Arcs(node) {
			arcs = append(arcs, wireArc{
				To:       int(arc.To),
				Walking:  arc.Walking,
				Scenario: wireScenarioOf(arc.Scenario),
			})
		}

		nodes[i] = wireNode{StopID: stop.PrimaryIdentifier, Arcs: arcs}
	}

	targets := make(map[string]int, len(pattern.Targets()))
	for stopID, node := range pattern.Targets() {
		targets[stopID] = int(node)
	}

	return wirePattern{
		Source:  pattern.Source.PrimaryIdentifier,
		Nodes:   nodes,
		Targets: targets,
	}
}

func wireScenarioOf(scenario *tpmodel.DelayScenario) *wireScenario {
	if scenario == nil {
		return nil
	}

	entries := make([]wireScenarioEntry, 0, len(scenario.Entries))
	for _, e := range scenario.Entries {
		entries = append(entries, wireScenarioEntry{PatternCode: e.TripPattern.Code, MinDelaySecs: e.MinDelaySecs})
	}

	return &wireScenario{Entries: entries}
}

// Unmarshal reads a gzip'd chunk file written by Marshal, resolving Stop
// and TripPattern references against stopsByID/patternsByCode, the
// canonicalization ChunkMerger performs on merge.
func Unmarshal(r io.Reader, stopsByID map[string]*tpmodel.Stop, patternsByCode map[string]*tpmodel.TripPattern) (*tpmodel.TransferPatternIndex, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	var wire wireIndex
	if err := json.NewDecoder(gz).Decode(&wire); err != nil {
		return nil, err
	}

	return fromWire(wire, stopsByID, patternsByCode)
}

func fromWire(wire wireIndex, stopsByID map[string]*tpmodel.Stop, patternsByCode map[string]*tpmodel.TripPattern) (*tpmodel.TransferPatternIndex, error) {
	var directIdx *tpmodel.DirectConnectionIndex
	if wire.HasDirectConnections {
		visits := map[string][]tpmodel.StopVisit{}
		for _, wv := range wire.StopVisits {
			pattern, ok := patternsByCode[wv.PatternCode]
			if !ok {
				return nil, &unknownTripPatternError{code: wv.PatternCode}
			}
			visits[wv.StopID] = append(visits[wv.StopID], tpmodel.StopVisit{Pattern: pattern, Pos: wv.Pos})
		}
		directIdx = tpmodel.NewDirectConnectionIndexFromVisits(visits)
	}

	idx := tpmodel.NewTransferPatternIndex(directIdx)

	for sourceID, wp := range wire.Patterns {
		source, ok := stopsByID[sourceID]
		if !ok {
			return nil, &unknownStopError{label: sourceID}
		}

		pattern := tpmodel.NewTransferPattern(source)

		for _, wn := range wp.Nodes {
			stop, ok := stopsByID[wn.StopID]
			if !ok {
				return nil, &unknownStopError{label: wn.StopID}
			}
			pattern.NewNode(stop)
		}

		for nodeIdx, wn := range wp.Nodes {
			for _, wa := range wn.Arcs {
				scenario, err := scenarioFromWire(wa.Scenario, patternsByCode)
				if err != nil {
					return nil, err
				}

				pattern.AddArc(tpmodel.TPNode(nodeIdx), tpmodel.TPArc{
					To:       tpmodel.TPNode(wa.To),
					Walking:  wa.Walking,
					Scenario: scenario,
				})
			}
		}

		for stopID, nodeIdx := range wp.Targets {
			targetStop, ok := stopsByID[stopID]
			if !ok {
				return nil, &unknownStopError{label: stopID}
			}
			pattern.PutTarget(targetStop, tpmodel.TPNode(nodeIdx))
		}

		idx.Put(source, pattern)
	}

	return idx, nil
}

func scenarioFromWire(wire *wireScenario, patternsByCode map[string]*tpmodel.TripPattern) (*tpmodel.DelayScenario, error) {
	if wire == nil {
		return nil, nil
	}

	entries := make([]tpmodel.DelayScenarioEntry, 0, len(wire.Entries))
	for _, e := range wire.Entries {
		pattern, ok := patternsByCode[e.PatternCode]
		if !ok {
			return nil, &unknownTripPatternError{code: e.PatternCode}
		}
		entries = append(entries, tpmodel.DelayScenarioEntry{TripPattern: pattern, MinDelaySecs: e.MinDelaySecs})
	}

	return tpmodel.NewDelayScenario(entries)
}

type unknownStopError struct {
	label string
}

func (e *unknownStopError) Error() string {
	return "tpindex: UnknownStop " + e.label
}

type unknownTripPatternError struct {
	code string
}

func (e *unknownTripPatternError) Error() string {
	return "tpindex: UnknownTripPattern " + e.code
}
