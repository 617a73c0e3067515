// Package tpeditor builds one TransferPattern per source stop out of the
// state chains OneToAllSearch produces, across every departure sample
// and delay scenario the builder probes.
package tpeditor

import (
	"github.com/gridhop/transferpatterns/pkg/search"
	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

// Editor accumulates one source stop's TransferPattern across repeated
// calls to Add.
type Editor struct {
	root    *tpmodel.Stop
	pattern *tpmodel.TransferPattern

	// intermediateNodesByTarget deduplicates intermediate TPNodes within
	// one target's DAG: a stop appears at most once per target.
	intermediateNodesByTarget map[string]map[string]tpmodel.TPNode

	// possibleDelays is populated only while adding states under the
	// static (scenario == nil) case, and read by DelayScenarioBuilder
	// once every sample has been added.
	possibleDelays map[string]possibleDelay
}

type possibleDelay struct {
	pattern     *tpmodel.TripPattern
	maxWaitSecs int
}

// NewEditor starts a fresh accumulation for root.
func NewEditor(root *tpmodel.Stop) *Editor {
	return &Editor{
		root:                      root,
		pattern:                   tpmodel.NewTransferPattern(root),
		intermediateNodesByTarget: map[string]map[string]tpmodel.TPNode{},
		possibleDelays:            map[string]possibleDelay{},
	}
}

// Add folds the state chains from one OneToAllSearch call into the
// pattern under construction, tagging every arc added with scenario (nil
// for the static case).
func (e *Editor) Add(statesByTarget map[string][]*search.State, scenario *tpmodel.DelayScenario) {
	for targetID, states := range statesByTarget {
		if targetID == e.root.PrimaryIdentifier {
			continue
		}

		nodes := e.nodesFor(targetID)

		for _, state := range states {
			e.addChain(state, nodes, scenario)
		}
	}
}

func (e *Editor) nodesFor(targetID string) map[string]tpmodel.TPNode {
	nodes, ok := e.intermediateNodesByTarget[targetID]
	if !ok {
		nodes = map[string]tpmodel.TPNode{}
		e.intermediateNodesByTarget[targetID] = nodes
	}
	return nodes
}

// addChain walks one optimal state chain backward, adding arcs between
// consecutive stop-visiting states.
func (e *Editor) addChain(tail *search.State, nodes map[string]tpmodel.TPNode, scenario *tpmodel.DelayScenario) {
	targetNode := e.nodeFor(tail.Stop, nodes)
	e.pattern.PutTarget(tail.Stop, targetNode)

	var beforeNode tpmodel.TPNode
	var hasBefore bool
	var wasWalking bool
	currentNode := targetNode

	state := tail
	for state != nil {
		if !isStopVisiting(state) {
			e.trackPossibleDelay(state, scenario)
			state = state.Prev
			continue
		}

		if hasBefore && currentNode != targetNode {
			e.addArcIfNew(beforeNode, currentNode, wasWalking, scenario)
		}

		if state.Prev != nil {
			prevNode := e.nodeFor(state.Prev.Stop, nodes)
			wasWalking = state.BackMode == search.BackModeWalk
			beforeNode = currentNode
			hasBefore = true
			currentNode = prevNode
		}

		e.trackPossibleDelay(state, scenario)
		state = state.Prev
	}
}

// addArcIfNew adds arc beforeNode <- currentNode unless an arc with the
// same (currentNode, walking, scenario) already exists. Arcs differing
// only in scenario are deliberately not deduplicated against each other.
func (e *Editor) addArcIfNew(beforeNode tpmodel.TPNode, currentNode tpmodel.TPNode, walking bool, scenario *tpmodel.DelayScenario) {
	if beforeNode == currentNode {
		return // never a self-loop
	}

	if e.pattern.HasArcForScenario(beforeNode, currentNode, walking, scenario) {
		return
	}

	e.pattern.AddArc(beforeNode, tpmodel.TPArc{
		To:       currentNode,
		Walking:  walking,
		Scenario: scenario,
	})
}

// nodeFor returns the deduplicated TPNode for stop within nodes,
// creating one if this target hasn't seen stop before.
func (e *Editor) nodeFor(stop *tpmodel.Stop, nodes map[string]tpmodel.TPNode) tpmodel.TPNode {
	if n, ok := nodes[stop.PrimaryIdentifier]; ok {
		return n
	}

	n := e.pattern.NewNode(stop)
	nodes[stop.PrimaryIdentifier] = n

	return n
}

// isStopVisiting reports whether state's vertex is stop-visiting: its
// back-mode is Walk, Board (the "LEG_SWITCH" boarding boundary) or Root.
func isStopVisiting(state *search.State) bool {
	switch state.BackMode {
	case search.BackModeRoot, search.BackModeWalk, search.BackModeBoard:
		return true
	default:
		return false
	}
}

// trackPossibleDelay records the wait time observed at a boarding
// boundary under the static scenario, for the DelayScenarioBuilder to
// consume later.
func (e *Editor) trackPossibleDelay(state *search.State, scenario *tpmodel.DelayScenario) {
	if scenario != nil || state.BackMode != search.BackModeBoard || state.Prev == nil {
		return
	}

	// A board state's arrival is the trip's departure time, later than
	// the previous state's arrival at the same stop; the (negative)
	// difference's magnitude is the wait the passenger sat through.
	waitSecs := state.Prev.ArrivalSecs - state.ArrivalSecs
	if waitSecs >= 0 {
		return
	}

	existing, ok := e.possibleDelays[state.ViaPattern.Code]
	observed := -waitSecs
	if !ok || observed > existing.maxWaitSecs {
		e.possibleDelays[state.ViaPattern.Code] = possibleDelay{pattern: state.ViaPattern, maxWaitSecs: observed}
	}
}

// GetPossibleDelays returns, per trip pattern, the maximum observed wait
// time recorded under the static scenario (feeds DelayScenarioBuilder).
func (e *Editor) GetPossibleDelays() map[string]int {
	result := make(map[string]int, len(e.possibleDelays))
	for code, d := range e.possibleDelays {
		result[code] = d.maxWaitSecs
	}
	return result
}

// PossibleDelayPatterns returns the trip patterns recorded in
// GetPossibleDelays, for callers that need the pattern object itself.
func (e *Editor) PossibleDelayPatterns() map[string]*tpmodel.TripPattern {
	result := make(map[string]*tpmodel.TripPattern, len(e.possibleDelays))
	for code, d := range e.possibleDelays {
		result[code] = d.pattern
	}
	return result
}

// Create finalizes and returns the accumulated TransferPattern.
func (e *Editor) Create() *tpmodel.TransferPattern {
	return e.pattern
}
