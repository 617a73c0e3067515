// Package pathunfolder turns a target-anchored TPNode into the finite set
// of leg sequences its predecessor DAG encodes.
package pathunfolder

import (
	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

// Leg is one edge of an unfolded path: ride or walk from From to To.
type Leg struct {
	From     *tpmodel.Stop
	To       *tpmodel.Stop
	Walking  bool
	Scenario *tpmodel.DelayScenario
}

// Unfold returns every source-to-target leg sequence encoded by the
// predecessor DAG rooted at targetNode, in forward (source-to-target)
// order. At a node with zero predecessors (the source-anchored root)
// the accumulated path is emitted; at a node with k predecessors, the
// DFS forks k ways, one per predecessor arc.
func Unfold(pattern *tpmodel.TransferPattern, targetNode tpmodel.TPNode) [][]Leg {
	return unfold(pattern, targetNode, nil)
}

func unfold(pattern *tpmodel.TransferPattern, node tpmodel.TPNode, tailLegs []Leg) [][]Leg {
	arcs := pattern.Arcs(node)

	if len(arcs) == 0 {
		path := make([]Leg, len(tailLegs))
		copy(path, tailLegs)
		return [][]Leg{path}
	}

	var results [][]Leg

	for _, arc := range arcs {
		leg := Leg{
			From:     pattern.Stop(arc.To),
			To:       pattern.Stop(node),
			Walking:  arc.Walking,
			Scenario: arc.Scenario,
		}

		forked := append([]Leg{leg}, tailLegs...)

		results = append(results, unfold(pattern, arc.To, forked)...)
	}

	return results
}
