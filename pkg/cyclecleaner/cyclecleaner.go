// Package cyclecleaner removes cycles TransferPatternEditor's forward
// step can't fully prevent on its own once multiple target DAGs share
// predecessor structure.
package cyclecleaner

import (
	"github.com/jinzhu/copier"
	"github.com/rs/zerolog/log"

	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

// Clean walks every target-rooted DAG in pattern and removes any arc that
// would close a cycle, leaving each DAG acyclic.
func Clean(pattern *tpmodel.TransferPattern) {
	for _, sink := range pattern.Targets() {
		clean(pattern, sink, map[tpmodel.TPNode]bool{})
	}
}

// clean performs a path-sensitive DFS: visited is
// cloned before recursing into each predecessor, so two disjoint paths
// that both reach the same node are fine, but a path that revisits
// itself is not. On detecting a revisit, the arc in the parent that led back
// to the already-visited node is removed.
func clean(pattern *tpmodel.TransferPattern, node tpmodel.TPNode, visited map[tpmodel.TPNode]bool) {
	visited[node] = true

	arcs := append([]tpmodel.TPArc{}, pattern.Arcs(node)...)

	for _, arc := range arcs {
		if visited[arc.To] {
			pattern.RemoveArcsTo(node, arc.To)
			continue
		}

		childVisited := map[tpmodel.TPNode]bool{}
		if err := copier.Copy(&childVisited, &visited); err != nil {
			// copier only fails on type mismatches, which a map[TPNode]bool
			// to map[TPNode]bool copy can't produce; falling back to a
			// manual copy keeps cleaning correct even if that ever changes.
			log.Debug().Err(err).Msg("cyclecleaner: falling back to manual visited-set copy")
			childVisited = make(map[tpmodel.TPNode]bool, len(visited))
			for k, v := range visited {
				childVisited[k] = v
			}
		}

		clean(pattern, arc.To, childVisited)
	}
}
