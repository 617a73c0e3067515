package tpmodel

// TPNode is a handle into a TransferPattern's node arena. Representing
// nodes as arena indices rather than pointers keeps CycleCleaner's
// mark/unmark bookkeeping to plain index sets, and lets
// ChunkMerger move a whole arena across chunk boundaries without
// re-walking pointer graphs node by node.
type TPNode int

// TPArc is a directed edge current <- predecessor.
type TPArc struct {
	To       TPNode
	Walking  bool
	Scenario *DelayScenario // nil for a static (non-dynamic) arc
}

// sameEndpoint reports whether two arcs share endpoint and walking flag.
// Arc equality ignores the attached scenario; two arcs differing only in
// provenance are the same arc.
func (a TPArc) sameEndpoint(b TPArc) bool {
	return a.To == b.To && a.Walking == b.Walking
}

type tpNodeData struct {
	stop *Stop
	arcs []TPArc
}

// TransferPattern is the per-source transfer pattern: a map from target
// stop to the sink TPNode of that target's predecessor DAG, backed by a
// shared node arena. Distinct targets never share TPNodes even when they
// pass through the same stop (deduplication is per target, not per
// pattern), so the arena simply accumulates nodes across all targets.
type TransferPattern struct {
	Source *Stop

	nodes   []tpNodeData
	targets map[string]TPNode
}

// NewTransferPattern creates an empty transfer pattern rooted at source.
func NewTransferPattern(source *Stop) *TransferPattern {
	return &TransferPattern{
		Source:  source,
		targets: map[string]TPNode{},
	}
}

// NewNode appends a new node for stop to the arena and returns its handle.
func (tp *TransferPattern) NewNode(stop *Stop) TPNode {
	tp.nodes = append(tp.nodes, tpNodeData{stop: stop})
	return TPNode(len(tp.nodes) - 1)
}

// Stop returns the stop labelling node n.
func (tp *TransferPattern) Stop(n TPNode) *Stop {
	return tp.nodes[n].stop
}

// Arcs returns the predecessor arcs of node n.
func (tp *TransferPattern) Arcs(n TPNode) []TPArc {
	return tp.nodes[n].arcs
}

// HasArc reports whether node n already has a predecessor arc with the
// given endpoint and walking flag (scenario is ignored, per the equality
// rule TPArc.sameEndpoint implements).
func (tp *TransferPattern) HasArc(n TPNode, to TPNode, walking bool) bool {
	candidate := TPArc{To: to, Walking: walking}
	for _, arc := range tp.nodes[n].arcs {
		if arc.sameEndpoint(candidate) {
			return true
		}
	}
	return false
}

// HasArcForScenario reports whether node n already has a predecessor arc
// with the given endpoint, walking flag AND scenario fingerprint. Unlike
// HasArc, this distinguishes arcs that share an endpoint but were added
// under different delay scenarios. TransferPatternEditor uses this one,
// since arcs differing only in scenario provenance must both be kept.
func (tp *TransferPattern) HasArcForScenario(n TPNode, to TPNode, walking bool, scenario *DelayScenario) bool {
	fingerprint := scenario.Fingerprint()
	for _, arc := range tp.nodes[n].arcs {
		if arc.To == to && arc.Walking == walking && arc.Scenario.Fingerprint() == fingerprint {
			return true
		}
	}
	return false
}

// AddArc appends a predecessor arc to node n.
func (tp *TransferPattern) AddArc(n TPNode, arc TPArc) {
	tp.nodes[n].arcs = append(tp.nodes[n].arcs, arc)
}

// RemoveArcsTo removes every arc out of n that points to the given
// predecessor, by swap-pop (order within the slice is not meaningful).
// Used by CycleCleaner to break a detected cycle.
func (tp *TransferPattern) RemoveArcsTo(n TPNode, to TPNode) {
	arcs := tp.nodes[n].arcs
	i := 0
	for i < len(arcs) {
		if arcs[i].To == to {
			arcs[i] = arcs[len(arcs)-1]
			arcs = arcs[:len(arcs)-1]
			continue
		}
		i++
	}
	tp.nodes[n].arcs = arcs
}

// PutTarget records node as the sink TPNode for target.
func (tp *TransferPattern) PutTarget(target *Stop, node TPNode) {
	if tp.targets == nil {
		tp.targets = map[string]TPNode{}
	}
	tp.targets[target.PrimaryIdentifier] = node
}

// Target returns the sink TPNode recorded for target, if any.
func (tp *TransferPattern) Target(target *Stop) (TPNode, bool) {
	n, ok := tp.targets[target.PrimaryIdentifier]
	return n, ok
}

// Targets returns every target stop identifier this pattern has a sink
// node for.
func (tp *TransferPattern) Targets() map[string]TPNode {
	return tp.targets
}

// NodeCount returns the number of nodes in the arena, for diagnostics and
// tests.
func (tp *TransferPattern) NodeCount() int {
	return len(tp.nodes)
}
