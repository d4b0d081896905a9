package stageproto

import (
	"fmt"

	sitetypes "github.com/yungbote/neurobridge-backend/internal/domain"
)

// node is one stage of the pipeline graph: its queue and, for stages a
// worker enqueues directly, the job_type that runs it.
type node struct {
	stage   sitetypes.Stage
	queue   string
	jobType string
	deps    []sitetypes.Stage
}

// Graph is the fixed five-stage pipeline graph of spec.md §4.3
// (fetch -> ocr -> compilation -> [extraction] -> deploy -> completed),
// with the extraction node present or absent by configuration. Grounded on
// the teacher's validateDAG/Kahn-sort in orchestrator/dag.go, generalized
// from an arbitrary per-job DAG to this module's one fixed topology whose
// only variability is whether the extraction node exists.
type Graph struct {
	extractionEnabled bool
	order             []sitetypes.Stage
	nodes             map[sitetypes.Stage]node
}

// NewGraph builds and topologically validates the stage graph for the
// given extraction setting. Panics only on a programmer error (a cycle in
// the hardcoded edge list), never on input the caller controls.
func NewGraph(extractionEnabled bool) *Graph {
	nodes := []node{
		{stage: sitetypes.StageFetch, queue: "fetch", jobType: "fetch"},
		{stage: sitetypes.StageOCR, queue: "ocr", jobType: "ocr-page", deps: []sitetypes.Stage{sitetypes.StageFetch}},
		{stage: sitetypes.StageCompilation, queue: "compilation", jobType: "compile", deps: []sitetypes.Stage{sitetypes.StageOCR}},
	}
	if extractionEnabled {
		nodes = append(nodes,
			node{stage: sitetypes.StageExtraction, queue: "extraction", jobType: "extract", deps: []sitetypes.Stage{sitetypes.StageCompilation}},
			node{stage: sitetypes.StageDeploy, queue: "deploy", jobType: "deploy", deps: []sitetypes.Stage{sitetypes.StageExtraction}},
		)
	} else {
		nodes = append(nodes,
			node{stage: sitetypes.StageDeploy, queue: "deploy", jobType: "deploy", deps: []sitetypes.Stage{sitetypes.StageCompilation}},
		)
	}

	order, err := topoSort(nodes)
	if err != nil {
		panic(fmt.Sprintf("stageproto: invalid stage graph: %v", err))
	}

	byStage := make(map[sitetypes.Stage]node, len(nodes))
	for _, n := range nodes {
		byStage[n.stage] = n
	}

	return &Graph{
		extractionEnabled: extractionEnabled,
		order:             order,
		nodes:             byStage,
	}
}

// ExtractionEnabled reports whether this graph's topology includes the
// optional extraction node.
func (g *Graph) ExtractionEnabled() bool { return g.extractionEnabled }

// Order returns the linear stage order, fetch first, completed implied last.
func (g *Graph) Order() []sitetypes.Stage { return g.order }

// Next returns the stage that follows current, or StageCompleted if current
// is the last node in the graph.
func (g *Graph) Next(current sitetypes.Stage) sitetypes.Stage {
	for i, s := range g.order {
		if s == current {
			if i+1 < len(g.order) {
				return g.order[i+1]
			}
			return sitetypes.StageCompleted
		}
	}
	return sitetypes.StageCompleted
}

// Queue returns the named queue a stage's jobs are dispatched on.
func (g *Graph) Queue(stage sitetypes.Stage) string {
	return g.nodes[stage].queue
}

// JobType returns the job_type a stage's worker-enqueued jobs carry.
func (g *Graph) JobType(stage sitetypes.Stage) string {
	return g.nodes[stage].jobType
}

// topoSort is a Kahn topological sort over the hardcoded node/deps edge
// list, stable by input order -- directly grounded on the teacher's
// validateDAG in orchestrator/dag.go, minus the duplicate-name/unknown-dep
// validation that fixed, hand-authored nodes never trigger.
func topoSort(nodes []node) ([]sitetypes.Stage, error) {
	indeg := make(map[sitetypes.Stage]int, len(nodes))
	outEdges := make(map[sitetypes.Stage][]sitetypes.Stage, len(nodes))
	for _, n := range nodes {
		indeg[n.stage] = 0
	}
	for _, n := range nodes {
		for _, dep := range n.deps {
			indeg[n.stage]++
			outEdges[dep] = append(outEdges[dep], n.stage)
		}
	}

	order := make([]sitetypes.Stage, 0, len(nodes))
	done := map[sitetypes.Stage]bool{}
	for {
		progressed := false
		for _, n := range nodes {
			if done[n.stage] {
				continue
			}
			if indeg[n.stage] == 0 {
				done[n.stage] = true
				order = append(order, n.stage)
				for _, next := range outEdges[n.stage] {
					indeg[next]--
				}
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	if len(order) != len(nodes) {
		return nil, fmt.Errorf("cycle detected in stage graph")
	}
	return order, nil
}
