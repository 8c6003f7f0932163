package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/blocks"
	"github.com/goranjovic55/NOP-sub008/common/sdk"
)

// buildDAG desugars loop back-edges, checks acyclicity with Kahn's
// algorithm and computes level bands. It recurses into loop bodies, each
// compiled as its own nested DAG.
func (c *Compiler) buildDAG(nodeOrder []string, nodes map[string]*sdk.Node, edges []sdk.Edge) (*DAG, []Issue) {
	var issues []Issue

	outerIDs := make(map[string]bool, len(nodeOrder))
	for _, id := range nodeOrder {
		outerIDs[id] = true
	}
	outerEdges := edges
	bodies := make(map[string]*DAG)

	for _, id := range nodeOrder {
		n := nodes[id]
		if n.Type != blocks.TypeLoop || !outerIDs[id] {
			continue
		}

		bodySet := reachableFrom(loopTargets(id, blocks.HandleIteration, outerEdges), id, outerEdges)
		completeSet := reachableFrom(loopTargets(id, blocks.HandleComplete, outerEdges), id, outerEdges)

		var overlap []string
		for b := range bodySet {
			if completeSet[b] {
				overlap = append(overlap, b)
			}
		}
		if len(overlap) > 0 {
			sort.Strings(overlap)
			issues = append(issues, Issue{Code: CodeLoopBodyOverlap, NodeID: id,
				Message: fmt.Sprintf("loop %s: nodes %s are reachable from both iteration and complete outputs", id, strings.Join(overlap, ", "))})
			continue
		}

		// Split the edge set: body-internal edges feed the nested DAG,
		// back-edges into the loop node disappear, everything else stays.
		var bodyOrder []string
		for _, cand := range nodeOrder {
			if bodySet[cand] {
				bodyOrder = append(bodyOrder, cand)
			}
		}
		var bodyEdges, remaining []sdk.Edge
		for _, e := range outerEdges {
			switch {
			case bodySet[e.Source] && bodySet[e.Target]:
				bodyEdges = append(bodyEdges, e)
			case bodySet[e.Source] && e.Target == id:
				// Declared back-edge, removed before the cycle check.
			case e.Source == id && e.SourceHandle == blocks.HandleIteration:
				// Iteration entry, belongs to the nested DAG boundary.
			default:
				remaining = append(remaining, e)
			}
		}

		bodyDAG, bodyIssues := c.buildDAG(bodyOrder, nodes, bodyEdges)
		issues = append(issues, bodyIssues...)
		bodies[id] = bodyDAG

		for b := range bodySet {
			delete(outerIDs, b)
		}
		outerEdges = remaining
	}

	// Assemble executable nodes from the remaining outer graph.
	dag := &DAG{Nodes: make(map[string]*ExecNode)}
	var order []string
	for _, id := range nodeOrder {
		if !outerIDs[id] {
			continue
		}
		n := nodes[id]
		dag.Nodes[id] = &ExecNode{
			ID:           id,
			Type:         n.Type,
			Config:       n.Config,
			Label:        n.Label,
			Dependencies: []string{},
			Outputs:      make(map[string][]string),
			Body:         bodies[id],
		}
		order = append(order, id)
	}

	for _, e := range outerEdges {
		src, srcOK := dag.Nodes[e.Source]
		tgt, tgtOK := dag.Nodes[e.Target]
		if !srcOK || !tgtOK {
			continue
		}
		src.Outputs[e.SourceHandle] = append(src.Outputs[e.SourceHandle], e.Target)
		tgt.Dependencies = append(tgt.Dependencies, e.Source)
		tgt.Incoming = append(tgt.Incoming, IncomingEdge{Source: e.Source, SourceHandle: e.SourceHandle})
	}
	for _, n := range dag.Nodes {
		sort.Strings(n.Dependencies)
		for h := range n.Outputs {
			sort.Strings(n.Outputs[h])
		}
		sort.Slice(n.Incoming, func(i, j int) bool {
			if n.Incoming[i].Source != n.Incoming[j].Source {
				return n.Incoming[i].Source < n.Incoming[j].Source
			}
			return n.Incoming[i].SourceHandle < n.Incoming[j].SourceHandle
		})
	}

	if cyclic := kahnCycleCheck(dag); len(cyclic) > 0 {
		issues = append(issues, Issue{Code: CodeCycle,
			Message: fmt.Sprintf("cycle detected involving nodes: %s", strings.Join(cyclic, ", "))})
		return nil, issues
	}

	computeLevels(dag)

	// Band the nodes by level, ids ascending within each band.
	maxLevel := -1
	for _, n := range dag.Nodes {
		if n.Level > maxLevel {
			maxLevel = n.Level
		}
	}
	dag.Order = make([][]string, maxLevel+1)
	sort.Strings(order)
	for _, id := range order {
		lvl := dag.Nodes[id].Level
		dag.Order[lvl] = append(dag.Order[lvl], id)
	}

	for _, id := range order {
		n := dag.Nodes[id]
		if len(n.Dependencies) == 0 {
			dag.EntryPoints = append(dag.EntryPoints, id)
		}
		if len(n.Outputs) == 0 {
			dag.ExitPoints = append(dag.ExitPoints, id)
		}
	}
	return dag, issues
}

// loopTargets collects direct successors of a loop node through one handle.
func loopTargets(loopID, handle string, edges []sdk.Edge) []string {
	var out []string
	for _, e := range edges {
		if e.Source == loopID && e.SourceHandle == handle {
			out = append(out, e.Target)
		}
	}
	sort.Strings(out)
	return out
}

// reachableFrom walks forward from the seeds, never entering the excluded
// node, and returns the visited set.
func reachableFrom(seeds []string, excluded string, edges []sdk.Edge) map[string]bool {
	visited := make(map[string]bool)
	queue := append([]string{}, seeds...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == excluded || visited[id] {
			continue
		}
		visited[id] = true
		for _, e := range edges {
			if e.Source == id && e.Target != excluded && !visited[e.Target] {
				queue = append(queue, e.Target)
			}
		}
	}
	return visited
}

// kahnCycleCheck returns the ids of nodes trapped in a cycle, empty when
// the graph is acyclic.
func kahnCycleCheck(dag *DAG) []string {
	indegree := make(map[string]int, len(dag.Nodes))
	for id, n := range dag.Nodes {
		indegree[id] += 0
		for _, succs := range n.Outputs {
			for _, t := range succs {
				indegree[t]++
			}
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	removed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		removed++
		for _, succs := range dag.Nodes[id].Outputs {
			for _, t := range succs {
				indegree[t]--
				if indegree[t] == 0 {
					queue = append(queue, t)
				}
			}
		}
	}

	if removed == len(dag.Nodes) {
		return nil
	}
	var cyclic []string
	for id, deg := range indegree {
		if deg > 0 {
			cyclic = append(cyclic, id)
		}
	}
	sort.Strings(cyclic)
	return cyclic
}

// computeLevels assigns level(n) = 1 + max(level(dep)) via memoized DFS.
// Only called on acyclic graphs.
func computeLevels(dag *DAG) {
	memo := make(map[string]int, len(dag.Nodes))

	var level func(id string) int
	level = func(id string) int {
		if lvl, ok := memo[id]; ok {
			return lvl
		}
		n := dag.Nodes[id]
		lvl := 0
		for _, dep := range n.Dependencies {
			if d := level(dep) + 1; d > lvl {
				lvl = d
			}
		}
		memo[id] = lvl
		return lvl
	}

	for id := range dag.Nodes {
		dag.Nodes[id].Level = level(id)
	}
}

// checkReachability warns about nodes no entry point can reach. When the
// workflow has start blocks, only those seed the walk, so stray in-degree
// zero nodes are reported instead of counting as their own entry.
func (c *Compiler) checkReachability(dag *DAG, res *CompileResult) {
	var seeds []string
	for _, id := range dag.EntryPoints {
		if dag.Nodes[id].Type == blocks.TypeStart {
			seeds = append(seeds, id)
		}
	}
	if len(seeds) == 0 {
		seeds = dag.EntryPoints
	}

	visited := make(map[string]bool)
	queue := append([]string{}, seeds...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		for _, succs := range dag.Nodes[id].Outputs {
			queue = append(queue, succs...)
		}
	}

	var unreachable []string
	for id := range dag.Nodes {
		if !visited[id] {
			unreachable = append(unreachable, id)
		}
	}
	sort.Strings(unreachable)
	for _, id := range unreachable {
		res.warn(Issue{Code: CodeUnreachableNode, NodeID: id,
			Message: fmt.Sprintf("node %s is not reachable from any entry point", id)})
	}
}

// checkVariableRaces warns when two variable_set nodes writing the same
// variable land in the same band, where write order is unspecified.
func (c *Compiler) checkVariableRaces(dag *DAG, res *CompileResult) {
	for _, band := range dag.Order {
		writers := make(map[string][]string)
		for _, id := range band {
			n := dag.Nodes[id]
			if n.Type != blocks.TypeVariableSet {
				continue
			}
			if name, _ := n.Config["name"].(string); name != "" {
				writers[name] = append(writers[name], id)
			}
		}
		var names []string
		for name, ids := range writers {
			if len(ids) > 1 {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			res.warn(Issue{Code: CodeVariableRace,
				Message: fmt.Sprintf("variable %q is written by %s in the same band; result is unspecified", name, strings.Join(writers[name], ", "))})
		}
	}
}
