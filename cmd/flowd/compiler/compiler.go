package compiler

import (
	"fmt"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/blocks"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/condition"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/expr"
	"github.com/goranjovic55/NOP-sub008/common/sdk"
)

// Issue codes reported by the compiler.
const (
	CodeDuplicateNode    = "duplicate_node"
	CodeUnknownBlockType = "unknown_block_type"
	CodeDanglingEdge     = "dangling_edge"
	CodeInvalidHandle    = "invalid_handle"
	CodeTemplateError    = "template_error"
	CodeConditionError   = "condition_error"
	CodeCycle            = "cycle"
	CodeLoopBodyOverlap  = "loop_body_overlap"
	CodeUnreachableNode  = "unreachable_node"
	CodeMissingParam     = "missing_required_param"
	CodeVariableRace     = "variable_race"
)

// Issue is one validation finding, fatal or advisory.
type Issue struct {
	Code    string `json:"code"`
	NodeID  string `json:"node_id,omitempty"`
	EdgeID  string `json:"edge_id,omitempty"`
	Message string `json:"message"`
}

// CompileResult is the full outcome of compiling a workflow document.
// DAG is nil when IsValid is false.
type CompileResult struct {
	IsValid  bool    `json:"is_valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
	DAG      *DAG    `json:"dag,omitempty"`
}

// IncomingEdge records one inbound connection for active-edge gating.
type IncomingEdge struct {
	Source       string `json:"source"`
	SourceHandle string `json:"source_handle"`
}

// ExecNode is a compiled executable node.
type ExecNode struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Config       map[string]interface{} `json:"config"`
	Label        string                 `json:"label,omitempty"`
	Dependencies []string               `json:"dependencies"`
	Outputs      map[string][]string    `json:"outputs"`
	Incoming     []IncomingEdge         `json:"incoming"`
	Level        int                    `json:"level"`

	// Body is the nested DAG of a loop's iteration subgraph.
	Body *DAG `json:"body,omitempty"`
}

// DAG is a compiled workflow: nodes plus the banded execution order.
// Nodes within a band are ordered by id ascending, making compilation
// deterministic.
type DAG struct {
	Nodes       map[string]*ExecNode `json:"nodes"`
	Order       [][]string           `json:"execution_order"`
	EntryPoints []string             `json:"entry_points"`
	ExitPoints  []string             `json:"exit_points"`
}

// TotalNodes counts nodes including nested loop bodies.
func (d *DAG) TotalNodes() int {
	total := len(d.Nodes)
	for _, n := range d.Nodes {
		if n.Body != nil {
			total += n.Body.TotalNodes()
		}
	}
	return total
}

// Compiler validates workflow documents and produces executable DAGs.
type Compiler struct {
	registry   *blocks.Registry
	conditions *condition.Evaluator
}

// New creates a compiler backed by a block registry. The condition
// evaluator pre-compiles CEL expressions during validation; it may be nil
// when CEL conditions are not in use.
func New(registry *blocks.Registry, conditions *condition.Evaluator) *Compiler {
	return &Compiler{registry: registry, conditions: conditions}
}

// Compile validates the document and builds the DAG. All fatal errors are
// collected before returning; a document with any fatal error yields no DAG.
func (c *Compiler) Compile(wf *sdk.Workflow) *CompileResult {
	res := &CompileResult{}

	nodes := make(map[string]*sdk.Node, len(wf.Nodes))
	var nodeOrder []string
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if _, dup := nodes[n.ID]; dup {
			res.fatal(Issue{Code: CodeDuplicateNode, NodeID: n.ID,
				Message: fmt.Sprintf("duplicate node id %q", n.ID)})
			continue
		}
		nodes[n.ID] = n
		nodeOrder = append(nodeOrder, n.ID)

		def, known := c.registry.Definition(n.Type)
		if !known {
			res.fatal(Issue{Code: CodeUnknownBlockType, NodeID: n.ID,
				Message: fmt.Sprintf("unknown block type %q", n.Type)})
			continue
		}
		c.validateNode(n, def, res)
	}

	var edges []sdk.Edge
	for i := range wf.Edges {
		e := wf.Edges[i]
		if !c.validateEdge(&e, nodes, res) {
			continue
		}
		edges = append(edges, e)
	}

	if len(res.Errors) > 0 {
		return res
	}

	dag, issues := c.buildDAG(nodeOrder, nodes, edges)
	for _, issue := range issues {
		res.fatal(issue)
	}
	if len(res.Errors) > 0 {
		return res
	}

	c.checkReachability(dag, res)
	c.checkVariableRaces(dag, res)

	res.IsValid = true
	res.DAG = dag
	return res
}

func (c *Compiler) validateNode(n *sdk.Node, def *blocks.Definition, res *CompileResult) {
	if err := expr.ValidateAny(n.Config); err != nil {
		res.fatal(Issue{Code: CodeTemplateError, NodeID: n.ID,
			Message: fmt.Sprintf("node %s: %v", n.ID, err)})
	}

	if n.Type == blocks.TypeCondition && c.conditions != nil {
		if lang, _ := n.Config["language"].(string); lang == "cel" {
			exprStr, _ := n.Config["expression"].(string)
			if err := c.conditions.Validate(exprStr); err != nil {
				res.fatal(Issue{Code: CodeConditionError, NodeID: n.ID,
					Message: fmt.Sprintf("node %s: %v", n.ID, err)})
			}
		}
	}

	for _, p := range def.Params {
		if !p.Required {
			continue
		}
		if _, ok := n.Config[p.Name]; !ok {
			res.warn(Issue{Code: CodeMissingParam, NodeID: n.ID,
				Message: fmt.Sprintf("node %s: required parameter %q not set", n.ID, p.Name)})
		}
	}
}

func (c *Compiler) validateEdge(e *sdk.Edge, nodes map[string]*sdk.Node, res *CompileResult) bool {
	src, srcOK := nodes[e.Source]
	if !srcOK {
		res.fatal(Issue{Code: CodeDanglingEdge, EdgeID: e.ID,
			Message: fmt.Sprintf("edge %s references unknown source %q", e.ID, e.Source)})
	}
	tgt, tgtOK := nodes[e.Target]
	if !tgtOK {
		res.fatal(Issue{Code: CodeDanglingEdge, EdgeID: e.ID,
			Message: fmt.Sprintf("edge %s references unknown target %q", e.ID, e.Target)})
	}
	if !srcOK || !tgtOK {
		return false
	}

	ok := true
	if def, known := c.registry.Definition(src.Type); known && !def.HasOutput(e.SourceHandle) {
		res.fatal(Issue{Code: CodeInvalidHandle, EdgeID: e.ID, NodeID: src.ID,
			Message: fmt.Sprintf("edge %s: block %s has no output handle %q", e.ID, src.Type, e.SourceHandle)})
		ok = false
	}
	if def, known := c.registry.Definition(tgt.Type); known && !def.HasInput(e.TargetHandle) {
		res.fatal(Issue{Code: CodeInvalidHandle, EdgeID: e.ID, NodeID: tgt.ID,
			Message: fmt.Sprintf("edge %s: block %s has no input handle %q", e.ID, tgt.Type, e.TargetHandle)})
		ok = false
	}
	return ok
}

func (res *CompileResult) fatal(issue Issue) {
	res.Errors = append(res.Errors, issue)
}

func (res *CompileResult) warn(issue Issue) {
	res.Warnings = append(res.Warnings, issue)
}
