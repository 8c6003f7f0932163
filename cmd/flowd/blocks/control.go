package blocks

// Control-flow block types. These are executed by the scheduler itself,
// not dispatched to handlers.
const (
	TypeStart       = "control.start"
	TypeEnd         = "control.end"
	TypeDelay       = "control.delay"
	TypeCondition   = "control.condition"
	TypeLoop        = "control.loop"
	TypeParallel    = "control.parallel"
	TypeVariableSet = "control.variable_set"
	TypeVariableGet = "control.variable_get"
)

// Handles used by control-flow blocks.
const (
	HandleIn        = "in"
	HandleOut       = "out"
	HandleTrue      = "true"
	HandleFalse     = "false"
	HandleIteration = "iteration"
	HandleComplete  = "complete"
)

// IsControlFlow reports whether a block type is scheduler-executed.
func IsControlFlow(blockType string) bool {
	switch blockType {
	case TypeStart, TypeEnd, TypeDelay, TypeCondition, TypeLoop,
		TypeParallel, TypeVariableSet, TypeVariableGet:
		return true
	}
	return false
}

func controlDefinitions() []*Definition {
	return []*Definition{
		{
			Type:        TypeStart,
			Name:        "Start",
			Outputs:     []string{HandleOut},
			Params:      []Param{{Name: "inputs", Type: "object"}},
			ControlFlow: true,
		},
		{
			Type:        TypeEnd,
			Name:        "End",
			Inputs:      []string{HandleIn},
			Params:      []Param{{Name: "status", Type: "string", Default: "success"}, {Name: "message", Type: "string"}},
			ControlFlow: true,
		},
		{
			Type:        TypeDelay,
			Name:        "Delay",
			Inputs:      []string{HandleIn},
			Outputs:     []string{HandleOut},
			Params:      []Param{{Name: "seconds", Type: "number", Required: true}},
			ControlFlow: true,
		},
		{
			Type:    TypeCondition,
			Name:    "Condition",
			Inputs:  []string{HandleIn},
			Outputs: []string{HandleTrue, HandleFalse},
			Params: []Param{
				{Name: "expression", Type: "string", Required: true},
				{Name: "language", Type: "string", Default: "template"},
			},
			ControlFlow: true,
		},
		{
			Type:    TypeLoop,
			Name:    "Loop",
			Inputs:  []string{HandleIn},
			Outputs: []string{HandleIteration, HandleComplete},
			Params: []Param{
				{Name: "mode", Type: "string", Required: true},
				{Name: "count", Type: "number"},
				{Name: "array", Type: "string"},
				{Name: "variable_name", Type: "string", Default: "item"},
			},
			ControlFlow: true,
		},
		{
			// Branches converge at the level barrier, so the block itself
			// takes no parameters.
			Type:           TypeParallel,
			Name:           "Parallel",
			Inputs:         []string{HandleIn},
			Outputs:        []string{HandleOut},
			OutputPrefixes: []string{"branch_"},
			ControlFlow:    true,
		},
		{
			Type:    TypeVariableSet,
			Name:    "Set Variable",
			Inputs:  []string{HandleIn},
			Outputs: []string{HandleOut},
			Params: []Param{
				{Name: "name", Type: "string", Required: true},
				{Name: "value", Type: "string", Required: true},
			},
			ControlFlow: true,
		},
		{
			Type:        TypeVariableGet,
			Name:        "Get Variable",
			Inputs:      []string{HandleIn},
			Outputs:     []string{HandleOut},
			Params:      []Param{{Name: "name", Type: "string", Required: true}},
			ControlFlow: true,
		},
	}
}
