package expr

// Node is a parsed expression tree node.
type Node interface{}

// Literal is a constant value: string, number, boolean or null.
type Literal struct {
	Value interface{}
}

// Path is a scope lookup like $vars.host or $prev.0.output.
// Root is the first segment ($prev, $vars, $env, $creds, $loop, $input
// or a bare identifier); Segments are the remaining dotted parts.
type Path struct {
	Root     string
	Segments []string
}

// Filter applies a named transform to its input, e.g. value | split(",").
type Filter struct {
	Input Node
	Name  string
	Args  []Node
}

// Comparison is a binary comparison: ==, !=, >, <, >=, <=.
type Comparison struct {
	Op    string
	Left  Node
	Right Node
}

// Logical is a short-circuit && or || combination.
type Logical struct {
	Op    string
	Left  Node
	Right Node
}

// Not negates the truthiness of its operand.
type Not struct {
	Expr Node
}
