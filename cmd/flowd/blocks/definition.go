package blocks

import (
	"context"
	"strings"

	"github.com/goranjovic55/NOP-sub008/common/sdk"
)

// Param describes one declared block parameter.
type Param struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Required bool        `json:"required"`
	Default  interface{} `json:"default,omitempty"`
}

// Definition declares a block type: its handles, parameters and whether the
// scheduler treats it as control flow. Block types are `category.name`
// strings; adding a block is a registration, not a subclass.
type Definition struct {
	Type    string   `json:"type"`
	Name    string   `json:"name"`
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
	Params  []Param  `json:"params,omitempty"`

	// OutputPrefixes admits numbered handles like branch_1..branch_k
	// whose count depends on node config.
	OutputPrefixes []string `json:"output_prefixes,omitempty"`

	// ControlFlow blocks are executed by the scheduler itself and are
	// never retried.
	ControlFlow bool `json:"control_flow"`

	// OutputSchema documents the shape of the handler output. Informational.
	OutputSchema map[string]string `json:"output_schema,omitempty"`
}

// HasInput reports whether the handle is a declared input.
func (d *Definition) HasInput(handle string) bool {
	if handle == "" {
		return len(d.Inputs) > 0
	}
	for _, h := range d.Inputs {
		if h == handle {
			return true
		}
	}
	return false
}

// HasOutput reports whether the handle is a declared or pattern output.
func (d *Definition) HasOutput(handle string) bool {
	if handle == "" {
		return len(d.Outputs) > 0 || len(d.OutputPrefixes) > 0
	}
	for _, h := range d.Outputs {
		if h == handle {
			return true
		}
	}
	for _, prefix := range d.OutputPrefixes {
		if strings.HasPrefix(handle, prefix) && len(handle) > len(prefix) {
			return true
		}
	}
	return false
}

// Param returns a declared parameter by name.
func (d *Definition) Param(name string) (*Param, bool) {
	for i := range d.Params {
		if d.Params[i].Name == name {
			return &d.Params[i], true
		}
	}
	return nil, false
}

// Handler executes a block with fully resolved parameters. Handlers never
// see the execution context; cancellation arrives through ctx.
type Handler interface {
	Invoke(ctx context.Context, params map[string]interface{}) (*sdk.HandlerResult, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, params map[string]interface{}) (*sdk.HandlerResult, error)

// Invoke calls the wrapped function.
func (f HandlerFunc) Invoke(ctx context.Context, params map[string]interface{}) (*sdk.HandlerResult, error) {
	return f(ctx, params)
}
