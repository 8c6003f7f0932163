package blocks

import (
	"context"

	"github.com/goranjovic55/NOP-sub008/common/sdk"
)

// Network block types. Definitions ship with the engine so workflows
// validate; concrete handlers are registered by the embedding application.
const (
	TypePing        = "traffic.ping"
	TypeSSHExec     = "traffic.ssh_exec"
	TypePortScan    = "traffic.port_scan"
	TypeCapture     = "traffic.capture"
	TypeHTTPRequest = "traffic.http_request"
	TypeDNSLookup   = "traffic.dns_lookup"
)

func networkDefinitions() []*Definition {
	return []*Definition{
		{
			Type:    TypePing,
			Name:    "Ping",
			Inputs:  []string{HandleIn},
			Outputs: []string{HandleOut},
			Params: []Param{
				{Name: "host", Type: "string", Required: true},
				{Name: "count", Type: "number", Default: float64(4)},
				{Name: "timeout", Type: "number"},
			},
			OutputSchema: map[string]string{"host": "string", "reachable": "boolean", "latency": "number"},
		},
		{
			Type:    TypeSSHExec,
			Name:    "SSH Execute",
			Inputs:  []string{HandleIn},
			Outputs: []string{HandleOut},
			Params: []Param{
				{Name: "host", Type: "string", Required: true},
				{Name: "command", Type: "string", Required: true},
				{Name: "credential_id", Type: "string"},
				{Name: "username", Type: "string"},
				{Name: "password", Type: "string"},
				{Name: "timeout", Type: "number"},
			},
			OutputSchema: map[string]string{"stdout": "string", "stderr": "string", "exit_code": "number"},
		},
		{
			Type:    TypePortScan,
			Name:    "Port Scan",
			Inputs:  []string{HandleIn},
			Outputs: []string{HandleOut},
			Params: []Param{
				{Name: "host", Type: "string", Required: true},
				{Name: "ports", Type: "string", Required: true},
				{Name: "timeout", Type: "number"},
			},
			OutputSchema: map[string]string{"open_ports": "array"},
		},
		{
			Type:    TypeCapture,
			Name:    "Traffic Capture",
			Inputs:  []string{HandleIn},
			Outputs: []string{HandleOut},
			Params: []Param{
				{Name: "interface", Type: "string", Required: true},
				{Name: "filter", Type: "string"},
				{Name: "duration", Type: "number", Default: float64(10)},
			},
			OutputSchema: map[string]string{"packets": "number", "file": "string"},
		},
		{
			Type:    TypeHTTPRequest,
			Name:    "HTTP Request",
			Inputs:  []string{HandleIn},
			Outputs: []string{HandleOut},
			Params: []Param{
				{Name: "url", Type: "string", Required: true},
				{Name: "method", Type: "string", Default: "GET"},
				{Name: "body", Type: "string"},
				{Name: "headers", Type: "object"},
				{Name: "timeout", Type: "number"},
			},
			OutputSchema: map[string]string{"status": "number", "body": "string"},
		},
		{
			Type:    TypeDNSLookup,
			Name:    "DNS Lookup",
			Inputs:  []string{HandleIn},
			Outputs: []string{HandleOut},
			Params: []Param{
				{Name: "name", Type: "string", Required: true},
				{Name: "record_type", Type: "string", Default: "A"},
				{Name: "server", Type: "string"},
			},
			OutputSchema: map[string]string{"records": "array"},
		},
	}
}

// EchoHandler returns its resolved parameters as the node output. Bound to
// every network type during dry runs so workflows exercise the full
// scheduling path without touching hosts.
func EchoHandler() Handler {
	return HandlerFunc(func(ctx context.Context, params map[string]interface{}) (*sdk.HandlerResult, error) {
		return &sdk.HandlerResult{Success: true, Output: params}, nil
	})
}
