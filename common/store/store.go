package store

import (
	"context"
	"errors"

	"github.com/goranjovic55/NOP-sub008/common/sdk"
)

var (
	// ErrWorkflowNotFound is returned when a workflow id is unknown.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrExecutionNotFound is returned when an execution id is unknown.
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrCredentialNotFound is returned when a credential id is unknown.
	ErrCredentialNotFound = errors.New("credential not found")
)

// DocumentStore persists workflow documents and terminal execution snapshots.
// The engine consumes it as an opaque collaborator.
type DocumentStore interface {
	GetWorkflow(ctx context.Context, id string) (*sdk.Workflow, error)
	PutWorkflow(ctx context.Context, wf *sdk.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
	ListWorkflows(ctx context.Context) ([]*sdk.Workflow, error)

	PutExecution(ctx context.Context, snapshot *sdk.ExecutionSnapshot) error
	GetExecution(ctx context.Context, id string) (*sdk.ExecutionSnapshot, error)
	ListExecutions(ctx context.Context, workflowID string) ([]*sdk.ExecutionSnapshot, error)
}

// Credential is a decrypted secret returned by the resolver.
type Credential struct {
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
}

// CredentialResolver resolves credential ids to decrypted secrets.
type CredentialResolver interface {
	Resolve(ctx context.Context, credentialID string) (*Credential, error)
}
