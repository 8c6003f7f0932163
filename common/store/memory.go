package store

import (
	"context"
	"sort"
	"sync"

	"github.com/goranjovic55/NOP-sub008/common/sdk"
)

// MemoryStore is an in-memory DocumentStore for tests and development.
type MemoryStore struct {
	mu         sync.RWMutex
	workflows  map[string]*sdk.Workflow
	executions map[string]*sdk.ExecutionSnapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:  make(map[string]*sdk.Workflow),
		executions: make(map[string]*sdk.ExecutionSnapshot),
	}
}

// GetWorkflow retrieves a workflow by id.
func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (*sdk.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	copied := *wf
	return &copied, nil
}

// PutWorkflow stores or replaces a workflow.
func (s *MemoryStore) PutWorkflow(ctx context.Context, wf *sdk.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *wf
	s.workflows[wf.ID] = &copied
	return nil
}

// DeleteWorkflow removes a workflow.
func (s *MemoryStore) DeleteWorkflow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[id]; !ok {
		return ErrWorkflowNotFound
	}
	delete(s.workflows, id)
	return nil
}

// ListWorkflows returns all workflows ordered by id.
func (s *MemoryStore) ListWorkflows(ctx context.Context) ([]*sdk.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*sdk.Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		copied := *wf
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutExecution stores a terminal execution snapshot.
func (s *MemoryStore) PutExecution(ctx context.Context, snapshot *sdk.ExecutionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *snapshot
	s.executions[snapshot.ID] = &copied
	return nil
}

// GetExecution retrieves a persisted execution snapshot.
func (s *MemoryStore) GetExecution(ctx context.Context, id string) (*sdk.ExecutionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	copied := *snap
	return &copied, nil
}

// ListExecutions returns snapshots, optionally filtered by workflow id.
func (s *MemoryStore) ListExecutions(ctx context.Context, workflowID string) ([]*sdk.ExecutionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*sdk.ExecutionSnapshot, 0, len(s.executions))
	for _, snap := range s.executions {
		if workflowID != "" && snap.WorkflowID != workflowID {
			continue
		}
		copied := *snap
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MemoryCredentials is an in-memory CredentialResolver seeded from config.
type MemoryCredentials struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

// NewMemoryCredentials creates a resolver with the given credentials.
func NewMemoryCredentials(creds map[string]*Credential) *MemoryCredentials {
	if creds == nil {
		creds = make(map[string]*Credential)
	}
	return &MemoryCredentials{creds: creds}
}

// Add registers a credential under an id.
func (r *MemoryCredentials) Add(id string, cred *Credential) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[id] = cred
}

// Resolve returns the credential for an id.
func (r *MemoryCredentials) Resolve(ctx context.Context, credentialID string) (*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cred, ok := r.creds[credentialID]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	copied := *cred
	return &copied, nil
}
