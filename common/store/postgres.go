package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/goranjovic55/NOP-sub008/common/db"
	"github.com/goranjovic55/NOP-sub008/common/logger"
	"github.com/goranjovic55/NOP-sub008/common/sdk"
)

// PostgresStore is the pgx-backed DocumentStore. Workflow definitions and
// execution snapshots are stored as jsonb blobs keyed by id.
type PostgresStore struct {
	db  *db.DB
	log *logger.Logger
}

// NewPostgresStore creates a postgres-backed store.
func NewPostgresStore(database *db.DB, log *logger.Logger) *PostgresStore {
	return &PostgresStore{db: database, log: log}
}

// InitSchema creates the tables if they do not exist. Intended for the
// bootstrap dbInitHook; production deployments run migrations instead.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workflow (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			version    INT NOT NULL DEFAULT 1,
			definition JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS execution (
			id          TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status      TEXT NOT NULL,
			snapshot    JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS execution_workflow_idx ON execution (workflow_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// GetWorkflow retrieves a workflow definition by id.
func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*sdk.Workflow, error) {
	query := `SELECT definition FROM workflow WHERE id = $1`

	var definition []byte
	err := s.db.QueryRow(ctx, query, id).Scan(&definition)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow %s: %w", id, err)
	}

	var wf sdk.Workflow
	if err := json.Unmarshal(definition, &wf); err != nil {
		return nil, fmt.Errorf("failed to decode workflow %s: %w", id, err)
	}
	return &wf, nil
}

// PutWorkflow stores or replaces a workflow definition.
func (s *PostgresStore) PutWorkflow(ctx context.Context, wf *sdk.Workflow) error {
	definition, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to encode workflow %s: %w", wf.ID, err)
	}

	query := `
		INSERT INTO workflow (id, name, version, definition, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = $2, version = $3, definition = $4, updated_at = $5
	`

	_, err = s.db.Exec(ctx, query, wf.ID, wf.Name, wf.Version, definition, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to put workflow %s: %w", wf.ID, err)
	}
	return nil
}

// DeleteWorkflow removes a workflow definition.
func (s *PostgresStore) DeleteWorkflow(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM workflow WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWorkflowNotFound
	}
	return nil
}

// ListWorkflows returns all workflow definitions ordered by id.
func (s *PostgresStore) ListWorkflows(ctx context.Context) ([]*sdk.Workflow, error) {
	rows, err := s.db.Query(ctx, `SELECT definition FROM workflow ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var out []*sdk.Workflow
	for rows.Next() {
		var definition []byte
		if err := rows.Scan(&definition); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		var wf sdk.Workflow
		if err := json.Unmarshal(definition, &wf); err != nil {
			return nil, fmt.Errorf("failed to decode workflow: %w", err)
		}
		out = append(out, &wf)
	}
	return out, rows.Err()
}

// PutExecution stores a terminal execution snapshot.
func (s *PostgresStore) PutExecution(ctx context.Context, snapshot *sdk.ExecutionSnapshot) error {
	blob, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode execution %s: %w", snapshot.ID, err)
	}

	query := `
		INSERT INTO execution (id, workflow_id, status, snapshot)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET status = $3, snapshot = $4
	`

	_, err = s.db.Exec(ctx, query, snapshot.ID, snapshot.WorkflowID, string(snapshot.Status), blob)
	if err != nil {
		return fmt.Errorf("failed to put execution %s: %w", snapshot.ID, err)
	}
	return nil
}

// GetExecution retrieves a persisted execution snapshot.
func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*sdk.ExecutionSnapshot, error) {
	var blob []byte
	err := s.db.QueryRow(ctx, `SELECT snapshot FROM execution WHERE id = $1`, id).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}

	var snap sdk.ExecutionSnapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode execution %s: %w", id, err)
	}
	return &snap, nil
}

// ListExecutions returns snapshots, optionally filtered by workflow id.
func (s *PostgresStore) ListExecutions(ctx context.Context, workflowID string) ([]*sdk.ExecutionSnapshot, error) {
	query := `SELECT snapshot FROM execution`
	args := []interface{}{}
	if workflowID != "" {
		query += ` WHERE workflow_id = $1`
		args = append(args, workflowID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []*sdk.ExecutionSnapshot
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		var snap sdk.ExecutionSnapshot
		if err := json.Unmarshal(blob, &snap); err != nil {
			return nil, fmt.Errorf("failed to decode execution: %w", err)
		}
		out = append(out, &snap)
	}
	return out, rows.Err()
}
