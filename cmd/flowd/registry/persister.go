package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goranjovic55/NOP-sub008/common/logger"
	"github.com/goranjovic55/NOP-sub008/common/queue"
	"github.com/goranjovic55/NOP-sub008/common/sdk"
	"github.com/goranjovic55/NOP-sub008/common/store"
)

// Persister consumes terminal snapshots off the queue and writes them to
// the document store. Keeping the write off the scheduler goroutine means a
// slow store never delays the run teardown.
type Persister struct {
	store store.DocumentStore
	log   *logger.Logger
}

// NewPersister creates a persister writing to the given store.
func NewPersister(st store.DocumentStore, log *logger.Logger) *Persister {
	return &Persister{store: st, log: log}
}

// Start subscribes to the terminal-snapshot topic. The subscription runs
// until ctx is cancelled.
func (p *Persister) Start(ctx context.Context, q queue.Queue) error {
	return q.Subscribe(ctx, TopicTerminalSnapshots, p.handle)
}

func (p *Persister) handle(ctx context.Context, key string, value []byte) error {
	var snapshot sdk.ExecutionSnapshot
	if err := json.Unmarshal(value, &snapshot); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	if err := p.store.PutExecution(ctx, &snapshot); err != nil {
		return fmt.Errorf("persist snapshot %s: %w", snapshot.ID, err)
	}
	p.log.Debug("execution persisted", "execution_id", snapshot.ID, "status", snapshot.Status)
	return nil
}
