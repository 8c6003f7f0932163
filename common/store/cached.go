package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/goranjovic55/NOP-sub008/common/cache"
	"github.com/goranjovic55/NOP-sub008/common/sdk"
)

// CachedStore is a read-through cache decorator for workflow documents.
// Execution snapshot operations pass through untouched.
type CachedStore struct {
	DocumentStore
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedStore wraps a DocumentStore with a workflow document cache.
func NewCachedStore(inner DocumentStore, c cache.Cache, ttl time.Duration) *CachedStore {
	return &CachedStore{
		DocumentStore: inner,
		cache:         c,
		ttl:           ttl,
	}
}

func workflowCacheKey(id string) string {
	return "workflow:" + id
}

// GetWorkflow serves from cache when possible, falling back to the inner store.
func (s *CachedStore) GetWorkflow(ctx context.Context, id string) (*sdk.Workflow, error) {
	if raw, ok, err := s.cache.Get(ctx, workflowCacheKey(id)); err == nil && ok {
		var wf sdk.Workflow
		if err := json.Unmarshal(raw, &wf); err == nil {
			return &wf, nil
		}
	}

	wf, err := s.DocumentStore.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(wf); err == nil {
		_ = s.cache.Set(ctx, workflowCacheKey(id), raw, s.ttl)
	}
	return wf, nil
}

// PutWorkflow writes through and refreshes the cache entry.
func (s *CachedStore) PutWorkflow(ctx context.Context, wf *sdk.Workflow) error {
	if err := s.DocumentStore.PutWorkflow(ctx, wf); err != nil {
		return err
	}
	if raw, err := json.Marshal(wf); err == nil {
		_ = s.cache.Set(ctx, workflowCacheKey(wf.ID), raw, s.ttl)
	}
	return nil
}

// DeleteWorkflow removes the document and its cache entry.
func (s *CachedStore) DeleteWorkflow(ctx context.Context, id string) error {
	if err := s.DocumentStore.DeleteWorkflow(ctx, id); err != nil {
		return err
	}
	_ = s.cache.Delete(ctx, workflowCacheKey(id))
	return nil
}
