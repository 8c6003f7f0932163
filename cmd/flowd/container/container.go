package container

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/blocks"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/condition"
	"github.com/goranjovic55/NOP-sub008/cmd/flowd/registry"
	"github.com/goranjovic55/NOP-sub008/common/bootstrap"
	"github.com/goranjovic55/NOP-sub008/common/ratelimit"
	"github.com/goranjovic55/NOP-sub008/common/store"
)

// Container holds all initialized services (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	Blocks      *blocks.Registry
	Conditions  *condition.Evaluator
	Store       store.DocumentStore
	Credentials store.CredentialResolver
	Registry    *registry.Registry
	Persister   *registry.Persister
	Limiter     *ratelimit.RateLimiter
}

// NewContainer initializes all services once. The document store prefers
// Postgres when a database is configured and falls back to memory; the
// workflow cache wraps it when enabled.
func NewContainer(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	docs, err := buildStore(ctx, components)
	if err != nil {
		return nil, err
	}

	creds := buildCredentials(components)

	blockRegistry := blocks.NewRegistry()
	// TODO: replace the echo handlers with real traffic operators.
	for _, typ := range []string{
		blocks.TypePing, blocks.TypeSSHExec, blocks.TypePortScan,
		blocks.TypeCapture, blocks.TypeHTTPRequest, blocks.TypeDNSLookup,
	} {
		if err := blockRegistry.RegisterHandler(typ, blocks.EchoHandler()); err != nil {
			return nil, fmt.Errorf("failed to register handler for %s: %w", typ, err)
		}
	}

	conditions := condition.NewEvaluator()

	reg := registry.New(registry.Config{
		Blocks:        blockRegistry,
		Conditions:    conditions,
		Store:         docs,
		Credentials:   creds,
		Queue:         components.Queue,
		Events:        components.Redis,
		Log:           components.Logger,
		Env:           processEnv(),
		RetentionTTL:  components.Config.Engine.RetentionTTL,
		BufferSize:    components.Config.Engine.EventBufferSize,
		ParallelLimit: components.Config.Engine.DefaultParallelLimit,
	})

	c := &Container{
		Components:  components,
		Blocks:      blockRegistry,
		Conditions:  conditions,
		Store:       docs,
		Credentials: creds,
		Registry:    reg,
		Persister:   registry.NewPersister(docs, components.Logger),
		Limiter:     buildLimiter(components),
	}

	if components.Queue != nil {
		if err := c.Persister.Start(ctx, components.Queue); err != nil {
			return nil, fmt.Errorf("failed to start persister: %w", err)
		}
	}

	return c, nil
}

// Close releases container-owned resources.
func (c *Container) Close() {
	c.Registry.Close()
}

func buildStore(ctx context.Context, components *bootstrap.Components) (store.DocumentStore, error) {
	var docs store.DocumentStore
	if components.DB != nil {
		pg := store.NewPostgresStore(components.DB, components.Logger)
		if err := pg.InitSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to init store schema: %w", err)
		}
		docs = pg
	} else {
		components.Logger.Warn("no database configured, using in-memory store")
		docs = store.NewMemoryStore()
	}

	if components.Cache != nil {
		docs = store.NewCachedStore(docs, components.Cache, components.Config.Cache.DefaultTTL)
	}
	return docs, nil
}

// processEnv snapshots the service environment for $env expression roots.
func processEnv() map[string]interface{} {
	env := make(map[string]interface{})
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

func buildLimiter(components *bootstrap.Components) *ratelimit.RateLimiter {
	cfg := ratelimit.FromEnv()
	if !cfg.Enabled {
		return nil
	}
	if components.Redis == nil {
		components.Logger.Warn("rate limiting enabled but redis is not, execution starts are unthrottled")
		return nil
	}
	return ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), cfg, components.Logger)
}

func buildCredentials(components *bootstrap.Components) store.CredentialResolver {
	if components.Redis != nil {
		return store.NewRedisCredentials(components.Redis)
	}
	components.Logger.Warn("no redis configured, credential resolution uses the empty in-memory set")
	return store.NewMemoryCredentials(nil)
}
