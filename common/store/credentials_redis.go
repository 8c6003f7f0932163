package store

import (
	"context"
	"fmt"

	rediscommon "github.com/goranjovic55/NOP-sub008/common/redis"
)

// RedisCredentials resolves credentials from redis hashes keyed cred:<id>.
// The hash fields mirror the Credential struct (username, password, private_key);
// decryption happens upstream of the hash, the engine only reads plaintext fields.
type RedisCredentials struct {
	redis *rediscommon.Client
}

// NewRedisCredentials creates a redis-backed credential resolver.
func NewRedisCredentials(client *rediscommon.Client) *RedisCredentials {
	return &RedisCredentials{redis: client}
}

func credentialKey(id string) string {
	return fmt.Sprintf("cred:%s", id)
}

// Resolve returns the credential stored under cred:<id>.
func (r *RedisCredentials) Resolve(ctx context.Context, credentialID string) (*Credential, error) {
	fields, err := r.redis.GetAllHash(ctx, credentialKey(credentialID))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credential %s: %w", credentialID, err)
	}
	if len(fields) == 0 {
		return nil, ErrCredentialNotFound
	}

	return &Credential{
		Username:   fields["username"],
		Password:   fields["password"],
		PrivateKey: fields["private_key"],
	}, nil
}
