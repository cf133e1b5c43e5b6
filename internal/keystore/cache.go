package keystore

import (
	"bytes"
	"context"
	"maps"
	"time"

	"warden/internal/auth"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type cachedKey struct {
	user   auth.User
	secret []byte
}

// clone hands out copies so callers never share the cached entry.
func (k cachedKey) clone() (*auth.User, []byte, error) {
	user := k.user
	user.Attributes = maps.Clone(k.user.Attributes)
	return &user, bytes.Clone(k.secret), nil
}

// CachedResolver remembers keys found by the wrapped resolver for a limited
// time. Misses are never cached.
type CachedResolver struct {
	next  auth.KeyResolver
	cache *expirable.LRU[string, cachedKey]
}

// NewCachedResolver caches up to size keys for ttl each.
func NewCachedResolver(next auth.KeyResolver, size int, ttl time.Duration) *CachedResolver {
	return &CachedResolver{
		next:  next,
		cache: expirable.NewLRU[string, cachedKey](size, nil, ttl),
	}
}

// ResolveKey implements auth.KeyResolver.
func (c *CachedResolver) ResolveKey(ctx context.Context, publicKeyID string) (*auth.User, []byte, error) {
	if hit, ok := c.cache.Get(publicKeyID); ok {
		return hit.clone()
	}

	user, secret, err := c.next.ResolveKey(ctx, publicKeyID)
	if err != nil || user == nil || secret == nil {
		return user, secret, err
	}

	entry := cachedKey{user: *user, secret: secret}
	entry.user.Attributes = maps.Clone(user.Attributes)
	entry.secret = bytes.Clone(secret)
	c.cache.Add(publicKeyID, entry)
	return user, secret, nil
}

// Invalidate drops publicKeyID from the cache, e.g. after it was revoked.
func (c *CachedResolver) Invalidate(publicKeyID string) {
	c.cache.Remove(publicKeyID)
}
