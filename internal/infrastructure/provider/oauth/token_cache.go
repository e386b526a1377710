package oauth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Token is a cached OAuth bearer token.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenSource fetches a fresh token from the rail.
type TokenSource func(ctx context.Context) (Token, error)

// TokenCache is a TTL cache for OAuth client-credentials tokens, shared
// across concurrent initiations. A miss triggers exactly one outstanding
// fetch per key; other callers wait for its result instead of issuing their
// own. Tokens are treated as expired a safety margin before the provider's
// stated expiry so an in-flight request never carries a token that dies
// mid-call.
type TokenCache struct {
	mu     sync.RWMutex
	tokens map[string]Token
	group  singleflight.Group
	margin time.Duration
}

// DefaultExpiryMargin is subtracted from every token's stated lifetime.
const DefaultExpiryMargin = 60 * time.Second

// NewTokenCache creates a token cache. A non-positive margin falls back to
// DefaultExpiryMargin.
func NewTokenCache(margin time.Duration) *TokenCache {
	if margin <= 0 {
		margin = DefaultExpiryMargin
	}
	return &TokenCache{
		tokens: make(map[string]Token),
		margin: margin,
	}
}

// Get returns a valid cached token for key, fetching one via source when
// the cache is cold or the cached token is inside the expiry margin.
func (c *TokenCache) Get(ctx context.Context, key string, source TokenSource) (string, error) {
	c.mu.RLock()
	tok, ok := c.tokens[key]
	c.mu.RUnlock()

	if ok && time.Until(tok.ExpiresAt) > c.margin {
		return tok.Value, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may have already
		// refreshed while this one was waiting to enter.
		c.mu.RLock()
		cur, ok := c.tokens[key]
		c.mu.RUnlock()
		if ok && time.Until(cur.ExpiresAt) > c.margin {
			return cur.Value, nil
		}

		fresh, err := source(ctx)
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		c.tokens[key] = fresh
		c.mu.Unlock()

		return fresh.Value, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// Invalidate drops the cached token for key, forcing the next Get to fetch.
func (c *TokenCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.tokens, key)
	c.mu.Unlock()
}
