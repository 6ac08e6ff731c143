package auth

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"
)

// CacheTTL is how long a fetched JWKS is trusted before a refetch is
// triggered (§4.7: "Keys are cached process-wide for 12 hours").
const CacheTTL = 12 * time.Hour

// fetchTimeout and connectTimeout bound the JWKS HTTP fetch (§5.3:
// "JWKS fetch has a 10 s total / 5 s connect timeout").
const fetchTimeout = 10 * time.Second
const connectTimeout = 5 * time.Second

// JWKSCache is the process-wide, singleflight-guarded JWKS cache
// described in §5.2 ("single shared slot with a refresh timestamp...a
// single-flight refresh avoids stampede").
type JWKSCache struct {
	uri    string
	client *http.Client
	group  singleflight.Group

	mu          sync.RWMutex
	keys        map[string]crypto.PublicKey
	lastRefresh time.Time
}

// NewJWKSCache builds an empty cache pointed at uri. The first call to
// Keys triggers the initial fetch.
func NewJWKSCache(uri string) *JWKSCache {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &JWKSCache{
		uri: uri,
		client: &http.Client{
			Timeout: fetchTimeout,
			Transport: &http.Transport{
				DialContext: dialer.DialContext,
			},
		},
	}
}

// Key returns the public key for kid, refreshing the cache first if it
// has expired or was never populated.
func (c *JWKSCache) Key(ctx context.Context, kid string) (crypto.PublicKey, error) {
	key, fresh := c.cachedKey(kid)
	if fresh {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		// A concurrent refresh may have succeeded in the meantime; use its
		// key if it now holds kid. Keys older than CacheTTL are never
		// served, so a failed refresh of an expired cache is an error.
		if key, ok := c.cachedKey(kid); ok {
			return key, nil
		}
		return nil, err
	}

	key, ok := c.cachedKey(kid)
	if !ok {
		return nil, ErrNoJWKSMatch
	}
	return key, nil
}

func (c *JWKSCache) cachedKey(kid string) (crypto.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.keys == nil || time.Since(c.lastRefresh) > CacheTTL {
		return nil, false
	}
	key, ok := c.keys[kid]
	return key, ok
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		// Re-check under the singleflight barrier: another caller may
		// have just refreshed while we were waiting to enter Do.
		c.mu.RLock()
		stillFresh := c.keys != nil && time.Since(c.lastRefresh) <= CacheTTL
		c.mu.RUnlock()
		if stillFresh {
			return nil, nil
		}

		keys, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.keys = keys
		c.lastRefresh = time.Now()
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

func (c *JWKSCache) fetch(ctx context.Context) (map[string]crypto.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.uri, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: build jwks request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: fetch jwks from %s: %w", c.uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: jwks request to %s returned status %d", c.uri, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("auth: read jwks response: %w", err)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("auth: parse jwks: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.KeyID == "" || !k.Valid() {
			continue
		}
		switch k.Key.(type) {
		case crypto.PublicKey:
			keys[k.KeyID] = k.Key
		}
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("auth: no usable keys found in jwks at %s", c.uri)
	}
	return keys, nil
}
