package token

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// jwksCacheTTL is how long a fetched key set is served before a
// refresh. Provider key rotation is slow; an hour matches the
// provider's own cache guidance.
const jwksCacheTTL = time.Hour

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

// keyCache fetches and caches the provider's published RSA key set.
// It is the verifier's only shared state; reads refresh lazily and a
// failed refresh fails closed rather than serving expired keys.
type keyCache struct {
	url    string
	client *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func newKeyCache(url string, client *http.Client) *keyCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &keyCache{url: url, client: client}
}

// Key returns the public key for a key ID, refreshing the set if the
// cache is stale or the ID is unknown.
func (c *keyCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.fetchedAt) < jwksCacheTTL {
		if k, ok := c.keys[kid]; ok {
			return k, nil
		}
	}

	if err := c.refreshLocked(ctx); err != nil {
		return nil, err
	}
	k, ok := c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("jwks: no key with id %q", kid)
	}
	return k, nil
}

func (c *keyCache) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("jwks: building request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("jwks: fetching %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks: fetch returned http %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("jwks: decoding document: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaKeyFromJWK(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("jwks: document at %s contains no usable RSA keys", c.url)
	}

	c.keys = keys
	c.fetchedAt = time.Now()
	return nil
}

func rsaKeyFromJWK(k jwk) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("jwks: decoding modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("jwks: decoding exponent: %w", err)
	}

	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	if e <= 1 {
		return nil, fmt.Errorf("jwks: invalid public exponent %d", e)
	}

	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}
