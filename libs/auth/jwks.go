package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

var ErrKeyNotFound = errors.New("jwks key not found")

// keyDoc is the subset of RFC 7517 fields an RS256 key needs.
type keyDoc struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSClient resolves kids against a remote key set. Keys are cached for ttl;
// an unknown kid forces a refetch at most once per minInterval. When the
// endpoint is down the last good set keeps serving.
type JWKSClient struct {
	url         string
	ttl         time.Duration
	minInterval time.Duration
	client      *http.Client

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func NewJWKSClient(url string, ttl time.Duration) *JWKSClient {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &JWKSClient{
		url:         url,
		ttl:         ttl,
		minInterval: 10 * time.Second,
		client:      &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *JWKSClient) lookup(kid string) (*rsa.PublicKey, bool, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[kid]
	return key, ok, c.fetchedAt
}

func (c *JWKSClient) Get(kid string) (*rsa.PublicKey, error) {
	key, ok, fetchedAt := c.lookup(kid)
	age := time.Since(fetchedAt)
	if ok && age < c.ttl {
		return key, nil
	}
	if !ok && !fetchedAt.IsZero() && age < c.minInterval {
		return nil, ErrKeyNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	set, err := c.fetch()
	if err != nil {
		if key, ok := c.keys[kid]; ok {
			return key, nil
		}
		return nil, err
	}
	c.keys = set
	c.fetchedAt = time.Now()

	if key, ok := set[kid]; ok {
		return key, nil
	}
	return nil, ErrKeyNotFound
}

func (c *JWKSClient) fetch() (map[string]*rsa.PublicKey, error) {
	resp, err := c.client.Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: unexpected status %s", resp.Status)
	}

	var doc struct {
		Keys []keyDoc `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	set := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		if pub, err := k.rsaKey(); err == nil {
			set[k.Kid] = pub
		}
	}
	return set, nil
}

func (k keyDoc) rsaKey() (*rsa.PublicKey, error) {
	n, err := b64Int(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := b64Int(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 {
		return nil, errors.New("exponent out of range")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func b64Int(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("empty")
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}
