package client

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/electra-analytics/electra/internal/credentials"
	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
	"github.com/rs/zerolog/log"
)

// ownerFile records, next to a disk cache, the fingerprint of the bearer token
// its entries were fetched with.
const ownerFile = ".owner"

// CachingTransport caches responses with httpcache, scoped to one bearer token.
// httpcache keys entries by URL only, so every entry is purged as soon as a
// request carries a different Authorization header.
type CachingTransport struct {
	cache *trackedCache
	next  *httpcache.Transport
	dir   string

	mu    sync.Mutex
	owner string
}

var _ http.RoundTripper = (*CachingTransport)(nil)

// NewCachingTransport wraps base with a response cache. An empty cacheDir keeps
// the cache in memory.
func NewCachingTransport(base http.RoundTripper, cacheDir string) *CachingTransport {
	var (
		backing httpcache.Cache
		owner   string
	)
	if cacheDir == "" {
		backing = httpcache.NewMemoryCache()
	} else {
		backing = diskcache.New(cacheDir)
		if b, err := os.ReadFile(filepath.Join(cacheDir, ownerFile)); err == nil {
			owner = strings.TrimSpace(string(b))
		}
	}

	cache := &trackedCache{Cache: backing, keys: make(map[string]struct{})}
	next := httpcache.NewTransport(cache)
	next.Transport = base

	return &CachingTransport{cache: cache, next: next, dir: cacheDir, owner: owner}
}

// RoundTrip implements http.RoundTripper.
func (t *CachingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	owner := credentials.Fingerprint(req.Header.Get("Authorization"))

	t.mu.Lock()
	if owner != t.owner {
		t.reset(owner)
	}
	t.mu.Unlock()

	return t.next.RoundTrip(req)
}

// Purge drops every cached response.
func (t *CachingTransport) Purge() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset("")
}

// reset purges the cache and hands it to owner. Callers hold t.mu.
func (t *CachingTransport) reset(owner string) {
	n := t.cache.purge()

	if t.dir != "" {
		if err := clearDir(t.dir); err != nil {
			log.Warn().Err(err).Str("dir", t.dir).Msg("failed to clear response cache directory")
		}
		if owner != "" {
			if err := os.WriteFile(filepath.Join(t.dir, ownerFile), []byte(owner), 0o600); err != nil {
				log.Warn().Err(err).Str("dir", t.dir).Msg("failed to record response cache owner")
			}
		}
	}

	if n > 0 {
		log.Debug().Int("entries", n).Msg("credentials changed, purged response cache")
	}
	t.owner = owner
}

// IsCached reports whether resp was served from the cache.
func IsCached(resp *http.Response) bool {
	return resp.Header.Get(httpcache.XFromCache) == "1"
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		errs = append(errs, os.RemoveAll(filepath.Join(dir, e.Name())))
	}
	return errors.Join(errs...)
}

// trackedCache remembers the keys it served or stored so they can all be deleted.
type trackedCache struct {
	httpcache.Cache

	mu   sync.Mutex
	keys map[string]struct{}
}

func (c *trackedCache) Get(key string) ([]byte, bool) {
	value, ok := c.Cache.Get(key)
	if ok {
		c.track(key)
	}
	return value, ok
}

func (c *trackedCache) Set(key string, value []byte) {
	c.track(key)
	c.Cache.Set(key, value)
}

func (c *trackedCache) Delete(key string) {
	c.mu.Lock()
	delete(c.keys, key)
	c.mu.Unlock()
	c.Cache.Delete(key)
}

func (c *trackedCache) track(key string) {
	c.mu.Lock()
	c.keys[key] = struct{}{}
	c.mu.Unlock()
}

func (c *trackedCache) purge() int {
	c.mu.Lock()
	keys := c.keys
	c.keys = make(map[string]struct{})
	c.mu.Unlock()

	for key := range keys {
		c.Cache.Delete(key)
	}
	return len(keys)
}
