// Package auth validates API keys for the HTTP API.
package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fleet-monitor/sentinel/internal/clock"
	"fleet-monitor/sentinel/internal/logging"
)

// KeyLookup resolves an API key to its client id; "" means unknown.
type KeyLookup interface {
	GetAPIKey(ctx context.Context, apiKey string) (string, error)
}

type cacheEntry struct {
	clientID  string
	expiresAt time.Time
}

// Authenticator checks static keys first, then a local cache, then the
// shared key store.
type Authenticator struct {
	localCache sync.Map
	lookup     KeyLookup
	ttl        time.Duration
	staticKeys map[string]bool
	clock      clock.Clock
	log        *slog.Logger
}

func NewAuthenticator(staticKeys []string, ttl time.Duration, lookup KeyLookup, c clock.Clock, log *slog.Logger) *Authenticator {
	keys := make(map[string]bool, len(staticKeys))
	for _, k := range staticKeys {
		if k != "" {
			keys[k] = true
		}
	}

	return &Authenticator{
		lookup:     lookup,
		ttl:        ttl,
		staticKeys: keys,
		clock:      c,
		log:        log,
	}
}

func (a *Authenticator) Validate(ctx context.Context, apiKey string) bool {
	if a.staticKeys[apiKey] {
		return true
	}

	if raw, ok := a.localCache.Load(apiKey); ok {
		entry := raw.(cacheEntry)
		if a.clock.Now().Before(entry.expiresAt) {
			return true
		}
		a.localCache.Delete(apiKey)
	}

	if a.lookup == nil {
		return false
	}
	clientID, err := a.lookup.GetAPIKey(ctx, apiKey)
	if err != nil {
		a.log.Warn("api key lookup failed", logging.Err(err))
		return false
	}
	if clientID == "" {
		return false
	}

	a.localCache.Store(apiKey, cacheEntry{
		clientID:  clientID,
		expiresAt: a.clock.Now().Add(a.ttl),
	})

	return true
}
