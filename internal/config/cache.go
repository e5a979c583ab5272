package config

import (
	"strings"
	"time"
)

// CacheConfig configures the Redis response cache for session listings and
// seat counts.  Cached bodies are keyed by a generation that the engine
// bumps on every session change, so a registration, cancellation or promotion makes stale entries
// unreachable at once; TTL only bounds how long unreachable entries occupy
// Redis.  The 2s default keeps that footprint small during a registration
// rush, when every accepted request bumps a generation.
type CacheConfig struct {
	Enabled      bool
	Methods      map[string]bool // upper-cased HTTP methods, GET by default
	TTL          time.Duration
	KeyStrategy  string // route_query, route, method_route or method_route_query
	Prefix       string
	MaxBodyBytes int // larger responses are served but not stored
}

// LoadCacheConfig reads the CACHE_* variables.  A non-positive TTL disables
// the cache.
func LoadCacheConfig() CacheConfig {
	c := CacheConfig{
		Enabled:      envBool("CACHE_ENABLED", true),
		Methods:      parseMethods(envStr("CACHE_METHODS", "GET")),
		TTL:          envDur("CACHE_TTL", 2*time.Second),
		KeyStrategy:  envStr("CACHE_KEY_STRATEGY", "route_query"),
		Prefix:       envStr("CACHE_PREFIX", "cache"),
		MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 1<<20),
	}
	if c.TTL <= 0 || len(c.Methods) == 0 {
		c.Enabled = false
	}
	return c
}

func parseMethods(s string) map[string]bool {
	m := map[string]bool{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(strings.ToUpper(p))
		if p != "" {
			m[p] = true
		}
	}
	return m
}
