// Package idempotency deduplicates client-submitted mutating requests.
// A key executes its operation at most once; later calls with the same key
// and fingerprint get the cached response, while the same key with a
// different fingerprint fails with IdempotencyKeyReuse.
//
// Only successful outcomes are cached.  A failed operation releases the
// key: business failures have no side effects, and infrastructure failures
// must stay retryable.
package idempotency

import (
	"context"
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/blake2b"
)

// Response is the cached outcome of an operation.
type Response struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Operation is the work guarded by a key.
type Operation func(ctx context.Context) (Response, error)

// Store executes operations at most once per key.  The returned bool is
// true when the response was replayed from an earlier execution.
type Store interface {
	Do(ctx context.Context, key, fingerprint string, op Operation) (Response, bool, error)
}

// Fingerprint hashes the canonical JSON encoding of parts with BLAKE2b-256.
// Struct field order is fixed by encoding/json, so equal payloads always
// hash equally.
func Fingerprint(parts ...any) string {
	h, _ := blake2b.New256(nil)
	enc := json.NewEncoder(h)
	for _, p := range parts {
		_ = enc.Encode(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Scope namespaces a client key by operation and caller so that two users
// choosing the same token never collide.
func Scope(operation, caller, key string) string {
	return operation + ":" + caller + ":" + key
}
