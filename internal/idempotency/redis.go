package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/badminton-sessions/internal/model"
)

const (
	statePending = "pending"
	stateDone    = "done"
)

// record is the value stored under each key.  Pending records carry the
// owner token and expire after the lease; done records never expire.
type record struct {
	State       string    `json:"state"`
	Fingerprint string    `json:"fingerprint"`
	Owner       string    `json:"owner,omitempty"`
	Response    Response  `json:"response"`
	CreatedAt   time.Time `json:"created_at"`
}

// releaseScript deletes a pending record only if the caller still owns it.
var releaseScript = redis.NewScript(`
    local v = redis.call('GET', KEYS[1])
    if not v then return 0 end
    local rec = cjson.decode(v)
    if rec.state == 'pending' and rec.owner == ARGV[1] then
        return redis.call('DEL', KEYS[1])
    end
    return 0
`)

// Redis is a Store shared by every instance talking to the same Redis.
type Redis struct {
	rdb    *redis.Client
	prefix string
	lease  time.Duration
	wait   time.Duration
}

// NewRedis returns a Redis store.  lease bounds how long a crashed
// executor can keep a key pending; wait bounds how long concurrent callers
// poll for the first execution to finish.
func NewRedis(rdb *redis.Client, prefix string, lease, wait time.Duration) *Redis {
	if prefix == "" {
		prefix = "idem"
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &Redis{rdb: rdb, prefix: prefix, lease: lease, wait: wait}
}

// Do implements Store.
func (s *Redis) Do(ctx context.Context, key, fingerprint string, op Operation) (Response, bool, error) {
	k := s.prefix + ":" + key
	deadline := time.Now().Add(s.wait)
	backoff := 20 * time.Millisecond
	for {
		owner := uuid.NewString()
		pending, _ := json.Marshal(record{State: statePending, Fingerprint: fingerprint, Owner: owner, CreatedAt: time.Now().UTC()})
		acquired, err := s.rdb.SetNX(ctx, k, pending, s.lease).Result()
		if err != nil {
			return Response{}, false, fmt.Errorf("idempotency: setnx %s: %w", k, err)
		}
		if acquired {
			resp, err := s.execute(ctx, k, owner, fingerprint, op)
			return resp, false, err
		}

		raw, err := s.rdb.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // released between SETNX and GET
		}
		if err != nil {
			return Response{}, false, fmt.Errorf("idempotency: get %s: %w", k, err)
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return Response{}, false, fmt.Errorf("idempotency: decode %s: %w", k, err)
		}
		if rec.Fingerprint != fingerprint {
			return Response{}, false, model.Errorf(model.KindIdempotencyKeyReuse, "idempotency key was already used for a different request")
		}
		if rec.State == stateDone {
			return rec.Response, true, nil
		}
		if time.Now().After(deadline) {
			return Response{}, false, model.Errorf(model.KindConcurrencyTimeout, "request with the same idempotency key is still in progress")
		}
		select {
		case <-ctx.Done():
			return Response{}, false, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
}

func (s *Redis) execute(ctx context.Context, k, owner, fingerprint string, op Operation) (Response, error) {
	completed := false
	defer func() {
		if !completed {
			if err := releaseScript.Run(context.Background(), s.rdb, []string{k}, owner).Err(); err != nil {
				log.Printf("idempotency: release %s failed: %v", k, err)
			}
		}
	}()
	resp, err := op(ctx)
	if err != nil {
		return Response{}, err
	}
	completed = true
	done, _ := json.Marshal(record{State: stateDone, Fingerprint: fingerprint, Response: resp, CreatedAt: time.Now().UTC()})
	if err := s.rdb.Set(context.Background(), k, done, 0).Err(); err != nil {
		// the operation already happened; a retry will wait out the lease
		// and then run again, so surface the failure loudly
		log.Printf("idempotency: store result for %s failed: %v", k, err)
	}
	return resp, nil
}
