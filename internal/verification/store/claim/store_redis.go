package claim

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"trustgate/internal/verification/models"
	id "trustgate/pkg/domain"
	"trustgate/pkg/platform/sentinel"
)

const claimKeyPrefix = "claim:req:"

// acquireScript takes the lease when it is free or already held by the
// caller (refreshing the TTL), and fails when another reviewer holds it.
// Atomicity of the check-and-set is what makes racing claims safe across
// instances.
var acquireScript = redis.NewScript(`
local holder = redis.call("GET", KEYS[1])
if holder == false then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
if holder == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// releaseScript deletes the lease only when the caller holds it.
var releaseScript = redis.NewScript(`
local holder = redis.call("GET", KEYS[1])
if holder == false then
	return -1
end
if holder ~= ARGV[1] then
	return 0
end
redis.call("DEL", KEYS[1])
return 1
`)

// RedisStore is a Redis-backed lease store. Lease expiry is delegated to
// key TTLs, so expired claims vanish without any reconciliation pass.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Acquire(ctx context.Context, requestID id.RequestID, reviewerID id.ReviewerID, ttl time.Duration) (*models.ReviewClaim, error) {
	key := claimKeyPrefix + requestID.String()

	acquired, err := acquireScript.Run(ctx, s.client, []string{key}, reviewerID.String(), ttl.Milliseconds()).Int()
	if err != nil {
		return nil, err
	}
	if acquired == 0 {
		return nil, sentinel.ErrConflict
	}

	now := time.Now()
	return &models.ReviewClaim{
		RequestID:  requestID,
		ReviewerID: reviewerID,
		ClaimedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}, nil
}

func (s *RedisStore) Get(ctx context.Context, requestID id.RequestID) (*models.ReviewClaim, error) {
	key := claimKeyPrefix + requestID.String()

	holder, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	reviewerID, err := id.ParseReviewerID(holder)
	if err != nil {
		return nil, err
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		// Key expired between GET and PTTL.
		return nil, nil
	}

	return &models.ReviewClaim{
		RequestID:  requestID,
		ReviewerID: reviewerID,
		ExpiresAt:  time.Now().Add(ttl),
	}, nil
}

func (s *RedisStore) Release(ctx context.Context, requestID id.RequestID, reviewerID id.ReviewerID) error {
	key := claimKeyPrefix + requestID.String()

	released, err := releaseScript.Run(ctx, s.client, []string{key}, reviewerID.String()).Int()
	if err != nil {
		return err
	}
	switch released {
	case -1:
		return sentinel.ErrNotFound
	case 0:
		return sentinel.ErrConflict
	}
	return nil
}
