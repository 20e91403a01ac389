package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"tvlink/internal/core/domain"
	"tvlink/internal/core/ports"
)

// RedisCandidateStore persists remembered receivers so quick scans survive
// process restarts.
type RedisCandidateStore struct {
	client *redis.Client
	prefix string
}

func NewRedisCandidateStore(client *redis.Client) ports.CandidateStore {
	return &RedisCandidateStore{
		client: client,
		prefix: "tvlink:device:",
	}
}

func (r *RedisCandidateStore) deviceKey(id domain.CandidateID) string {
	return r.prefix + string(id)
}

func (r *RedisCandidateStore) indexKey() string {
	return "tvlink:devices"
}

func (r *RedisCandidateStore) Save(ctx context.Context, c *domain.Candidate) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal candidate: %w", err)
	}

	key := r.deviceKey(c.ID)
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set candidate in Redis: %w", err)
	}

	if err := r.client.SAdd(ctx, r.indexKey(), string(c.ID)).Err(); err != nil {
		return fmt.Errorf("failed to index candidate: %w", err)
	}
	return nil
}

func (r *RedisCandidateStore) List(ctx context.Context) ([]*domain.Candidate, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}

	candidates := make([]*domain.Candidate, 0, len(ids))
	for _, id := range ids {
		data, err := r.client.Get(ctx, r.deviceKey(domain.CandidateID(id))).Result()
		if err == redis.Nil {
			// Index drift; drop the dangling reference.
			r.client.SRem(ctx, r.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get candidate %s: %w", id, err)
		}

		var c domain.Candidate
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal candidate %s: %w", id, err)
		}
		candidates = append(candidates, &c)
	}

	return candidates, nil
}

func (r *RedisCandidateStore) Remove(ctx context.Context, id domain.CandidateID) error {
	if err := r.client.Del(ctx, r.deviceKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete candidate: %w", err)
	}
	if err := r.client.SRem(ctx, r.indexKey(), string(id)).Err(); err != nil {
		return fmt.Errorf("failed to unindex candidate: %w", err)
	}
	return nil
}
