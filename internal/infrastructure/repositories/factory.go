package repositories

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tvlink/internal/core/ports"
	"tvlink/internal/infrastructure/repositories/memory"
	redisrepo "tvlink/internal/infrastructure/repositories/redis"
	"tvlink/pkg/config"
)

// RepositoryFactory creates stores with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	// Try to connect to Redis if enabled
	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory store",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis candidate store")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory candidate store")
	}

	return factory, nil
}

// CreateCandidateStore creates a candidate store (Redis or memory with fallback)
func (f *RepositoryFactory) CreateCandidateStore() ports.CandidateStore {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisCandidateStore(f.redisClient)
	}
	return memory.NewMemoryCandidateStore()
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
