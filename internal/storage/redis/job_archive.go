// Package redisstore archives finished crawl jobs in a Redis hash.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

// Config selects the Redis server and key layout.
type Config struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type keyValueClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// JobArchive stores each job as one JSON value under prefix+id.
type JobArchive struct {
	client keyValueClient
	prefix string
	ttl    time.Duration
}

// New connects to Redis using cfg.
func New(cfg Config) (*JobArchive, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("archive.redis.addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(client keyValueClient, prefix string, ttl time.Duration) *JobArchive {
	if prefix == "" {
		prefix = "schemacrawler:job:"
	}
	return &JobArchive{client: client, prefix: prefix, ttl: ttl}
}

func (a *JobArchive) key(jobID string) string {
	return a.prefix + jobID
}

// SaveJob overwrites the job snapshot. A zero TTL keeps it forever.
func (a *JobArchive) SaveJob(ctx context.Context, job crawler.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := a.client.Set(ctx, a.key(job.ID), payload, a.ttl).Err(); err != nil {
		return fmt.Errorf("redis set job %s: %w", job.ID, err)
	}
	return nil
}

// LoadJob reads the job snapshot or returns crawler.ErrJobNotFound.
func (a *JobArchive) LoadJob(ctx context.Context, jobID string) (crawler.Job, error) {
	val, err := a.client.Get(ctx, a.key(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return crawler.Job{}, fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
		}
		return crawler.Job{}, fmt.Errorf("redis get job %s: %w", jobID, err)
	}
	var job crawler.Job
	if err := json.Unmarshal(val, &job); err != nil {
		return crawler.Job{}, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return job, nil
}

// DeleteJob removes the snapshot.
func (a *JobArchive) DeleteJob(ctx context.Context, jobID string) error {
	n, err := a.client.Del(ctx, a.key(jobID)).Result()
	if err != nil {
		return fmt.Errorf("redis del job %s: %w", jobID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
	}
	return nil
}

// Close closes the Redis client.
func (a *JobArchive) Close() error {
	if err := a.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
