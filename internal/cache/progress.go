// Package cache mirrors live job progress into Redis so that processes
// other than the server can read it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"you-hoard/internal/jobs"
	"you-hoard/internal/model"
)

const keyPrefix = "you-hoard:progress:"

const DefaultTTL = 10 * time.Minute

// ProgressKey is the Redis key holding one job's progress snapshot.
func ProgressKey(jobID string) string {
	return keyPrefix + jobID
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewClient builds a client and pings it once.
func NewClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return client, nil
}

// ProgressSink stores snapshots as JSON strings with a TTL, so entries of
// a crashed server expire on their own.
type ProgressSink struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ jobs.ProgressSink = (*ProgressSink)(nil)

func NewProgressSink(client redis.UniversalClient, ttl time.Duration) *ProgressSink {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ProgressSink{client: client, ttl: ttl}
}

func (s *ProgressSink) Publish(ctx context.Context, p model.DownloadProgress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, ProgressKey(p.JobID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("publish progress %s: %w", p.JobID, err)
	}
	return nil
}

func (s *ProgressSink) Remove(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, ProgressKey(jobID)).Err(); err != nil {
		return fmt.Errorf("remove progress %s: %w", jobID, err)
	}
	return nil
}

// Get reports false when no snapshot exists for jobID.
func (s *ProgressSink) Get(ctx context.Context, jobID string) (model.DownloadProgress, bool, error) {
	data, err := s.client.Get(ctx, ProgressKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.DownloadProgress{}, false, nil
	}
	if err != nil {
		return model.DownloadProgress{}, false, fmt.Errorf("read progress %s: %w", jobID, err)
	}
	var p model.DownloadProgress
	if err := json.Unmarshal(data, &p); err != nil {
		return model.DownloadProgress{}, false, fmt.Errorf("decode progress %s: %w", jobID, err)
	}
	return p, true, nil
}
