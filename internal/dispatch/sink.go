// internal/dispatch/sink.go
package dispatch

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const DefaultExhaustedKey = "bloodlink:dispatch:exhausted"

// RedisSink keeps exhausted jobs, newest first, in a capped Redis list.
type RedisSink struct {
	client redis.Cmdable
	key    string
	maxLen int64
}

func NewRedisSink(client redis.Cmdable, key string, maxLen int64) *RedisSink {
	if key == "" {
		key = DefaultExhaustedKey
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisSink{client: client, key: key, maxLen: maxLen}
}

func (s *RedisSink) Record(ctx context.Context, job Job) error {
	payload, err := EncodeJob(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.key, payload)
		pipe.LTrim(ctx, s.key, 0, s.maxLen-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record exhausted job %s: %w", job.ID, err)
	}
	return nil
}

// List returns up to n recorded jobs, newest first.
func (s *RedisSink) List(ctx context.Context, n int64) ([]Job, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, s.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read exhausted jobs: %w", err)
	}

	jobs := make([]Job, 0, len(raw))
	for _, r := range raw {
		j, err := DecodeJob([]byte(r))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, nil
}

var _ ExhaustionSink = (*RedisSink)(nil)
