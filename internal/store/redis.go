package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ricesearch/rice-eval/internal/judge"
)

// Redis keeps judgments in one hash, field = pair key, value = JSON.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis connects to url and checks the connection.
func NewRedis(ctx context.Context, url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	if prefix == "" {
		prefix = "rice-eval"
	}
	return &Redis{client: client, key: prefix + ":judgments"}, nil
}

func (r *Redis) Put(ctx context.Context, j judge.Judgment) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshaling judgment: %w", err)
	}
	if err := r.client.HSet(ctx, r.key, Key(j.QueryText, j.DocumentID), data).Err(); err != nil {
		return fmt.Errorf("saving judgment: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, query, documentID string) (judge.Judgment, error) {
	data, err := r.client.HGet(ctx, r.key, Key(query, documentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return judge.Judgment{}, notFound(query, documentID)
		}
		return judge.Judgment{}, fmt.Errorf("loading judgment: %w", err)
	}

	var j judge.Judgment
	if err := json.Unmarshal(data, &j); err != nil {
		return judge.Judgment{}, fmt.Errorf("decoding judgment: %w", err)
	}
	return j, nil
}

func (r *Redis) List(ctx context.Context) ([]judge.Judgment, error) {
	values, err := r.client.HVals(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("listing judgments: %w", err)
	}

	out := make([]judge.Judgment, 0, len(values))
	for _, v := range values {
		var j judge.Judgment
		if err := json.Unmarshal([]byte(v), &j); err != nil {
			// Skip invalid entries
			continue
		}
		out = append(out, j)
	}
	sortJudgments(out)
	return out, nil
}

// Clear removes every stored judgment.
func (r *Redis) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
