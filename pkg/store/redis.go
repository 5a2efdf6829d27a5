package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/devicelab-dev/screencast-runner/pkg/flow"
)

// DefaultRedisPrefix namespaces the keys written by the redis store.
const DefaultRedisPrefix = "screencast"

// Redis stores each flow as a JSON string under <prefix>:flow:<id> and
// keeps insertion order in the sorted set <prefix>:flows.
type Redis struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to the server at url (redis://[:password@]host:port/db)
// and checks it is reachable.
func OpenRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedis(client, DefaultRedisPrefix), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (s *Redis) indexKey() string        { return s.prefix + ":flows" }
func (s *Redis) flowKey(id string) string { return s.prefix + ":flow:" + id }
func (s *Redis) seqKey() string           { return s.prefix + ":seq" }

// List returns all flows in insertion order.
func (s *Redis) List(ctx context.Context) ([]flow.Flow, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	if len(ids) == 0 {
		return []flow.Flow{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.flowKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load flows: %w", err)
	}

	flows := make([]flow.Flow, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry without a body; deleted concurrently.
			continue
		}
		f, err := decodeFlow(raw)
		if err != nil {
			return nil, fmt.Errorf("decode flow %s: %w", ids[i], err)
		}
		flows = append(flows, *f)
	}
	return flows, nil
}

// Get returns the flow.
func (s *Redis) Get(ctx context.Context, id string) (*flow.Flow, error) {
	raw, err := s.client.Get(ctx, s.flowKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flow %s: %w", id, err)
	}
	f, err := decodeFlow(raw)
	if err != nil {
		return nil, fmt.Errorf("decode flow %s: %w", id, err)
	}
	return f, nil
}

// Save creates or replaces the flow. Replacing keeps its position.
func (s *Redis) Save(ctx context.Context, f *flow.Flow) error {
	if err := checkID(f); err != nil {
		return err
	}
	data, err := json.Marshal(clone(f))
	if err != nil {
		return fmt.Errorf("encode flow %s: %w", f.ID, err)
	}

	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("save flow %s: %w", f.ID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.flowKey(f.ID), data, 0)
		pipe.ZAddNX(ctx, s.indexKey(), &redis.Z{
			Score:  float64(seq),
			Member: f.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save flow %s: %w", f.ID, err)
	}
	return nil
}

// Delete removes the flow.
func (s *Redis) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.flowKey(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete flow %s: %w", id, err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the client.
func (s *Redis) Close() error {
	return s.client.Close()
}

func decodeFlow(raw string) (*flow.Flow, error) {
	var f flow.Flow
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, err
	}
	return &f, nil
}
