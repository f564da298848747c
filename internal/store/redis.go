package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signalsfoundry/araim-monitor/core"
)

// Redis keeps the exclusion state under "<prefix>:state" as JSON and
// mirrors the excluded satellites into the hash "<prefix>:excluded" for
// operators. Both keys change in one MULTI/EXEC.
type Redis struct {
	client      *redis.Client
	stateKey    string
	excludedKey string
	ttl         time.Duration
}

// NewRedis connects to url (redis://...) and verifies the connection.
func NewRedis(ctx context.Context, url, prefix string, ttl time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: redis url: %v", core.ErrConfig, err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisWithClient(client, prefix, ttl), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "araim"
	}
	return &Redis{
		client:      client,
		stateKey:    prefix + ":state",
		excludedKey: prefix + ":excluded",
		ttl:         ttl,
	}
}

// Close releases the client.
func (r *Redis) Close() error { return r.client.Close() }

// Load returns the committed state, or nil when none exists.
func (r *Redis) Load(ctx context.Context) (*core.ExclusionState, error) {
	return load(ctx, r.client, r.stateKey)
}

func load(ctx context.Context, c redis.Cmdable, key string) (*core.ExclusionState, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	state := core.NewExclusionState()
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, fmt.Errorf("decode exclusion state: %w", err)
	}
	if state.Records == nil {
		state.Records = core.NewExclusionState().Records
	}
	return state, nil
}

// Commit writes state under WATCH so a concurrent writer cannot interleave.
func (r *Redis) Commit(ctx context.Context, state *core.ExclusionState) error {
	if state == nil {
		return fmt.Errorf("commit: nil exclusion state")
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode exclusion state: %w", err)
	}
	excluded := make(map[string]any)
	for id, rec := range state.Records {
		if rec.Status != core.StatusActive {
			excluded[string(id)] = rec.Status.String()
		}
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		prev, err := load(ctx, tx, r.stateKey)
		if err != nil {
			return err
		}
		if err := checkAdvance(prev, state); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.stateKey, payload, r.ttl)
			pipe.Del(ctx, r.excludedKey)
			if len(excluded) > 0 {
				pipe.HSet(ctx, r.excludedKey, excluded)
				if r.ttl > 0 {
					pipe.Expire(ctx, r.excludedKey, r.ttl)
				}
			}
			return nil
		})
		return err
	}, r.stateKey)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: concurrent exclusion state update", core.ErrStaleEpoch)
	}
	return err
}
