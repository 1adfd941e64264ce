package client

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

// Get returns the value of key; found is false when the key does not exist.
func (c *Client) Get(ctx context.Context, key string) (value string, found bool, err error) {
	return c.doOptString(ctx, respio.NewCommand("GET", key))
}

// Set stores value. A positive ttl makes it SETEX, or PSETEX when ttl is
// not a whole number of seconds.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var cmd *respio.Command
	switch {
	case ttl <= 0:
		cmd = respio.NewCommand("SET", key, value)
	case ttl%time.Second == 0:
		cmd = respio.NewCommand("SETEX", key).AppendInt(int64(ttl / time.Second)).AppendArgs(value)
	default:
		cmd = respio.NewCommand("PSETEX", key).AppendInt(ttl.Milliseconds()).AppendArgs(value)
	}
	return c.doOK(ctx, cmd)
}

// SetNX reports whether the key was set.
func (c *Client) SetNX(ctx context.Context, key, value string) (bool, error) {
	return c.doBool(ctx, respio.NewCommand("SETNX", key, value))
}

// GetSet stores value and returns the previous one, if any.
func (c *Client) GetSet(ctx context.Context, key, value string) (old string, found bool, err error) {
	return c.doOptString(ctx, respio.NewCommand("GETSET", key, value))
}

// MSet writes all pairs in one command. Keys are sent in sorted order.
func (c *Client) MSet(ctx context.Context, pairs map[string]string) error {
	if len(pairs) == 0 {
		return nil
	}
	cmd := respio.NewCommand("MSET")
	for _, k := range sortedKeys(pairs) {
		cmd.AppendArgs(k, pairs[k])
	}
	return c.doOK(ctx, cmd)
}

// MGet returns the values of keys that exist and, separately, the keys that
// do not. A reply whose length differs from len(keys) is an error.
func (c *Client) MGet(ctx context.Context, keys ...string) (values map[string]string, missing []string, err error) {
	pkt, err := c.do(ctx, respio.NewCommand("MGET", keys...))
	if err != nil {
		return nil, nil, err
	}
	items, err := toArray("MGET", pkt)
	if err != nil {
		return nil, nil, err
	}
	if len(items) != len(keys) {
		return nil, nil, fmt.Errorf("%w: MGET of %d keys returned %d elements", ErrShapeMismatch, len(keys), len(items))
	}
	values = make(map[string]string, len(keys))
	for i, item := range items {
		v, ok, err := toOptString("MGET", item)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			missing = append(missing, keys[i])
			continue
		}
		values[keys[i]] = v
	}
	return values, missing, nil
}

func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return c.doInt(ctx, respio.NewCommand("INCR", key))
}

func (c *Client) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return c.doInt(ctx, respio.NewCommand("INCRBY", key).AppendInt(delta))
}

func (c *Client) Decr(ctx context.Context, key string) (int64, error) {
	return c.doInt(ctx, respio.NewCommand("DECR", key))
}

func sortedKeys(m map[string]string) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
