package client

import (
	"context"
	"time"

	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

// Del removes keys and returns how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	return c.doInt(ctx, respio.NewCommand("DEL", keys...))
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	return c.doBool(ctx, respio.NewCommand("EXISTS", key))
}

// Expire sets a timeout in whole seconds; false means the key does not exist.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.doBool(ctx, respio.NewCommand("EXPIRE", key).AppendInt(int64(ttl/time.Second)))
}

// Keys lists keys matching pattern. found is false when nothing matches.
func (c *Client) Keys(ctx context.Context, pattern string) (keys []string, found bool, err error) {
	keys, err = c.doStrings(ctx, respio.NewCommand("KEYS", pattern))
	if err != nil {
		return nil, false, err
	}
	return keys, len(keys) > 0, nil
}
