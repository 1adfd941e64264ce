package client

import (
	"context"

	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

func (c *Client) HGet(ctx context.Context, key, field string) (value string, found bool, err error) {
	return c.doOptString(ctx, respio.NewCommand("HGET", key, field))
}

// HSet reports whether field was newly created.
func (c *Client) HSet(ctx context.Context, key, field, value string) (bool, error) {
	return c.doBool(ctx, respio.NewCommand("HSET", key, field, value))
}

// HMSet writes all fields in one command, in sorted field order.
func (c *Client) HMSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	cmd := respio.NewCommand("HMSET", key)
	for _, f := range sortedKeys(fields) {
		cmd.AppendArgs(f, fields[f])
	}
	return c.doOK(ctx, cmd)
}

// HGetAll returns every field of the hash. An empty reply means the key does
// not exist and is reported with found false.
func (c *Client) HGetAll(ctx context.Context, key string) (fields map[string]string, found bool, err error) {
	pkt, err := c.do(ctx, respio.NewCommand("HGETALL", key))
	if err != nil {
		return nil, false, err
	}
	pairs, err := toPairs("HGETALL", pkt)
	if err != nil {
		return nil, false, err
	}
	if len(pairs) == 0 {
		return nil, false, nil
	}
	fields = make(map[string]string, len(pairs))
	for _, p := range pairs {
		fields[p[0]] = p[1]
	}
	return fields, true, nil
}

func (c *Client) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	return c.doInt(ctx, respio.NewCommand("HDEL", key).AppendArgs(fields...))
}

func (c *Client) HExists(ctx context.Context, key, field string) (bool, error) {
	return c.doBool(ctx, respio.NewCommand("HEXISTS", key, field))
}

func (c *Client) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return c.doInt(ctx, respio.NewCommand("HINCRBY", key, field).AppendInt(delta))
}
