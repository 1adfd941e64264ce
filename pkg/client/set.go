package client

import (
	"context"

	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

// SAdd returns the number of members that were not already present.
func (c *Client) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	return c.doInt(ctx, respio.NewCommand("SADD", key).AppendArgs(members...))
}

func (c *Client) SRem(ctx context.Context, key string, members ...string) (int64, error) {
	return c.doInt(ctx, respio.NewCommand("SREM", key).AppendArgs(members...))
}

// SPop removes and returns a random member; found is false for an empty set.
func (c *Client) SPop(ctx context.Context, key string) (member string, found bool, err error) {
	return c.doOptString(ctx, respio.NewCommand("SPOP", key))
}

func (c *Client) SCard(ctx context.Context, key string) (int64, error) {
	return c.doInt(ctx, respio.NewCommand("SCARD", key))
}

// SDiff returns the members of the first set not present in the others.
func (c *Client) SDiff(ctx context.Context, keys ...string) ([]string, error) {
	return c.doStrings(ctx, respio.NewCommand("SDIFF", keys...))
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.doStrings(ctx, respio.NewCommand("SMEMBERS", key))
}

func (c *Client) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return c.doBool(ctx, respio.NewCommand("SISMEMBER", key, member))
}
