package client

import (
	"context"

	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

var withScores = "WITHSCORES"

// ZAdd returns the number of members added, not counting score updates.
func (c *Client) ZAdd(ctx context.Context, key string, members ...ScoredMember) (int64, error) {
	cmd := respio.NewCommand("ZADD", key)
	for _, m := range members {
		cmd.AppendFloat(m.Score).AppendArgs(m.Member)
	}
	return c.doInt(ctx, cmd)
}

func (c *Client) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	return c.doInt(ctx, respio.NewCommand("ZREM", key).AppendArgs(members...))
}

// ZScore returns the score of member; found is false when it is not in the set.
func (c *Client) ZScore(ctx context.Context, key, member string) (score float64, found bool, err error) {
	s, found, err := c.doOptString(ctx, respio.NewCommand("ZSCORE", key, member))
	if err != nil || !found {
		return 0, found, err
	}
	score, err = parseScore("ZSCORE", s)
	if err != nil {
		return 0, false, err
	}
	return score, true, nil
}

// ZRange returns members by rank, start and stop inclusive.
func (c *Client) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return c.doStrings(ctx, respio.NewCommand("ZRANGE", key).AppendInt(start).AppendInt(stop))
}

func (c *Client) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	cmd := respio.NewCommand("ZRANGE", key).AppendInt(start).AppendInt(stop).AppendArgs(withScores)
	pkt, err := c.do(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return toScored("ZRANGE", pkt)
}

// ZRangeByScore returns members with scores between min and max. The bounds
// use server syntax, so "-inf", "+inf" and "(1.5" are accepted.
func (c *Client) ZRangeByScore(ctx context.Context, key, min, max string) ([]ScoredMember, error) {
	pkt, err := c.do(ctx, respio.NewCommand("ZRANGEBYSCORE", key, min, max, withScores))
	if err != nil {
		return nil, err
	}
	return toScored("ZRANGEBYSCORE", pkt)
}
