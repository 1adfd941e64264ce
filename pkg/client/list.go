package client

import (
	"context"

	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

// LPush returns the length of the list after the push.
func (c *Client) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	return c.doInt(ctx, respio.NewCommand("LPUSH", key).AppendArgs(values...))
}

func (c *Client) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	return c.doInt(ctx, respio.NewCommand("RPUSH", key).AppendArgs(values...))
}

// LTrim keeps the elements between start and stop inclusive.
func (c *Client) LTrim(ctx context.Context, key string, start, stop int64) error {
	cmd := respio.NewCommand("LTRIM", key).AppendInt(start).AppendInt(stop)
	pkt, err := c.do(ctx, cmd)
	if err != nil {
		return err
	}
	if pkt.Type == respio.RespInt {
		return nil
	}
	return expectStatus("LTRIM", pkt, respio.OkStatus)
}

func (c *Client) LPop(ctx context.Context, key string) (value string, found bool, err error) {
	return c.doOptString(ctx, respio.NewCommand("LPOP", key))
}

func (c *Client) RPop(ctx context.Context, key string) (value string, found bool, err error) {
	return c.doOptString(ctx, respio.NewCommand("RPOP", key))
}
