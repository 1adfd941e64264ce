package client

import (
	"context"

	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

// Client maps typed calls onto commands and their replies. It is safe for
// concurrent use when its Doer is.
type Client struct {
	doer Doer
}

func New(doer Doer) *Client {
	return &Client{doer: doer}
}

func (c *Client) Doer() Doer {
	return c.doer
}

// Do sends an arbitrary command and returns the reply unmapped. An error
// reply is returned as *ServerError.
func (c *Client) Do(ctx context.Context, name string, args ...string) (*respio.RespPacket, error) {
	return c.do(ctx, respio.NewCommand(name, args...))
}

// DoCommand is Do for a prepared command.
func (c *Client) DoCommand(ctx context.Context, cmd *respio.Command) (*respio.RespPacket, error) {
	return c.do(ctx, cmd)
}

func (c *Client) do(ctx context.Context, cmd *respio.Command) (*respio.RespPacket, error) {
	pkt, err := c.doer.Do(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if pkt.IsError() {
		logger.V(1).Info("server error reply", "Cmd", cmd.Name(), "Error", string(pkt.Data))
		return nil, &ServerError{Msg: string(pkt.Data)}
	}
	return pkt, nil
}

func (c *Client) doInt(ctx context.Context, cmd *respio.Command) (int64, error) {
	pkt, err := c.do(ctx, cmd)
	if err != nil {
		return 0, err
	}
	return toInt(cmd.Name(), pkt)
}

func (c *Client) doBool(ctx context.Context, cmd *respio.Command) (bool, error) {
	pkt, err := c.do(ctx, cmd)
	if err != nil {
		return false, err
	}
	return toBool(cmd.Name(), pkt)
}

func (c *Client) doOK(ctx context.Context, cmd *respio.Command) error {
	pkt, err := c.do(ctx, cmd)
	if err != nil {
		return err
	}
	return expectStatus(cmd.Name(), pkt, respio.OkStatus)
}

func (c *Client) doOptString(ctx context.Context, cmd *respio.Command) (string, bool, error) {
	pkt, err := c.do(ctx, cmd)
	if err != nil {
		return "", false, err
	}
	return toOptString(cmd.Name(), pkt)
}

func (c *Client) doStrings(ctx context.Context, cmd *respio.Command) ([]string, error) {
	pkt, err := c.do(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return toStrings(cmd.Name(), pkt)
}
