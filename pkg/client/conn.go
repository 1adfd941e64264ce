package client

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pzhenzhou/rediscodec/pkg/common"
	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

// Auth sends AUTH [username] password. An empty username uses the
// single-argument form.
func (c *Client) Auth(ctx context.Context, username, password string) error {
	return c.doOK(ctx, respio.NewAuthCommand([]byte(username), []byte(password)))
}

func (c *Client) Select(ctx context.Context, db int) error {
	return c.doOK(ctx, respio.NewCommand("SELECT", strconv.Itoa(db)))
}

func (c *Client) Ping(ctx context.Context) error {
	return c.doStatus(ctx, respio.NewCommand("PING"), respio.PongStatus)
}

func (c *Client) doStatus(ctx context.Context, cmd *respio.Command, status []byte) error {
	pkt, err := c.do(ctx, cmd)
	if err != nil {
		return err
	}
	return expectStatus(cmd.Name(), pkt, status)
}

// Handshake prepares a freshly opened connection: AUTH when auth carries a
// password, then SELECT when db is not 0. Transports call it before the
// connection serves any other command.
func Handshake(ctx context.Context, doer Doer, auth *common.AuthInfo, db int) error {
	c := New(doer)
	if auth != nil && !auth.IsEmpty() {
		if err := c.doOK(ctx, respio.NewAuthCommand(auth.Username, auth.Password)); err != nil {
			return fmt.Errorf("auth as %s: %w", auth.ToString(), err)
		}
	}
	if db != 0 {
		if err := c.Select(ctx, db); err != nil {
			return fmt.Errorf("select %d: %w", db, err)
		}
	}
	return nil
}
