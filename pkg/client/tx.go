package client

import (
	"context"
	"fmt"

	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

// Transaction runs cmds inside MULTI/EXEC, optionally guarded by WATCH on
// the given keys, and returns one reply per command. Replies may themselves
// be error packets; they are not converted. ErrConflict means a watched key
// changed and nothing was executed.
//
// When the client's Doer is a Pinner the whole sequence runs on one pinned
// connection.
func (c *Client) Transaction(ctx context.Context, watch []string, cmds ...*respio.Command) ([]*respio.RespPacket, error) {
	tx := c
	if p, ok := c.doer.(Pinner); ok {
		conn, release, err := p.Pin(ctx)
		if err != nil {
			return nil, err
		}
		defer release()
		tx = New(conn)
	}

	if len(watch) > 0 {
		if err := tx.doOK(ctx, respio.NewCommandBytes(respio.WatchCmd).AppendArgs(watch...)); err != nil {
			return nil, err
		}
	}
	if err := tx.doOK(ctx, respio.NewCommandBytes(respio.MultiCmd)); err != nil {
		return nil, err
	}
	for _, cmd := range cmds {
		if err := tx.doStatus(ctx, cmd, respio.QueuedResp); err != nil {
			tx.discard(ctx)
			return nil, fmt.Errorf("queue %s: %w", cmd.Name(), err)
		}
	}

	pkt, err := tx.do(ctx, respio.NewCommandBytes(respio.ExecCmd))
	if err != nil {
		return nil, err
	}
	if pkt.Type != respio.RespArray {
		return nil, shapeErr("EXEC", "array", pkt)
	}
	if pkt.IsNil() {
		return nil, ErrConflict
	}
	if len(pkt.Array) != len(cmds) {
		return nil, fmt.Errorf("%w: EXEC of %d commands returned %d replies", ErrShapeMismatch, len(cmds), len(pkt.Array))
	}
	return pkt.Array, nil
}

func (c *Client) discard(ctx context.Context) {
	if _, err := c.do(ctx, respio.NewCommandBytes(respio.DiscardCmd)); err != nil {
		logger.V(1).Info("discard failed", "error", err.Error())
	}
}
