package client

import (
	"context"

	"github.com/pzhenzhou/rediscodec/pkg/common"
	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

var (
	logger = common.InitLogger().WithName("client")
)

// Doer sends one command and waits for its reply. Implementations keep at
// most one request outstanding per connection. An error reply from the
// server is a successful Do; transport and protocol failures are errors.
type Doer interface {
	Do(ctx context.Context, cmd *respio.Command) (*respio.RespPacket, error)
}

// Pinner is implemented by Doers that spread commands over several
// connections. Pin returns a Doer bound to one connection until release is
// called, for command sequences that depend on connection state.
type Pinner interface {
	Pin(ctx context.Context) (conn Doer, release func(), err error)
}

// DoerFunc adapts a function to Doer.
type DoerFunc func(ctx context.Context, cmd *respio.Command) (*respio.RespPacket, error)

func (f DoerFunc) Do(ctx context.Context, cmd *respio.Command) (*respio.RespPacket, error) {
	return f(ctx, cmd)
}
