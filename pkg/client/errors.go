package client

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

var (
	// ErrShapeMismatch is a well-formed reply of the wrong type or arity for
	// the command, such as an array where an integer was expected.
	ErrShapeMismatch = errors.New("client: unexpected reply shape")
	// ErrConflict is returned by Transaction when EXEC answers with a nil
	// array because a watched key changed.
	ErrConflict = errors.New("client: transaction aborted, watched key modified")
)

// ServerError is an error reply sent by the server. The connection that
// carried it is still usable.
type ServerError struct {
	Msg string
}

func (e *ServerError) Error() string {
	return e.Msg
}

// Prefix returns the error code the server put first, e.g. WRONGTYPE.
func (e *ServerError) Prefix() string {
	if i := strings.IndexByte(e.Msg, ' '); i > 0 {
		return e.Msg[:i]
	}
	return e.Msg
}

func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

func shapeErr(cmd string, want string, got *respio.RespPacket) error {
	return fmt.Errorf("%w: %s expected %s, got %s", ErrShapeMismatch, cmd, want, got.Kind())
}
