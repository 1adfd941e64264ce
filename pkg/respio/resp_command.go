package respio

import (
	"strconv"
	"strings"
)

// Command is the ordered argument list of one request, verb first. The
// Append* helpers are for construction only; a Command must not change after
// it has been handed to a transport.
type Command struct {
	args [][]byte
}

func NewCommand(name string, args ...string) *Command {
	cmd := &Command{args: make([][]byte, 0, len(args)+1)}
	cmd.args = append(cmd.args, []byte(name))
	return cmd.AppendArgs(args...)
}

func NewCommandBytes(args ...[]byte) *Command {
	return &Command{args: args}
}

// NewAuthCommand builds AUTH [username] password.
func NewAuthCommand(username, password []byte) *Command {
	if len(username) == 0 {
		return NewCommandBytes(AuthCmd, password)
	}
	return NewCommandBytes(AuthCmd, username, password)
}

func (c *Command) AppendArgs(args ...string) *Command {
	for _, a := range args {
		c.args = append(c.args, []byte(a))
	}
	return c
}

func (c *Command) AppendBytes(args ...[]byte) *Command {
	c.args = append(c.args, args...)
	return c
}

func (c *Command) AppendInt(n int64) *Command {
	c.args = append(c.args, strconv.AppendInt(nil, n, 10))
	return c
}

// AppendFloat uses the shortest representation that round-trips, which is
// also what the server accepts for scores ("inf" and "-inf" included).
func (c *Command) AppendFloat(f float64) *Command {
	c.args = append(c.args, strconv.AppendFloat(nil, f, 'g', -1, 64))
	return c
}

// Name is the upper-cased verb.
func (c *Command) Name() string {
	if len(c.args) == 0 {
		return ""
	}
	return strings.ToUpper(string(c.args[0]))
}

// Args returns the arguments including the verb. Callers must not modify them.
func (c *Command) Args() [][]byte {
	return c.args
}

func (c *Command) Len() int {
	return len(c.args)
}

// Key returns the first argument after the verb, which is the key for all
// single-key commands. Keyless commands return nil.
func (c *Command) Key() []byte {
	if len(c.args) < 2 {
		return nil
	}
	return c.args[1]
}

func (c *Command) IsAuth() bool {
	return len(c.args) > 0 && strings.EqualFold(string(c.args[0]), string(AuthCmd))
}

// String prints the command for logs; AUTH arguments are masked.
func (c *Command) String() string {
	if c.IsAuth() {
		return "AUTH ******"
	}
	parts := make([]string, len(c.args))
	for i, a := range c.args {
		parts[i] = strconv.Quote(string(a))
	}
	return strings.Join(parts, " ")
}

// Encode returns the multi-bulk request frame of c.
func (c *Command) Encode() []byte {
	return AppendCommand(make([]byte, 0, EncodedLen(c.args)), c.args)
}

// Encode builds the request frame for args.
func Encode(args ...[]byte) []byte {
	return AppendCommand(make([]byte, 0, EncodedLen(args)), args)
}

// AppendCommand appends *<N>\r\n and $<len>\r\n<arg>\r\n for every argument.
// Arguments are written verbatim, so any byte sequence is valid.
func AppendCommand(dst []byte, args [][]byte) []byte {
	dst = append(dst, RespArray)
	dst = strconv.AppendInt(dst, int64(len(args)), 10)
	dst = append(dst, CRLF...)
	for _, arg := range args {
		dst = append(dst, RespString)
		dst = strconv.AppendInt(dst, int64(len(arg)), 10)
		dst = append(dst, CRLF...)
		dst = append(dst, arg...)
		dst = append(dst, CRLF...)
	}
	return dst
}

// EncodedLen is the exact size of the frame AppendCommand writes for args.
func EncodedLen(args [][]byte) int {
	n := 1 + decimalLen(len(args)) + 2
	for _, arg := range args {
		n += 1 + decimalLen(len(arg)) + 2 + len(arg) + 2
	}
	return n
}

func decimalLen(n int) int {
	l := 1
	for n >= 10 {
		n /= 10
		l++
	}
	return l
}
