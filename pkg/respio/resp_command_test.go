package respio

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_Encode(t *testing.T) {
	tests := []struct {
		name string
		cmd  *Command
		want string
	}{
		{"set", NewCommand("SET", "k", "v"), "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n"},
		{"empty arg", NewCommand("GET", ""), "*2\r\n$3\r\nGET\r\n$0\r\n\r\n"},
		{"verb only", NewCommand("PING"), "*1\r\n$4\r\nPING\r\n"},
		{"int arg", NewCommand("EXPIRE", "k").AppendInt(-1), "*3\r\n$6\r\nEXPIRE\r\n$1\r\nk\r\n$2\r\n-1\r\n"},
		{"float arg", NewCommand("ZADD", "z").AppendFloat(1.5).AppendArgs("m"),
			"*4\r\n$4\r\nZADD\r\n$1\r\nz\r\n$3\r\n1.5\r\n$1\r\nm\r\n"},
		{"binary arg", NewCommandBytes([]byte("SET"), []byte("k"), []byte{0, '\r', '\n'}),
			"*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$3\r\n\x00\r\n\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.cmd.Encode()
			assert.Equal(t, tt.want, string(out))
			assert.Equal(t, len(out), EncodedLen(tt.cmd.Args()))
			assert.Equal(t, out, Encode(tt.cmd.Args()...))
		})
	}
}

// randomArgs builds n arguments from bytes that are significant to RESP
// framing mixed with arbitrary ones.
func randomArgs(r *rand.Rand, n int) [][]byte {
	special := []byte("\r\n$*:+-0123")
	args := make([][]byte, n)
	for i := range args {
		arg := make([]byte, r.IntN(40))
		for j := range arg {
			if r.IntN(2) == 0 {
				arg[j] = special[r.IntN(len(special))]
			} else {
				arg[j] = byte(r.IntN(256))
			}
		}
		args[i] = arg
	}
	return args
}

func TestCommand_DecodesBack(t *testing.T) {
	tests := []struct {
		name string
		args [][]byte
	}{
		{"no args", nil},
		{"verb only", [][]byte{[]byte("PING")}},
		{"hset", NewCommand("HSET", "h", "field", "line1\r\nline2", "").Args()},
		{"empty args", [][]byte{{}, {}, {}}},
		{"frame lookalikes", [][]byte{[]byte("SET"), []byte("*2\r\n$3\r\n"), []byte("$-1\r\n"), []byte("\r\n\r\n")}},
		{"lone CR and LF", [][]byte{[]byte("\r"), []byte("\n"), []byte("\n\r")}},
		{"all byte values", [][]byte{func() []byte {
			b := make([]byte, 256)
			for i := range b {
				b[i] = byte(i)
			}
			return b
		}()}},
	}
	r := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 50; i++ {
		tests = append(tests, struct {
			name string
			args [][]byte
		}{fmt.Sprintf("random %d", i), randomArgs(r, r.IntN(9))})
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Encode(tt.args...)
			require.Len(t, encoded, EncodedLen(tt.args))

			s := NewDecodeState()
			for i := 0; i < len(encoded)-1; i++ {
				_, ok, err := s.Feed(encoded[i : i+1])
				require.NoError(t, err)
				require.False(t, ok, "complete after %d of %d bytes", i+1, len(encoded))
			}
			pkt, ok, err := s.FeedReply(encoded[len(encoded)-1:])
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 0, s.Buffered())

			require.Equal(t, RespArray, pkt.Type)
			require.False(t, pkt.IsNil())
			require.Len(t, pkt.Array, len(tt.args))
			for i, arg := range tt.args {
				assert.Equal(t, RespString, pkt.Array[i].Type)
				assert.Equal(t, string(arg), string(pkt.Array[i].Data), "argument %d", i)
			}
		})
	}
}

func TestCommand_Accessors(t *testing.T) {
	cmd := NewCommand("get", "user:1")
	assert.Equal(t, "GET", cmd.Name())
	assert.Equal(t, []byte("user:1"), cmd.Key())
	assert.Nil(t, NewCommand("PING").Key())

	auth := NewAuthCommand([]byte("default"), []byte("secret"))
	assert.True(t, auth.IsAuth())
	assert.Equal(t, 3, auth.Len())
	assert.NotContains(t, auth.String(), "secret")
	assert.Equal(t, 2, NewAuthCommand(nil, []byte("secret")).Len())
}
