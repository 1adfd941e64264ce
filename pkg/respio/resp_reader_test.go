package respio

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RespTestCase defines the structure for RESP protocol test cases
type RespTestCase struct {
	name     string
	input    []byte
	expected []*RespPacket
}

func TestRespReader_Read(t *testing.T) {
	// redis-cli> HSET myhash field1 "Hello"
	// redis-cli> HSET myhash field2 "World"
	// redis-cli> HMGET myhash field1 field2 nofield
	// 1) "Hello"
	// 2) "World"
	// 3) (nil)
	hmsetCmd := [][]byte{
		[]byte("*4\r\n$4\r\nHSET\r\n$6\r\nmyhash\r\n$6\r\nfield1\r\n$5\r\nHello\r\n"),
		[]byte("*4\r\n$4\r\nHSET\r\n$6\r\nmyhash\r\n$6\r\nfield2\r\n$5\r\nWorld\r\n"),
		[]byte("*5\r\n$5\r\nHMGET\r\n$6\r\nmyhash\r\n$6\r\nfield1\r\n$6\r\nfield2\r\n$7\r\nnofield\r\n"),
	}

	tests := []RespTestCase{
		{
			name:  "HSET field1",
			input: hmsetCmd[0],
			expected: []*RespPacket{
				ArrayPacket(BulkPacket([]byte("HSET")), BulkPacket([]byte("myhash")),
					BulkPacket([]byte("field1")), BulkPacket([]byte("Hello"))),
			},
		},
		{
			name:  "HSET field2",
			input: hmsetCmd[1],
			expected: []*RespPacket{
				ArrayPacket(BulkPacket([]byte("HSET")), BulkPacket([]byte("myhash")),
					BulkPacket([]byte("field2")), BulkPacket([]byte("World"))),
			},
		},
		{
			name:  "HMGET reply",
			input: []byte("*3\r\n$5\r\nHello\r\n$5\r\nWorld\r\n$-1\r\n"),
			expected: []*RespPacket{
				ArrayPacket(BulkPacket([]byte("Hello")), BulkPacket([]byte("World")), NilBulkPacket()),
			},
		},
		{
			name:  "pipelined stream",
			input: []byte("+OK\r\n:42\r\n-ERR no such key\r\n*-1\r\n"),
			expected: []*RespPacket{
				StatusPacket("OK"),
				IntPacket(42),
				ErrorPacket("ERR no such key"),
				NilArrayPacket(),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := NewRespReaderFromBytes(tt.input)
			for _, expected := range tt.expected {
				result, err := reader.Read()
				require.NoError(t, err)
				assert.True(t, expected.Equal(result), "want %s, got %s", expected, result)
			}
			_, err := reader.Read()
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestRespReader_OneByteAtATime(t *testing.T) {
	input := []byte("*4\r\n$3\r\nfoo\r\n$-1\r\n:7\r\n+OK\r\n$5\r\nhello\r\n")
	reader := NewRespReader(iotest.OneByteReader(bytes.NewReader(input)))

	first, err := reader.Read()
	require.NoError(t, err)
	assert.Equal(t, "[foo (nil) 7 OK]", joinText(first))

	second, err := reader.Read()
	require.NoError(t, err)
	assert.Equal(t, "hello", second.Text())
	assert.Equal(t, 0, reader.Buffered())
}

func TestRespReader_TruncatedStream(t *testing.T) {
	reader := NewRespReaderFromBytes([]byte("$10\r\nhello"))
	_, err := reader.Read()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestRespReader_ProtocolError(t *testing.T) {
	reader := NewRespReaderFromBytes([]byte("*x\r\n"))
	_, err := reader.Read()
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestRespWriter_RoundTrip(t *testing.T) {
	packets := []*RespPacket{
		StatusPacket("OK"),
		ErrorPacket("WRONGTYPE Operation against a key holding the wrong kind of value"),
		IntPacket(-12),
		BulkPacket([]byte("a\r\nb")),
		BulkPacket(nil),
		NilBulkPacket(),
		ArrayPacket(),
		NilArrayPacket(),
		ArrayPacket(IntPacket(1), ArrayPacket(BulkPacket([]byte("x")), NilBulkPacket())),
	}

	var buf bytes.Buffer
	w := NewRespWriter(&buf)
	for _, p := range packets {
		require.NoError(t, w.Write(p))
	}
	require.NoError(t, w.Flush())

	reader := NewRespReader(&buf)
	for _, want := range packets {
		got, err := reader.Read()
		require.NoError(t, err)
		assert.True(t, want.Equal(got), "want %s, got %s", want, got)
	}
}

func TestRespWriter_WriteCommand(t *testing.T) {
	var buf bytes.Buffer
	w := NewRespWriter(&buf)
	require.NoError(t, w.WriteCommand(NewCommand("SET", "k", "v")))
	require.NoError(t, w.Flush())
	assert.Equal(t, "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n", buf.String())
}

func joinText(p *RespPacket) string {
	var b bytes.Buffer
	b.WriteByte('[')
	for i, item := range p.Array {
		if i > 0 {
			b.WriteByte(' ')
		}
		if item.IsNil() {
			b.WriteString("(nil)")
			continue
		}
		b.WriteString(item.Text())
	}
	b.WriteByte(']')
	return b.String()
}
