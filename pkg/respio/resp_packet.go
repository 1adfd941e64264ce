package respio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pzhenzhou/rediscodec/pkg/common"
)

var (
	logger = common.InitLogger().WithName("resp")
)

// RespPacket is one RESP2 value: status, error, integer, bulk string (or
// nil) and array (or nil array). A Null packet never carries Data or Array.
type RespPacket struct {
	Type  byte
	Data  []byte
	Int   int64
	Array []*RespPacket
	Null  bool
}

func StatusPacket(s string) *RespPacket {
	return &RespPacket{Type: RespStatus, Data: []byte(s)}
}

func ErrorPacket(s string) *RespPacket {
	return &RespPacket{Type: RespError, Data: []byte(s)}
}

func IntPacket(n int64) *RespPacket {
	return &RespPacket{Type: RespInt, Int: n}
}

// BulkPacket copies b. A nil b yields an empty, non-nil bulk string.
func BulkPacket(b []byte) *RespPacket {
	data := make([]byte, len(b))
	copy(data, b)
	return &RespPacket{Type: RespString, Data: data}
}

func NilBulkPacket() *RespPacket {
	return &RespPacket{Type: RespString, Null: true}
}

func ArrayPacket(items ...*RespPacket) *RespPacket {
	if items == nil {
		items = []*RespPacket{}
	}
	return &RespPacket{Type: RespArray, Array: items}
}

func NilArrayPacket() *RespPacket {
	return &RespPacket{Type: RespArray, Null: true}
}

func (p *RespPacket) IsNil() bool {
	return p.Null
}

func (p *RespPacket) IsError() bool {
	return p.Type == RespError
}

// IsStatus reports whether p is the simple string s, compared case-insensitively.
func (p *RespPacket) IsStatus(s []byte) bool {
	return p.Type == RespStatus && strings.EqualFold(string(p.Data), string(s))
}

// GetCommand returns the verb of a multi-bulk request packet.
func (p *RespPacket) GetCommand() []byte {
	if p.Type == RespArray && len(p.Array) > 0 {
		return p.Array[0].Data
	}
	return p.Data
}

// Text returns the textual payload of a scalar packet.
func (p *RespPacket) Text() string {
	if p.Type == RespInt {
		return strconv.FormatInt(p.Int, 10)
	}
	return string(p.Data)
}

// String returns a string representation of the RespPacket in the layout
// redis-cli uses. Debugging and the CLI only.
func (p *RespPacket) String() string {
	switch p.Type {
	case RespStatus:
		return fmt.Sprintf("Status: \"%s\"", string(p.Data))

	case RespError:
		return fmt.Sprintf("Error: %s", string(p.Data))

	case RespInt:
		return fmt.Sprintf("Integer: %d", p.Int)

	case RespString:
		if p.Null {
			return "String: (nil)"
		}
		return fmt.Sprintf("String: \"%s\"", string(p.Data))

	case RespArray:
		if p.Null {
			return "Array: (nil)"
		}
		if len(p.Array) == 0 {
			return "Array: (empty)"
		}

		var b strings.Builder
		b.WriteString("Array:\n")
		for i, elem := range p.Array {
			elemStr := elem.String()
			lines := strings.Split(elemStr, "\n")
			b.WriteString(fmt.Sprintf("  %d) %s\n", i+1, lines[0]))
			for _, line := range lines[1:] {
				b.WriteString(fmt.Sprintf("     %s\n", line))
			}
		}
		return strings.TrimRight(b.String(), "\n")

	default:
		return fmt.Sprintf("(unknown type: %c)", p.Type)
	}
}

// Equal compares two packets structurally.
func (p *RespPacket) Equal(o *RespPacket) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.Type != o.Type || p.Null != o.Null {
		return false
	}
	switch p.Type {
	case RespInt:
		return p.Int == o.Int
	case RespArray:
		if len(p.Array) != len(o.Array) {
			return false
		}
		for i := range p.Array {
			if !p.Array[i].Equal(o.Array[i]) {
				return false
			}
		}
		return true
	default:
		return string(p.Data) == string(o.Data)
	}
}

// Kind names the packet type for error messages, telling nil values apart.
func (p *RespPacket) Kind() string {
	if p.Null {
		return "nil " + typeName(p.Type)
	}
	return typeName(p.Type)
}
