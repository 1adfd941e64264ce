package client

import (
	"fmt"
	"strconv"

	"github.com/samber/lo"

	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

// ScoredMember is one sorted set entry.
type ScoredMember struct {
	Member string
	Score  float64
}

func expectStatus(cmd string, pkt *respio.RespPacket, status []byte) error {
	if !pkt.IsStatus(status) {
		return shapeErr(cmd, "status "+string(status), pkt)
	}
	return nil
}

// toInt accepts an integer reply or a bulk string holding a decimal integer.
func toInt(cmd string, pkt *respio.RespPacket) (int64, error) {
	switch {
	case pkt.Type == respio.RespInt:
		return pkt.Int, nil
	case pkt.Type == respio.RespString && !pkt.Null:
		n, err := strconv.ParseInt(string(pkt.Data), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s expected integer, got bulk %q", ErrShapeMismatch, cmd, pkt.Data)
		}
		return n, nil
	default:
		return 0, shapeErr(cmd, "integer", pkt)
	}
}

func toBool(cmd string, pkt *respio.RespPacket) (bool, error) {
	n, err := toInt(cmd, pkt)
	return n != 0, err
}

// toOptString maps a bulk reply to (value, true) and the nil bulk to
// ("", false).
func toOptString(cmd string, pkt *respio.RespPacket) (string, bool, error) {
	if pkt.Type != respio.RespString {
		return "", false, shapeErr(cmd, "bulk", pkt)
	}
	if pkt.Null {
		return "", false, nil
	}
	return string(pkt.Data), true, nil
}

func toArray(cmd string, pkt *respio.RespPacket) ([]*respio.RespPacket, error) {
	if pkt.Type != respio.RespArray {
		return nil, shapeErr(cmd, "array", pkt)
	}
	return pkt.Array, nil
}

// toStrings maps an array of bulk strings. A nil array yields an empty slice.
func toStrings(cmd string, pkt *respio.RespPacket) ([]string, error) {
	items, err := toArray(cmd, pkt)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item.Type != respio.RespString || item.Null {
			return nil, shapeErr(cmd, "array of bulk", item)
		}
		out = append(out, string(item.Data))
	}
	return out, nil
}

// toPairs splits a flat array into consecutive two-element groups.
func toPairs(cmd string, pkt *respio.RespPacket) ([][]string, error) {
	flat, err := toStrings(cmd, pkt)
	if err != nil {
		return nil, err
	}
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("%w: %s expected an even number of elements, got %d", ErrShapeMismatch, cmd, len(flat))
	}
	if len(flat) == 0 {
		return nil, nil
	}
	return lo.Chunk(flat, 2), nil
}

func toScored(cmd string, pkt *respio.RespPacket) ([]ScoredMember, error) {
	pairs, err := toPairs(cmd, pkt)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredMember, 0, len(pairs))
	for _, pair := range pairs {
		score, err := parseScore(cmd, pair[1])
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredMember{Member: pair[0], Score: score})
	}
	return out, nil
}

// parseScore reads the score text the server sends, "inf" and "-inf" included.
func parseScore(cmd, s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s score %q is not a float", ErrShapeMismatch, cmd, s)
	}
	return f, nil
}
