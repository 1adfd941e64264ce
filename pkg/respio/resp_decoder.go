package respio

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/pzhenzhou/rediscodec/pkg/common"
)

const (
	DefaultBufferSize = 8 * common.KB // 8KB
	MaxBufferSize     = 512 * common.MB
)

var (
	// ErrProtocol marks bytes that cannot be RESP: a malformed length or
	// count, a negative length other than -1, a bad integer or terminator.
	// The connection that produced them is out of sync and must be closed.
	ErrProtocol = errors.New("resp: protocol error")
	ErrTooLarge = errors.New("resp: value too large")

	errIncomplete = errors.New("resp: incomplete frame")
	crlfBytes     = []byte(CRLF)
)

func protocolErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrProtocol}, args...)...)
}

// MaxNestingDepth bounds how many arrays may be open at once inside one
// reply. Replies to the supported commands nest at most two deep.
const MaxNestingDepth = 512

// frameScanner reads single values of buf. With build set it also
// materializes them.
type frameScanner struct {
	buf   []byte
	build bool
	// need is the buffer length below which reading again cannot succeed.
	// It is only meaningful after errIncomplete.
	need int
	// from is where the CRLF search of the current line resumes; bytes
	// before it are known to hold no terminator.
	from int
}

func (fs *frameScanner) incomplete(need int) error {
	fs.need = need
	return errIncomplete
}

// line finds the CRLF that terminates the line starting at pos.
func (fs *frameScanner) line(pos int) (lineEnd, next int, err error) {
	start := max(pos, fs.from)
	idx := bytes.Index(fs.buf[start:], crlfBytes)
	if idx < 0 {
		// A '\r' in the last byte may still be followed by '\n'.
		fs.from = max(pos, len(fs.buf)-1)
		return 0, 0, fs.incomplete(len(fs.buf) + 1)
	}
	return start + idx, start + idx + len(CRLF), nil
}

// head reads the value starting at pos. Scalars, bulk strings and nil or
// empty arrays are read whole. For any other array only the count line is
// read; n is the number of elements that follow it.
func (fs *frameScanner) head(pos int) (next int, n int64, pkt *RespPacket, err error) {
	if pos >= len(fs.buf) {
		return 0, 0, nil, fs.incomplete(pos + 1)
	}
	switch t := fs.buf[pos]; t {
	case RespStatus, RespError, RespInt:
		lineEnd, next, err := fs.line(pos + 1)
		if err != nil {
			return 0, 0, nil, err
		}
		if !fs.build {
			return next, 0, nil, nil
		}
		pkt := &RespPacket{Type: t}
		payload := fs.buf[pos+1 : lineEnd]
		if t == RespInt {
			v, err := parseInt(payload)
			if err != nil {
				return 0, 0, nil, protocolErr("invalid integer %q", payload)
			}
			pkt.Int = v
		} else {
			pkt.Data = cloneBytes(payload)
		}
		return next, 0, pkt, nil

	case RespString:
		lineEnd, next, err := fs.line(pos + 1)
		if err != nil {
			return 0, 0, nil, err
		}
		size, err := parseLength(fs.buf[pos+1:lineEnd], "bulk length")
		if err != nil {
			return 0, 0, nil, err
		}
		if size == -1 {
			return next, 0, NilBulkPacket(), nil
		}
		if size > MaxBufferSize {
			return 0, 0, nil, fmt.Errorf("%w: bulk length %d", ErrTooLarge, size)
		}
		end := next + int(size) + len(CRLF)
		if end > len(fs.buf) {
			return 0, 0, nil, fs.incomplete(end)
		}
		if !fs.build {
			return end, 0, nil, nil
		}
		if fs.buf[end-2] != '\r' || fs.buf[end-1] != '\n' {
			return 0, 0, nil, protocolErr("bulk string of length %d not terminated by CRLF", size)
		}
		return end, 0, &RespPacket{Type: RespString, Data: cloneBytes(fs.buf[next : end-2])}, nil

	case RespArray:
		lineEnd, next, err := fs.line(pos + 1)
		if err != nil {
			return 0, 0, nil, err
		}
		count, err := parseLength(fs.buf[pos+1:lineEnd], "array length")
		if err != nil {
			return 0, 0, nil, err
		}
		if count == -1 {
			return next, 0, NilArrayPacket(), nil
		}
		if count > MaxBufferSize/3 {
			return 0, 0, nil, fmt.Errorf("%w: array length %d", ErrTooLarge, count)
		}
		if !fs.build {
			return next, count, nil, nil
		}
		// Every element takes at least 3 bytes ("+\r\n").
		capacity := min(count, int64(len(fs.buf)-next)/3)
		return next, count, &RespPacket{Type: RespArray, Array: make([]*RespPacket, 0, capacity)}, nil

	default:
		// Not a RESP2 type byte. The decoder keeps waiting; the transport's
		// deadline ends the request.
		return 0, 0, nil, fs.incomplete(len(fs.buf) + 1)
	}
}

// frameWalker reads one reply value by value. Between calls it remembers
// where it stopped, so bytes that arrive later are read once.
type frameWalker struct {
	pos int
	// owed holds, for every open array, the elements still to be read.
	owed []int64
	// open holds the packets of the open arrays when building.
	open     []*RespPacket
	root     *RespPacket
	lineFrom int
}

// walk continues from the last position. It returns nil once the reply is
// complete; pos is then its length.
func (w *frameWalker) walk(fs *frameScanner) error {
	for {
		fs.from = w.lineFrom
		next, n, pkt, err := fs.head(w.pos)
		if err != nil {
			if errors.Is(err, errIncomplete) {
				w.lineFrom = fs.from
			}
			return err
		}
		w.lineFrom = 0
		w.pos = next
		if top := len(w.owed) - 1; top >= 0 {
			w.owed[top]--
			if fs.build {
				w.open[top].Array = append(w.open[top].Array, pkt)
			}
		} else {
			w.root = pkt
		}
		if n > 0 {
			if len(w.owed) == MaxNestingDepth {
				return protocolErr("arrays nested deeper than %d", MaxNestingDepth)
			}
			w.owed = append(w.owed, n)
			if fs.build {
				w.open = append(w.open, pkt)
			}
		}
		for len(w.owed) > 0 && w.owed[len(w.owed)-1] == 0 {
			w.owed = w.owed[:len(w.owed)-1]
			if fs.build {
				w.open = w.open[:len(w.open)-1]
			}
		}
		if len(w.owed) == 0 {
			return nil
		}
	}
}

func (w *frameWalker) reset() {
	w.pos = 0
	w.owed = w.owed[:0]
	w.open = nil
	w.root = nil
	w.lineFrom = 0
}

// DecodeState is the per-connection framing buffer. It holds the bytes
// received but not yet returned as a frame, and how far into them the
// pending frame has been read. It is owned by exactly one connection and
// must only be used by that connection's reader.
type DecodeState struct {
	buf         []byte
	need        int
	maxBuffered int
	walker      frameWalker
}

func NewDecodeState() *DecodeState {
	return &DecodeState{maxBuffered: MaxBufferSize}
}

// NewDecodeStateWithLimit caps how many bytes may wait for a frame.
func NewDecodeStateWithLimit(limit int) *DecodeState {
	if limit <= 0 {
		limit = MaxBufferSize
	}
	return &DecodeState{maxBuffered: limit}
}

// Feed appends p and reports whether a complete frame is now buffered. When
// it is, the frame is returned as a new slice and removed from the buffer;
// bytes that follow it stay for the next call. Feed(nil) re-examines what is
// already buffered. A non-nil error means the stream is unusable. Each
// value header is checked as soon as all of it has arrived.
func (s *DecodeState) Feed(p []byte) (frame []byte, complete bool, err error) {
	s.buf = append(s.buf, p...)
	if len(s.buf) == 0 {
		return nil, false, nil
	}
	if len(s.buf) < s.need {
		return nil, false, s.checkLimit()
	}
	fs := frameScanner{buf: s.buf}
	if err := s.walker.walk(&fs); err != nil {
		if errors.Is(err, errIncomplete) {
			s.need = fs.need
			return nil, false, s.checkLimit()
		}
		return nil, false, err
	}
	end := s.walker.pos
	frame = make([]byte, end)
	copy(frame, s.buf[:end])
	s.consume(end)
	return frame, true, nil
}

// FeedReply is Feed followed by Parse of the completed frame.
func (s *DecodeState) FeedReply(p []byte) (*RespPacket, bool, error) {
	frame, ok, err := s.Feed(p)
	if err != nil || !ok {
		return nil, false, err
	}
	pkt, err := Parse(frame)
	if err != nil {
		return nil, false, err
	}
	return pkt, true, nil
}

// Buffered is the number of bytes waiting for a frame.
func (s *DecodeState) Buffered() int {
	return len(s.buf)
}

func (s *DecodeState) Reset() {
	s.buf = nil
	s.need = 0
	s.walker.reset()
}

func (s *DecodeState) checkLimit() error {
	if len(s.buf) > s.maxBuffered {
		return fmt.Errorf("%w: %d bytes buffered without a complete frame", ErrTooLarge, len(s.buf))
	}
	return nil
}

func (s *DecodeState) consume(n int) {
	rest := copy(s.buf, s.buf[n:])
	s.buf = s.buf[:rest]
	s.need = 0
	s.walker.reset()
	// Drop buffers grown by a large reply once they are drained.
	if rest == 0 && cap(s.buf) > 4*DefaultBufferSize {
		s.buf = nil
	}
}

// parseLength parses a bulk length or array count. -1 is the nil marker;
// anything below it is a protocol error.
func parseLength(b []byte, what string) (int64, error) {
	n, err := parseInt(b)
	if err != nil {
		return 0, protocolErr("invalid %s %q", what, b)
	}
	if n < -1 {
		return 0, protocolErr("negative %s %d", what, n)
	}
	return n, nil
}

// parseInt accepts ASCII decimal digits with an optional leading '-'.
func parseInt(b []byte) (int64, error) {
	digits := b
	neg := len(b) > 0 && b[0] == '-'
	if neg {
		digits = b[1:]
	}
	if len(digits) == 0 {
		return 0, strconv.ErrSyntax
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	if len(digits) < 19 { // Fast path, cannot overflow
		var n int64
		for _, c := range digits {
			n = n*10 + int64(c-'0')
		}
		if neg {
			n = -n
		}
		return n, nil
	}
	return strconv.ParseInt(string(b), 10, 64)
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
