package respio

var (
	AuthCmd    = []byte("AUTH")
	SelectCmd  = []byte("SELECT")
	MultiCmd   = []byte("MULTI")
	ExecCmd    = []byte("EXEC")
	WatchCmd   = []byte("WATCH")
	DiscardCmd = []byte("DISCARD")
	OkStatus   = []byte("OK")
	QueuedResp = []byte("QUEUED")
	PongStatus = []byte("PONG")
)

const (
	CRLF     = "\r\n"
	Nil      = "$-1\r\n"
	NilArray = "*-1\r\n"
)

const (
	RespStatus = byte('+') // +<string>\r\n
	RespError  = byte('-') // -<string>\r\n
	RespInt    = byte(':') // :<number>\r\n
	RespString = byte('$') // $<length>\r\n<bytes>\r\n, $-1\r\n is nil
	RespArray  = byte('*') // *<len>\r\n<element-1>...<element-n>, *-1\r\n is nil
)

// typeName is used by String() and error messages.
func typeName(t byte) string {
	switch t {
	case RespStatus:
		return "status"
	case RespError:
		return "error"
	case RespInt:
		return "integer"
	case RespString:
		return "bulk"
	case RespArray:
		return "array"
	default:
		return "unknown"
	}
}
