package backend

import (
	"errors"
	"io"
	"net"
	"syscall"
	"time"
)

var (
	errUnsolicitedData = errors.New("backend: unsolicited data on idle connection")
)

// probeConn peeks at an idle socket without blocking. A readable byte on an
// idle connection means the stream is out of step; EOF means the peer left.
func probeConn(conn net.Conn) error {
	_ = conn.SetDeadline(time.Time{})
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	var probeErr error
	err = raw.Read(func(fd uintptr) bool {
		var b [1]byte
		n, rerr := syscall.Read(int(fd), b[:])
		switch {
		case n > 0:
			probeErr = errUnsolicitedData
		case n == 0 && rerr == nil:
			probeErr = io.EOF
		case errors.Is(rerr, syscall.EAGAIN), errors.Is(rerr, syscall.EWOULDBLOCK):
			probeErr = nil
		default:
			probeErr = rerr
		}
		// Never wait for readiness; one attempt is the whole probe.
		return true
	})
	if err != nil {
		return err
	}
	return probeErr
}
