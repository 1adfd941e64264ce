package respio

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

type RespWriter struct {
	writer *bufio.Writer
}

func NewRespWriter(dst io.Writer) *RespWriter {
	return &RespWriter{
		writer: bufio.NewWriterSize(dst, DefaultBufferSize),
	}
}

// WriteCommand buffers the request frame of cmd. Call Flush to send it.
func (w *RespWriter) WriteCommand(cmd *Command) error {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	*buf = AppendCommand((*buf)[:0], cmd.Args())
	_, err := w.writer.Write(*buf)
	return err
}

// WriteStatus writes a status response (e.g., "OK")
func (w *RespWriter) WriteStatus(status string) error {
	if err := w.writer.WriteByte(RespStatus); err != nil {
		return err
	}
	if _, err := w.writer.WriteString(status); err != nil {
		return err
	}
	return w.writeCRLF()
}

func (w *RespWriter) WriteError(msg string) error {
	if err := w.writer.WriteByte(RespError); err != nil {
		return err
	}
	if _, err := w.writer.WriteString(msg); err != nil {
		return err
	}
	return w.writeCRLF()
}

func (w *RespWriter) WriteInt64(n int64) error {
	if err := w.writer.WriteByte(RespInt); err != nil {
		return err
	}
	if _, err := w.writer.WriteString(strconv.FormatInt(n, 10)); err != nil {
		return err
	}
	return w.writeCRLF()
}

// WriteBulkString writes $<len>\r\n<bytes>\r\n; a nil b writes the nil bulk.
func (w *RespWriter) WriteBulkString(b []byte) error {
	if b == nil {
		_, err := w.writer.WriteString(Nil)
		return err
	}
	if err := w.writer.WriteByte(RespString); err != nil {
		return err
	}
	if _, err := w.writer.WriteString(strconv.Itoa(len(b))); err != nil {
		return err
	}
	if err := w.writeCRLF(); err != nil {
		return err
	}
	if _, err := w.writer.Write(b); err != nil {
		return err
	}
	return w.writeCRLF()
}

// Write writes a complete RESP packet to the underlying bufio.Writer.
func (w *RespWriter) Write(p *RespPacket) error {
	switch p.Type {
	case RespStatus:
		return w.WriteStatus(string(p.Data))
	case RespError:
		return w.WriteError(string(p.Data))
	case RespInt:
		return w.WriteInt64(p.Int)
	case RespString:
		if p.Null {
			_, err := w.writer.WriteString(Nil)
			return err
		}
		data := p.Data
		if data == nil {
			data = []byte{}
		}
		return w.WriteBulkString(data)
	case RespArray:
		if p.Null {
			_, err := w.writer.WriteString(NilArray)
			return err
		}
		if err := w.writer.WriteByte(RespArray); err != nil {
			return err
		}
		if _, err := w.writer.WriteString(strconv.Itoa(len(p.Array))); err != nil {
			return err
		}
		if err := w.writeCRLF(); err != nil {
			return err
		}
		for _, item := range p.Array {
			if err := w.Write(item); err != nil {
				logger.Error(err, "RespWriter Write error", "Pkt", item.String())
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: cannot write packet of type %q", ErrProtocol, p.Type)
	}
}

func (w *RespWriter) writeCRLF() error {
	_, err := w.writer.WriteString(CRLF)
	return err
}

// Flush writes any buffered data to the underlying io.Writer
func (w *RespWriter) Flush() error {
	return w.writer.Flush()
}
