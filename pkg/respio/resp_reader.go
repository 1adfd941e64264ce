package respio

import (
	"bytes"
	"errors"
	"io"
)

// RespReader reads RESP values from a byte stream. It keeps its own
// DecodeState, so bytes past the current value survive until the next Read.
type RespReader struct {
	src   io.Reader
	state *DecodeState
	chunk []byte
}

func NewRespReader(src io.Reader) *RespReader {
	return &RespReader{
		src:   src,
		state: NewDecodeState(),
		chunk: make([]byte, DefaultBufferSize),
	}
}

func NewRespReaderFromBytes(data []byte) *RespReader {
	return NewRespReader(bytes.NewReader(data))
}

// Read blocks until one complete value has arrived and returns it parsed.
// io.EOF is only returned when the stream ends between values; a stream that
// ends inside a value yields io.ErrUnexpectedEOF.
func (r *RespReader) Read() (*RespPacket, error) {
	frame, err := r.ReadFrame()
	if err != nil {
		return nil, err
	}
	pkt, err := Parse(frame)
	if err != nil {
		logger.Info("RespReader invalid frame", "size", len(frame), "error", err.Error())
		return nil, err
	}
	return pkt, nil
}

// ReadFrame is Read without parsing. The returned bytes are owned by the caller.
func (r *RespReader) ReadFrame() ([]byte, error) {
	var p []byte
	for {
		frame, ok, err := r.state.Feed(p)
		if err != nil {
			return nil, err
		}
		if ok {
			return frame, nil
		}
		n, err := r.src.Read(r.chunk)
		if n > 0 {
			p = r.chunk[:n]
			continue
		}
		p = nil
		if err != nil {
			if errors.Is(err, io.EOF) && r.state.Buffered() > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

// Buffered is the number of received bytes not yet returned by Read.
func (r *RespReader) Buffered() int {
	return r.state.Buffered()
}
