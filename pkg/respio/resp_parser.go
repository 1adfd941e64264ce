package respio

import (
	"errors"
)

// Parse materializes a frame that Feed reported complete. frame must hold
// exactly one RESP value.
func Parse(frame []byte) (*RespPacket, error) {
	if len(frame) == 0 {
		return nil, protocolErr("empty frame")
	}
	fs := frameScanner{buf: frame, build: true}
	var w frameWalker
	if err := w.walk(&fs); err != nil {
		if errors.Is(err, errIncomplete) {
			return nil, protocolErr("incomplete %s frame of %d bytes", typeName(frame[0]), len(frame))
		}
		return nil, err
	}
	if w.pos != len(frame) {
		return nil, protocolErr("%d trailing bytes after %s frame", len(frame)-w.pos, typeName(frame[0]))
	}
	return w.root, nil
}
