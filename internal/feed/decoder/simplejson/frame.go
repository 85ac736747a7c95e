package simplejson

import (
	"encoding/binary"
	"errors"
)

var (
	errBadFrame   = errors.New("bad simplejson frame")
	errShortFrame = errors.New("simplejson frame truncated")
)

// parseFrame reads one frame: 0x99, protocol, payload length (LE16), payload, '\n'.
func parseFrame(d []byte) (FrameMessage, int, error) {
	msg := FrameMessage{}
	if len(d) < 5 {
		return msg, 0, errShortFrame
	}
	if d[0] != 0x99 {
		return msg, 0, errBadFrame
	}
	length := int(binary.LittleEndian.Uint16(d[2:4]))
	msg.Protocol = d[1]
	msg.Length = length + 5
	if len(d) < msg.Length {
		return msg, 0, errShortFrame
	}
	if d[msg.Length-1] != '\n' {
		return msg, 0, errBadFrame
	}
	msg.Payload = d[4 : msg.Length-1]
	return msg, msg.Length, nil
}

func NewFrame(protocol byte, payload []byte) []byte {
	f := make([]byte, 4, len(payload)+5)
	f[0] = 0x99
	f[1] = protocol
	binary.LittleEndian.PutUint16(f[2:4], uint16(len(payload)))
	f = append(f, payload...)
	return append(f, '\n')
}
