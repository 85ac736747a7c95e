// Package teltonika decodes the Teltonika FMxxx TCP protocol: the IMEI handshake and
// Codec 8 / Codec 8 Extended AVL data packets.
package teltonika

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"nuha.dev/trackfeed/internal/util/crc16"
)

const (
	CODEC8  byte = 0x08
	CODEC8E byte = 0x8E
)

var (
	errBadPreamble = errors.New("invalid preamble (expected 0x00000000)")
	errBadChecksum = errors.New("avl packet checksum mismatch")
	errBadCount    = errors.New("avl record count mismatch")
	errBadIMEI     = errors.New("invalid imei handshake")
)

type GPSData struct {
	Longitude  float64
	Latitude   float64
	Altitude   int16
	Angle      uint16
	Satellites uint8
	Speed      uint16
}

type AVLRecord struct {
	Timestamp time.Time
	Priority  uint8
	GPS       GPSData
	EventIOID uint16
	IO        map[uint16][]byte
}

type AVLPacket struct {
	CodecID byte
	Records []AVLRecord
}

// reader walks a packet without panicking on short input, the first overrun sticks.
type reader struct {
	d   []byte
	off int
	err error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.d) {
		r.err = fmt.Errorf("buffer overflow: tried to read %d bytes at offset %d (len=%d)", n, r.off, len(r.d))
		return nil
	}
	b := r.d[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.next(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.next(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// count reads a 1 byte count for codec 8 and a 2 byte count for codec 8 extended.
func (r *reader) count(ext bool) int {
	if ext {
		return int(r.u16())
	}
	return int(r.u8())
}

// IsHandshake reports whether d is the IMEI greeting a device sends before any data.
func IsHandshake(d []byte) bool {
	return len(d) >= 2 && d[0] == 0x00 && d[1] != 0x00
}

func ParseHandshake(d []byte) (string, error) {
	if len(d) < 2 {
		return "", errBadIMEI
	}
	n := int(binary.BigEndian.Uint16(d[:2]))
	if n == 0 || len(d) != n+2 {
		return "", errBadIMEI
	}
	imei := d[2:]
	for _, ch := range imei {
		if ch < '0' || ch > '9' {
			return "", errBadIMEI
		}
	}
	return string(imei), nil
}

func ParsePacket(d []byte) (*AVLPacket, error) {
	if len(d) < 15 {
		return nil, fmt.Errorf("packet too short: %d", len(d))
	}
	if d[0] != 0x00 || d[1] != 0x00 || d[2] != 0x00 || d[3] != 0x00 {
		return nil, errBadPreamble
	}
	dataLen := int(binary.BigEndian.Uint32(d[4:8]))
	if 8+dataLen+4 != len(d) {
		return nil, fmt.Errorf("data field length %d does not match packet length %d", dataLen, len(d))
	}
	data := d[8 : 8+dataLen]
	crc := binary.BigEndian.Uint32(d[8+dataLen:])
	if uint32(crc16.Checksum(crc16.IBM, data)) != crc {
		return nil, errBadChecksum
	}

	r := &reader{d: data}
	pkt := &AVLPacket{CodecID: r.u8()}
	var ext bool
	switch pkt.CodecID {
	case CODEC8:
	case CODEC8E:
		ext = true
	default:
		return nil, fmt.Errorf("unsupported codec 0x%02x", pkt.CodecID)
	}
	n1 := int(r.u8())
	pkt.Records = make([]AVLRecord, 0, n1)
	for i := 0; i < n1 && r.err == nil; i++ {
		pkt.Records = append(pkt.Records, readRecord(r, ext))
	}
	n2 := int(r.u8())
	if r.err != nil {
		return nil, r.err
	}
	if n1 != n2 || r.off != len(data) {
		return nil, errBadCount
	}
	return pkt, nil
}

func readRecord(r *reader, ext bool) AVLRecord {
	rec := AVLRecord{}
	rec.Timestamp = time.UnixMilli(int64(r.u64())).UTC()
	rec.Priority = r.u8()
	rec.GPS.Longitude = float64(int32(r.u32())) / 10000000
	rec.GPS.Latitude = float64(int32(r.u32())) / 10000000
	rec.GPS.Altitude = int16(r.u16())
	rec.GPS.Angle = r.u16()
	rec.GPS.Satellites = r.u8()
	rec.GPS.Speed = r.u16()

	if ext {
		rec.EventIOID = r.u16()
	} else {
		rec.EventIOID = uint16(r.u8())
	}
	_ = r.count(ext) //total io, implied by the groups below
	rec.IO = make(map[uint16][]byte)
	for _, size := range []int{1, 2, 4, 8} {
		n := r.count(ext)
		for i := 0; i < n && r.err == nil; i++ {
			var id uint16
			if ext {
				id = r.u16()
			} else {
				id = uint16(r.u8())
			}
			rec.IO[id] = r.next(size)
		}
	}
	if ext {
		nx := int(r.u16())
		for i := 0; i < nx && r.err == nil; i++ {
			id := r.u16()
			l := int(r.u16())
			rec.IO[id] = r.next(l)
		}
	}
	return rec
}

// RecordCountAck is the answer the device waits for after sending n records.
func RecordCountAck(n int) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(n))
	return b
}
