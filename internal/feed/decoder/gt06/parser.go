package gt06

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/trackfeed/internal/util/crc16"
)

const (
	loginMessage byte = 0x01

	gt06GPS               byte = 0x12
	statusInformation     byte = 0x13
	stringInformation     byte = 0x15 //commandResponse gt06
	gt06GPSAlarm          byte = 0x16
	serverCommandResponse byte = 0x21
	gk310GPS              byte = 0x22
	gk310GPSAlarm         byte = 0x26
	serverCommand         byte = 0x80
	timeCheck             byte = 0x8A
	informationTxPacket   byte = 0x94
)

const (
	LOGIN     = loginMessage
	HEARTBEAT = statusInformation
	LOCATION  = gt06GPS
	ALARM     = gt06GPSAlarm
)

var (
	errBadFrame    = errors.New("bad gt06 frame")
	errBadChecksum = errors.New("gt06 checksum mismatch")
	errShortFrame  = errors.New("gt06 frame truncated")
)

type Message struct {
	Extended bool
	Protocol byte
	Length   int
	Serial   int
	Payload  []byte
}

type gpsMessage struct {
	Timestamp       time.Time
	Latitude        float64
	Longitude       float64
	Course          uint16
	SatCount        int
	Speed           float64 //km/h
	GPSDifferential bool
	GPSPositioned   bool
}

type statusInfo struct {
	Arm        bool
	ACC        bool
	EngineDisc bool
	Charging   bool
	AlarmCode  int
	GPS        bool
	Voltage    int
	GSMSignal  int
}

func (s *statusInfo) MarshalObject(e *log.Entry) {
	e.Bool("acc", s.ACC).Int("voltage", s.Voltage).Int("signal", s.GSMSignal).Bool("engine_disc", s.EngineDisc).Bool("charging", s.Charging)
}

type LoginMessage struct {
	IMEI          string
	TimeOffset    time.Duration
	HasTimeOffset bool
	TypeID        [2]byte
}

// parseFrame reads the first frame from d and returns it with the number of bytes consumed.
func parseFrame(d []byte) (Message, int, error) {
	var msg Message
	var length int     //length field
	var body int       //index of protocol byte
	var frame_len int  //including start and trailer

	if len(d) < 5 {
		return msg, 0, errShortFrame
	}
	if d[0] == 0x78 && d[1] == 0x78 {
		length = int(d[2])
		body = 3
		frame_len = length + 5
	} else if d[0] == 0x79 && d[1] == 0x79 {
		length = int(binary.BigEndian.Uint16(d[2:4]))
		body = 4
		frame_len = length + 6
		msg.Extended = true
	} else {
		return msg, 0, errBadFrame
	}
	//protocol + serial + crc
	if length < 5 {
		return msg, 0, errBadFrame
	}
	if len(d) < frame_len {
		return msg, 0, errShortFrame
	}
	if d[frame_len-2] != 0x0D || d[frame_len-1] != 0x0A {
		return msg, 0, errBadFrame
	}
	crc := binary.BigEndian.Uint16(d[frame_len-4 : frame_len-2])
	if crc16.Checksum(crc16.X25, d[2:frame_len-4]) != crc {
		return msg, 0, errBadChecksum
	}
	msg.Length = frame_len
	msg.Protocol = d[body]
	msg.Payload = d[body+1 : frame_len-6]
	msg.Serial = int(binary.BigEndian.Uint16(d[frame_len-6 : frame_len-4]))
	return msg, frame_len, nil
}

func ParseLoginMessage(d []byte) (LoginMessage, error) {
	m := LoginMessage{HasTimeOffset: false}
	if len(d) < 8 {
		return m, errShortFrame
	}
	//terminal id is 8 bytes of BCD, 15 digit imei is left padded with 0
	m.IMEI = strings.TrimPrefix(hex.EncodeToString(d[:8]), "0")
	if len(d) >= 10 {
		copy(m.TypeID[:], d[8:10])
	}
	if len(d) >= 12 {
		m.HasTimeOffset = true
		bcdOffset := (uint16(d[10]) << 4) + (uint16(d[11]) >> 4)
		hOffset := bcdOffset / 100
		mOffset := bcdOffset % 100
		m.TimeOffset = time.Duration(hOffset)*time.Hour + time.Duration(mOffset)*time.Minute
		if d[11]&0b00001000 != 0 {
			m.TimeOffset = -m.TimeOffset
		}
	}
	return m, nil
}

func parseStatusInformation(d []byte) (statusInfo, error) {
	m := statusInfo{}
	if len(d) < 3 {
		return m, errShortFrame
	}
	m.EngineDisc = d[0]&0b10000000 != 0
	m.GPS = d[0]&0b01000000 != 0
	m.AlarmCode = int(d[0]&0b00111000) >> 3
	m.Charging = d[0]&0b00000100 != 0
	m.ACC = d[0]&0b00000010 != 0
	m.Arm = d[0]&0b00000001 != 0
	m.Voltage = int(d[1])
	m.GSMSignal = int(d[2])
	return m, nil
}

func parseGPSPart(d []byte) (gpsMessage, error) {
	m := gpsMessage{}
	if len(d) < 18 {
		return m, errShortFrame
	}
	m.Timestamp = time.Date(int(d[0])+2000, time.Month(d[1]), int(d[2]), int(d[3]), int(d[4]), int(d[5]), 0, time.UTC)
	m.SatCount = int(d[6] & 0x0F)
	lat := float64(binary.BigEndian.Uint32(d[7:11])) / 1800000
	lon := float64(binary.BigEndian.Uint32(d[11:15])) / 1800000
	m.Speed = float64(d[15])
	isNorth := d[16]&0b00000100 != 0
	isWest := d[16]&0b00001000 != 0
	if isNorth {
		m.Latitude = lat
	} else {
		m.Latitude = 0 - lat
	}
	if isWest {
		m.Longitude = 0 - lon
	} else {
		m.Longitude = lon
	}
	m.GPSDifferential = d[16]&0b00100000 != 0
	m.GPSPositioned = d[16]&0b00010000 != 0
	m.Course = binary.BigEndian.Uint16([]byte{d[16] & 0b00000011, d[17]})
	return m, nil
}

func parseGPSAlarm(d []byte) (gpsMessage, statusInfo, error) {
	loc, err := parseGPSPart(d)
	if err != nil {
		return loc, statusInfo{}, err
	}
	//gps(18) + lbs length(1) + lbs(8) + status(5)
	if len(d) < 32 {
		return loc, statusInfo{}, errShortFrame
	}
	st, err := parseStatusInformation(d[27:])
	return loc, st, err
}

// NewFrame builds a standard 0x7878 frame around payload.
func NewFrame(protocol byte, payload []byte, serial int) []byte {
	lp := len(payload)
	lf := lp + 10
	frame := make([]byte, lf)
	frame[0] = 0x78
	frame[1] = 0x78
	frame[2] = byte(lp + 5)
	frame[3] = protocol
	copy(frame[4:], payload)
	binary.BigEndian.PutUint16(frame[lf-6:lf-4], uint16(serial))
	crc := crc16.Checksum(crc16.X25, frame[2:lf-4])
	binary.BigEndian.PutUint16(frame[lf-4:lf-2], crc)
	frame[lf-2] = 0x0d
	frame[lf-1] = 0x0a
	return frame
}

// LoginPayload encodes a 15 digit imei as the 8 byte BCD terminal id.
func LoginPayload(imei string) ([]byte, error) {
	return hex.DecodeString("0" + imei)
}

// LocationPayload encodes a positioned fix followed by an empty LBS block.
func LocationPayload(t time.Time, lat, lon float64, speed uint8, course uint16) []byte {
	t = t.UTC()
	d := make([]byte, 26)
	d[0] = byte(t.Year() % 100)
	d[1] = byte(t.Month())
	d[2] = byte(t.Day())
	d[3] = byte(t.Hour())
	d[4] = byte(t.Minute())
	d[5] = byte(t.Second())
	d[6] = 0xC8
	flags := uint16(course&0x03FF) | 0b0001000000000000
	if lat >= 0 {
		flags |= 0b0000010000000000
	} else {
		lat = -lat
	}
	if lon < 0 {
		flags |= 0b0000100000000000
		lon = -lon
	}
	binary.BigEndian.PutUint32(d[7:11], uint32(lat*1800000+0.5))
	binary.BigEndian.PutUint32(d[11:15], uint32(lon*1800000+0.5))
	d[15] = speed
	binary.BigEndian.PutUint16(d[16:18], flags)
	return d
}

func timeResponse(t time.Time) []byte {
	return []byte{byte(t.Year() % 100), byte(t.Month()), byte(t.Day()), byte(t.Hour()), byte(t.Minute()), byte(t.Second())}
}
