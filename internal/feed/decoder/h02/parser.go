package h02

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	MSG_LOCATION  = "V1"
	MSG_HEARTBEAT = "HTBT"
	MSG_LINK      = "LINK"
	MSG_LBS       = "NBR"
)

const knotToKmh = 1.852

var (
	ErrBadFrame = errors.New("bad h02 frame")
	errNoEnd    = errors.New("h02 frame without terminator")
)

type Message struct {
	Maker  string
	Serial string
	Type   string
	Params []string
}

type GPSMessage struct {
	Valid     bool
	Latitude  float64
	Longitude float64
	Speed     float64
	Course    float64
	Timestamp time.Time
}

// splitFrame cuts the first '*...#' message off d and returns its comma separated fields.
func splitFrame(d []byte) (Message, int, error) {
	if len(d) == 0 || d[0] != '*' {
		return Message{}, 0, ErrBadFrame
	}
	end := bytes.IndexByte(d, '#')
	if end < 0 {
		return Message{}, 0, errNoEnd
	}
	n := end + 1
	for n < len(d) && (d[n] == '\r' || d[n] == '\n') {
		n++
	}
	tok := strings.Split(string(d[1:end]), ",")
	if len(tok) < 3 {
		return Message{}, 0, ErrBadFrame
	}
	return Message{Maker: tok[0], Serial: tok[1], Type: tok[2], Params: tok[3:]}, n, nil
}

// ParseGPSMessage reads the V1 fields after the message type:
// time, validity, lat, N/S, lon, E/W, speed (knots), course, date.
func ParseGPSMessage(param []string) (*GPSMessage, error) {
	if len(param) < 9 {
		return nil, ErrBadFrame
	}
	m := &GPSMessage{Valid: param[1] == "A"}
	if len(param[2]) < 4 || len(param[4]) < 5 {
		return nil, ErrBadFrame
	}
	dd, err := getDegree(param[2][:2], param[2][2:])
	if err != nil {
		return nil, err
	}
	if param[3] == "S" {
		m.Latitude = 0 - dd
	} else {
		m.Latitude = dd
	}

	dd, err = getDegree(param[4][:3], param[4][3:])
	if err != nil {
		return nil, err
	}
	if param[5] == "W" {
		m.Longitude = 0 - dd
	} else {
		m.Longitude = dd
	}

	if param[6] != "" {
		knots, err := strconv.ParseFloat(param[6], 64)
		if err != nil {
			return nil, ErrBadFrame
		}
		m.Speed = knots * knotToKmh
	}
	if param[7] != "" {
		m.Course, err = strconv.ParseFloat(param[7], 64)
		if err != nil {
			return nil, ErrBadFrame
		}
	}

	hms, err := parseDT(param[0])
	if err != nil {
		return nil, err
	}
	dmy, err := parseDT(param[8])
	if err != nil {
		return nil, err
	}
	m.Timestamp = time.Date(dmy[2]+2000, time.Month(dmy[1]), dmy[0], hms[0], hms[1], hms[2], 0, time.UTC)
	return m, nil
}

func getDegree(d, m string) (float64, error) {
	dd, err := strconv.Atoi(d)
	if err != nil {
		return 0, ErrBadFrame
	}
	mm, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, ErrBadFrame
	}
	return float64(dd) + mm/60, nil
}

func parseDT(p string) ([]int, error) {
	if len(p) < 6 {
		return nil, ErrBadFrame
	}
	out := make([]int, 3)
	for i := range out {
		v, err := strconv.Atoi(p[i*2 : i*2+2])
		if err != nil {
			return nil, ErrBadFrame
		}
		out[i] = v
	}
	return out, nil
}
